// Package session is the client half of the wire protocol shared by Comets
// and Plugins: it dials the Station, performs the identification round trip,
// correlates responses with outstanding requests and hands everything else
// to the actor's handler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/botcomet/internal/runtime/config"
	"github.com/drblury/botcomet/internal/runtime/contexts"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/wire"
)

// Handler receives every inbound message that did not answer an outstanding
// request. It runs on the read goroutine.
type Handler func(protocol.Message)

// Options configures a Session.
type Options struct {
	Connection config.Connection

	// ContextTTL bounds outstanding requests. Zero selects contexts.DefaultTTL.
	ContextTTL time.Duration

	// SweepInterval is the janitor period. Zero selects ContextTTL / 2.
	SweepInterval time.Duration

	Handler Handler
	Logger  logging.ServiceLogger
}

// Session is one identified link to the Station.
type Session struct {
	conn     *wire.Conn
	contexts *contexts.Cache
	handler  Handler
	logger   logging.ServiceLogger
	timeout  time.Duration

	mu sync.RWMutex
	id string

	wg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the Station and starts the read loop and the context
// janitor. The session is not identified until Identify succeeds.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	dialCtx := ctx
	if opts.Connection.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.Connection.ConnectTimeout)
		defer cancel()
	}
	conn, err := wire.Dial(dialCtx, opts.Connection.StationURL, wire.Options{
		ReadLimit:    opts.Connection.ReadLimit,
		WriteTimeout: opts.Connection.WriteTimeout,
		PingInterval: opts.Connection.PingInterval,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:     conn,
		contexts: contexts.NewCache(opts.ContextTTL),
		handler:  opts.Handler,
		logger:   opts.Logger,
		timeout:  opts.Connection.ConnectTimeout,
		stop:     make(chan struct{}),
	}

	sweep := opts.SweepInterval
	if sweep <= 0 {
		ttl := opts.ContextTTL
		if ttl <= 0 {
			ttl = contexts.DefaultTTL
		}
		sweep = ttl / 2
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.janitor(sweep)
	return s, nil
}

// Identify sends a connect request of type typ and adopts the id the Station
// assigns in the response's dst.
func (s *Session) Identify(ctx context.Context, typ protocol.MessageType, data any) (string, error) {
	if s.ID() != "" {
		return "", errspkg.ErrAlreadyIdentified
	}

	req, err := protocol.New(typ, protocol.Unassigned, protocol.StationID, "", data)
	if err != nil {
		return "", err
	}
	resp, err := s.Request(ctx, req, s.timeout)
	if err != nil {
		if errors.Is(err, errspkg.ErrContextTimeout) {
			return "", fmt.Errorf("%w: no %s response: %v", errspkg.ErrNotConnected, typ, err)
		}
		return "", err
	}
	if resp.Dst == "" || resp.Dst == protocol.Unassigned || resp.Dst == protocol.StationID {
		return "", fmt.Errorf("%w: %s assigned no id", errspkg.ErrMalformedEnvelope, resp.Type)
	}

	s.mu.Lock()
	s.id = resp.Dst
	s.mu.Unlock()
	s.logger.Info("Identified by station", logging.LogFields{"client_id": resp.Dst})
	return resp.Dst, nil
}

// ID is the Station-assigned identity, or "" before Identify succeeds.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Connected reports whether the session is identified and its socket open.
func (s *Session) Connected() bool {
	select {
	case <-s.conn.Done():
		return false
	default:
		return s.ID() != ""
	}
}

// Done is closed once the connection to the Station is gone.
func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

// Send writes m to the Station.
func (s *Session) Send(m protocol.Message) error {
	return s.conn.Send(m)
}

// Request sends m under a fresh context token and waits for the correlated
// response. A station_nack answer is returned as a NackError.
func (s *Session) Request(ctx context.Context, m protocol.Message, timeout time.Duration) (protocol.Message, error) {
	expected := m.Type
	p, err := s.contexts.Open(expected)
	if err != nil {
		return protocol.Message{}, err
	}
	m.Context = p.Token

	if err := s.conn.Send(m); err != nil {
		s.contexts.Delete(p.Token)
		return protocol.Message{}, err
	}

	resp, err := s.contexts.Await(ctx, p, timeout, s.conn.Done())
	if err != nil {
		return protocol.Message{}, err
	}
	if resp.Type == protocol.TypeStationNack {
		return resp, newNackError(resp)
	}
	return resp, nil
}

// Close drops the connection and stops the background goroutines.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// readLoop delivers responses to their waiters and everything else to the
// handler.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.conn.Close()

	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			if !wire.IsClosed(err) {
				s.logger.Error("Station connection failed", err, nil)
			} else {
				s.logger.Debug("Station connection closed", nil)
			}
			return
		}

		m, err := protocol.Decode(frame)
		if err != nil {
			s.logger.Debug("Dropping frame", logging.ErrorFields(err, logging.LogFields{"error": err.Error()}))
			continue
		}

		if answersRequest(m) {
			err := s.contexts.Deliver(m)
			if err == nil {
				continue
			}
			if !errors.Is(err, errspkg.ErrContextNotFound) {
				s.logger.Debug("Dropping response", logging.ErrorFields(err, logging.LogFields{
					"type":    string(m.Type),
					"context": m.Context,
					"error":   err.Error(),
				}))
				continue
			}
		}
		s.handler(m)
	}
}

func (s *Session) janitor(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.conn.Done():
			return
		case <-ticker.C:
			for _, e := range s.contexts.Sweep() {
				s.logger.Debug("Expired outstanding request", logging.LogFields{
					"context":  e.Token,
					"expected": string(e.Expected),
				})
			}
		}
	}
}

func answersRequest(m protocol.Message) bool {
	if m.Context == "" {
		return false
	}
	switch m.Type {
	case protocol.TypeCometConnectResponse,
		protocol.TypePluginConnectResponse,
		protocol.TypePluginVerifyResponse,
		protocol.TypeAdapterEventResponse,
		protocol.TypeStationNack:
		return true
	}
	return false
}
