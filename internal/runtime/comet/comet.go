// Package comet implements the bot-host actor. A Comet bridges one chat
// platform, through its loaded Adapter, to the Station: it verifies plugins
// by challenge-response, fans platform events out to the plugins it trusts
// and hands their answers back down to the adapter. Real platform ids never
// leave the Comet; adapters translate them through the Obfuscator.
package comet

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/drblury/botcomet/internal/runtime/auth"
	"github.com/drblury/botcomet/internal/runtime/config"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/session"
)

// Comet is the bot-host actor. Create it with New, then Start it.
type Comet struct {
	Conf   config.CometConfig
	Logger logging.ServiceLogger

	session    atomic.Pointer[session.Session]
	obfuscator *Obfuscator

	trustedMu sync.RWMutex
	trusted   map[string]*auth.Verifier

	adapterMu   sync.Mutex
	adapters    map[string]Adapter
	current     Adapter
	currentName string
}

// New validates conf and returns an unconnected Comet.
func New(conf config.CometConfig, log logging.ServiceLogger) (*Comet, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.Wrap(errspkg.KindConfig, "invalid comet config", err)
	}

	return &Comet{
		Conf:       conf,
		Logger:     logging.ForComponent(log, "comet"),
		obfuscator: NewObfuscator(),
		trusted:    make(map[string]*auth.Verifier),
		adapters:   make(map[string]Adapter),
	}, nil
}

// Start connects to the Station and waits for it to assign this Comet an
// identity. Traffic is handled in the background until Close.
func (c *Comet) Start(ctx context.Context) error {
	if c.session.Load() != nil {
		return errspkg.ErrAlreadyIdentified
	}

	c.Logger.Info("Connecting to station", logging.LogFields{"config": c.Conf})
	s, err := session.Dial(ctx, session.Options{
		Connection:    c.Conf.Connection,
		ContextTTL:    c.Conf.ContextTTL,
		SweepInterval: c.Conf.SweepInterval,
		Handler:       c.handle,
		Logger:        c.Logger,
	})
	if err != nil {
		return err
	}
	if !c.session.CompareAndSwap(nil, s) {
		_ = s.Close()
		return errspkg.ErrAlreadyIdentified
	}

	if _, err := s.Identify(ctx, protocol.TypeCometConnect, nil); err != nil {
		_ = s.Close()
		c.session.CompareAndSwap(s, nil)
		return err
	}
	return nil
}

// Identity is the obfuscated id the Station assigned, or "" before Start
// completes.
func (c *Comet) Identity() string {
	if s := c.session.Load(); s != nil {
		return s.ID()
	}
	return ""
}

// Connected reports whether the Comet holds an identity on a live link.
func (c *Comet) Connected() bool {
	s := c.session.Load()
	return s != nil && s.Connected()
}

// Done is closed when the Station link drops. It is nil before Start.
func (c *Comet) Done() <-chan struct{} {
	if s := c.session.Load(); s != nil {
		return s.Done()
	}
	return nil
}

// Obfuscator returns the Comet's id translation tables.
func (c *Comet) Obfuscator() *Obfuscator {
	return c.obfuscator
}

// PlatformToken returns the chat platform credential for adapters.
func (c *Comet) PlatformToken() string {
	return c.Conf.PlatformToken
}

// Close disables the current adapter and drops the Station link.
func (c *Comet) Close() error {
	c.adapterMu.Lock()
	if c.current != nil {
		if err := c.current.Disable(context.Background()); err != nil {
			c.Logger.Error("Failed to disable adapter", err, logging.LogFields{"adapter": c.currentName})
		}
		c.current, c.currentName = nil, ""
	}
	c.adapterMu.Unlock()

	if s := c.session.Load(); s != nil {
		return s.Close()
	}
	return nil
}

func (c *Comet) handle(m protocol.Message) {
	switch m.Type {
	case protocol.TypeAdapterEventResponse:
		c.dispatchResponse(m)
	case protocol.TypeStationNack:
		var nack protocol.NackData
		_ = m.DecodeData(&nack)
		c.Logger.Info("Station refused message", logging.LogFields{
			"type":   string(nack.Type),
			"dst":    nack.Dst,
			"reason": nack.Reason,
		})
	default:
		c.Logger.Debug("Dropping unexpected message", logging.LogFields{
			"type":    string(m.Type),
			"src":     m.Src,
			"context": m.Context,
		})
	}
}

func (c *Comet) send(m protocol.Message) error {
	s := c.session.Load()
	if s == nil {
		return errspkg.ErrNotConnected
	}
	return s.Send(m)
}
