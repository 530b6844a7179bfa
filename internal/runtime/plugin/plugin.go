// Package plugin implements the functionality-provider actor. A Plugin
// proves ownership of its key pair to any Comet that asks and runs the
// handlers registered for the adapter events Comets relay to it.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drblury/botcomet/internal/runtime/auth"
	"github.com/drblury/botcomet/internal/runtime/config"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/handlers"
	"github.com/drblury/botcomet/internal/runtime/jsoncodec"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/session"
)

// Plugin is the functionality-provider actor. Register handlers, then Start.
type Plugin struct {
	Conf   config.PluginConfig
	Logger logging.ServiceLogger

	prover  *auth.Prover
	session atomic.Pointer[session.Session]

	handlersMu sync.RWMutex
	handlers   map[string]handlers.EventHandler
}

// New validates conf and loads the private key.
func New(conf config.PluginConfig, log logging.ServiceLogger) (*Plugin, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.Wrap(errspkg.KindConfig, "invalid plugin config", err)
	}

	prover, err := auth.NewProver([]byte(conf.PrivateKeyPEM))
	if err != nil {
		return nil, err
	}

	return &Plugin{
		Conf:     conf,
		Logger:   logging.ForComponent(log, "plugin").With(logging.LogFields{"address": prover.Address()}),
		prover:   prover,
		handlers: make(map[string]handlers.EventHandler),
	}, nil
}

// Address is the digest of the plugin's public key. Comets address the
// plugin by it across reconnections.
func (p *Plugin) Address() string {
	return p.prover.Address()
}

// ID is the obfuscated id the Station assigned, or "" before Start completes.
func (p *Plugin) ID() string {
	if s := p.session.Load(); s != nil {
		return s.ID()
	}
	return ""
}

// Connected reports whether the Plugin holds an identity on a live link.
func (p *Plugin) Connected() bool {
	s := p.session.Load()
	return s != nil && s.Connected()
}

// Done is closed when the Station link drops. It is nil before Start.
func (p *Plugin) Done() <-chan struct{} {
	if s := p.session.Load(); s != nil {
		return s.Done()
	}
	return nil
}

// Start connects to the Station, announces the plugin address and waits for
// the Station to assign an identity.
func (p *Plugin) Start(ctx context.Context) error {
	if p.session.Load() != nil {
		return errspkg.ErrAlreadyIdentified
	}

	p.Logger.Info("Connecting to station", logging.LogFields{"config": p.Conf})
	s, err := session.Dial(ctx, session.Options{
		Connection: p.Conf.Connection,
		Handler:    p.handle,
		Logger:     p.Logger,
	})
	if err != nil {
		return err
	}
	if !p.session.CompareAndSwap(nil, s) {
		_ = s.Close()
		return errspkg.ErrAlreadyIdentified
	}

	if _, err := s.Identify(ctx, protocol.TypePluginConnect, protocol.PluginConnectData{Address: p.Address()}); err != nil {
		_ = s.Close()
		p.session.CompareAndSwap(s, nil)
		return err
	}
	return nil
}

// Close drops the Station link.
func (p *Plugin) Close() error {
	if s := p.session.Load(); s != nil {
		return s.Close()
	}
	return nil
}

// Handle registers fn for events called name, replacing any earlier handler.
func (p *Plugin) Handle(name string, fn handlers.EventHandler) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}

	p.handlersMu.Lock()
	p.handlers[name] = fn
	p.handlersMu.Unlock()
	return nil
}

// HandleJSON registers a typed handler for events called name. T must be a
// pointer type.
func HandleJSON[T any, O any](p *Plugin, name string, fn handlers.JSONEventHandler[T, O]) error {
	wrapped, err := handlers.BuildJSONHandler(fn, p.Logger.With(logging.LogFields{"event": name}))
	if err != nil {
		return err
	}
	return p.Handle(name, wrapped)
}

// Emit sends an unsolicited event to the Comet identified by cometID.
func (p *Plugin) Emit(ctx context.Context, cometID, name string, data any) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := handlers.Reply{Name: name}
	if data != nil {
		raw, err := jsoncodec.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode event %q: %w", name, err)
		}
		reply.Data = raw
	}
	return p.reply(cometID, "", reply)
}

func (p *Plugin) reply(cometID, token string, r handlers.Reply) error {
	s := p.session.Load()
	if s == nil || s.ID() == "" {
		return errspkg.ErrIdentityViolation
	}
	m, err := protocol.New(protocol.TypeAdapterEventResponse, p.Address(), cometID, token, protocol.EventData{Event: r.Name, Data: r.Data})
	if err != nil {
		return err
	}
	return s.Send(m)
}

func (p *Plugin) handle(m protocol.Message) {
	switch m.Type {
	case protocol.TypePluginVerify:
		p.answerChallenge(m)
	case protocol.TypeAdapterEvent:
		p.dispatch(m)
	case protocol.TypeStationNack:
		var nack protocol.NackData
		_ = m.DecodeData(&nack)
		p.Logger.Info("Station refused message", logging.LogFields{
			"type":   string(nack.Type),
			"dst":    nack.Dst,
			"reason": nack.Reason,
		})
	default:
		p.Logger.Debug("Dropping unexpected message", logging.LogFields{
			"type":    string(m.Type),
			"src":     m.Src,
			"context": m.Context,
		})
	}
}

// answerChallenge proves key ownership to the requesting Comet. Failures are
// logged and left unanswered.
func (p *Plugin) answerChallenge(m protocol.Message) {
	log := p.Logger.With(logging.LogFields{"comet": m.Src, "context": m.Context})

	var challenge protocol.ChallengeData
	if err := m.DecodeData(&challenge); err != nil {
		log.Info("Ignoring malformed challenge", logging.ErrorFields(err, logging.LogFields{"error": err.Error()}))
		return
	}
	answer, err := p.prover.Unlock(challenge.Challenge)
	if err != nil {
		log.Info("Cannot unlock challenge", logging.ErrorFields(err, logging.LogFields{"error": err.Error()}))
		return
	}

	resp, err := protocol.New(protocol.TypePluginVerifyResponse, p.Address(), m.Src, m.Context, protocol.ChallengeData{Challenge: answer})
	if err != nil {
		log.Error("Failed to build challenge response", err, nil)
		return
	}
	if s := p.session.Load(); s != nil {
		if err := s.Send(resp); err != nil {
			log.Error("Failed to answer challenge", err, nil)
			return
		}
	}
	log.Debug("Answered challenge", nil)
}

// dispatch runs the handler registered for the event and relays its replies
// to the originating Comet.
func (p *Plugin) dispatch(m protocol.Message) {
	var data protocol.EventData
	if err := m.DecodeData(&data); err != nil || data.Event == "" {
		p.Logger.Debug("Dropping malformed event", logging.LogFields{"comet": m.Src, "context": m.Context})
		return
	}
	log := p.Logger.With(logging.LogFields{"comet": m.Src, "event": data.Event, "context": m.Context})

	p.handlersMu.RLock()
	fn, ok := p.handlers[data.Event]
	p.handlersMu.RUnlock()
	if !ok {
		log.Debug("No handler for event", nil)
		return
	}

	replies, err := fn(context.Background(), handlers.Event{
		Name:    data.Event,
		Data:    data.Data,
		Comet:   m.Src,
		Context: m.Context,
	})
	if err != nil {
		log.Error("Event handler failed", err, logging.ErrorFields(err, nil))
		return
	}
	for _, r := range replies {
		if err := p.reply(m.Src, m.Context, r); err != nil {
			log.Error("Failed to send reply", err, logging.LogFields{"reply": r.Name})
		}
	}
}
