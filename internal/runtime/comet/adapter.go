package comet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/jsoncodec"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

// Event is a named application event travelling between an adapter and the
// plugins.
type Event struct {
	Name string
	Data json.RawMessage

	// Source is the address of the plugin that sent an event down to the
	// adapter. It is empty on events raised by the adapter.
	Source string

	// Context correlates a plugin's answer with the event that caused it.
	Context string
}

// NewEvent encodes data as the payload of an event called name.
func NewEvent(name string, data any) (Event, error) {
	if name == "" {
		return Event{}, errspkg.ErrEventNameRequired
	}
	ev := Event{Name: name}
	if data == nil {
		return ev, nil
	}
	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode event %q: %w", name, err)
	}
	ev.Data = raw
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: event %q carries no data", errspkg.ErrMalformedEnvelope, e.Name)
	}
	return jsoncodec.Unmarshal(e.Data, v)
}

// Host is what a Comet offers to its adapter.
type Host interface {
	// Emit relays ev to every trusted plugin.
	Emit(ctx context.Context, ev Event) error
	Obfuscator() *Obfuscator
	PlatformToken() string
}

// Adapter connects a Comet to one chat platform.
type Adapter interface {
	// Enable starts platform traffic. Events go upward through host.Emit.
	Enable(ctx context.Context, host Host) error
	// Disable stops platform traffic.
	Disable(ctx context.Context) error
	// Dispatch delivers an event a plugin sent down to the platform.
	Dispatch(ctx context.Context, ev Event) error
}

// LoadAdapter disables the current adapter, if any, and enables a under
// name. Names are unique for the lifetime of the Comet.
func (c *Comet) LoadAdapter(ctx context.Context, name string, a Adapter) error {
	if a == nil {
		return errspkg.ErrAdapterRequired
	}

	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()

	if _, ok := c.adapters[name]; ok {
		return fmt.Errorf("%w: %s", errspkg.ErrAdapterLoaded, name)
	}

	if c.current != nil {
		if err := c.current.Disable(ctx); err != nil {
			c.Logger.Error("Failed to disable adapter", err, logging.LogFields{"adapter": c.currentName})
		}
		c.current, c.currentName = nil, ""
	}

	c.adapters[name] = a
	if err := a.Enable(ctx, c); err != nil {
		delete(c.adapters, name)
		return errspkg.Wrap(errspkg.KindConfig, "enable adapter "+name, err)
	}
	c.current, c.currentName = a, name

	c.Logger.Info("Adapter loaded", logging.LogFields{"adapter": name})
	return nil
}

// CurrentAdapter returns the name of the enabled adapter, or "".
func (c *Comet) CurrentAdapter() string {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.currentName
}

// Emit sends one adapter_event per trusted plugin. Emitting before the
// Station has assigned an identity is a programming error and panics.
func (c *Comet) Emit(ctx context.Context, ev Event) error {
	id := c.Identity()
	if id == "" {
		panic(fmt.Errorf("%w: event %q raised before the station assigned an identity", errspkg.ErrIdentityViolation, ev.Name))
	}
	if ev.Name == "" {
		return errspkg.ErrEventNameRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	token := ev.Context
	if token == "" {
		token = ids.CreateULID()
	}

	var errs []error
	for _, address := range c.TrustedPlugins() {
		m, err := protocol.New(protocol.TypeAdapterEvent, id, address, token, protocol.EventData{Event: ev.Name, Data: ev.Data})
		if err != nil {
			return err
		}
		if err := c.send(m); err != nil {
			errs = append(errs, fmt.Errorf("relay %q to %s: %w", ev.Name, address, err))
		}
	}
	return errors.Join(errs...)
}

// dispatchResponse hands a trusted plugin's answer to the current adapter.
func (c *Comet) dispatchResponse(m protocol.Message) {
	log := c.Logger.With(logging.LogFields{"src": m.Src, "context": m.Context})
	if !c.IsTrusted(m.Src) {
		log.Info("Dropping event from untrusted plugin", nil)
		return
	}

	var data protocol.EventData
	if err := m.DecodeData(&data); err != nil || data.Event == "" {
		log.Debug("Dropping malformed plugin event", nil)
		return
	}

	c.adapterMu.Lock()
	a, name := c.current, c.currentName
	c.adapterMu.Unlock()
	if a == nil {
		log.Debug("Dropping plugin event without adapter", logging.LogFields{"event": data.Event})
		return
	}

	ev := Event{Name: data.Event, Data: data.Data, Source: m.Src, Context: m.Context}
	if err := a.Dispatch(context.Background(), ev); err != nil {
		log.Error("Adapter failed to dispatch event", err, logging.LogFields{"adapter": name, "event": data.Event})
	}
}
