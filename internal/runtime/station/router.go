package station

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/metadata"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/wire"
)

type role string

const (
	roleNone   role = ""
	roleComet  role = "comet"
	rolePlugin role = "plugin"
)

// routes lists, per forwarded type, the role allowed to send it and the role
// that receives it.
var routes = map[protocol.MessageType]struct{ from, to role }{
	protocol.TypePluginVerify:         {roleComet, rolePlugin},
	protocol.TypePluginVerifyResponse: {rolePlugin, roleComet},
	protocol.TypeAdapterEvent:         {roleComet, rolePlugin},
	protocol.TypeAdapterEventResponse: {rolePlugin, roleComet},
}

// handle is the single router handler. It never returns an error for a bad
// frame: a nacked message would be redelivered forever.
func (s *Station) handle(msg *message.Message) error {
	handle := msg.Metadata.Get(metadata.KeyConnection)
	conn := s.lookupConn(handle)
	if conn == nil {
		s.Logger.Debug("Frame from unknown connection", logging.LogFields{"connection": handle})
		return nil
	}

	if msg.Metadata.Get(keyEvent) == eventDisconnect {
		s.disconnect(conn)
		return nil
	}

	m, err := protocol.Decode(msg.Payload)
	if err != nil {
		s.drop(conn, m, err)
		return nil
	}

	switch m.Type {
	case protocol.TypeCometConnect:
		s.identifyComet(conn, m)
	case protocol.TypePluginConnect:
		s.identifyPlugin(conn, m)
	default:
		s.forward(conn, m, msg.Payload)
	}
	return nil
}

// roleOf returns the sender's role and obfuscated id.
func (s *Station) roleOf(conn *wire.Conn) (role, string) {
	if id, ok := s.comets.GetByA(conn); ok {
		return roleComet, id
	}
	if id, ok := s.plugins.GetByA(conn); ok {
		return rolePlugin, id
	}
	return roleNone, ""
}

func (s *Station) identifyComet(conn *wire.Conn, m protocol.Message) {
	if r, _ := s.roleOf(conn); r != roleNone {
		s.drop(conn, m, errspkg.ErrAlreadyIdentified)
		return
	}

	id, err := s.newClientID()
	if err != nil {
		s.drop(conn, m, err)
		return
	}
	if err := s.comets.Set(conn, id); err != nil {
		s.drop(conn, m, err)
		return
	}

	if err := s.reply(conn, protocol.TypeCometConnectResponse, id, m.Context); err != nil {
		s.Logger.Error("Failed to acknowledge comet", err, logging.LogFields{"client_id": id})
	}

	s.metrics.comets.Inc()
	s.audit.record(auditRecord{Event: auditIdentified, Role: string(roleComet), ClientID: id, Connection: conn.Handle()})
	s.Logger.Info("Comet identified", logging.LogFields{"client_id": id, "remote": conn.RemoteAddr()})
}

func (s *Station) identifyPlugin(conn *wire.Conn, m protocol.Message) {
	if r, _ := s.roleOf(conn); r != roleNone {
		s.drop(conn, m, errspkg.ErrAlreadyIdentified)
		return
	}

	var data protocol.PluginConnectData
	if err := m.DecodeData(&data); err != nil {
		s.drop(conn, m, err)
		return
	}
	if data.Address == "" {
		s.drop(conn, m, fmt.Errorf("%w: plugin_connect without address", errspkg.ErrMalformedEnvelope))
		return
	}
	if s.addresses.HasA(data.Address) {
		s.drop(conn, m, fmt.Errorf("%w: %s", errspkg.ErrAddressInUse, data.Address))
		return
	}

	id, err := s.newClientID()
	if err != nil {
		s.drop(conn, m, err)
		return
	}
	if err := s.plugins.Set(conn, id); err != nil {
		s.drop(conn, m, err)
		return
	}
	if err := s.addresses.Set(data.Address, id); err != nil {
		s.plugins.DeleteByA(conn)
		s.drop(conn, m, err)
		return
	}

	if err := s.reply(conn, protocol.TypePluginConnectResponse, id, m.Context); err != nil {
		s.Logger.Error("Failed to acknowledge plugin", err, logging.LogFields{"client_id": id})
	}

	s.metrics.plugins.Inc()
	s.audit.record(auditRecord{
		Event:      auditIdentified,
		Role:       string(rolePlugin),
		ClientID:   id,
		Address:    data.Address,
		Connection: conn.Handle(),
	})
	s.Logger.Info("Plugin identified", logging.LogFields{"client_id": id, "address": data.Address, "remote": conn.RemoteAddr()})
}

func (s *Station) reply(conn *wire.Conn, typ protocol.MessageType, id, context string) error {
	resp, err := protocol.New(typ, protocol.StationID, id, context, protocol.ConnectResponseData{ClientID: id})
	if err != nil {
		return err
	}
	return conn.Send(resp)
}

// forward relays frame verbatim to the connection addressed by m.Dst after
// checking the sender's role and claimed source.
func (s *Station) forward(conn *wire.Conn, m protocol.Message, frame []byte) {
	route, ok := routes[m.Type]
	if !ok {
		s.drop(conn, m, fmt.Errorf("%w: %s is not routable", errspkg.ErrUnknownMessageType, m.Type))
		return
	}

	senderRole, senderID := s.roleOf(conn)
	if senderRole == roleNone {
		s.drop(conn, m, errspkg.ErrNotIdentified)
		return
	}
	if senderRole != route.from || !s.ownsSource(senderRole, senderID, m.Src) {
		s.drop(conn, m, fmt.Errorf("%w: %s %s sent %s as %q", errspkg.ErrSourceMismatch, senderRole, senderID, m.Type, m.Src))
		return
	}

	target, ok := s.resolve(route.to, m.Dst)
	if !ok {
		s.drop(conn, m, fmt.Errorf("%w: %q", errspkg.ErrRouteNotFound, m.Dst))
		return
	}

	if err := target.WriteRaw(frame); err != nil {
		s.drop(conn, m, errspkg.Wrap(errspkg.KindRouting, "deliver to "+m.Dst, err))
		return
	}
	s.metrics.routed(m.Type)
}

// ownsSource reports whether src names the sender. Plugins may speak as their
// station id or as their address.
func (s *Station) ownsSource(r role, id, src string) bool {
	if src == id {
		return true
	}
	if r == rolePlugin {
		pluginID, ok := s.addresses.GetByA(src)
		return ok && pluginID == id
	}
	return false
}

// resolve finds the connection for dst. Plugins are addressed by station id
// or, through the address registry, by key address.
func (s *Station) resolve(r role, dst string) (*wire.Conn, bool) {
	switch r {
	case roleComet:
		return s.comets.GetByB(dst)
	case rolePlugin:
		if conn, ok := s.plugins.GetByB(dst); ok {
			return conn, true
		}
		id, ok := s.addresses.GetByA(dst)
		if !ok {
			return nil, false
		}
		return s.plugins.GetByB(id)
	}
	return nil, false
}

// drop logs a refused message and, unless disabled, tells the sender why.
func (s *Station) drop(conn *wire.Conn, m protocol.Message, cause error) {
	kind := errspkg.KindOf(cause)
	s.metrics.dropped(m.Type, kind)

	fields := logging.ErrorFields(cause, logging.LogFields{
		"connection": conn.Handle(),
		"type":       string(m.Type),
		"src":        m.Src,
		"dst":        m.Dst,
	})
	s.Logger.Debug("Dropping message", fields)
	s.audit.record(auditRecord{
		Event:      auditDropped,
		Connection: conn.Handle(),
		Type:       m.Type,
		Dst:        m.Dst,
		Reason:     cause.Error(),
		Kind:       string(kind),
	})

	if s.Conf.DisableNacks || m.Type == protocol.TypeStationNack {
		return
	}

	_, senderID := s.roleOf(conn)
	if senderID == "" {
		senderID = protocol.Unassigned
	}
	nack, err := protocol.New(protocol.TypeStationNack, protocol.StationID, senderID, m.Context, protocol.NackData{
		Reason: cause.Error(),
		Kind:   string(kind),
		Type:   m.Type,
		Dst:    m.Dst,
	})
	if err != nil {
		return
	}
	if err := conn.Send(nack); err != nil && !wire.IsClosed(err) {
		s.Logger.Error("Failed to send nack", err, fields)
	}
}

// disconnect removes every registry entry held by conn.
func (s *Station) disconnect(conn *wire.Conn) {
	s.connsMu.Lock()
	_, live := s.conns[conn.Handle()]
	delete(s.conns, conn.Handle())
	s.connsMu.Unlock()
	if !live {
		return
	}
	s.metrics.connections.Dec()

	record := auditRecord{Event: auditDisconnected, Connection: conn.Handle()}
	if id, ok := s.comets.DeleteByA(conn); ok {
		s.metrics.comets.Dec()
		record.Role, record.ClientID = string(roleComet), id
	}
	if id, ok := s.plugins.DeleteByA(conn); ok {
		s.metrics.plugins.Dec()
		record.Role, record.ClientID = string(rolePlugin), id
		if address, ok := s.addresses.DeleteByB(id); ok {
			record.Address = address
		}
	}

	s.audit.record(record)
	s.Logger.Debug("Connection closed", logging.LogFields{
		"connection": conn.Handle(),
		"role":       record.Role,
		"client_id":  record.ClientID,
	})
}

// newClientID mints an obfuscated id unused by any registry or sentinel.
func (s *Station) newClientID() (string, error) {
	id, ok := ids.Unique(ids.ObfuscatedID, func(candidate string) bool {
		return candidate == protocol.StationID ||
			candidate == protocol.Unassigned ||
			s.comets.HasB(candidate) ||
			s.plugins.HasB(candidate) ||
			s.addresses.HasA(candidate)
	})
	if !ok {
		return "", errors.New("could not allocate a unique client id")
	}
	return id, nil
}
