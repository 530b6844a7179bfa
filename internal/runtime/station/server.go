package station

import (
	"net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/metadata"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/wire"
)

// eventDisconnect marks the synthetic message a reader publishes after its
// socket closes, so cleanup is ordered after the frames that preceded it.
const (
	keyEvent        = "botcomet_event"
	eventDisconnect = "disconnect"
)

// originValidator returns the upgrader's CheckOrigin. Requests without an
// Origin header come from non-browser clients and are always accepted.
func originValidator(allowed []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	for _, origin := range allowed {
		origins.Add(strings.ToLower(strings.TrimRight(origin, "/")))
	}
	if origins.Cardinality() == 0 || origins.Contains("*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		if _, ok := r.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(r.Header.Get("Origin"))
		return origins.Contains(origin)
	}
}

func (s *Station) serveWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.closing:
		http.Error(w, "station is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("Websocket upgrade rejected", logging.LogFields{
			"remote": r.RemoteAddr,
			"origin": r.Header.Get("Origin"),
			"error":  err.Error(),
		})
		return
	}

	conn := wire.New(ws, wire.Options{
		ReadLimit:    s.Conf.ReadLimit,
		WriteTimeout: s.Conf.WriteTimeout,
		PingInterval: s.Conf.PingInterval,
	})

	// Registration and the closing check share connsMu so Close never waits
	// on readers while a new one is being added.
	s.connsMu.Lock()
	select {
	case <-s.closing:
		s.connsMu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.conns[conn.Handle()] = conn
	s.readers.Add(1)
	s.connsMu.Unlock()

	s.metrics.connections.Inc()
	s.audit.record(auditRecord{Event: auditConnected, Connection: conn.Handle(), Remote: conn.RemoteAddr()})
	s.Logger.Debug("Connection opened", logging.LogFields{"connection": conn.Handle(), "remote": conn.RemoteAddr()})

	go s.readLoop(conn)
}

// readLoop publishes every inbound frame onto the router topic until the
// socket fails, then publishes the disconnect marker.
func (s *Station) readLoop(conn *wire.Conn) {
	defer s.readers.Done()

	log := s.Logger.With(logging.LogFields{"connection": conn.Handle()})
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !wire.IsClosed(err) {
				log.Debug("Read failed", logging.LogFields{"error": err.Error()})
			}
			break
		}

		md := metadata.New(metadata.KeyConnection, conn.Handle())
		if m, err := protocol.Decode(frame); err == nil {
			md = md.With(metadata.KeyMessageType, string(m.Type))
			md = md.With(metadata.KeySrc, m.Src)
			md = md.With(metadata.KeyDst, m.Dst)
		}

		if err := s.pubSub.Publish(inboundTopic, metadata.NewMessage(watermill.NewUUID(), frame, md)); err != nil {
			log.Error("Failed to enqueue frame", err, nil)
			break
		}
	}

	_ = conn.Close()
	marker := metadata.New(metadata.KeyConnection, conn.Handle()).With(keyEvent, eventDisconnect)
	if err := s.pubSub.Publish(inboundTopic, metadata.NewMessage(watermill.NewUUID(), nil, marker)); err != nil {
		// Router is gone; clean up inline.
		s.disconnect(conn)
	}
}
