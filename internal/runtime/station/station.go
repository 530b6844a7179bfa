// Package station implements the relay that assigns obfuscated identities to
// Comets and Plugins and routes envelopes between them.
//
// Inbound frames from every websocket are published onto an in-process
// watermill topic and consumed by a single router handler, so registry
// mutations happen on one goroutine and frames from a given connection are
// handled in arrival order.
package station

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/botcomet/internal/runtime/config"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/registry"
	"github.com/drblury/botcomet/internal/runtime/wire"
	"github.com/drblury/botcomet/transport"
)

const (
	inboundTopic    = "botcomet.station.inbound"
	routeHandler    = "botcomet_station_route"
	shutdownTimeout = 5 * time.Second
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// Dependencies holds optional collaborators. Leave fields nil for defaults.
type Dependencies struct {
	// Middlewares are appended after the default middleware chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool

	// Transports resolves AuditSystem. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry

	// Registerer receives the Station collectors. Defaults to the global
	// Prometheus registerer when metrics are enabled and to a private
	// registry otherwise.
	Registerer prometheus.Registerer
}

// Stats is a point-in-time view of the Station.
type Stats struct {
	Connections int
	Comets      int
	Plugins     int
	Routed      uint64
	Dropped     uint64
}

// Station is the relay. Create it with New and run it with Start.
type Station struct {
	Conf   config.StationConfig
	Logger logging.ServiceLogger

	wmLogger watermill.LoggerAdapter
	pubSub   *gochannel.GoChannel
	router   *message.Router
	audit    *auditor
	metrics  *stationMetrics

	registerer prometheus.Registerer

	comets    *registry.Registry[*wire.Conn, string]
	plugins   *registry.Registry[*wire.Conn, string]
	addresses *registry.Registry[string, string]

	connsMu sync.RWMutex
	conns   map[string]*wire.Conn

	upgrader      websocket.Upgrader
	server        *http.Server
	metricsServer *http.Server
	addr          net.Addr

	readers      sync.WaitGroup
	ready        chan struct{}
	closing      chan struct{}
	closeOnce    sync.Once
	closeErr     error
	routerMu     sync.Mutex
	routerCancel context.CancelFunc
	routerDone   chan error
}

// New validates conf and wires the Station's router, middleware chain,
// metrics and audit transport. It does not listen until Start is called.
func New(ctx context.Context, conf config.StationConfig, log logging.ServiceLogger, deps Dependencies) (*Station, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.Wrap(errspkg.KindConfig, "invalid station config", err)
	}

	log = logging.ForComponent(log, "station")
	wmLogger := logging.NewWatermillAdapter(log)
	log.Info("Creating station", logging.LogFields{
		"listen_address": conf.ListenAddress,
		"path":           conf.Path,
		"audit_system":   conf.AuditSystem,
		"config":         conf,
	})

	s := &Station{
		Conf:      conf,
		Logger:    log,
		wmLogger:  wmLogger,
		comets:    registry.New[*wire.Conn, string](),
		plugins:   registry.New[*wire.Conn, string](),
		addresses: registry.New[string, string](),
		conns:     make(map[string]*wire.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originValidator(conf.AllowedOrigins),
		},
		ready:      make(chan struct{}),
		closing:    make(chan struct{}),
		routerDone: make(chan error, 1),
	}

	registerer := deps.Registerer
	if registerer == nil {
		if conf.MetricsEnabled {
			registerer = prometheus.DefaultRegisterer
		} else {
			registerer = prometheus.NewRegistry()
		}
	}
	m, err := newStationMetrics(registerer)
	if err != nil {
		return nil, err
	}
	s.metrics = m

	transports := deps.Transports
	if transports == nil {
		transports = transport.DefaultRegistry
	}
	s.audit, err = newAuditor(ctx, &s.Conf, transports, wmLogger, log)
	if err != nil {
		return nil, err
	}

	s.pubSub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: shutdownTimeout}, wmLogger)
	if err != nil {
		s.audit.Close()
		return nil, err
	}
	s.router = router

	if err := s.registerConfiguredMiddlewares(deps, registerer); err != nil {
		s.audit.Close()
		return nil, err
	}
	s.router.AddNoPublisherHandler(routeHandler, inboundTopic, s.pubSub, s.handle)

	return s, nil
}

// Start listens on Conf.ListenAddress and serves websocket peers until ctx is
// cancelled or Close is called.
func (s *Station) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Conf.ListenAddress)
	if err != nil {
		return errspkg.Wrap(errspkg.KindConfig, "listen", err)
	}

	// The router only runs while routerCancel is set. Close reads it under
	// routerMu after closing, so a racing Start either bails here or is seen.
	s.routerMu.Lock()
	select {
	case <-s.closing:
		s.routerMu.Unlock()
		_ = ln.Close()
		return errspkg.ErrStationClosed
	default:
	}
	routerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.routerCancel = cancel
	s.routerMu.Unlock()
	go func() {
		s.routerDone <- routerRun(s.router, routerCtx)
	}()

	// gochannel drops messages published before the handler subscribes.
	select {
	case <-s.router.Running():
	case err := <-s.routerDone:
		cancel()
		s.routerMu.Lock()
		if s.routerCancel == nil {
			// Close already claimed the router and waits for its result.
			s.routerDone <- err
		}
		s.routerCancel = nil
		s.routerMu.Unlock()
		_ = ln.Close()
		return err
	case <-ctx.Done():
		_ = ln.Close()
		return s.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.Conf.Path, s.serveWS)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.addr = ln.Addr()
	s.startMetricsServer()
	close(s.ready)

	s.Logger.Info("Station listening", logging.LogFields{"address": s.addr.String(), "path": s.Conf.Path})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case <-s.closing:
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Websocket server stopped", err, nil)
		}
	}
	return s.Close()
}

// Ready is closed once the Station accepts connections.
func (s *Station) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, or nil before Ready.
func (s *Station) Addr() net.Addr {
	return s.addr
}

// Stats returns a snapshot of the Station's registries and counters.
func (s *Station) Stats() Stats {
	s.connsMu.RLock()
	conns := len(s.conns)
	s.connsMu.RUnlock()
	return Stats{
		Connections: conns,
		Comets:      s.comets.Len(),
		Plugins:     s.plugins.Len(),
		Routed:      s.metrics.routedTotal.Load(),
		Dropped:     s.metrics.droppedTotal.Load(),
	}
}

// AuditSubscriber exposes the subscriber half of the audit transport, or nil
// when auditing is disabled or the backend cannot consume.
func (s *Station) AuditSubscriber() message.Subscriber {
	return s.audit.Subscriber()
}

// Close stops accepting connections, closes every peer and stops the router.
func (s *Station) Close() error {
	s.closeOnce.Do(func() {
		s.connsMu.Lock()
		close(s.closing)
		s.connsMu.Unlock()

		var errs []error

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}
		if s.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			_ = s.metricsServer.Shutdown(ctx)
			cancel()
		}

		for _, conn := range s.snapshotConns() {
			_ = conn.Close()
		}
		s.readers.Wait()

		// A router that never ran has nothing to stop.
		s.routerMu.Lock()
		cancel := s.routerCancel
		s.routerCancel = nil
		s.routerMu.Unlock()
		if cancel != nil {
			cancel()
			if err := <-s.routerDone; err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.pubSub.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.audit.Close(); err != nil {
			errs = append(errs, err)
		}

		s.closeErr = errors.Join(errs...)
		s.Logger.Info("Station stopped", nil)
	})
	return s.closeErr
}

func (s *Station) startMetricsServer() {
	if !s.Conf.MetricsEnabled || s.Conf.MetricsPort == 0 {
		return
	}
	s.metricsServer = newMetricsServer(s.Conf.MetricsPort, s.metrics.gatherer)
	go func(srv *http.Server) {
		s.Logger.Info("Starting metrics server", logging.LogFields{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Failed to start metrics server", err, logging.LogFields{"address": srv.Addr})
		}
	}(s.metricsServer)
}

func (s *Station) snapshotConns() []*wire.Conn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*wire.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Station) lookupConn(handle string) *wire.Conn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return s.conns[handle]
}
