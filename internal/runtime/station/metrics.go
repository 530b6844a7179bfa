package station

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

const (
	metricsNamespace = "botcomet"
	metricsSubsystem = "station"
)

// stationMetrics tracks live identities and routing outcomes.
type stationMetrics struct {
	connections prometheus.Gauge
	comets      prometheus.Gauge
	plugins     prometheus.Gauge

	routedVec  *prometheus.CounterVec
	droppedVec *prometheus.CounterVec

	routedTotal  atomic.Uint64
	droppedTotal atomic.Uint64

	gatherer prometheus.Gatherer
}

func newStationGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	})
}

func newStationCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newStationMetrics registers the Station collectors. Collectors already
// registered by an earlier Station on the same registerer are reused.
func newStationMetrics(registerer prometheus.Registerer) (*stationMetrics, error) {
	m := &stationMetrics{}

	var err error
	if m.connections, err = registerCollector(registerer, newStationGauge("connections", "Open websocket connections")); err != nil {
		return nil, err
	}
	if m.comets, err = registerCollector(registerer, newStationGauge("comets", "Identified comets")); err != nil {
		return nil, err
	}
	if m.plugins, err = registerCollector(registerer, newStationGauge("plugins", "Identified plugins")); err != nil {
		return nil, err
	}
	if m.routedVec, err = registerCollector(registerer, newStationCounterVec("routed_total", "Messages forwarded to their destination", []string{"type"})); err != nil {
		return nil, err
	}
	if m.droppedVec, err = registerCollector(registerer, newStationCounterVec("dropped_total", "Messages the station refused", []string{"type", "kind"})); err != nil {
		return nil, err
	}

	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}

func registerCollector[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, errspkg.Wrap(errspkg.KindConfig, "register station metrics", err)
	}
	return c, nil
}

func (m *stationMetrics) routed(typ protocol.MessageType) {
	m.routedTotal.Add(1)
	m.routedVec.WithLabelValues(string(typ)).Inc()
}

func (m *stationMetrics) dropped(typ protocol.MessageType, kind errspkg.Kind) {
	m.droppedTotal.Add(1)
	if typ == "" {
		typ = "unknown"
	}
	m.droppedVec.WithLabelValues(string(typ), string(kind)).Inc()
}

func newMetricsServer(port int, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
