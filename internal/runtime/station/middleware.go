package station

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/metadata"
)

const tracerName = "botcomet-station"

// MiddlewareBuilder constructs a handler middleware for a Station.
type MiddlewareBuilder func(*Station) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware is registered on the
// Station router. Exactly one of Middleware or Builder must be set.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain installed by New. The first entry is
// outermost.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		AckAlwaysMiddleware(),
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// AckAlwaysMiddleware logs handler errors and acks the frame anyway. The
// inbound topic is in-process and a nacked frame would be redelivered
// indefinitely.
func AckAlwaysMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "ack_always",
		Builder: func(s *Station) (message.HandlerMiddleware, error) {
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					out, err := h(msg)
					if err != nil {
						s.Logger.Error("Station handler failed", err, logging.LogFields{
							"message_uuid": msg.UUID,
							"connection":   msg.Metadata.Get(metadata.KeyConnection),
						})
						return nil, nil
					}
					return out, nil
				}
			}, nil
		},
	}
}

// CorrelationIDMiddleware ensures each frame carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
					msg.Metadata.Set(metadata.KeyCorrelationID, ids.CreateULID())
				}
				return h(msg)
			}
		},
	}
}

// LogMessagesMiddleware traces every frame at debug level. A nil logger uses
// the Station's.
func LogMessagesMiddleware(logger logging.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Station) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					l.Debug("Processing frame", logging.LogFields{
						"message_uuid": msg.UUID,
						"metadata":     msg.Metadata,
					})
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps routing in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "RouteFrame", trace.WithSpanKind(trace.SpanKindConsumer))
				defer span.End()
				msg.SetContext(ctx)

				span.SetAttributes(
					attribute.String("message.uuid", msg.UUID),
					attribute.String("botcomet.connection", msg.Metadata.Get(metadata.KeyConnection)),
					attribute.String("botcomet.type", msg.Metadata.Get(metadata.KeyMessageType)),
				)
				out, err := h(msg)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				return out, err
			}
		},
	}
}

// MetricsMiddleware adds watermill's Prometheus handler metrics when metrics
// are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Station) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, metricsNamespace, metricsSubsystem)
			builder.AddPrometheusRouterMetrics(s.router)
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches cfg to the router. Builders may return a nil
// middleware to opt out.
func (s *Station) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func (s *Station) registerConfiguredMiddlewares(deps Dependencies, registerer prometheus.Registerer) error {
	s.registerer = registerer

	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = append(registrations, DefaultMiddlewares()...)
	}
	registrations = append(registrations, deps.Middlewares...)

	for _, cfg := range registrations {
		if err := s.RegisterMiddleware(cfg); err != nil {
			s.Logger.Error("Failed to register middleware", err, logging.LogFields{"middleware": cfg.Name})
			return err
		}
	}
	return nil
}
