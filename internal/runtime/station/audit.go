package station

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/botcomet/internal/runtime/cloudevents"
	"github.com/drblury/botcomet/internal/runtime/config"
	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/jsoncodec"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/metadata"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/transport"
)

// Audit events published on the audit topic.
const (
	auditConnected    = "connected"
	auditIdentified   = "identified"
	auditDisconnected = "disconnected"
	auditDropped      = "dropped"
)

const (
	auditSource     = "botcomet/station"
	auditTypePrefix = "botcomet.station."
)

// auditRecord is the data of the CloudEvent published for every lifecycle
// change and refused message. It never contains message payloads.
type auditRecord struct {
	Event      string               `json:"event"`
	Role       string               `json:"role,omitempty"`
	ClientID   string               `json:"client_id,omitempty"`
	Address    string               `json:"address,omitempty"`
	Connection string               `json:"connection"`
	Remote     string               `json:"remote,omitempty"`
	Type       protocol.MessageType `json:"type,omitempty"`
	Dst        string               `json:"dst,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Kind       string               `json:"kind,omitempty"`
}

// auditor publishes audit records. A nil auditor discards them.
type auditor struct {
	transport transport.Transport
	topic     string
	logger    logging.ServiceLogger
}

func newAuditor(ctx context.Context, conf *config.StationConfig, transports *transport.Registry, wmLogger watermill.LoggerAdapter, log logging.ServiceLogger) (*auditor, error) {
	if !conf.AuditEnabled() {
		return nil, nil
	}

	t, err := transports.Build(ctx, conf, wmLogger)
	if err != nil {
		log.Error("Failed to build audit transport", err, logging.LogFields{"audit_system": conf.AuditSystem})
		return nil, err
	}

	caps := transports.GetCapabilities(conf.AuditSystem)
	log.Info("Audit stream enabled", logging.LogFields{
		"audit_system": conf.AuditSystem,
		"topic":        conf.AuditTopic,
		"durable":      caps.Durable,
		"ordering":     caps.SupportsOrdering,
	})

	return &auditor{
		transport: t,
		topic:     conf.AuditTopic,
		logger:    log.With(logging.LogFields{"audit_topic": conf.AuditTopic}),
	}, nil
}

func (a *auditor) record(r auditRecord) {
	if a == nil {
		return
	}

	correlationID := ids.CreateULID()
	evt, err := cloudevents.New(auditTypePrefix+r.Event, auditSource, r)
	if err != nil {
		a.logger.Error("Failed to encode audit record", err, logging.LogFields{"event": r.Event})
		return
	}
	evt = evt.WithSubject(r.Connection).WithExtension(cloudevents.ExtCorrelationID, correlationID)

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		a.logger.Error("Failed to encode audit record", err, logging.LogFields{"event": r.Event})
		return
	}
	md := metadata.New(metadata.KeyConnection, r.Connection, metadata.KeyCorrelationID, correlationID)
	if err := a.transport.Publisher.Publish(a.topic, metadata.NewMessage(evt.ID, payload, md)); err != nil {
		a.logger.Error("Failed to publish audit record", err, logging.LogFields{"event": r.Event})
	}
}

// Subscriber returns the consuming half of the audit transport, if any.
func (a *auditor) Subscriber() message.Subscriber {
	if a == nil {
		return nil
	}
	return a.transport.Subscriber
}

func (a *auditor) Close() error {
	if a == nil {
		return nil
	}
	return a.transport.Close()
}
