package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultListenAddress = ":8080"
	DefaultPath          = "/"
	DefaultAuditTopic    = "botcomet.audit"
)

// StationConfig configures the Station broker. Audit fields are read by the
// transport builders and only the keys of the selected AuditSystem matter.
type StationConfig struct {
	// ListenAddress is the host:port the websocket server binds to.
	ListenAddress string

	// Path is the HTTP path that upgrades to websocket.
	Path string

	// AllowedOrigins restricts the Origin header of upgrade requests. Empty
	// or "*" accepts any origin.
	AllowedOrigins []string

	// ReadLimit caps the size of an inbound frame in bytes.
	ReadLimit int64

	// WriteTimeout bounds a single frame write to a peer.
	WriteTimeout time.Duration

	// PingInterval is the keepalive period. Zero selects the default.
	PingInterval time.Duration

	// DisableNacks suppresses station_nack replies for dropped messages.
	DisableNacks bool

	// AuditSystem selects the transport for lifecycle and drop records:
	// "channel", "nats", "kafka", "rabbitmq" or "http". Empty disables auditing.
	AuditSystem string
	AuditTopic  string

	// Kafka configuration.
	KafkaBrokers       []string
	KafkaConsumerGroup string

	// RabbitMQ configuration.
	RabbitMQURL string

	// NATS configuration.
	NATSURL string

	// HTTP configuration.
	HTTPServerAddress string
	HTTPPublisherURL  string

	// MetricsEnabled exposes Prometheus metrics on MetricsPort.
	MetricsEnabled bool
	MetricsPort    int
}

// Getter methods to implement transport.Config interface.
func (c *StationConfig) GetAuditSystem() string        { return c.AuditSystem }
func (c *StationConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *StationConfig) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *StationConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *StationConfig) GetNATSURL() string            { return c.NATSURL }
func (c *StationConfig) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *StationConfig) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }

// WithDefaults returns a copy with zero values replaced by defaults.
func (c StationConfig) WithDefaults() StationConfig {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.AuditSystem != "" && c.AuditTopic == "" {
		c.AuditTopic = DefaultAuditTopic
	}
	return c
}

// AuditEnabled reports whether an audit transport is configured.
func (c *StationConfig) AuditEnabled() bool {
	return c.AuditSystem != ""
}

// Validate checks the configuration and returns every problem found.
// Unknown audit systems are accepted so custom transports can be registered.
func (c *StationConfig) Validate() error {
	var errs []error

	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", c.Path))
	}
	if c.ReadLimit < 0 {
		errs = append(errs, errors.New("read limit cannot be negative"))
	}
	errs = append(errs, nonNegative("write timeout", c.WriteTimeout)...)
	errs = append(errs, nonNegative("ping interval", c.PingInterval)...)
	errs = append(errs, c.validateAudit()...)
	errs = append(errs, validatePort("metrics", c.MetricsPort)...)
	if c.MetricsEnabled && c.MetricsPort == 0 {
		errs = append(errs, errors.New("metrics: port is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

func (c *StationConfig) validateAudit() []error {
	switch strings.ToLower(c.AuditSystem) {
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return []error{errors.New("kafka: brokers are required")}
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return []error{errors.New("rabbitmq: URL is required")}
		}
	case "nats":
		if c.NATSURL == "" {
			return []error{errors.New("nats: URL is required")}
		}
	case "http":
		if c.HTTPPublisherURL == "" {
			return []error{errors.New("http: publisher URL is required")}
		}
	}
	return nil
}

func (c StationConfig) String() string {
	copy := c
	if copy.RabbitMQURL != "" {
		copy.RabbitMQURL = redactURLCredentials(copy.RabbitMQURL)
	}
	if copy.NATSURL != "" {
		copy.NATSURL = redactURLCredentials(copy.NATSURL)
	}
	if copy.HTTPPublisherURL != "" {
		copy.HTTPPublisherURL = redactURLCredentials(copy.HTTPPublisherURL)
	}
	type configAlias StationConfig
	return fmt.Sprintf("%+v", configAlias(copy))
}
