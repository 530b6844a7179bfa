package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultVerifyTimeout = 10 * time.Second
	DefaultContextTTL    = 30 * time.Second
)

// CometConfig configures a Comet.
type CometConfig struct {
	Connection

	// PlatformToken is the credential of the chat platform the loaded
	// adapter talks to. It is handed to adapters and never sent to the
	// Station.
	PlatformToken string

	// VerifyTimeout bounds a single AddPlugin handshake.
	VerifyTimeout time.Duration

	// ContextTTL is how long an outstanding request waits for its response.
	// It must not be shorter than VerifyTimeout, or a handshake context is
	// swept before the plugin can answer.
	ContextTTL time.Duration

	// SweepInterval is how often expired contexts are purged. Defaults to
	// half of ContextTTL.
	SweepInterval time.Duration
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c CometConfig) WithDefaults() CometConfig {
	c.Connection = c.Connection.withDefaults()
	if c.VerifyTimeout == 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.ContextTTL == 0 {
		c.ContextTTL = max(DefaultContextTTL, c.VerifyTimeout)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = c.ContextTTL / 2
	}
	return c
}

// Validate checks the configuration and returns every problem found.
func (c *CometConfig) Validate() error {
	errs := c.Connection.validate()
	errs = append(errs, nonNegative("verify timeout", c.VerifyTimeout)...)
	errs = append(errs, nonNegative("context ttl", c.ContextTTL)...)
	errs = append(errs, nonNegative("sweep interval", c.SweepInterval)...)
	if c.VerifyTimeout > 0 && c.ContextTTL > 0 && c.VerifyTimeout > c.ContextTTL {
		errs = append(errs, fmt.Errorf("verify timeout %s exceeds context ttl %s", c.VerifyTimeout, c.ContextTTL))
	}
	return errors.Join(errs...)
}

func (c CometConfig) String() string {
	copy := c
	if copy.PlatformToken != "" {
		copy.PlatformToken = redacted
	}
	if copy.StationURL != "" {
		copy.StationURL = redactURLCredentials(copy.StationURL)
	}
	type configAlias CometConfig
	return fmt.Sprintf("%+v", configAlias(copy))
}
