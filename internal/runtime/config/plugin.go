package config

import (
	"errors"
	"fmt"
	"strings"
)

// PluginConfig configures a Plugin.
type PluginConfig struct {
	Connection

	// PrivateKeyPEM is the plugin's RSA private key. Its public half
	// determines the plugin address.
	PrivateKeyPEM string
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c PluginConfig) WithDefaults() PluginConfig {
	c.Connection = c.Connection.withDefaults()
	return c
}

// Validate checks the configuration and returns every problem found.
func (c *PluginConfig) Validate() error {
	errs := c.Connection.validate()
	if strings.TrimSpace(c.PrivateKeyPEM) == "" {
		errs = append(errs, errors.New("private key is required"))
	}
	return errors.Join(errs...)
}

func (c PluginConfig) String() string {
	copy := c
	if copy.PrivateKeyPEM != "" {
		copy.PrivateKeyPEM = redacted
	}
	if copy.StationURL != "" {
		copy.StationURL = redactURLCredentials(copy.StationURL)
	}
	type configAlias PluginConfig
	return fmt.Sprintf("%+v", configAlias(copy))
}
