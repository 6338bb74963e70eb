package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither flags, env, nor file provide a value. The
// proxy timeout and transport policy numbers mirror the upstream contract:
// a hard 25s forward deadline, three push retries with linear backoff capped
// at 30s, and a 10s polling interval after degrade.
const (
	DefaultProxyTimeout   = 25 * time.Second
	DefaultRetryThreshold = 3
	DefaultRetryBaseDelay = 5 * time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
	DefaultPollInterval   = 10 * time.Second
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Backend struct {
		// BaseURL is the upstream REST/SSE API every proxied request is
		// forwarded to, e.g. "http://129.211.92.125:1009/api".
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"backend"`
	Transport struct {
		RetryThreshold       int `yaml:"retry_threshold"`
		RetryBaseDelaySecs   int `yaml:"retry_base_delay_seconds"`
		RetryMaxDelaySecs    int `yaml:"retry_max_delay_seconds"`
		PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	} `yaml:"transport"`
	Journal Journal `yaml:"journal"`
	Security struct {
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// Journal configures local event journaling.
type Journal struct {
	Enabled   bool      `yaml:"enabled"`
	Path      string    `yaml:"path"`
	Retention Retention `yaml:"retention"`
}

// Retention configures the journal sweep schedule.
type Retention struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Period  string `yaml:"period"` // e.g. "720h"
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ProxyTimeout returns the configured outbound forward timeout.
func (c *Config) ProxyTimeout() time.Duration {
	if c.Backend.TimeoutSeconds > 0 {
		return time.Duration(c.Backend.TimeoutSeconds) * time.Second
	}
	return DefaultProxyTimeout
}

// RetryThreshold returns the push retry count before degrading to polling.
func (c *Config) RetryThreshold() int {
	if c.Transport.RetryThreshold > 0 {
		return c.Transport.RetryThreshold
	}
	return DefaultRetryThreshold
}

// RetryBaseDelay returns the linear backoff unit between push reconnects.
func (c *Config) RetryBaseDelay() time.Duration {
	if c.Transport.RetryBaseDelaySecs > 0 {
		return time.Duration(c.Transport.RetryBaseDelaySecs) * time.Second
	}
	return DefaultRetryBaseDelay
}

// RetryMaxDelay returns the backoff cap.
func (c *Config) RetryMaxDelay() time.Duration {
	if c.Transport.RetryMaxDelaySecs > 0 {
		return time.Duration(c.Transport.RetryMaxDelaySecs) * time.Second
	}
	return DefaultRetryMaxDelay
}

// PollInterval returns the degraded-mode polling interval.
func (c *Config) PollInterval() time.Duration {
	if c.Transport.PollIntervalSeconds > 0 {
		return time.Duration(c.Transport.PollIntervalSeconds) * time.Second
	}
	return DefaultPollInterval
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &c, nil
}
