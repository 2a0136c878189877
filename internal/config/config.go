package config

import (
	"flag"
	"fmt"
	"time"
)

// Config is the complete, validated configuration for a relay process.
type Config struct {
	Server  ServerConfig
	Group   GroupConfig
	Logging LoggingConfig
	Metrics MetricsConfig

	seconds *secondsFlags
}

// ServerConfig controls the UDP datagram endpoint.
type ServerConfig struct {
	Host string
	Port int
}

// GroupConfig controls group/membership/ownership limits and sweeper cadence.
type GroupConfig struct {
	EmptyTTL           time.Duration
	SweepInterval      time.Duration
	HeartbeatInterval  time.Duration
	DefaultCap         int // 0 means unlimited
	MaxGroupsPerClient int
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string // debug|info|warn|error
	Format string // text|json
}

// MetricsConfig controls the optional monitoring HTTP listener (/metrics + JSON API).
type MetricsConfig struct {
	// Addr is the bind address for the monitoring listener, e.g. ":9090". Empty
	// disables the listener entirely.
	Addr string
}

// secondsFlags holds the raw integer-seconds flag targets until Finalize converts them
// into time.Duration fields; the wire/CLI surface is specified in whole seconds.
type secondsFlags struct {
	emptyTTL  int
	sweep     int
	heartbeat int
}

// RegisterFlags registers all relay flags on fs with their specification-mandated
// defaults, returning a Config to be populated by fs.Parse and then Finalize.
func RegisterFlags(fs *flag.FlagSet) *Config {
	cfg := &Config{seconds: &secondsFlags{}}

	fs.StringVar(&cfg.Server.Host, "host", "0.0.0.0", "bind address")
	fs.IntVar(&cfg.Server.Port, "port", 5000, "bind port")

	fs.IntVar(&cfg.seconds.emptyTTL, "empty-ttl", 300, "seconds before an empty group is reaped")
	fs.IntVar(&cfg.seconds.sweep, "sweep", 30, "sweep interval seconds")
	fs.IntVar(&cfg.seconds.heartbeat, "heartbeat", 60, "advertised heartbeat seconds")
	fs.IntVar(&cfg.Group.DefaultCap, "cap", 128, "default per-group member cap, 0 for unlimited")
	fs.IntVar(&cfg.Group.MaxGroupsPerClient, "max-groups-per-client", 3, "max live groups a client may own")

	fs.StringVar(&cfg.Logging.Level, "log-level", "info", "log level: debug|info|warn|error")
	fs.StringVar(&cfg.Logging.Format, "log-format", "text", "log format: text|json")

	fs.StringVar(&cfg.Metrics.Addr, "metrics-addr", ":9090", "bind address for /metrics and the monitoring API; empty disables it")

	return cfg
}

// Finalize converts the parsed integer-second flags into time.Duration fields and
// validates the whole configuration. Call after fs.Parse.
func (c *Config) Finalize() error {
	if c.seconds != nil {
		c.Group.EmptyTTL = time.Duration(c.seconds.emptyTTL) * time.Second
		c.Group.SweepInterval = time.Duration(c.seconds.sweep) * time.Second
		c.Group.HeartbeatInterval = time.Duration(c.seconds.heartbeat) * time.Second
	}
	return c.Validate()
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Group.Validate(); err != nil {
		return fmt.Errorf("group config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

// Validate validates the server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	return nil
}

// Validate validates the group configuration.
func (g *GroupConfig) Validate() error {
	if g.EmptyTTL <= 0 {
		return fmt.Errorf("empty-ttl must be positive, got %s", g.EmptyTTL)
	}
	if g.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", g.SweepInterval)
	}
	if g.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", g.HeartbeatInterval)
	}
	if g.DefaultCap < 0 {
		return fmt.Errorf("cap cannot be negative, got %d", g.DefaultCap)
	}
	if g.MaxGroupsPerClient < 1 {
		return fmt.Errorf("max-groups-per-client must be at least 1, got %d", g.MaxGroupsPerClient)
	}
	return nil
}

// Validate validates the logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'text' or 'json', got %q", l.Format)
	}

	return nil
}

// Validate validates the metrics configuration. An empty Addr is valid — it disables
// the monitoring listener.
func (m *MetricsConfig) Validate() error {
	return nil
}
