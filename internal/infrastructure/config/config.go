package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
)

// Config is the root configuration structure for the telemetry edge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker      BrokerConfig      `yaml:"broker"`
	Auth        AuthConfig        `yaml:"auth"`
	Defaults    SessionDefaults   `yaml:"defaults"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Sessions    []SessionConfig   `yaml:"sessions"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// AllowPlaintext permits tls: false. Only meant for local development
	// brokers; production sessions must run over TLS.
	AllowPlaintext bool `yaml:"allow_plaintext"`

	// CAFile is a PEM bundle used as the only trust anchor when PinCA is set.
	CAFile string `yaml:"ca_file"`
	PinCA  bool   `yaml:"pin_ca"`
}

// AuthConfig contains MQTT authentication credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SessionDefaults holds the values every session inherits unless it sets its own.
type SessionDefaults struct {
	QoS            int  `yaml:"qos"`
	CleanSession   bool `yaml:"clean_session"`
	ConnectTimeout int  `yaml:"connect_timeout"` // seconds
	KeepAlive      int  `yaml:"keep_alive"`      // seconds
	EventBuffer    int  `yaml:"event_buffer"`
}

// SessionConfig describes one subscriber session. Pointer fields are optional
// overrides of SessionDefaults.
type SessionConfig struct {
	Name           string `yaml:"name"`
	ClientID       string `yaml:"client_id"`
	Topic          string `yaml:"topic"`
	QoS            *int   `yaml:"qos,omitempty"`
	CleanSession   *bool  `yaml:"clean_session,omitempty"`
	ConnectTimeout *int   `yaml:"connect_timeout,omitempty"`
	KeepAlive      *int   `yaml:"keep_alive,omitempty"`
}

// PersistenceConfig controls the SQLite in-flight store used by sessions
// with clean_session disabled.
type PersistenceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the readings sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	PahoDebug bool   `yaml:"paho_debug"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TELEMETRY_SECTION_KEY
// For example: TELEMETRY_MQTT_HOST, TELEMETRY_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// The two sensor sessions match the logger1 deployment; a config file that
// declares its own sessions list replaces them entirely.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host: "localhost",
			Port: 8883,
			TLS:  true,
		},
		Defaults: SessionDefaults{
			QoS:            1,
			CleanSession:   true,
			ConnectTimeout: 300,
			KeepAlive:      60,
			EventBuffer:    64,
		},
		Persistence: PersistenceConfig{
			Path:        "./data/inflight.db",
			BusyTimeout: 5,
		},
		Sessions: []SessionConfig{
			{
				Name:     "sediment",
				ClientID: "sandfang_client",
				Topic:    mqtt.Topics{}.Sensor("logger1", "sandfang"),
			},
			{
				Name:     "water-level",
				ClientID: "waterlevel_client",
				Topic:    mqtt.Topics{}.Sensor("logger1", "waterlevel"),
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TELEMETRY_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("TELEMETRY_MQTT_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("TELEMETRY_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing TELEMETRY_MQTT_PORT: %w", err)
		}
		cfg.Broker.Port = port
	}
	if v := os.Getenv("TELEMETRY_MQTT_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("TELEMETRY_MQTT_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("TELEMETRY_MQTT_CA_FILE"); v != "" {
		cfg.Broker.CAFile = v
	}

	// Persistence
	if v := os.Getenv("TELEMETRY_PERSISTENCE_PATH"); v != "" {
		cfg.Persistence.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TELEMETRY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}

	// Unencrypted sessions would expose the broker password on the wire.
	if !c.Broker.TLS && !c.Broker.AllowPlaintext {
		errs = append(errs, "broker.tls must be true (set broker.allow_plaintext for local development brokers)")
	}
	if c.Broker.PinCA {
		if !c.Broker.TLS {
			errs = append(errs, "broker.pin_ca requires broker.tls")
		}
		if c.Broker.CAFile == "" {
			errs = append(errs, "broker.pin_ca requires broker.ca_file (or TELEMETRY_MQTT_CA_FILE)")
		}
	}

	// Session defaults
	errs = append(errs, validateQoS("defaults.qos", c.Defaults.QoS)...)
	if c.Defaults.ConnectTimeout < 1 {
		errs = append(errs, "defaults.connect_timeout must be at least 1 second")
	}
	if c.Defaults.KeepAlive < 0 {
		errs = append(errs, "defaults.keep_alive must not be negative")
	}
	if c.Defaults.EventBuffer < 1 {
		errs = append(errs, "defaults.event_buffer must be at least 1")
	}

	errs = append(errs, c.validateSessions()...)

	// Persistence
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateSessions checks the per-session entries. Client ids must be unique:
// the broker drops the older connection when two sessions share one.
func (c *Config) validateSessions() []string {
	var errs []string

	if len(c.Sessions) == 0 {
		errs = append(errs, "at least one entry in sessions is required")
	}

	names := make(map[string]bool)
	clientIDs := make(map[string]bool)
	for i, s := range c.Sessions {
		field := fmt.Sprintf("sessions[%d]", i)

		if s.Name == "" {
			errs = append(errs, field+".name is required")
		} else if names[s.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is not unique", field, s.Name))
		}
		names[s.Name] = true

		if s.ClientID != "" {
			if clientIDs[s.ClientID] {
				errs = append(errs, fmt.Sprintf("%s.client_id %q is used by another session", field, s.ClientID))
			}
			clientIDs[s.ClientID] = true
		}

		if s.Topic == "" {
			errs = append(errs, field+".topic is required")
		} else if err := mqtt.ValidateTopicFilter(s.Topic); err != nil {
			errs = append(errs, fmt.Sprintf("%s.topic: %v", field, err))
		}

		if s.QoS != nil {
			errs = append(errs, validateQoS(field+".qos", *s.QoS)...)
		}
		if s.ConnectTimeout != nil && *s.ConnectTimeout < 1 {
			errs = append(errs, field+".connect_timeout must be at least 1 second")
		}
		if s.KeepAlive != nil && *s.KeepAlive < 0 {
			errs = append(errs, field+".keep_alive must not be negative")
		}
	}

	return errs
}

func validateQoS(field string, qos int) []string {
	if qos < 0 || qos > 2 {
		return []string{field + " must be 0, 1, or 2"}
	}
	return nil
}

// Resolved returns the effective settings for a session with the defaults applied.
func (c *Config) Resolved(s SessionConfig) ResolvedSession {
	r := ResolvedSession{
		Name:           s.Name,
		ClientID:       s.ClientID,
		Topic:          s.Topic,
		QoS:            c.Defaults.QoS,
		CleanSession:   c.Defaults.CleanSession,
		ConnectTimeout: time.Duration(c.Defaults.ConnectTimeout) * time.Second,
		KeepAlive:      time.Duration(c.Defaults.KeepAlive) * time.Second,
	}
	if s.QoS != nil {
		r.QoS = *s.QoS
	}
	if s.CleanSession != nil {
		r.CleanSession = *s.CleanSession
	}
	if s.ConnectTimeout != nil {
		r.ConnectTimeout = time.Duration(*s.ConnectTimeout) * time.Second
	}
	if s.KeepAlive != nil {
		r.KeepAlive = time.Duration(*s.KeepAlive) * time.Second
	}
	return r
}

// ResolvedSession is a SessionConfig with every default filled in.
type ResolvedSession struct {
	Name           string
	ClientID       string
	Topic          string
	QoS            int
	CleanSession   bool
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Scheme returns the broker URL scheme implied by the TLS setting.
func (b BrokerConfig) Scheme() string {
	if b.TLS {
		return "ssl"
	}
	return "tcp"
}

// NeedsInflightStore reports whether any session keeps broker-side state
// and persistence is switched on.
func (c *Config) NeedsInflightStore() bool {
	if !c.Persistence.Enabled {
		return false
	}
	for _, s := range c.Sessions {
		if !c.Resolved(s).CleanSession {
			return true
		}
	}
	return false
}
