package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the gateway connector.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Broker    BrokerConfig    `yaml:"broker"`
	Connector ConnectorConfig `yaml:"connector"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig identifies the gateway towards the router.
type GatewayConfig struct {
	ID  string `yaml:"id"`
	Key string `yaml:"key"` // empty means anonymous

	// Descriptive fields copied into every status report.
	Description  string `yaml:"description"`
	Region       string `yaml:"region"`
	Platform     string `yaml:"platform"`
	ContactEmail string `yaml:"contact_email"`
}

// MaxFrameSize is the largest payload the connector writes in one publish.
// broker.max_frame_size may lower it but not raise it.
const MaxFrameSize = 1 << 20

// BrokerConfig contains the router broker endpoint.
type BrokerConfig struct {
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	DialTimeout  int             `yaml:"dial_timeout"`   // seconds
	MaxFrameSize int             `yaml:"max_frame_size"` // bytes
	TLS          BrokerTLSConfig `yaml:"tls"`
}

// BrokerTLSConfig contains settings for the optional TLS upgrade of the
// broker connection.
type BrokerTLSConfig struct {
	Enabled          bool   `yaml:"enabled"`
	CAFile           string `yaml:"ca_file"`
	ServerName       string `yaml:"server_name"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds

	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ConnectorConfig contains session behaviour settings.
type ConnectorConfig struct {
	KeepAlive      int            `yaml:"keep_alive"`      // seconds
	CommandTimeout int            `yaml:"command_timeout"` // milliseconds
	PollInterval   int            `yaml:"poll_interval"`   // milliseconds
	StatusInterval int            `yaml:"status_interval"` // seconds
	Features       FeaturesConfig `yaml:"features"`
	QoS            QoSConfig      `yaml:"qos"`
}

// FeaturesConfig toggles optional session behaviour.
type FeaturesConfig struct {
	LastWill            bool `yaml:"last_will"`
	ConnectAnnouncement bool `yaml:"connect_announcement"`
}

// QoSConfig contains the delivery level of each message class.
type QoSConfig struct {
	Status   int `yaml:"status"`
	Uplink   int `yaml:"uplink"`
	Downlink int `yaml:"downlink"`
	Connect  int `yaml:"connect"`
	Will     int `yaml:"will"`
}

// ReconnectConfig contains the daemon's reconnection policy.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
	MaxAttempts  int `yaml:"max_attempts"`  // 0 = unlimited
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// JournalRetention is how many days of session events are kept; 0 keeps all.
	JournalRetention int `yaml:"journal_retention"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Secret   string           `yaml:"secret"`    // HMAC key for bearer tokens
	TokenTTL int              `yaml:"token_ttl"` // minutes, for tokens issued by ttngwc token
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TTNGWC_SECTION_KEY
// For example: TTNGWC_GATEWAY_ID, TTNGWC_BROKER_HOST
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Session timings match the reference gateway firmware: 20 s keep-alive,
// 1 s command timeout and at-least-once delivery for every message class.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:         "localhost",
			Port:         1883,
			DialTimeout:  10,
			MaxFrameSize: MaxFrameSize,
			TLS: BrokerTLSConfig{
				HandshakeTimeout: 10,
			},
		},
		Connector: ConnectorConfig{
			KeepAlive:      20,
			CommandTimeout: 1000,
			PollInterval:   1000,
			StatusInterval: 30,
			Features: FeaturesConfig{
				LastWill:            true,
				ConnectAnnouncement: true,
			},
			QoS: QoSConfig{
				Status:   1,
				Uplink:   1,
				Downlink: 1,
				Connect:  1,
				Will:     1,
			},
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
		Database: DatabaseConfig{
			Path:             "./data/ttngwc.db",
			WALMode:          true,
			BusyTimeout:      5,
			JournalRetention: 30,
		},
		API: APIConfig{
			Host:     "127.0.0.1",
			Port:     8081,
			TokenTTL: 60,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TTNGWC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway identity
	if v := os.Getenv("TTNGWC_GATEWAY_ID"); v != "" {
		cfg.Gateway.ID = v
	}
	if v := os.Getenv("TTNGWC_GATEWAY_KEY"); v != "" {
		cfg.Gateway.Key = v
	}

	// Broker
	if v := os.Getenv("TTNGWC_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}

	// Database
	if v := os.Getenv("TTNGWC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TTNGWC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API bearer token key
	if v := os.Getenv("TTNGWC_API_SECRET"); v != "" {
		cfg.API.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required (set TTNGWC_GATEWAY_ID environment variable)")
	}

	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.MaxFrameSize < 0 || c.Broker.MaxFrameSize > MaxFrameSize {
		errs = append(errs, fmt.Sprintf("broker.max_frame_size must be between 0 and %d", MaxFrameSize))
	}

	if c.Connector.KeepAlive < 1 {
		errs = append(errs, "connector.keep_alive must be at least 1 second")
	}
	if c.Connector.CommandTimeout < 1 {
		errs = append(errs, "connector.command_timeout must be positive")
	}
	if c.Connector.PollInterval < 1 {
		errs = append(errs, "connector.poll_interval must be at least 1 millisecond")
	}
	if c.Connector.StatusInterval < 1 {
		errs = append(errs, "connector.status_interval must be at least 1 second")
	}
	for _, q := range []struct {
		name  string
		level int
	}{
		{"status", c.Connector.QoS.Status},
		{"uplink", c.Connector.QoS.Uplink},
		{"downlink", c.Connector.QoS.Downlink},
		{"connect", c.Connector.QoS.Connect},
		{"will", c.Connector.QoS.Will},
	} {
		if q.level < 0 || q.level > 2 {
			errs = append(errs, fmt.Sprintf("connector.qos.%s must be 0, 1, or 2", q.name))
		}
	}

	if c.Reconnect.InitialDelay < 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, "reconnect.max_delay must not be below reconnect.initial_delay")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.JournalRetention < 0 {
		errs = append(errs, "database.journal_retention must not be negative")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// Bearer tokens authorise uplink injection onto the radio network.
		const minSecretLength = 32
		if c.API.Secret == "" {
			errs = append(errs, "api.secret is required when the API is enabled (set TTNGWC_API_SECRET environment variable)")
		} else if len(c.API.Secret) < minSecretLength {
			errs = append(errs, "api.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAlive returns the MQTT keep-alive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Connector.KeepAlive) * time.Second
}

// GetCommandTimeout returns the per-command acknowledgement timeout.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Connector.CommandTimeout) * time.Millisecond
}

// GetPollInterval returns how long each poll waits for inbound traffic.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Connector.PollInterval) * time.Millisecond
}

// GetStatusInterval returns the period between status reports.
func (c *Config) GetStatusInterval() time.Duration {
	return time.Duration(c.Connector.StatusInterval) * time.Second
}

// GetJournalRetention returns how long session events are kept, 0 for ever.
func (c *Config) GetJournalRetention() time.Duration {
	return time.Duration(c.Database.JournalRetention) * 24 * time.Hour
}

// GetTokenTTL returns the validity of bearer tokens issued by ttngwc token.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.TokenTTL) * time.Minute
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
