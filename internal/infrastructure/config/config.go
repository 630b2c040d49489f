package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the broker sync service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Broker   BrokerConfig   `yaml:"broker"`
	Sync     SyncConfig     `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the connection used to publish sync events.
// The client is optional; sync works without it.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	TopicRoot string              `yaml:"topic_root"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BrokerConfig describes the Mosquitto instance whose configuration we manage.
type BrokerConfig struct {
	// PasswordFile is where the generated password file is written.
	PasswordFile string `yaml:"password_file"`

	// ACLFile is where the generated ACL file is written.
	ACLFile string `yaml:"acl_file"`

	// TopicPrefix is the prefix of the default per-device rule.
	// The default rule pattern is "<topic_prefix>/<device_id>/#".
	TopicPrefix string `yaml:"topic_prefix"`

	// Admin is the administrative identity written first to both artifacts.
	Admin BrokerAdminConfig `yaml:"admin"`

	// Reload selects how a running broker is told to re-read its files.
	Reload BrokerReloadConfig `yaml:"reload"`

	// Process configures a broker launched and supervised by this service.
	Process BrokerProcessConfig `yaml:"process"`

	// PublicURL is the broker address handed to device owners in credential mail.
	PublicURL string `yaml:"public_url"`
}

// BrokerAdminConfig is the broker's administrative identity.
// Either Password or PasswordHash must be set; PasswordHash wins when both are.
type BrokerAdminConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// BrokerReloadConfig selects the reload mechanism.
type BrokerReloadConfig struct {
	// Method is one of: none, docker, process, pidfile.
	Method string `yaml:"method"`

	// Container is the container name or ID for the docker method.
	Container string `yaml:"container"`

	// DockerHost overrides DOCKER_HOST for the docker method.
	DockerHost string `yaml:"docker_host"`

	// PIDFile is the broker pid file for the pidfile method.
	PIDFile string `yaml:"pid_file"`
}

// BrokerProcessConfig configures a managed broker subprocess.
type BrokerProcessConfig struct {
	Managed             bool     `yaml:"managed"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	RestartOnFailure    bool     `yaml:"restart_on_failure"`
	RestartDelaySeconds int      `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int      `yaml:"max_restart_attempts"`
}

// SyncConfig controls when and how syncs run.
type SyncConfig struct {
	// Interval between periodic checks for pending changes. 0 disables the scheduler.
	Interval time.Duration `yaml:"interval"`

	// ReloadTimeout bounds the reload signal.
	ReloadTimeout time.Duration `yaml:"reload_timeout"`

	// OnStart runs one sync when the service starts.
	OnStart bool `yaml:"on_start"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Token    string           `yaml:"token"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings for sync metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// SMTPConfig contains the outgoing mail server used for credential delivery.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	Hello    string `yaml:"hello"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Reload methods accepted in broker.reload.method.
const (
	ReloadNone    = "none"
	ReloadDocker  = "docker"
	ReloadProcess = "process"
	ReloadPIDFile = "pidfile"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TRACKER_SECTION_KEY
// For example: TRACKER_DATABASE_PATH, TRACKER_BROKER_ADMIN_PASSWORD
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
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/tracker.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "brokersync",
			},
			QoS:       1,
			TopicRoot: "tracker",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Broker: BrokerConfig{
			PasswordFile: "/mosquitto/config/password.txt",
			ACLFile:      "/mosquitto/config/acl.txt",
			TopicPrefix:  "owntracks/owntrack",
			Admin: BrokerAdminConfig{
				Username: "admin",
			},
			Reload: BrokerReloadConfig{
				Method:    ReloadNone,
				Container: "mosquitto",
			},
			Process: BrokerProcessConfig{
				Binary:              "/usr/sbin/mosquitto",
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
			PublicURL: "mqtt://localhost:1883",
		},
		Sync: SyncConfig{
			Interval:      time.Minute,
			ReloadTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than through the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRACKER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TRACKER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TRACKER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TRACKER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Broker artifacts and admin identity
	if v := os.Getenv("TRACKER_BROKER_PASSWORD_FILE"); v != "" {
		cfg.Broker.PasswordFile = v
	}
	if v := os.Getenv("TRACKER_BROKER_ACL_FILE"); v != "" {
		cfg.Broker.ACLFile = v
	}
	if v := os.Getenv("TRACKER_BROKER_ADMIN_USERNAME"); v != "" {
		cfg.Broker.Admin.Username = v
	}
	if v := os.Getenv("TRACKER_BROKER_ADMIN_PASSWORD"); v != "" {
		cfg.Broker.Admin.Password = v
	}
	if v := os.Getenv("TRACKER_BROKER_CONTAINER"); v != "" {
		cfg.Broker.Reload.Container = v
	}

	// API
	if v := os.Getenv("TRACKER_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}

	// InfluxDB
	if v := os.Getenv("TRACKER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// SMTP
	if v := os.Getenv("TRACKER_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Broker artifacts
	if c.Broker.PasswordFile == "" {
		errs = append(errs, "broker.password_file is required")
	}
	if c.Broker.ACLFile == "" {
		errs = append(errs, "broker.acl_file is required")
	}
	if c.Broker.PasswordFile != "" && c.Broker.PasswordFile == c.Broker.ACLFile {
		errs = append(errs, "broker.password_file and broker.acl_file must differ")
	}
	if c.Broker.TopicPrefix == "" {
		errs = append(errs, "broker.topic_prefix is required")
	}
	if c.Broker.Admin.Username == "" {
		errs = append(errs, "broker.admin.username is required")
	}
	if c.Broker.Admin.Password == "" && c.Broker.Admin.PasswordHash == "" {
		errs = append(errs, "broker.admin.password or broker.admin.password_hash is required (set TRACKER_BROKER_ADMIN_PASSWORD)")
	}

	switch c.Broker.Reload.Method {
	case ReloadNone:
	case ReloadDocker:
		if c.Broker.Reload.Container == "" {
			errs = append(errs, "broker.reload.container is required for the docker reload method")
		}
	case ReloadProcess:
		if !c.Broker.Process.Managed {
			errs = append(errs, "broker.process.managed must be true for the process reload method")
		}
	case ReloadPIDFile:
		if c.Broker.Reload.PIDFile == "" {
			errs = append(errs, "broker.reload.pid_file is required for the pidfile reload method")
		}
	default:
		errs = append(errs, fmt.Sprintf("broker.reload.method %q must be one of none, docker, process, pidfile", c.Broker.Reload.Method))
	}

	if c.Broker.Process.Managed && c.Broker.Process.Binary == "" {
		errs = append(errs, "broker.process.binary is required when the broker is managed")
	}

	if c.Sync.Interval < 0 {
		errs = append(errs, "sync.interval must not be negative")
	}
	if c.Sync.ReloadTimeout <= 0 {
		errs = append(errs, "sync.reload_timeout must be positive")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			errs = append(errs, "smtp.host is required when smtp is enabled")
		}
		if c.SMTP.From == "" {
			errs = append(errs, "smtp.from is required when smtp is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
