// Package config handles configuration loading, validation, and persistence
// for the DataLink daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 9991
	DefaultAPIPort    = 5090

	// LicenseKeyPlaceholder is written to a fresh config file. A key that
	// still contains "<" counts as not configured.
	LicenseKeyPlaceholder = "<enter key here>"

	// DefaultPinMessage is delivered to a player on a loginPin command.
	// "{pin}" is replaced with the PIN.
	DefaultPinMessage = "Your login PIN is: {pin}\nNever share it with anyone!"

	// EnvPrefix prefixes every environment override, e.g. DATALINK_LICENSE_KEY.
	EnvPrefix = "DATALINK"
)

// Config is the root configuration structure for DataLink.
type Config struct {
	mu   sync.RWMutex
	path string

	LinkData        LinkData        `json:"link_data"`
	ServerData      ServerData      `json:"server_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// LinkData configures the connection to the control server. Timers are in
// seconds.
type LinkData struct {
	LicenseKey string `json:"license_key"`
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`

	ConnectTimeout    int `json:"connect_timeout_sec"`
	RetryInterval     int `json:"retry_interval_sec"`
	AuthTimeout       int `json:"auth_timeout_sec"`
	HeartbeatInterval int `json:"heartbeat_interval_sec"`
	HeartbeatTimeout  int `json:"heartbeat_timeout_sec"`
	WriteTimeout      int `json:"write_timeout_sec"`

	// StatsRate caps STATS frames per second during a bulk push. 0 disables.
	StatsRate  int    `json:"stats_rate_per_sec"`
	PinMessage string `json:"pin_message"`
}

// HasLicenseKey reports whether a real key has been entered.
func (l LinkData) HasLicenseKey() bool {
	key := strings.TrimSpace(l.LicenseKey)
	return key != "" && !strings.Contains(key, "<")
}

// Addr returns host:port of the control server.
func (l LinkData) Addr() string {
	return fmt.Sprintf("%s:%d", l.ServerHost, l.ServerPort)
}

// Seconds converts a config timer to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ServerData describes the local game server installation.
type ServerData struct {
	ServerDirectory string `json:"server_directory"`
	WorldName       string `json:"world_name"`
	WatchLogs       bool   `json:"watch_logs"`
}

// WorldDirectory returns the directory of the main world.
func (s ServerData) WorldDirectory() string {
	return filepath.Join(s.ServerDirectory, s.WorldName)
}

// ApplicationData contains daemon configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
}

// TimerConfig holds scheduled task intervals.
type TimerConfig struct {
	StatsSyncInterval     int `json:"stats_sync_interval_sec"`
	StatusReportInterval  int `json:"status_report_interval_sec"`
	MessagePruneInterval  int `json:"message_prune_interval_sec"`
	MessageRetentionHours int `json:"message_retention_hours"`
	HealthCheckInterval   int `json:"health_check_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds local API settings.
type SecurityConfig struct {
	APIEnabled     bool     `json:"api_enabled"`
	APIPort        int      `json:"api_port"`
	APIToken       string   `json:"api_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DatabaseConfig locates the sqlite player registry.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LinkData: LinkData{
			LicenseKey:        LicenseKeyPlaceholder,
			ServerHost:        DefaultServerHost,
			ServerPort:        DefaultServerPort,
			ConnectTimeout:    10,
			RetryInterval:     5,
			AuthTimeout:       5,
			HeartbeatInterval: 7,
			HeartbeatTimeout:  20,
			WriteTimeout:      10,
			StatsRate:         20,
			PinMessage:        DefaultPinMessage,
		},
		ServerData: ServerData{
			ServerDirectory: ".",
			WorldName:       "world",
			WatchLogs:       true,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				StatsSyncInterval:     0,
				StatusReportInterval:  60,
				MessagePruneInterval:  86400,
				MessageRetentionHours: 72,
				HealthCheckInterval:   60,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        1883,
				TopicPrefix: "datalink",
			},
			Security: SecurityConfig{
				APIEnabled:   true,
				APIPort:      DefaultAPIPort,
				RateLimitRPS: 50,
				TLSCertFile:  "config/api.crt",
				TLSKeyFile:   "config/api.key",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
			Database: DatabaseConfig{
				Path: "data/datalink.db",
			},
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// missing, then applies DATALINK_* environment overrides. Overrides are not
// written back to disk by Load.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg := DefaultConfig()
		cfg.path = configPath
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := DefaultConfig() // defaults first, file on top
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envOverrides struct {
	LicenseKey string `envconfig:"LICENSE_KEY"`
	ServerHost string `envconfig:"SERVER_HOST"`
	ServerPort int    `envconfig:"SERVER_PORT"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	APIPort    int    `envconfig:"API_PORT"`
	APIToken   string `envconfig:"API_TOKEN"`
	MQTTBroker string `envconfig:"MQTT_BROKER"`
}

// ApplyEnv overlays DATALINK_* environment variables. Unset variables keep
// the current value.
func (c *Config) ApplyEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := envOverrides{
		LicenseKey: c.LinkData.LicenseKey,
		ServerHost: c.LinkData.ServerHost,
		ServerPort: c.LinkData.ServerPort,
		LogLevel:   c.ApplicationData.Logging.Level,
		APIPort:    c.ApplicationData.Security.APIPort,
		APIToken:   c.ApplicationData.Security.APIToken,
		MQTTBroker: c.ApplicationData.MQTT.BrokerURL,
	}
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	c.LinkData.LicenseKey = o.LicenseKey
	c.LinkData.ServerHost = o.ServerHost
	c.LinkData.ServerPort = o.ServerPort
	c.ApplicationData.Logging.Level = o.LogLevel
	c.ApplicationData.Security.APIPort = o.APIPort
	c.ApplicationData.Security.APIToken = o.APIToken
	if o.MQTTBroker != c.ApplicationData.MQTT.BrokerURL {
		c.ApplicationData.MQTT.BrokerURL = o.MQTTBroker
		c.ApplicationData.MQTT.Enabled = o.MQTTBroker != ""
	}
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetLinkData returns a copy of the link configuration.
func (c *Config) GetLinkData() LinkData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LinkData
}

// SetLinkData updates the link configuration.
func (c *Config) SetLinkData(data LinkData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LinkData = data
}

// GetServerData returns a copy of the game server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// SetServerData updates the game server configuration.
func (c *Config) SetServerData(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the license key has not been entered yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.LinkData.HasLicenseKey()
}
