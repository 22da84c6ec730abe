package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateLinkData(&cfg.LinkData, result)
	validateServerData(&cfg.ServerData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateLinkData(data *LinkData, result *ValidationResult) {
	if !data.HasLicenseKey() {
		result.AddError("link_data.license_key", "license key is not configured")
	}

	if strings.TrimSpace(data.ServerHost) == "" {
		result.AddError("link_data.server_host", "control server host is required")
	}
	validatePort(data.ServerPort, "link_data.server_port", result)

	positive := map[string]int{
		"link_data.connect_timeout_sec":    data.ConnectTimeout,
		"link_data.retry_interval_sec":     data.RetryInterval,
		"link_data.auth_timeout_sec":       data.AuthTimeout,
		"link_data.heartbeat_interval_sec": data.HeartbeatInterval,
		"link_data.heartbeat_timeout_sec":  data.HeartbeatTimeout,
		"link_data.write_timeout_sec":      data.WriteTimeout,
	}
	for field, v := range positive {
		if v < 1 {
			result.AddError(field, "must be at least 1 second")
		}
	}

	if data.HeartbeatInterval >= 1 && data.HeartbeatTimeout <= data.HeartbeatInterval {
		result.AddError("link_data.heartbeat_timeout_sec",
			"heartbeat timeout must be longer than the heartbeat interval")
	}

	if data.StatsRate < 0 {
		result.AddError("link_data.stats_rate_per_sec", "must not be negative")
	} else if data.StatsRate == 0 {
		result.AddWarning("link_data.stats_rate_per_sec", "bulk stats pushes are not rate limited")
	}

	if !strings.Contains(data.PinMessage, "{pin}") {
		result.AddWarning("link_data.pin_message", "pin message does not contain {pin}")
	}
}

func validateServerData(data *ServerData, result *ValidationResult) {
	if strings.TrimSpace(data.WorldName) == "" {
		result.AddError("server_data.world_name", "world name is required")
	}
	if strings.TrimSpace(data.ServerDirectory) == "" {
		result.AddError("server_data.server_directory", "server directory is required")
	} else if _, err := os.Stat(data.ServerDirectory); os.IsNotExist(err) {
		result.AddWarning("server_data.server_directory",
			fmt.Sprintf("directory does not exist: %s", data.ServerDirectory))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.Timers.StatsSyncInterval < 0 {
		result.AddError("application_data.timers.stats_sync_interval_sec", "must not be negative")
	}
	if data.Timers.StatusReportInterval < 0 {
		result.AddError("application_data.timers.status_report_interval_sec", "must not be negative")
	}
	if data.Timers.HealthCheckInterval < 0 {
		result.AddError("application_data.timers.health_check_interval_sec", "must not be negative")
	}
	if data.Timers.MessageRetentionHours < 1 {
		result.AddWarning("application_data.timers.message_retention_hours",
			"delivered messages are pruned immediately")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.APIEnabled {
		validatePort(data.Security.APIPort, "application_data.security.api_port", result)
		if data.Security.APIToken == "" {
			result.AddWarning("application_data.security.api_token",
				"API token is empty, control endpoints are unauthenticated")
		}
		if data.Security.TLSEnabled && (data.Security.TLSCertFile == "" || data.Security.TLSKeyFile == "") {
			result.AddError("application_data.security.tls_cert_file",
				"certificate and key paths are required when TLS is enabled")
		}
	}
	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
