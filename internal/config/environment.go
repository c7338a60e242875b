package config

import (
	"os"

	"github.com/ibs-source/syslog/consumer/golang/pkg/jsonx"
)

// LoadFromEnvironment applies environment-variable overrides onto cfg. It is
// called after GetDefaults and before ApplyFlags, so flags take precedence.
func LoadFromEnvironment(cfg *Config) {
	applyAppEnv(cfg)
	applyMqttEnv(cfg)
	applyTimescaleEnv(cfg)
	applyCircuitBreakerEnv(cfg)
	applyDevicesEnv(cfg)
	applyMqttDevicesEnv(cfg)
}

func applyAppEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Environment = getEnv("APP_ENV", cfg.App.Environment)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnv("LOG_FORMAT", cfg.App.LogFormat)
	cfg.App.ShutdownTimeout = getDurationEnv("APP_SHUTDOWN_TIMEOUT", cfg.App.ShutdownTimeout)
	cfg.App.PendingOpsGrace = getDurationEnv("APP_PENDING_OPS_GRACE", cfg.App.PendingOpsGrace)
	cfg.App.MaxConsecutiveFailures = getIntEnv("APP_MAX_CONSECUTIVE_FAILURES", cfg.App.MaxConsecutiveFailures)
	cfg.App.CPUAffinity = getIntSliceEnv("APP_CPU_AFFINITY", cfg.App.CPUAffinity)
}

func applyMqttEnv(cfg *Config) {
	cfg.Mqtt.BrokerHost = getEnv("MQTT_BROKER_HOST", cfg.Mqtt.BrokerHost)
	cfg.Mqtt.BrokerPort = getIntEnv("MQTT_BROKER_PORT", cfg.Mqtt.BrokerPort)
	cfg.Mqtt.ClientID = getEnv("MQTT_CLIENT_ID", cfg.Mqtt.ClientID)
	cfg.Mqtt.Username = getEnv("MQTT_USERNAME", cfg.Mqtt.Username)
	cfg.Mqtt.Password = getEnv("MQTT_PASSWORD", cfg.Mqtt.Password)
	cfg.Mqtt.UseTLS = getBoolEnv("MQTT_USE_TLS", cfg.Mqtt.UseTLS)
	cfg.Mqtt.CACertFile = getEnv("MQTT_CA_CERT", cfg.Mqtt.CACertFile)
	cfg.Mqtt.ClientCertFile = getEnv("MQTT_CLIENT_CERT", cfg.Mqtt.ClientCertFile)
	cfg.Mqtt.ClientKeyFile = getEnv("MQTT_CLIENT_KEY", cfg.Mqtt.ClientKeyFile)
	cfg.Mqtt.KeepAlivePeriodSeconds = getIntEnv("MQTT_KEEP_ALIVE_SECONDS", cfg.Mqtt.KeepAlivePeriodSeconds)
	cfg.Mqtt.QualityOfServiceLevel = byte(getIntEnv("MQTT_QOS", int(cfg.Mqtt.QualityOfServiceLevel)))
	cfg.Mqtt.ReconnectDelaySeconds = getIntEnv("MQTT_RECONNECT_DELAY_SECONDS", cfg.Mqtt.ReconnectDelaySeconds)
	cfg.Mqtt.MaxReconnectAttempts = getIntEnv("MQTT_MAX_RECONNECT_ATTEMPTS", cfg.Mqtt.MaxReconnectAttempts)
	cfg.Mqtt.CleanSession = getBoolEnv("MQTT_CLEAN_SESSION", cfg.Mqtt.CleanSession)
}

func applyTimescaleEnv(cfg *Config) {
	cfg.TimescaleDb.ConnectionString = getEnv("TIMESCALE_CONNECTION_STRING", cfg.TimescaleDb.ConnectionString)
	cfg.TimescaleDb.TableName = getEnv("TIMESCALE_TABLE_NAME", cfg.TimescaleDb.TableName)
	cfg.TimescaleDb.BatchSize = getIntEnv("TIMESCALE_BATCH_SIZE", cfg.TimescaleDb.BatchSize)
	cfg.TimescaleDb.FlushIntervalMs = getIntEnv("TIMESCALE_FLUSH_INTERVAL_MS", cfg.TimescaleDb.FlushIntervalMs)
	cfg.TimescaleDb.MaxRetryAttempts = getIntEnv("TIMESCALE_MAX_RETRY_ATTEMPTS", cfg.TimescaleDb.MaxRetryAttempts)
	cfg.TimescaleDb.RetryDelayMs = getIntEnv("TIMESCALE_RETRY_DELAY_MS", cfg.TimescaleDb.RetryDelayMs)
	cfg.TimescaleDb.MaxRetryDelayMs = getIntEnv("TIMESCALE_MAX_RETRY_DELAY_MS", cfg.TimescaleDb.MaxRetryDelayMs)
	cfg.TimescaleDb.ShutdownTimeoutSeconds = getIntEnv("TIMESCALE_SHUTDOWN_TIMEOUT_SECONDS", cfg.TimescaleDb.ShutdownTimeoutSeconds)
	cfg.TimescaleDb.EnableDeadLetterQueue = getBoolEnv("TIMESCALE_ENABLE_DLQ", cfg.TimescaleDb.EnableDeadLetterQueue)
	cfg.TimescaleDb.DeadLetterQueuePath = getEnv("TIMESCALE_DLQ_PATH", cfg.TimescaleDb.DeadLetterQueuePath)
	cfg.TimescaleDb.DatabaseInitTimeoutSeconds = getIntEnv("TIMESCALE_DB_INIT_TIMEOUT_SECONDS", cfg.TimescaleDb.DatabaseInitTimeoutSeconds)
}

func applyCircuitBreakerEnv(cfg *Config) {
	cfg.CircuitBreaker.Enabled = getBoolEnv("CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreaker.Enabled)
	cfg.CircuitBreaker.ErrorThreshold = getFloatEnv("CIRCUIT_BREAKER_ERROR_THRESHOLD", cfg.CircuitBreaker.ErrorThreshold)
	cfg.CircuitBreaker.SuccessThreshold = getIntEnv("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", cfg.CircuitBreaker.SuccessThreshold)
	cfg.CircuitBreaker.Timeout = getDurationEnv("CIRCUIT_BREAKER_TIMEOUT", cfg.CircuitBreaker.Timeout)
	cfg.CircuitBreaker.MaxConcurrentCalls = getIntEnv("CIRCUIT_BREAKER_MAX_CONCURRENT", cfg.CircuitBreaker.MaxConcurrentCalls)
	cfg.CircuitBreaker.RequestVolumeThreshold = getIntEnv("CIRCUIT_BREAKER_REQUEST_VOLUME", cfg.CircuitBreaker.RequestVolumeThreshold)
}

// applyDevicesEnv loads the Modbus device list from DEVICES_JSON, a JSON array
// of DeviceConfig. Complex nested configuration does not fit the flat
// key=value env-var model the rest of this file uses, so it is carried as a
// single JSON blob, consistent with how operators ship device fleets today.
func applyDevicesEnv(cfg *Config) {
	raw := os.Getenv("DEVICES_JSON")
	if raw == "" {
		return
	}
	var devices []DeviceConfig
	if err := jsonx.Unmarshal([]byte(raw), &devices); err == nil {
		cfg.Devices = devices
	}
}

// applyMqttDevicesEnv loads the MQTT device list from MQTT_DEVICES_JSON.
func applyMqttDevicesEnv(cfg *Config) {
	raw := os.Getenv("MQTT_DEVICES_JSON")
	if raw == "" {
		return
	}
	var devices []MqttDeviceConfig
	if err := jsonx.Unmarshal([]byte(raw), &devices); err == nil {
		cfg.MqttDevices = devices
	}
}
