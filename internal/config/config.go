// Package config loads, merges, and validates application configuration from defaults, environment, and flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	App            AppConfig
	Devices        []DeviceConfig
	Mqtt           MqttConfig
	MqttDevices    []MqttDeviceConfig
	TimescaleDb    TimescaleConfig
	CircuitBreaker CircuitBreakerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name                   string
	Environment            string
	LogLevel               string
	LogFormat              string
	ShutdownTimeout        time.Duration
	PendingOpsGrace        time.Duration
	MaxConsecutiveFailures int
	CPUAffinity            []int
}

// DeviceConfig describes one Modbus/TCP device polled by POOL.
type DeviceConfig struct {
	DeviceID       string
	Enabled        bool
	IP             string
	Port           int
	UnitID         byte
	PollIntervalMs int
	Channels       []ChannelConfig
}

// RegisterType identifies whether a channel reads Holding or Input registers.
type RegisterType string

const (
	RegisterHolding RegisterType = "Holding"
	RegisterInput   RegisterType = "Input"
)

// DataType identifies how raw register words are interpreted.
type DataType string

const (
	DataTypeUInt32Counter DataType = "UInt32Counter"
	DataTypeInt16         DataType = "Int16"
	DataTypeUInt16        DataType = "UInt16"
	DataTypeFloat32       DataType = "Float32"
	DataTypeInt32         DataType = "Int32"
)

// ChannelConfig describes one Modbus channel within a device.
type ChannelConfig struct {
	ChannelNumber     int
	StartRegister     uint16
	RegisterCount     int // 1 or 2
	RegisterType      RegisterType
	DataType          DataType
	ScaleFactor       float64
	MinValue          *float64
	MaxValue          *float64
	MaxChangeRate     float64
	RateWindowSeconds float64
	Unit              string
}

// PayloadFormat identifies how MPROC decodes an MQTT payload.
type PayloadFormat string

const (
	PayloadJSON   PayloadFormat = "Json"
	PayloadBinary PayloadFormat = "Binary"
	PayloadCSV    PayloadFormat = "Csv"
)

// MqttConfig holds broker-level MQTT settings.
type MqttConfig struct {
	BrokerHost             string
	BrokerPort             int
	ClientID               string
	Username               string
	Password               string
	UseTLS                 bool
	CACertFile             string
	ClientCertFile         string
	ClientKeyFile          string
	KeepAlivePeriodSeconds int
	QualityOfServiceLevel  byte
	ReconnectDelaySeconds  int
	MaxReconnectAttempts   int
	CleanSession           bool
}

// MqttDeviceConfig describes one logical device ingested over MQTT.
type MqttDeviceConfig struct {
	DeviceID          string
	Enabled           bool
	Topics            []string
	Format            PayloadFormat
	DataType          DataType
	ChannelJSONPath   string
	ValueJSONPath     string
	TimestampJSONPath string
	ScaleFactor       float64
	Unit              string
	QoSLevel          *byte
	// RateEnabled routes parsed readings through the windowed rate calculator
	// (internal/rate) in addition to MPROC's default already-scaled handling.
	// See DESIGN.md open-question decision #1.
	RateEnabled bool
}

// TimescaleConfig holds the STORE / TimescaleDB settings.
type TimescaleConfig struct {
	ConnectionString           string
	TableName                  string
	BatchSize                  int
	FlushIntervalMs            int
	MaxRetryAttempts           int
	RetryDelayMs               int
	MaxRetryDelayMs            int
	ShutdownTimeoutSeconds     int
	EnableDeadLetterQueue      bool
	DeadLetterQueuePath        string
	DatabaseInitTimeoutSeconds int
}

// CircuitBreakerConfig holds the circuit breaker configuration used by STORE.
type CircuitBreakerConfig struct {
	Enabled                bool
	ErrorThreshold         float64
	SuccessThreshold       int
	Timeout                time.Duration
	MaxConcurrentCalls     int
	RequestVolumeThreshold int
}

// Load loads configuration from defaults, environment variables, and flags, in
// that order of increasing precedence, then validates the result.
func Load() (*Config, error) {
	RegisterFlags()

	cfg := GetDefaults()

	LoadFromEnvironment(cfg)

	ApplyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Helper functions shared by defaults.go/environment.go/flags.go.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getIntSliceEnv(key string, defaultValue []int) []int {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]int, 0, len(parts))
		for _, part := range parts {
			if intVal, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				result = append(result, intVal)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func generateClientID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("daqd-%s-%d", hostname, os.Getpid())
}
