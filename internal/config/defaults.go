package config

import (
	"os"
	"time"
)

// GetDefaults returns a Config with all default values populated. Devices and
// MqttDevices default to empty; they are populated from environment/flags.
func GetDefaults() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		App:            defaultApp(),
		Devices:        nil,
		Mqtt:           defaultMqtt(hostname),
		MqttDevices:    nil,
		TimescaleDb:    defaultTimescale(),
		CircuitBreaker: defaultCircuitBreaker(),
	}
}

func defaultApp() AppConfig {
	return AppConfig{
		Name:                   "daqd",
		Environment:            "production",
		LogLevel:               "info",
		LogFormat:              "text",
		ShutdownTimeout:        30 * time.Second,
		PendingOpsGrace:        500 * time.Millisecond,
		MaxConsecutiveFailures: 5,
		CPUAffinity:            []int{},
	}
}

func defaultMqtt(hostname string) MqttConfig {
	_ = hostname
	return MqttConfig{
		BrokerHost:             "localhost",
		BrokerPort:             1883,
		ClientID:               generateClientID(),
		UseTLS:                 false,
		KeepAlivePeriodSeconds: 60,
		QualityOfServiceLevel:  1,
		ReconnectDelaySeconds:  5,
		MaxReconnectAttempts:   0, // 0 = unlimited
		CleanSession:           true,
	}
}

func defaultTimescale() TimescaleConfig {
	return TimescaleConfig{
		ConnectionString:           "postgres://localhost:5432/daq",
		TableName:                  "device_readings",
		BatchSize:                  500,
		FlushIntervalMs:            1000,
		MaxRetryAttempts:           5,
		RetryDelayMs:               100,
		MaxRetryDelayMs:            30_000,
		ShutdownTimeoutSeconds:     30,
		EnableDeadLetterQueue:      true,
		DeadLetterQueuePath:        "./dlq",
		DatabaseInitTimeoutSeconds: 30,
	}
}

func defaultCircuitBreaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:                true,
		ErrorThreshold:         50.0,
		SuccessThreshold:       5,
		Timeout:                30 * time.Second,
		MaxConcurrentCalls:     100,
		RequestVolumeThreshold: 20,
	}
}
