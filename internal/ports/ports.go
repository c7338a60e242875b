// Package ports defines the service interfaces (ports) used by the application to decouple implementations.
package ports

import (
	"context"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
)

// StoreClient defines the interface for STORE: persisting batches of device
// readings to the TimescaleDB hypertable and recovering the dead letter queue.
type StoreClient interface {
	// Bootstrap creates the hypertable and its indexes if they do not exist.
	Bootstrap(ctx context.Context) error
	// WriteBatch persists readings, using a bulk path for large batches and a
	// parameterized upsert otherwise. Makes one attempt and returns its error;
	// the caller is responsible for retries and DLQ handoff.
	WriteBatch(ctx context.Context, readings []domain.DeviceReading) error
	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error
	Close()
}

// ModbusConn defines a single Modbus/TCP session used by CONN/POOL.
type ModbusConn interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	ReadRegisters(ctx context.Context, unitID byte, holding bool, address uint16, count int) ([]byte, error)
}

// MQTTClient defines the interface for MQTT operations
type MQTTClient interface {
	Connect(ctx context.Context) error
	Disconnect(timeout time.Duration)
	IsConnected() bool
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topics ...string) error
}

// MessageHandler is the callback for MQTT messages
type MessageHandler func(topic string, payload []byte)

// Logger defines the interface for logging
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Field represents a logging field
type Field struct {
	Key   string
	Value interface{}
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Healthy bool
	Message string
	Details map[string]interface{}
}

// GaugeMetric represents a gauge metric
type GaugeMetric interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
}

// CounterMetric represents a counter metric
type CounterMetric interface {
	Inc()
	Add(delta float64)
}

// HistogramMetric represents a histogram metric
type HistogramMetric interface {
	Observe(value float64)
}

// CircuitBreaker defines the interface for circuit breaker pattern
type CircuitBreaker interface {
	Execute(fn func() error) error
	GetState() string
	GetStats() CircuitBreakerStats
}

// CircuitBreakerStats represents circuit breaker statistics
type CircuitBreakerStats struct {
	Requests            uint64
	TotalSuccess        uint64
	TotalFailure        uint64
	ConsecutiveFailures uint64
	State               string
}

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// BackoffStrategy defines the backoff strategy for retries
type BackoffStrategy interface {
	NextInterval(attempt int) time.Duration
}
