package domain

import (
	"sync/atomic"
	"time"
)

// Metrics holds atomic performance counters shared across POOL, STORE, and DLQ.
type Metrics struct {
	// Throughput metrics
	ReadingsReceived  atomic.Uint64
	ReadingsPersisted atomic.Uint64
	ReadingsDropped   atomic.Uint64

	// Performance metrics
	ProcessingTimeNs atomic.Uint64
	WriteLatencyNs   atomic.Uint64

	// Resource metrics
	ActiveWorkers   atomic.Int32
	QueueDepth      atomic.Int32
	MemoryUsedBytes atomic.Uint64
	CPUPercent      atomic.Uint64

	// Error metrics
	ModbusErrors    atomic.Uint64
	MQTTErrors      atomic.Uint64
	StorageErrors   atomic.Uint64
	ProcessingError atomic.Uint64

	// Back-pressure metrics
	BackpressureWaitNs atomic.Uint64
	BufferUtilization  atomic.Uint64

	// DLQ metrics
	DLQEnqueued atomic.Uint64
	DLQReplayed atomic.Uint64

	// Start time for rate calculations
	StartTime time.Time
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now(),
	}
}

// GetThroughputRate returns readings received per second
func (m *Metrics) GetThroughputRate() float64 {
	elapsed := time.Since(m.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.ReadingsReceived.Load()) / elapsed
}

// GetPersistRate returns readings persisted per second
func (m *Metrics) GetPersistRate() float64 {
	elapsed := time.Since(m.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.ReadingsPersisted.Load()) / elapsed
}

// GetErrorRate returns errors per second across all subsystems
func (m *Metrics) GetErrorRate() float64 {
	elapsed := time.Since(m.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	totalErrors := m.ModbusErrors.Load() + m.MQTTErrors.Load() + m.StorageErrors.Load() + m.ProcessingError.Load()
	return float64(totalErrors) / elapsed
}

// GetAverageProcessingTime returns average processing time in nanoseconds
func (m *Metrics) GetAverageProcessingTime() float64 {
	received := m.ReadingsReceived.Load()
	if received == 0 {
		return 0
	}
	return float64(m.ProcessingTimeNs.Load()) / float64(received)
}

// GetAverageWriteLatency returns average STORE write latency in nanoseconds
func (m *Metrics) GetAverageWriteLatency() float64 {
	persisted := m.ReadingsPersisted.Load()
	if persisted == 0 {
		return 0
	}
	return float64(m.WriteLatencyNs.Load()) / float64(persisted)
}

// MetricsSnapshot represents a point-in-time metrics snapshot
type MetricsSnapshot struct {
	Timestamp         time.Time
	ReadingsReceived  uint64
	ReadingsPersisted uint64
	ReadingsDropped   uint64
	ThroughputRate    float64
	PersistRate       float64
	ErrorRate         float64
	AvgProcessingMs   float64
	AvgWriteLatencyMs float64
	ActiveWorkers     int32
	QueueDepth        int32
	DLQEnqueued       uint64
	DLQReplayed       uint64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Timestamp:         time.Now(),
		ReadingsReceived:  m.ReadingsReceived.Load(),
		ReadingsPersisted: m.ReadingsPersisted.Load(),
		ReadingsDropped:   m.ReadingsDropped.Load(),
		ThroughputRate:    m.GetThroughputRate(),
		PersistRate:       m.GetPersistRate(),
		ErrorRate:         m.GetErrorRate(),
		AvgProcessingMs:   m.GetAverageProcessingTime() / 1_000_000,
		AvgWriteLatencyMs: m.GetAverageWriteLatency() / 1_000_000,
		ActiveWorkers:     m.ActiveWorkers.Load(),
		QueueDepth:        m.QueueDepth.Load(),
		DLQEnqueued:       m.DLQEnqueued.Load(),
		DLQReplayed:       m.DLQReplayed.Load(),
	}
}
