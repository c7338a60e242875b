package domain

import (
	"math"
	"testing"
	"time"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMetricsRatesAndAverages(t *testing.T) {
	m := NewMetrics()
	// Pretend we've been running for exactly 10 seconds
	m.StartTime = time.Now().Add(-10 * time.Second)

	m.ReadingsReceived.Store(100)
	m.ReadingsPersisted.Store(50)
	m.ModbusErrors.Store(3)
	m.MQTTErrors.Store(2)
	m.ProcessingError.Store(5)

	// Totals to compute averages from
	m.ProcessingTimeNs.Store(1_000_000_000) // 1s total across 100 readings => 10ms avg
	m.WriteLatencyNs.Store(500_000_000)     // 0.5s total across 50 readings => 10ms avg

	if rate := m.GetThroughputRate(); !approxEqual(rate, 10.0, 0.5) {
		t.Fatalf("throughput rate expected ~10, got %f", rate)
	}
	if rate := m.GetPersistRate(); !approxEqual(rate, 5.0, 0.5) {
		t.Fatalf("persist rate expected ~5, got %f", rate)
	}
	if rate := m.GetErrorRate(); !approxEqual(rate, 1.0, 0.5) {
		// 3 + 2 + 5 = 10 errors over 10s => 1 err/sec
		t.Fatalf("error rate expected ~1, got %f", rate)
	}

	if avg := m.GetAverageProcessingTime(); !approxEqual(avg/1_000_000, 10.0, 1.0) {
		// in ms
		t.Fatalf("avg processing time expected ~10ms, got %fms", avg/1_000_000)
	}
	if avg := m.GetAverageWriteLatency(); !approxEqual(avg/1_000_000, 10.0, 1.0) {
		// in ms
		t.Fatalf("avg write latency expected ~10ms, got %fms", avg/1_000_000)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ReadingsReceived.Store(7)
	m.ReadingsPersisted.Store(5)
	m.ReadingsDropped.Store(2)
	m.ActiveWorkers.Store(4)
	m.QueueDepth.Store(9)
	m.DLQEnqueued.Store(1)
	m.DLQReplayed.Store(1)

	s := m.Snapshot()

	if s.ReadingsReceived != 7 || s.ReadingsPersisted != 5 || s.ReadingsDropped != 2 {
		t.Fatalf("unexpected counters in snapshot: %#v", s)
	}
	if s.ActiveWorkers != 4 || s.QueueDepth != 9 {
		t.Fatalf("unexpected resource numbers: %#v", s)
	}
	if s.DLQEnqueued != 1 || s.DLQReplayed != 1 {
		t.Fatalf("unexpected DLQ counters: %#v", s)
	}
	if s.Timestamp.IsZero() {
		t.Fatalf("snapshot timestamp should be set")
	}
}

func TestHealthRecordDerived(t *testing.T) {
	h := HealthRecord{TotalReads: 10, SuccessfulReads: 8, ConsecutiveFailures: 3}
	if !approxEqual(h.SuccessRate(), 0.8, 0.0001) {
		t.Fatalf("expected success rate 0.8, got %f", h.SuccessRate())
	}
	if !h.IsOffline(3) {
		t.Fatalf("expected offline at threshold 3")
	}
	if h.IsOffline(4) {
		t.Fatalf("expected not offline at threshold 4")
	}
}

func TestFailedBatchShouldRetry(t *testing.T) {
	b := FailedBatch{Timestamp: time.Now(), RetryAttempts: 1}
	if !b.ShouldRetry(time.Now()) {
		t.Fatalf("expected fresh batch to be retryable")
	}

	old := FailedBatch{Timestamp: time.Now().Add(-25 * time.Hour), RetryAttempts: 1}
	if old.ShouldRetry(time.Now()) {
		t.Fatalf("expected aged-out batch to not be retryable")
	}

	exhausted := FailedBatch{Timestamp: time.Now(), RetryAttempts: 3}
	if exhausted.ShouldRetry(time.Now()) {
		t.Fatalf("expected exhausted batch to not be retryable")
	}
}
