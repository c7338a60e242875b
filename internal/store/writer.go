package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/dlq"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/pkg/circularbuffer"
)

// DefaultChannelCapacityMultiplier sizes the bounded writer channel relative
// to batch_size, per spec §4.10.
const DefaultChannelCapacityMultiplier = 4

// latencyRingCapacity is the bounded ring of recent flush latencies used for
// the average reported in the health snapshot, per spec §4.10.
const latencyRingCapacity = 100

// dlqReplayInterval is the steady-state cadence of the DLQ replay loop.
const dlqReplayInterval = time.Minute

// dlqReplayBackoff is the cadence after an internal error in the replay loop itself.
const dlqReplayBackoff = 5 * time.Minute

// minRetryDelay floors every computed backoff delay, per spec §4.10.
const minRetryDelay = 100 * time.Millisecond

// jitterFraction is the ±10% jitter applied to the exponential backoff delay.
const jitterFraction = 0.10

// Writer is STORE: a bounded single-reader/multi-writer channel in front of
// a batching writer, with DLQ handoff on retry exhaustion.
type Writer struct {
	client ports.StoreClient
	dlq    *dlq.Queue
	logger ports.Logger
	cfg    config.TimescaleConfig

	readings chan domain.DeviceReading

	latencies *circularbuffer.Buffer[time.Duration]
	metrics   *domain.Metrics

	healthMu sync.Mutex
	health   HealthSnapshot

	// closeMu guards the Submit/Close race on w.readings: Close must not close
	// the channel while a Submit is in the middle of sending on it.
	closeMu sync.RWMutex

	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool
}

// HealthSnapshot is STORE's health query result, per spec §4.10.
type HealthSnapshot struct {
	BackgroundTaskHealthy bool
	LastSuccessfulWrite   time.Time
	LastError             string
	PendingWrites         int
	TotalSuccessfulBatch  uint64
	TotalFailedBatch      uint64
	TotalRetries          uint64
	AverageBatchLatencyMs float64
	DLQSize               int
}

// New builds a Writer. The caller is responsible for invoking Start to launch
// the background batcher and replay loop.
func New(client ports.StoreClient, dlqQueue *dlq.Queue, cfg config.TimescaleConfig, metrics *domain.Metrics, logger ports.Logger) *Writer {
	capacity := cfg.BatchSize * DefaultChannelCapacityMultiplier
	if capacity <= 0 {
		capacity = DefaultChannelCapacityMultiplier
	}
	if metrics == nil {
		metrics = domain.NewMetrics()
	}
	return &Writer{
		client:    client,
		dlq:       dlqQueue,
		logger:    logger,
		cfg:       cfg,
		readings:  make(chan domain.DeviceReading, capacity),
		latencies: circularbuffer.New[time.Duration](latencyRingCapacity),
		metrics:   metrics,
		health:    HealthSnapshot{BackgroundTaskHealthy: true},
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background batcher and, when DLQ is enabled, the DLQ's
// own periodic persistence task and STORE's replay loop. Safe to call more
// than once (e.g. a caller retrying a failed startup sequence); only the
// first call has any effect.
func (w *Writer) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go w.batchLoop()

	if w.cfg.EnableDeadLetterQueue && w.dlq != nil {
		w.dlq.Start()
		w.wg.Add(1)
		go w.replayLoop()
	}
}

// Submit enqueues a reading, blocking (back-pressure) while the channel is
// full. Returns ctx.Err() if ctx is canceled before the enqueue completes, or
// an error if the writer has already been closed.
func (w *Writer) Submit(ctx context.Context, reading domain.DeviceReading) error {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()

	if w.closed.Load() {
		return errors.New("store writer is closed")
	}
	select {
	case w.readings <- reading:
		w.metrics.ReadingsReceived.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// batchLoop is STORE's sole reader: it accumulates readings until batch_size
// is reached or flush_interval_ms elapses with at least one pending item.
func (w *Writer) batchLoop() {
	defer w.wg.Done()

	interval := time.Duration(w.cfg.FlushIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	pending := make([]domain.DeviceReading, 0, w.cfg.BatchSize)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		w.flushWithRetry(pending)
		pending = make([]domain.DeviceReading, 0, w.cfg.BatchSize)
	}

	for {
		select {
		case r, ok := <-w.readings:
			if !ok {
				flush()
				return
			}
			pending = append(pending, r)
			if len(pending) >= w.cfg.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(interval)
			}
		case <-timer.C:
			flush()
			timer.Reset(interval)
		case <-w.stopCh:
			w.drain(&pending)
			flush()
			return
		}
	}
}

// drain pulls every reading already queued in the channel without blocking,
// for use during graceful shutdown once no new writers remain.
func (w *Writer) drain(pending *[]domain.DeviceReading) {
	for {
		select {
		case r, ok := <-w.readings:
			if !ok {
				return
			}
			*pending = append(*pending, r)
		default:
			return
		}
	}
}

// flushWithRetry runs one flush attempt through an exponential-backoff retry
// policy, handing the batch to the DLQ on exhaustion rather than losing it.
func (w *Writer) flushWithRetry(batch []domain.DeviceReading) {
	start := time.Now()
	var lastErr error

	attempts := w.cfg.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for n := 1; n <= attempts; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.client.WriteBatch(ctx, batch)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		w.metrics.StorageErrors.Add(1)
		w.recordRetry()

		if n < attempts {
			time.Sleep(retryDelay(n, w.cfg.RetryDelayMs, w.cfg.MaxRetryDelayMs))
		}
	}

	latency := time.Since(start)
	w.latencies.Add(latency)
	w.metrics.WriteLatencyNs.Add(uint64(latency.Nanoseconds())) // #nosec G115 -- latency is always non-negative

	if lastErr == nil {
		w.recordSuccess(len(batch))
		return
	}
	w.recordFailure(lastErr, batch)
}

// retryDelay implements spec §4.10's backoff: base * 2^(n-1), clamped at
// maxDelayMs, ±10% jitter, floored at minRetryDelay.
func retryDelay(attempt int, baseMs, maxDelayMs int) time.Duration {
	base := time.Duration(baseMs) * time.Millisecond
	if base <= 0 {
		base = minRetryDelay
	}
	maxDelay := time.Duration(maxDelayMs) * time.Millisecond

	shift := attempt - 1
	if shift > 30 {
		shift = 30 // guard against overflow on pathological configuration
	}
	delay := base * time.Duration(int64(1)<<uint(shift)) // #nosec G115 -- shift is clamped above

	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	jitter := (rand.Float64()*2 - 1) * jitterFraction // #nosec G404 -- jitter, not security-sensitive
	delay = time.Duration(float64(delay) * (1 + jitter))

	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	return delay
}

func (w *Writer) recordRetry() {
	w.healthMu.Lock()
	w.health.TotalRetries++
	w.healthMu.Unlock()
}

func (w *Writer) recordSuccess(n int) {
	w.metrics.ReadingsPersisted.Add(uint64(n)) // #nosec G115 -- n is a slice length, always non-negative

	avg := w.averageLatencyMs()
	w.healthMu.Lock()
	w.health.BackgroundTaskHealthy = true
	w.health.LastSuccessfulWrite = time.Now()
	w.health.LastError = ""
	w.health.TotalSuccessfulBatch++
	w.health.AverageBatchLatencyMs = avg
	w.healthMu.Unlock()
}

func (w *Writer) recordFailure(err error, batch []domain.DeviceReading) {
	if w.cfg.EnableDeadLetterQueue && w.dlq != nil {
		w.dlq.Enqueue(batch, err.Error(), 0)
	}

	w.healthMu.Lock()
	w.health.LastError = err.Error()
	w.health.TotalFailedBatch++
	if !w.cfg.EnableDeadLetterQueue {
		w.health.BackgroundTaskHealthy = false
	}
	w.healthMu.Unlock()
}

func (w *Writer) averageLatencyMs() float64 {
	samples := w.latencies.Snapshot()
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return float64(total.Milliseconds()) / float64(len(samples))
}

// replayLoop re-attempts DLQ batches once per minute, backing off to five
// minutes after an internal error in the loop itself (not in an individual
// batch write, which is expected and handled per-batch).
func (w *Writer) replayLoop() {
	defer w.wg.Done()

	interval := dlqReplayInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if err := w.replayOnce(); err != nil {
				interval = dlqReplayBackoff
				w.logger.Warn("dlq replay loop error, backing off", ports.Field{Key: "error", Value: err}, ports.Field{Key: "backoff", Value: interval.String()})
			} else {
				interval = dlqReplayInterval
			}
			timer.Reset(interval)
		case <-w.stopCh:
			return
		}
	}
}

// replayOnce reads every should_retry-eligible DLQ batch and re-attempts the
// write, marking processed batches done and leaving the rest for later.
func (w *Writer) replayOnce() error {
	batches, err := w.dlq.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot dlq: %w", err)
	}

	now := time.Now()
	for _, b := range batches {
		if !b.ShouldRetry(now) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		writeErr := w.client.WriteBatch(ctx, b.Readings)
		cancel()
		if writeErr == nil {
			w.metrics.DLQReplayed.Add(1)
			if markErr := w.dlq.MarkProcessed(b.ID); markErr != nil && w.logger != nil {
				w.logger.Error("failed to mark dlq batch processed", ports.Field{Key: "batch_id", Value: b.ID}, ports.Field{Key: "error", Value: markErr})
			}
			continue
		}
		b.RetryAttempts++
		if requeueErr := w.dlq.Requeue(b); requeueErr != nil && w.logger != nil {
			w.logger.Error("failed to requeue dlq batch after failed replay", ports.Field{Key: "batch_id", Value: b.ID}, ports.Field{Key: "error", Value: requeueErr})
		}
	}
	return nil
}

// HealthSnapshot returns STORE's current health. DLQSize is not cached: it is
// read through Queue.Size on every call, which lists the DLQ directory.
func (w *Writer) HealthSnapshot() HealthSnapshot {
	w.healthMu.Lock()
	snap := w.health
	w.healthMu.Unlock()
	snap.PendingWrites = len(w.readings)
	if w.dlq != nil {
		snap.DLQSize = w.dlq.Size()
	}
	return snap
}

// Close stops accepting new work, drains the channel, issues one final DLQ
// persist, and returns. Bounded by shutdown_timeout_seconds; if exceeded, a
// warning is logged and residual channel contents are abandoned in memory.
func (w *Writer) Close(ctx context.Context) error {
	w.closeMu.Lock()
	if !w.closed.CompareAndSwap(false, true) {
		w.closeMu.Unlock()
		return nil
	}
	close(w.stopCh)
	close(w.readings)
	w.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timeout := time.Duration(w.cfg.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		if w.logger != nil {
			w.logger.Warn("store shutdown timed out, abandoning residual queued readings")
		}
	}

	if w.cfg.EnableDeadLetterQueue && w.dlq != nil {
		_ = w.dlq.Close(shutdownCtx)
	}
	return nil
}
