// Package dlq implements the Dead-Letter Queue (DLQ): a lock-free in-memory
// staging queue backed by one JSON file per failed batch on disk, flushed
// periodically or immediately once the in-memory queue grows past a
// threshold. Grounded on the SuperAgent DLQ processor's config/status-enum
// shape, using pkg/ringbuffer (kept from the source) as the staging queue
// instead of its original MQTT-stream role.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/pkg/jsonx"
	"github.com/ibs-source/syslog/consumer/golang/pkg/ringbuffer"
)

// DefaultFlushInterval is the periodic persistence cadence (spec §4.9: "30s default").
const DefaultFlushInterval = 30 * time.Second

// ImmediateFlushThreshold triggers an out-of-band flush once the in-memory
// queue exceeds this many entries, per spec §4.9.
const ImmediateFlushThreshold = 1000

// stagingCapacity is the ring buffer capacity for in-memory staging; it must
// be a power of two and comfortably above ImmediateFlushThreshold so a burst
// never has to drop a batch before the flush trigger fires.
const stagingCapacity = 2048

// errSubdir is the sibling directory corrupt on-disk files are moved into
// instead of being silently dropped, per spec §4.9.
const errSubdir = "errors"

// Queue is the Dead-Letter Queue. Enqueue does not wait for the periodic flush;
// disk I/O happens in the flush goroutine, in Enqueue only when the staging ring
// is full, and in explicit Snapshot/Requeue/MarkProcessed/Size/Clear calls.
type Queue struct {
	dir    string
	errDir string
	logger ports.Logger

	staging  *ringbuffer.RingBuffer[domain.FailedBatch]
	memCount atomic.Int32

	flushInterval time.Duration
	flushNow      chan struct{}

	diskMu sync.Mutex

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Queue rooted at dir, creating dir and its errors/ sibling if absent.
func New(dir string, flushInterval time.Duration, logger ports.Logger) (*Queue, error) {
	if dir == "" {
		return nil, errors.New("dlq directory must not be empty")
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	errDir := filepath.Join(dir, errSubdir)
	if err := os.MkdirAll(errDir, 0o750); err != nil {
		return nil, fmt.Errorf("create dlq directories: %w", err)
	}

	return &Queue{
		dir:           dir,
		errDir:        errDir,
		logger:        logger,
		staging:       ringbuffer.New[domain.FailedBatch](stagingCapacity),
		flushInterval: flushInterval,
		flushNow:      make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}, nil
}

// Start launches the periodic persistence task. Safe to call once.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.persistenceLoop()
}

// Enqueue always succeeds and never blocks the caller; if the in-memory
// staging ring is momentarily full (producer burst exceeding stagingCapacity)
// the batch is persisted synchronously instead of being dropped.
func (q *Queue) Enqueue(readings []domain.DeviceReading, errText string, retryAttempts int) string {
	batch := domain.FailedBatch{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Readings:      readings,
		Error:         errText,
		RetryAttempts: retryAttempts,
	}

	if q.staging.Put(&batch) {
		n := q.memCount.Add(1)
		if n > ImmediateFlushThreshold {
			select {
			case q.flushNow <- struct{}{}:
			default:
			}
		}
		return batch.ID
	}

	// Staging ring is saturated; persist directly rather than lose the batch.
	if err := q.persistBatch(batch); err != nil && q.logger != nil {
		q.logger.Error("failed to persist dlq batch synchronously", ports.Field{Key: "error", Value: err})
	}
	return batch.ID
}

// persistenceLoop flushes the staging ring every flushInterval or whenever
// signaled by an immediate-flush trigger, stopping once stopCh is closed.
func (q *Queue) persistenceLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.flushStaging()
		case <-q.flushNow:
			q.flushStaging()
		case <-q.stopCh:
			q.flushStaging()
			return
		}
	}
}

// flushStaging drains every currently-staged batch to disk.
func (q *Queue) flushStaging() {
	for {
		item := q.staging.Get()
		if item == nil {
			return
		}
		q.memCount.Add(-1)
		if err := q.persistBatch(*item); err != nil && q.logger != nil {
			q.logger.Error("failed to persist dlq batch", ports.Field{Key: "batch_id", Value: item.ID}, ports.Field{Key: "error", Value: err})
		}
	}
}

// persistBatch writes one batch as <dir>/<id>.json, via a temp file plus
// rename so a crash mid-write never leaves a half-written file behind.
func (q *Queue) persistBatch(batch domain.FailedBatch) error {
	data, err := jsonx.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch %s: %w", batch.ID, err)
	}

	buf := domain.GetBuffer()
	defer domain.PutBuffer(buf)
	buf.Write(data)

	q.diskMu.Lock()
	defer q.diskMu.Unlock()

	final := filepath.Join(q.dir, batch.ID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o640); err != nil {
		return fmt.Errorf("write batch %s: %w", batch.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename batch %s: %w", batch.ID, err)
	}
	return nil
}

// Requeue overwrites the on-disk file for batch.ID with its current contents,
// used by STORE's replay loop to persist an incremented retry_attempts count
// after a failed replay so eventually ShouldRetry's attempt ceiling applies.
func (q *Queue) Requeue(batch domain.FailedBatch) error {
	return q.persistBatch(batch)
}

// MarkProcessed deletes the on-disk file for id, if present.
func (q *Queue) MarkProcessed(id string) error {
	q.diskMu.Lock()
	defer q.diskMu.Unlock()
	err := os.Remove(filepath.Join(q.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mark processed %s: %w", id, err)
	}
	return nil
}

// Snapshot drains the in-memory staging ring to disk, then reads every
// on-disk batch file. Files that fail to parse are moved to the errors/
// sibling directory and excluded from the result, never silently dropped.
func (q *Queue) Snapshot() ([]domain.FailedBatch, error) {
	q.flushStaging()

	q.diskMu.Lock()
	entries, err := os.ReadDir(q.dir)
	q.diskMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	batches := make([]domain.FailedBatch, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(q.dir, entry.Name())
		data, readErr := os.ReadFile(path) // #nosec G304 -- path is built from our own directory listing
		if readErr != nil {
			continue
		}
		var batch domain.FailedBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			q.quarantine(path, entry.Name())
			continue
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// quarantine moves a corrupt file aside instead of deleting it, per spec §4.9.
func (q *Queue) quarantine(path, name string) {
	q.diskMu.Lock()
	defer q.diskMu.Unlock()
	dest := filepath.Join(q.errDir, name)
	if err := os.Rename(path, dest); err != nil && q.logger != nil {
		q.logger.Error("failed to quarantine corrupt dlq file", ports.Field{Key: "file", Value: name}, ports.Field{Key: "error", Value: err})
	} else if q.logger != nil {
		q.logger.Warn("quarantined corrupt dlq file", ports.Field{Key: "file", Value: name})
	}
}

// Size returns the sum of in-memory and on-disk batch counts. Best-effort:
// the on-disk count is a directory listing taken without holding diskMu
// across the whole call, so it can be briefly stale under concurrent flushes.
func (q *Queue) Size() int {
	diskCount := 0
	q.diskMu.Lock()
	entries, err := os.ReadDir(q.dir)
	q.diskMu.Unlock()
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
				diskCount++
			}
		}
	}
	return int(q.memCount.Load()) + diskCount
}

// Clear purges all on-disk batch files and drains the in-memory ring. Best
// effort, intended for operator use only.
func (q *Queue) Clear() {
	for q.staging.Get() != nil {
		q.memCount.Add(-1)
	}

	q.diskMu.Lock()
	defer q.diskMu.Unlock()
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			_ = os.Remove(filepath.Join(q.dir, e.Name()))
		}
	}
}

// Close stops the persistence loop (persisting any remaining in-memory
// batches first) and waits for it to exit. Idempotent.
func (q *Queue) Close(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
