package dlq

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir := t.TempDir()
	q, err := New(dir, 20*time.Millisecond, nil)
	require.NoError(t, err)
	return q
}

func sampleReadings() []domain.DeviceReading {
	return []domain.DeviceReading{
		{DeviceID: "d1", Channel: 0, RawValue: 10, Timestamp: time.Now().UTC(), ProcessedValue: 1.0, Quality: domain.QualityGood, Unit: "counts"},
	}
}

func TestEnqueueThenSnapshotFlushesToDisk(t *testing.T) {
	q := newTestQueue(t)
	id := q.Enqueue(sampleReadings(), "write failed", 0)
	assert.NotEmpty(t, id)

	batches, err := q.Snapshot()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, id, batches[0].ID)
	assert.Equal(t, "write failed", batches[0].Error)
	assert.Len(t, batches[0].Readings, 1)
	assert.Equal(t, "d1", batches[0].Readings[0].DeviceID)
}

func TestMarkProcessedRemovesFile(t *testing.T) {
	q := newTestQueue(t)
	id := q.Enqueue(sampleReadings(), "boom", 1)
	_, err := q.Snapshot()
	require.NoError(t, err)

	require.NoError(t, q.MarkProcessed(id))
	batches, err := q.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestMarkProcessedMissingFileIsNotAnError(t *testing.T) {
	q := newTestQueue(t)
	assert.NoError(t, q.MarkProcessed("does-not-exist"))
}

func TestCorruptFileIsQuarantinedNotLost(t *testing.T) {
	q := newTestQueue(t)
	badPath := filepath.Join(q.dir, "bad-entry.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{not valid json"), 0o640))

	batches, err := q.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, batches)

	quarantined := filepath.Join(q.errDir, "bad-entry.json")
	_, statErr := os.Stat(quarantined)
	assert.NoError(t, statErr, "corrupt file should have been moved to errors/ instead of deleted")
}

func TestPeriodicFlushPersistsWithoutExplicitSnapshot(t *testing.T) {
	q := newTestQueue(t)
	q.Start()
	defer func() { _ = q.Close(context.Background()) }()

	id := q.Enqueue(sampleReadings(), "transient", 0)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(q.dir, id+".json"))
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestImmediateFlushTriggersBeforeTickerFires(t *testing.T) {
	dir := t.TempDir()
	q, err := New(dir, time.Hour, nil)
	require.NoError(t, err)
	q.Start()
	defer func() { _ = q.Close(context.Background()) }()

	for i := 0; i < ImmediateFlushThreshold+1; i++ {
		q.Enqueue(sampleReadings(), "burst", 0)
	}

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		count := 0
		for _, e := range entries {
			if !e.IsDir() {
				count++
			}
		}
		return count > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentEnqueueNeverLosesABatch(t *testing.T) {
	q := newTestQueue(t)
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(sampleReadings(), "concurrent", 0)
		}()
	}
	wg.Wait()

	batches, err := q.Snapshot()
	require.NoError(t, err)
	assert.Len(t, batches, n)
}

func TestSizeReflectsInMemoryAndOnDiskEntries(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(sampleReadings(), "err", 0)
	assert.Equal(t, 1, q.Size())

	_, err := q.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, q.Size())
}

func TestClearRemovesEverything(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(sampleReadings(), "err", 0)
	_, err := q.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 1, q.Size())

	q.Clear()
	assert.Equal(t, 0, q.Size())
}

func TestCloseIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	q.Start()
	assert.NoError(t, q.Close(context.Background()))
	assert.NoError(t, q.Close(context.Background()))
}

func TestShouldRetryRespectsAttemptAndAgeCeilings(t *testing.T) {
	now := time.Now().UTC()
	fresh := domain.FailedBatch{Timestamp: now, RetryAttempts: 0}
	assert.True(t, fresh.ShouldRetry(now))

	tooManyAttempts := domain.FailedBatch{Timestamp: now, RetryAttempts: 3}
	assert.False(t, tooManyAttempts.ShouldRetry(now))

	tooOld := domain.FailedBatch{Timestamp: now.Add(-25 * time.Hour), RetryAttempts: 0}
	assert.False(t, tooOld.ShouldRetry(now))
}
