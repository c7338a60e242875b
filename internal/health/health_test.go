package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordSuccessResetsFailures(t *testing.T) {
	tr := New(3)
	tr.RecordFailure("dev1", "timeout")
	tr.RecordFailure("dev1", "timeout")
	tr.RecordSuccess("dev1", time.Now())

	rec := tr.Snapshot("dev1")
	assert.True(t, rec.IsConnected)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Equal(t, int64(3), rec.TotalReads)
	assert.Equal(t, int64(1), rec.SuccessfulReads)
}

func TestIsOfflineThreshold(t *testing.T) {
	tr := New(2)
	assert.False(t, tr.IsOffline("dev1"))

	tr.RecordFailure("dev1", "e1")
	assert.False(t, tr.IsOffline("dev1"))

	tr.RecordFailure("dev1", "e2")
	assert.True(t, tr.IsOffline("dev1"))
}

func TestRemoveClearsState(t *testing.T) {
	tr := New(2)
	tr.RecordSuccess("dev1", time.Now())
	tr.Remove("dev1")
	rec := tr.Snapshot("dev1")
	assert.Equal(t, int64(0), rec.TotalReads)
}

func TestConnectedCount(t *testing.T) {
	tr := New(2)
	tr.RecordSuccess("dev1", time.Now())
	tr.RecordFailure("dev2", "down")
	assert.Equal(t, 1, tr.ConnectedCount())
}

func TestDefaultThresholdApplied(t *testing.T) {
	tr := New(0)
	for i := 0; i < DefaultMaxConsecutiveFailures-1; i++ {
		tr.RecordFailure("dev1", "e")
	}
	assert.False(t, tr.IsOffline("dev1"))
	tr.RecordFailure("dev1", "e")
	assert.True(t, tr.IsOffline("dev1"))
}
