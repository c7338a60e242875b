// Package health implements the per-device health tracker (HEALTH): attempt
// counters, last error, and the derived offline flag consumed by POOL and SVC.
package health

import (
	"sync"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
)

// DefaultMaxConsecutiveFailures is used when a caller does not configure one.
const DefaultMaxConsecutiveFailures = 5

// deviceState is the mutable record for a single device, guarded by Tracker.mu.
type deviceState struct {
	isConnected         bool
	lastSuccessfulRead  time.Time
	consecutiveFailures int
	lastError           string
	totalReads          int64
	successfulReads     int64
}

// Tracker owns one deviceState per device_id behind a single mutex; reads and
// writes are infrequent relative to the polling hot path, so a coarse lock is
// sufficient and keeps the invariants trivially easy to reason about.
type Tracker struct {
	mu                     sync.Mutex
	devices                map[string]*deviceState
	maxConsecutiveFailures int
}

// New creates a Tracker. maxConsecutiveFailures <= 0 uses the default.
func New(maxConsecutiveFailures int) *Tracker {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Tracker{
		devices:                make(map[string]*deviceState),
		maxConsecutiveFailures: maxConsecutiveFailures,
	}
}

func (t *Tracker) stateFor(deviceID string) *deviceState {
	if s, ok := t.devices[deviceID]; ok {
		return s
	}
	s := &deviceState{}
	t.devices[deviceID] = s
	return s
}

// RecordSuccess marks a successful read for deviceID, resetting the
// consecutive-failure counter and marking the device connected.
func (t *Tracker) RecordSuccess(deviceID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(deviceID)
	s.isConnected = true
	s.lastSuccessfulRead = at
	s.consecutiveFailures = 0
	s.totalReads++
	s.successfulReads++
}

// RecordFailure marks a failed read for deviceID, incrementing the
// consecutive-failure counter and recording the error text.
func (t *Tracker) RecordFailure(deviceID string, errText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(deviceID)
	s.isConnected = false
	s.consecutiveFailures++
	s.lastError = errText
	s.totalReads++
}

// SetConnected updates the connection flag without affecting read counters;
// used by POOL when a connection is (re)established or torn down.
func (t *Tracker) SetConnected(deviceID string, connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stateFor(deviceID)
	s.isConnected = connected
}

// Snapshot returns a copy of the HealthRecord for deviceID.
func (t *Tracker) Snapshot(deviceID string) domain.HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.devices[deviceID]
	if !ok {
		return domain.HealthRecord{DeviceID: deviceID}
	}
	return domain.HealthRecord{
		DeviceID:            deviceID,
		IsConnected:         s.isConnected,
		LastSuccessfulRead:  s.lastSuccessfulRead,
		ConsecutiveFailures: s.consecutiveFailures,
		LastError:           s.lastError,
		TotalReads:          s.totalReads,
		SuccessfulReads:     s.successfulReads,
	}
}

// IsOffline reports whether deviceID has crossed the configured consecutive
// failure threshold. Unknown devices are considered not offline.
func (t *Tracker) IsOffline(deviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.devices[deviceID]
	if !ok {
		return false
	}
	return s.consecutiveFailures >= t.maxConsecutiveFailures
}

// All returns a snapshot of every tracked device, keyed by device_id.
func (t *Tracker) All() map[string]domain.HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.HealthRecord, len(t.devices))
	for id, s := range t.devices {
		out[id] = domain.HealthRecord{
			DeviceID:            id,
			IsConnected:         s.isConnected,
			LastSuccessfulRead:  s.lastSuccessfulRead,
			ConsecutiveFailures: s.consecutiveFailures,
			LastError:           s.lastError,
			TotalReads:          s.totalReads,
			SuccessfulReads:     s.successfulReads,
		}
	}
	return out
}

// Remove drops tracking state for deviceID, called when POOL removes a device.
func (t *Tracker) Remove(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, deviceID)
}

// ConnectedCount returns how many tracked devices currently report connected.
func (t *Tracker) ConnectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.devices {
		if s.isConnected {
			n++
		}
	}
	return n
}
