// Package rate implements the windowed rate calculator (RATE): a smooth
// units-per-second value for counter-type channels, with counter-wrap
// detection and a periodic reaper for idle rings.
package rate

import (
	"sync"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/pkg/circularbuffer"
)

// ringCapacity is the minimum sample capacity per (device, channel) ring
// required by the spec ("≥200 samples").
const ringCapacity = 200

// floorWindow caps the fallback window (min(window, floorWindow)) and is the
// window used when none is configured.
const floorWindow = 10 * time.Second

// reapAge is how old the newest sample in a ring must be before the ring is
// evicted by the periodic sweep.
const reapAge = 20 * time.Minute

// reapInterval is how often the periodic sweep runs.
const reapInterval = 5 * time.Minute

// Sample is one timestamped raw counter observation.
type Sample struct {
	Timestamp time.Time
	Raw       int64
}

// Params bundles the per-channel configuration Compute needs.
type Params struct {
	RegisterCount     int     // 1 or 2; determines the counter's wrap width
	WindowSeconds     float64 // rate_window_seconds
	ScaleFactor       float64
	MaxChangeRate     float64 // 0 disables the rate-limit policy
	DegradedOnMaxRate bool    // not read by Compute; OverLimit is set whenever MaxChangeRate > 0 is exceeded
}

// Result is what Compute returns: the computed rate (nil if undetermined) and
// whether the magnitude exceeded the configured max-change-rate.
type Result struct {
	Rate       *float64
	OverLimit  bool
	Wrapped    bool
	ValueDelta int64
}

// Calculator keeps one circular buffer of samples per (device_id, channel)
// and derives windowed rates from it. All methods are safe for concurrent use.
type Calculator struct {
	mu     sync.RWMutex
	rings  map[domain.Key]*circularbuffer.Buffer[Sample]
	logger ports.Logger
}

// New creates an empty Calculator.
func New(logger ports.Logger) *Calculator {
	return &Calculator{
		rings:  make(map[domain.Key]*circularbuffer.Buffer[Sample]),
		logger: logger,
	}
}

func (c *Calculator) ringFor(key domain.Key) *circularbuffer.Buffer[Sample] {
	c.mu.RLock()
	r, ok := c.rings[key]
	c.mu.RUnlock()
	if ok {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok = c.rings[key]; ok {
		return r
	}
	r = circularbuffer.New[Sample](ringCapacity)
	c.rings[key] = r
	return r
}

// wrapThreshold returns the maximum representable value for the counter width.
func wrapThreshold(registerCount int) int64 {
	if registerCount == 1 {
		return 1<<16 - 1
	}
	return 1<<32 - 1
}

// Compute inserts (ts, raw) into the ring for key and returns the windowed
// rate computed against a reference sample, applying counter-wrap correction
// and the max-change-rate policy. It never panics and never blocks the caller
// on I/O; on any ambiguous condition it returns a nil Rate rather than guessing.
func (c *Calculator) Compute(key domain.Key, ts time.Time, raw int64, p Params) Result {
	ring := c.ringFor(key)
	ring.Add(Sample{Timestamp: ts, Raw: raw})

	window := time.Duration(p.WindowSeconds * float64(time.Second))
	if window <= 0 {
		window = floorWindow
	}

	reference, ok := c.pickReference(ring, ts, window)
	if !ok {
		return Result{Rate: nil}
	}

	dt := ts.Sub(reference.Timestamp).Seconds()
	if dt <= 0 {
		return Result{Rate: nil}
	}

	valueDiff := raw - reference.Raw
	wrapped := false
	maxValue := wrapThreshold(p.RegisterCount)
	if valueDiff < 0 && -valueDiff > maxValue/2 {
		valueDiff = (maxValue + 1) + valueDiff
		wrapped = true
	}

	scale := p.ScaleFactor
	if scale == 0 {
		scale = 1
	}
	computed := (float64(valueDiff) / dt) * scale

	overLimit := p.MaxChangeRate > 0 && absFloat64(computed) > p.MaxChangeRate
	if c.logger != nil {
		c.logger.Trace("rate computed",
			ports.Field{Key: "device_id", Value: key.DeviceID},
			ports.Field{Key: "channel", Value: key.Channel},
			ports.Field{Key: "rate", Value: computed},
			ports.Field{Key: "wrapped", Value: wrapped},
		)
	}

	rate := computed
	return Result{Rate: &rate, OverLimit: overLimit, Wrapped: wrapped, ValueDelta: valueDiff}
}

// pickReference selects the oldest sample whose timestamp is >= now-window.
// If none exists, it falls back to the oldest sample within min(window, 10s).
// If still none (fewer than two samples in the ring, or every earlier sample
// older than the fallback window), it returns !ok.
func (c *Calculator) pickReference(ring *circularbuffer.Buffer[Sample], now time.Time, window time.Duration) (Sample, bool) {
	snap := ring.Snapshot()
	if len(snap) < 2 {
		return Sample{}, false
	}
	// Exclude the sample we just inserted (the newest one) from candidacy.
	history := snap[:len(snap)-1]

	cutoff := now.Add(-window)
	for _, s := range history {
		if !s.Timestamp.Before(cutoff) {
			return s, true
		}
	}

	floor := window
	if floor > floorWindow {
		floor = floorWindow
	}
	floorCutoff := now.Add(-floor)
	var oldestInFloor *Sample
	for i := range history {
		if !history[i].Timestamp.Before(floorCutoff) {
			oldestInFloor = &history[i]
			break
		}
	}
	if oldestInFloor != nil {
		return *oldestInFloor, true
	}

	return Sample{}, false
}

func absFloat64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Reap evicts every ring whose newest sample is older than reapAge. It is
// intended to be called periodically by StartReaper.
func (c *Calculator) Reap(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, ring := range c.rings {
		newest, ok := ring.PeekNewest()
		if !ok || now.Sub(newest.Timestamp) > reapAge {
			delete(c.rings, key)
			evicted++
		}
	}
	return evicted
}

// StartReaper launches the periodic maintenance task described in spec §4.2.
// It returns immediately; the reaper stops when stopCh is closed.
func (c *Calculator) StartReaper(stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				evicted := c.Reap(time.Now())
				if evicted > 0 && c.logger != nil {
					c.logger.Debug("rate rings reaped", ports.Field{Key: "evicted", Value: evicted})
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// RingCount reports the number of active (device, channel) rings; used by
// tests.
func (c *Calculator) RingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rings)
}
