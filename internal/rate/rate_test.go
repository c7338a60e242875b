package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
)

func TestComputeFirstSampleReturnsNilRate(t *testing.T) {
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	res := c.Compute(key, time.Now(), 100, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	assert.Nil(t, res.Rate)
}

func TestComputeSteadyCounter(t *testing.T) {
	// S1: counter increases by 10 every second, rate_window_seconds=10, scale=1.
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	base := time.Now()
	values := []int64{100, 110, 120, 130, 140}

	var last Result
	for i, v := range values {
		ts := base.Add(time.Duration(i) * time.Second)
		last = c.Compute(key, ts, v, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	}
	require.NotNil(t, last.Rate)
	assert.InDelta(t, 10.0, *last.Rate, 0.5)
}

func TestComputeCounterWrap16Bit(t *testing.T) {
	// S2: register_count=1 (max 65535). raw=65530 at t, raw=10 at t+1s.
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	base := time.Now()

	c.Compute(key, base, 65530, Params{RegisterCount: 1, WindowSeconds: 10, ScaleFactor: 1})
	res := c.Compute(key, base.Add(time.Second), 10, Params{RegisterCount: 1, WindowSeconds: 10, ScaleFactor: 1})

	require.NotNil(t, res.Rate)
	assert.True(t, res.Wrapped)
	assert.InDelta(t, 16.0, *res.Rate, 0.01)
}

func TestComputeWindowUnderflowNeverReturnsZero(t *testing.T) {
	// Fewer than two samples within the window => rate is nil, never 0.0.
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	res := c.Compute(key, time.Now(), 42, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	assert.Nil(t, res.Rate)
}

func TestComputeFloorWindowNeverExceedsConfiguredWindow(t *testing.T) {
	// The fallback window is min(configured, 10s): with a 1s window a sample
	// 5s old is never used as the reference, while one 0.5s old is.
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	base := time.Now()

	c.Compute(key, base, 0, Params{RegisterCount: 2, WindowSeconds: 1, ScaleFactor: 1})
	res := c.Compute(key, base.Add(5*time.Second), 50, Params{RegisterCount: 2, WindowSeconds: 1, ScaleFactor: 1})
	assert.Nil(t, res.Rate)

	res = c.Compute(key, base.Add(5500*time.Millisecond), 55, Params{RegisterCount: 2, WindowSeconds: 1, ScaleFactor: 1})
	require.NotNil(t, res.Rate)
	assert.InDelta(t, 10.0, *res.Rate, 0.01)
}

func TestComputeNegativeDiffBelowThresholdPassesThrough(t *testing.T) {
	// A small negative delta is a legitimate decrement, not a wrap.
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	base := time.Now()

	c.Compute(key, base, 1000, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	res := c.Compute(key, base.Add(time.Second), 990, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})

	require.NotNil(t, res.Rate)
	assert.False(t, res.Wrapped)
	assert.Less(t, *res.Rate, 0.0)
}

func TestComputeOverLimitFlagged(t *testing.T) {
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	base := time.Now()

	c.Compute(key, base, 0, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1, MaxChangeRate: 5})
	res := c.Compute(key, base.Add(time.Second), 100, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1, MaxChangeRate: 5})

	require.NotNil(t, res.Rate)
	assert.True(t, res.OverLimit)
}

func TestReapEvictsIdleRings(t *testing.T) {
	c := New(nil)
	key := domain.Key{DeviceID: "dev1", Channel: 0}
	c.Compute(key, time.Now().Add(-30*time.Minute), 1, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})

	assert.Equal(t, 1, c.RingCount())
	evicted := c.Reap(time.Now())
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, c.RingCount())
}

func TestRateIsOrderInvariantAcrossChannels(t *testing.T) {
	c := New(nil)
	k1 := domain.Key{DeviceID: "dev1", Channel: 0}
	k2 := domain.Key{DeviceID: "dev1", Channel: 1}
	base := time.Now()

	c.Compute(k1, base, 0, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	c.Compute(k2, base, 0, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	r1 := c.Compute(k1, base.Add(time.Second), 20, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})
	r2 := c.Compute(k2, base.Add(time.Second), 10, Params{RegisterCount: 2, WindowSeconds: 10, ScaleFactor: 1})

	require.NotNil(t, r1.Rate)
	require.NotNil(t, r2.Rate)
	assert.InDelta(t, 20.0, *r1.Rate, 0.01)
	assert.InDelta(t, 10.0, *r2.Rate, 0.01)
}
