// Package pipeline implements PROC, the data processor: it turns a raw
// Modbus reading into a validated DeviceReading by scaling, deriving a rate,
// and applying bounds/rate-of-change checks. Grounded on internal/rate's
// windowed calculator and the "look up config, warn on unknown, never throw"
// idiom of the source repository's internal/processor package (since deleted).
package pipeline

import (
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/modbus"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/internal/rate"
)

// Raw is what POOL hands to Process: one unscaled register read (or an
// Unavailable placeholder) for a given device/channel.
type Raw struct {
	DeviceID  string
	Channel   int
	Value     int64
	Timestamp time.Time
	Quality   domain.Quality // normally Good or Unavailable; POOL never emits Bad/Degraded directly
}

// Processor is PROC. It holds no per-device state of its own; RATE owns the
// windowed rings keyed by (device_id, channel).
type Processor struct {
	rate   *rate.Calculator
	logger ports.Logger
}

// New builds a Processor backed by the given rate calculator.
func New(calc *rate.Calculator, logger ports.Logger) *Processor {
	return &Processor{rate: calc, logger: logger}
}

// Process turns one raw reading into a DeviceReading per spec §4.3. If ch is
// nil (unknown channel), the reading passes through unchanged at ProcessedValue
// = raw with a warning logged, and no rate is computed.
func (p *Processor) Process(raw Raw, ch *config.ChannelConfig) domain.DeviceReading {
	if ch == nil {
		if p.logger != nil {
			p.logger.Warn("reading for unknown channel, passing through unscaled",
				ports.Field{Key: "device_id", Value: raw.DeviceID},
				ports.Field{Key: "channel", Value: raw.Channel},
			)
		}
		return domain.DeviceReading{
			DeviceID:       raw.DeviceID,
			Channel:        raw.Channel,
			RawValue:       raw.Value,
			Timestamp:      raw.Timestamp,
			ProcessedValue: float64(raw.Value),
			Quality:        raw.Quality,
			Unit:           domain.DefaultUnit,
		}
	}

	unit := ch.Unit
	if unit == "" {
		unit = domain.DefaultUnit
	}

	reading := domain.DeviceReading{
		DeviceID:       raw.DeviceID,
		Channel:        raw.Channel,
		RawValue:       raw.Value,
		Timestamp:      raw.Timestamp,
		ProcessedValue: modbus.RawValueToProcessed(raw.Value, ch.DataType) * ch.ScaleFactor,
		Quality:        domain.QualityGood,
		Unit:           unit,
	}

	// Unavailable short-circuits before any rate or bounds computation: an
	// Unavailable reading must never acquire a numeric rate.
	if raw.Quality == domain.QualityUnavailable {
		reading.ProcessedValue = 0
		reading.RawValue = 0
		reading.Quality = domain.QualityUnavailable
		reading.Rate = nil
		return reading
	}

	key := domain.Key{DeviceID: raw.DeviceID, Channel: raw.Channel}
	result := p.rate.Compute(key, raw.Timestamp, raw.Value, rate.Params{
		RegisterCount:     registerCountOrDefault(ch),
		WindowSeconds:     ch.RateWindowSeconds,
		ScaleFactor:       ch.ScaleFactor,
		MaxChangeRate:     ch.MaxChangeRate,
		DegradedOnMaxRate: true,
	})
	reading.Rate = result.Rate
	if result.OverLimit {
		reading.Quality = domain.QualityDegraded
	}

	// Bounds check: downgrade to Bad unless the rate check already marked this
	// reading Degraded (Degraded is sticky versus a bounds-triggered Bad, per
	// spec §4.3 step 4).
	if outOfBounds(reading.ProcessedValue, ch) && reading.Quality != domain.QualityDegraded {
		reading.Quality = domain.QualityBad
	}

	return reading
}

// ProcessWithPrevious computes rate as a simple point-to-point derivative
// against a supplied previous reading rather than RATE's windowed ring, with no
// smoothing or wrap-correction. Only tests call it; SVC uses Process.
func (p *Processor) ProcessWithPrevious(raw Raw, ch *config.ChannelConfig, previous *domain.DeviceReading) domain.DeviceReading {
	reading := p.Process(raw, ch)
	if ch == nil || raw.Quality == domain.QualityUnavailable || previous == nil {
		return reading
	}

	dt := raw.Timestamp.Sub(previous.Timestamp).Seconds()
	if dt <= 0 {
		return reading
	}

	valueDiff := raw.Value - previous.RawValue
	maxValue := wrapCeiling(registerCountOrDefault(ch))
	if valueDiff < 0 && -valueDiff > maxValue/2 {
		valueDiff = (maxValue + 1) + valueDiff
	}

	computed := (float64(valueDiff) / dt) * ch.ScaleFactor
	reading.Rate = &computed

	if ch.MaxChangeRate > 0 && absFloat(computed) > ch.MaxChangeRate {
		reading.Quality = domain.QualityDegraded
	} else if outOfBounds(reading.ProcessedValue, ch) && reading.Quality != domain.QualityDegraded {
		reading.Quality = domain.QualityBad
	}

	return reading
}

func registerCountOrDefault(ch *config.ChannelConfig) int {
	if ch.RegisterCount <= 0 {
		return 1
	}
	return ch.RegisterCount
}

func wrapCeiling(registerCount int) int64 {
	if registerCount == 1 {
		return (1 << 16) - 1
	}
	return (1 << 32) - 1
}

func outOfBounds(value float64, ch *config.ChannelConfig) bool {
	if ch.MinValue != nil && value < *ch.MinValue {
		return true
	}
	if ch.MaxValue != nil && value > *ch.MaxValue {
		return true
	}
	return false
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
