package domain

import (
	"time"
)

// Quality describes the confidence level attached to a DeviceReading.
type Quality string

const (
	// QualityGood means the value was measured and is within configured bounds.
	QualityGood Quality = "Good"
	// QualityDegraded means the value was measured but is outside the acceptable
	// rate-of-change, or was otherwise flagged by the processor; the value is retained.
	QualityDegraded Quality = "Degraded"
	// QualityBad means a value was produced but failed validation (min/max, or a
	// parse error on a present payload).
	QualityBad Quality = "Bad"
	// QualityUnavailable means no value is available (device offline, read failure,
	// transport error). raw/processed are zero-valued placeholders and no rate is
	// ever derived for an Unavailable reading.
	QualityUnavailable Quality = "Unavailable"
)

// DefaultUnit is used when a channel or MQTT device config does not specify one.
const DefaultUnit = "counts"

// DeviceReading is the atomic unit of measurement flowing through the pipeline.
// JSON field names are camelCase per the DLQ on-disk wire format.
type DeviceReading struct {
	DeviceID       string    `json:"deviceId"`
	Channel        int       `json:"channel"`
	RawValue       int64     `json:"rawValue"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessedValue float64   `json:"processedValue"`
	// Rate is nil when insufficient samples were available to compute a windowed rate.
	Rate    *float64 `json:"rate"`
	Quality Quality  `json:"quality"`
	Unit    string   `json:"unit"`
}

// NewUnavailableReading builds a placeholder reading for an offline or failed read.
// Raw/processed values are zero and Rate is always nil, per the Unavailable contract.
func NewUnavailableReading(deviceID string, channel int, unit string, ts time.Time) DeviceReading {
	if unit == "" {
		unit = DefaultUnit
	}
	return DeviceReading{
		DeviceID:       deviceID,
		Channel:        channel,
		RawValue:       0,
		Timestamp:      ts,
		ProcessedValue: 0,
		Rate:           nil,
		Quality:        QualityUnavailable,
		Unit:           unit,
	}
}

// IsUnavailable reports whether this reading carries no real measurement.
func (r DeviceReading) IsUnavailable() bool {
	return r.Quality == QualityUnavailable
}

// Key identifies the (device_id, channel) pair a reading, or rate-ring, belongs to.
type Key struct {
	DeviceID string
	Channel  int
}

// FailedBatch is the durable DLQ record for a batch STORE could not persist.
// JSON field names are camelCase per spec §6's on-disk DLQ format.
type FailedBatch struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Readings      []DeviceReading `json:"readings"`
	Error         string          `json:"error"`
	RetryAttempts int             `json:"retryAttempts"`
}

// ShouldRetry reports whether this batch is still eligible for a DLQ replay attempt.
// A batch is retried while it has fewer than 3 attempts and is younger than 24 hours.
func (b FailedBatch) ShouldRetry(now time.Time) bool {
	return b.RetryAttempts < 3 && now.Sub(b.Timestamp) < 24*time.Hour
}

// HealthRecord tracks per-device transport health for HEALTH.
type HealthRecord struct {
	DeviceID            string
	IsConnected         bool
	LastSuccessfulRead  time.Time
	ConsecutiveFailures int
	LastError           string
	TotalReads          int64
	SuccessfulReads     int64
}

// SuccessRate returns the fraction of reads that succeeded, or 0 when none have occurred.
func (h HealthRecord) SuccessRate() float64 {
	if h.TotalReads == 0 {
		return 0
	}
	return float64(h.SuccessfulReads) / float64(h.TotalReads)
}

// IsOffline reports whether consecutive failures have crossed the configured threshold.
func (h HealthRecord) IsOffline(maxConsecutiveFailures int) bool {
	return h.ConsecutiveFailures >= maxConsecutiveFailures
}
