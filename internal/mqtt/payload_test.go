package mqtt

import (
	"math"
	"testing"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadJSONDefaultPaths(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadJSON, DataType: config.DataTypeInt32, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte(`{"channel":3,"value":42}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Channel)
	assert.Equal(t, float64(42), result.Value)
}

func TestParsePayloadJSONMissingValueDrops(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadJSON, ScaleFactor: 1}
	_, err := ParsePayload(cfg, []byte(`{"channel":1}`), time.Now())
	assert.Error(t, err)
}

func TestParsePayloadJSONMissingChannelDefaultsZero(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadJSON, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte(`{"value":5}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Channel)
}

func TestParsePayloadJSONCustomPathsAndScale(t *testing.T) {
	cfg := config.MqttDeviceConfig{
		Format:            config.PayloadJSON,
		ChannelJSONPath:   "meta.ch",
		ValueJSONPath:     "data.v",
		TimestampJSONPath: "ts",
		ScaleFactor:       2.0,
	}
	payload := []byte(`{"meta":{"ch":7},"data":{"v":10},"ts":"2026-01-01T00:00:00Z"}`)
	result, err := ParsePayload(cfg, payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, result.Channel)
	assert.Equal(t, float64(20), result.Value)
	assert.True(t, result.HasTime)
	assert.Equal(t, 2026, result.Timestamp.Year())
}

func TestParsePayloadBinaryValueOnlyLayout(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadBinary, DataType: config.DataTypeUInt16, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte{0x2A, 0x00}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, float64(42), result.Value)
}

func TestParsePayloadBinaryChannelPrefixedLayout(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadBinary, DataType: config.DataTypeUInt16, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte{5, 0x2A, 0x00}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Channel)
	assert.Equal(t, float64(42), result.Value)
}

func TestParsePayloadBinaryInvalidLengthDrops(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadBinary, DataType: config.DataTypeUInt16, ScaleFactor: 1}
	_, err := ParsePayload(cfg, []byte{1, 2, 3}, time.Now())
	assert.Error(t, err)
}

func TestParsePayloadCSVValueOnly(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadCSV, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte("3.5"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3.5, result.Value)
}

func TestParsePayloadCSVChannelValueTimestamp(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadCSV, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte("2,9.1,2026-01-01T00:00:00Z"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Channel)
	assert.Equal(t, 9.1, result.Value)
	assert.True(t, result.HasTime)
}

func TestParsePayloadCSVParseFailureDrops(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadCSV, ScaleFactor: 1}
	_, err := ParsePayload(cfg, []byte("not-a-number"), time.Now())
	assert.Error(t, err)
}

func TestParsePayloadFloat32PreservesBits(t *testing.T) {
	cfg := config.MqttDeviceConfig{Format: config.PayloadJSON, DataType: config.DataTypeFloat32, ScaleFactor: 1}
	result, err := ParsePayload(cfg, []byte(`{"value":1.5}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1.5, result.Value)
	assert.Equal(t, int64(math.Float32bits(1.5)), result.RawValue)
}
