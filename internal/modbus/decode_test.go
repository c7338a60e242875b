package modbus

import (
	"math"
	"testing"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestDecodeRawValueUInt16(t *testing.T) {
	raw := []byte{0x00, 0x2A}
	assert.Equal(t, int64(42), decodeRawValue(raw, config.DataTypeUInt16, 1))
}

func TestDecodeRawValueInt16Negative(t *testing.T) {
	raw := []byte{0xFF, 0xFF}
	assert.Equal(t, int64(-1), decodeRawValue(raw, config.DataTypeInt16, 1))
}

func TestDecodeRawValueUInt32CounterLittleEndianWordOrder(t *testing.T) {
	// low word = 0x0001, high word = 0x0002 => combined 0x00020001
	raw := []byte{0x00, 0x01, 0x00, 0x02}
	assert.Equal(t, int64(0x00020001), decodeRawValue(raw, config.DataTypeUInt32Counter, 2))
}

func TestDecodeRawValueFloat32RoundTrip(t *testing.T) {
	bits := math.Float32bits(3.25)
	lowWord := uint16(bits & 0xFFFF)
	highWord := uint16(bits >> 16)
	raw := []byte{byte(lowWord >> 8), byte(lowWord), byte(highWord >> 8), byte(highWord)}
	got := decodeRawValue(raw, config.DataTypeFloat32, 2)
	assert.Equal(t, float32(3.25), math.Float32frombits(uint32(got))) // #nosec G115 -- test-local conversion
}

func TestDecodeRawValueShortBufferReturnsZero(t *testing.T) {
	assert.Equal(t, int64(0), decodeRawValue(nil, config.DataTypeUInt16, 1))
	assert.Equal(t, int64(0), decodeRawValue([]byte{1}, config.DataTypeUInt16, 1))
}
