package modbus

import (
	"encoding/binary"
	"math"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
)

// decodeRawValue interprets raw register bytes (as returned by Conn.ReadRegisters,
// one or two 16-bit registers) per the channel's data type. Per spec §6, a 2-register
// UInt32Counter combines its two 16-bit words little-endian; single-register types
// read the lone word directly.
func decodeRawValue(raw []byte, dt config.DataType, registerCount int) int64 {
	switch dt {
	case config.DataTypeInt16:
		if len(raw) < 2 {
			return 0
		}
		return int64(int16(binary.BigEndian.Uint16(raw)))
	case config.DataTypeUInt16:
		if len(raw) < 2 {
			return 0
		}
		return int64(binary.BigEndian.Uint16(raw))
	case config.DataTypeInt32:
		return int64(int32(combineWords(raw, registerCount)))
	case config.DataTypeFloat32:
		return int64(math.Float32bits(float32FromWords(raw, registerCount)))
	case config.DataTypeUInt32Counter:
		return int64(combineWords(raw, registerCount))
	default:
		return 0
	}
}

// combineWords assembles one or two big-endian 16-bit register words into a
// 32-bit value, combining two words little-endian (low word first) per spec §6.
func combineWords(raw []byte, registerCount int) uint32 {
	if registerCount == 1 {
		if len(raw) < 2 {
			return 0
		}
		return uint32(binary.BigEndian.Uint16(raw))
	}
	if len(raw) < 4 {
		return 0
	}
	lowWord := binary.BigEndian.Uint16(raw[0:2])
	highWord := binary.BigEndian.Uint16(raw[2:4])
	return uint32(highWord)<<16 | uint32(lowWord)
}

// float32FromWords reinterprets a combined 32-bit word pair as IEEE-754 float32.
func float32FromWords(raw []byte, registerCount int) float32 {
	bits := combineWords(raw, registerCount)
	return math.Float32frombits(bits)
}

// RawValueToProcessed reinterprets a DeviceReading.RawValue the way
// decodeRawValue originally produced it: for Float32 channels, RawValue holds
// the IEEE-754 bit pattern (see decodeRawValue's Float32 case) and must be
// bit-reinterpreted, not numerically converted, before PROC applies
// scale_factor. Every other data type is already a plain integer count.
func RawValueToProcessed(raw int64, dt config.DataType) float64 {
	if dt == config.DataTypeFloat32 {
		return float64(math.Float32frombits(uint32(raw))) // #nosec G115 -- raw carries Float32bits for this type
	}
	return float64(raw)
}
