package mqtt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/pkg/jsonx"
)

// ParsedReading is the intermediate result of decoding one MQTT payload,
// before domain.DeviceReading is assembled by the caller. A successful parse
// always yields a Good-quality reading; parse failures are reported as an
// error and must be dropped, never downgraded to Bad.
type ParsedReading struct {
	Channel   int
	RawValue  int64
	Value     float64
	Timestamp time.Time
	HasTime   bool
}

// ParsePayload decodes payload according to cfg.Format. now is used as the
// reading timestamp when the payload carries none.
func ParsePayload(cfg config.MqttDeviceConfig, payload []byte, now time.Time) (ParsedReading, error) {
	switch cfg.Format {
	case config.PayloadJSON:
		return parseJSON(cfg, payload, now)
	case config.PayloadBinary:
		return parseBinary(cfg, payload, now)
	case config.PayloadCSV:
		return parseCSV(cfg, payload, now)
	default:
		return ParsedReading{}, fmt.Errorf("unsupported payload format: %s", cfg.Format)
	}
}

func parseJSON(cfg config.MqttDeviceConfig, payload []byte, now time.Time) (ParsedReading, error) {
	var doc any
	if err := jsonx.Unmarshal(payload, &doc); err != nil {
		return ParsedReading{}, fmt.Errorf("invalid json payload: %w", err)
	}

	channelPath := cfg.ChannelJSONPath
	if channelPath == "" {
		channelPath = "channel"
	}
	valuePath := cfg.ValueJSONPath
	if valuePath == "" {
		valuePath = "value"
	}

	channel := 0
	if v, ok := lookupJSONPath(doc, channelPath); ok {
		if n, ok := toFloat(v); ok {
			channel = int(n)
		}
	}

	rawValue, ok := lookupJSONPath(doc, valuePath)
	if !ok {
		return ParsedReading{}, fmt.Errorf("value missing at json path %q", valuePath)
	}
	value, ok := toFloat(rawValue)
	if !ok {
		return ParsedReading{}, fmt.Errorf("value at json path %q is not numeric", valuePath)
	}

	result := ParsedReading{Channel: channel, Value: value * cfg.ScaleFactor}
	castToDataType(&result, cfg.DataType)

	if cfg.TimestampJSONPath != "" {
		if tv, ok := lookupJSONPath(doc, cfg.TimestampJSONPath); ok {
			if s, ok := tv.(string); ok {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					result.Timestamp = ts.UTC()
					result.HasTime = true
				}
			}
		}
	}
	if !result.HasTime {
		result.Timestamp = now
	}
	return result, nil
}

// lookupJSONPath walks a dotted path (an optional leading "$." is stripped)
// through a generic JSON document produced by encoding/json.
func lookupJSONPath(doc any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return doc, true
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[segment]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseBinary(cfg config.MqttDeviceConfig, payload []byte, now time.Time) (ParsedReading, error) {
	width := binaryWidth(cfg.DataType)
	if width == 0 {
		return ParsedReading{}, fmt.Errorf("unsupported data type for binary payload: %s", cfg.DataType)
	}

	var channel int
	var valueBytes []byte
	switch len(payload) {
	case width:
		valueBytes = payload
	case width + 1:
		channel = int(payload[0])
		valueBytes = payload[1:]
	default:
		return ParsedReading{}, fmt.Errorf("binary payload length %d matches neither [%d] nor [1+%d] layout", len(payload), width, width)
	}

	raw := decodeLittleEndian(valueBytes, cfg.DataType)
	result := ParsedReading{Channel: channel, Value: raw * cfg.ScaleFactor, Timestamp: now}
	castToDataType(&result, cfg.DataType)
	return result, nil
}

func binaryWidth(dt config.DataType) int {
	switch dt {
	case config.DataTypeInt16, config.DataTypeUInt16:
		return 2
	case config.DataTypeInt32, config.DataTypeFloat32:
		return 4
	case config.DataTypeUInt32Counter:
		return 4
	default:
		return 0
	}
}

func decodeLittleEndian(b []byte, dt config.DataType) float64 {
	switch dt {
	case config.DataTypeInt16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case config.DataTypeUInt16:
		return float64(binary.LittleEndian.Uint16(b))
	case config.DataTypeInt32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case config.DataTypeUInt32Counter:
		return float64(binary.LittleEndian.Uint32(b))
	case config.DataTypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return 0
	}
}

func parseCSV(cfg config.MqttDeviceConfig, payload []byte, now time.Time) (ParsedReading, error) {
	fields := strings.Split(strings.TrimSpace(string(payload)), ",")
	if len(fields) == 0 || fields[0] == "" {
		return ParsedReading{}, fmt.Errorf("empty csv payload")
	}

	var channel int
	var valueField string
	var timestampField string

	switch len(fields) {
	case 1:
		valueField = fields[0]
	case 2:
		if n, err := strconv.Atoi(strings.TrimSpace(fields[0])); err == nil {
			channel = n
			valueField = fields[1]
		} else {
			valueField = fields[0]
			timestampField = fields[1]
		}
	case 3:
		n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return ParsedReading{}, fmt.Errorf("invalid csv channel: %w", err)
		}
		channel = n
		valueField = fields[1]
		timestampField = fields[2]
	default:
		return ParsedReading{}, fmt.Errorf("unsupported csv field count: %d", len(fields))
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(valueField), 64)
	if err != nil {
		return ParsedReading{}, fmt.Errorf("invalid csv value: %w", err)
	}

	result := ParsedReading{Channel: channel, Value: value * cfg.ScaleFactor, Timestamp: now}
	if timestampField != "" {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(timestampField)); err == nil {
			result.Timestamp = ts.UTC()
			result.HasTime = true
		}
	}
	castToDataType(&result, cfg.DataType)
	return result, nil
}

// castToDataType truncates result.Value to RawValue per the configured data
// type: integer types truncate, float types keep the bit pattern via Value.
func castToDataType(result *ParsedReading, dt config.DataType) {
	switch dt {
	case config.DataTypeFloat32:
		result.RawValue = int64(math.Float32bits(float32(result.Value)))
	default:
		result.RawValue = int64(result.Value)
	}
}
