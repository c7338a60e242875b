package config

import (
	"fmt"
	"regexp"
	"strings"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// reservedTableNames blocks identifiers that collide with PostgreSQL/Timescale
// reserved words commonly misused as table names.
var reservedTableNames = map[string]bool{
	"select": true, "table": true, "user": true, "order": true,
	"group": true, "where": true, "from": true, "insert": true,
	"update": true, "delete": true, "public": true, "drop": true,
	"create": true, "alter": true, "truncate": true,
}

// Validate validates the configuration exhaustively, collecting a single
// descriptive error for the first rule that fails.
func (c *Config) Validate() error {
	if err := validateApp(c); err != nil {
		return err
	}
	if err := validateDevices(c); err != nil {
		return err
	}
	if err := validateMqtt(c); err != nil {
		return err
	}
	if err := validateMqttDevices(c); err != nil {
		return err
	}
	if err := validateTimescale(c); err != nil {
		return err
	}
	if err := validateCircuitBreaker(c); err != nil {
		return err
	}
	return nil
}

func validateApp(c *Config) error {
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if !isValidLogLevel(c.App.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.App.LogLevel)
	}
	if !isValidLogFormat(c.App.LogFormat) {
		return fmt.Errorf("invalid log format: %s", c.App.LogFormat)
	}
	if c.App.ShutdownTimeout <= 0 {
		return fmt.Errorf("app shutdown timeout must be positive")
	}
	if c.App.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("app max consecutive failures must be positive")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "json", "text":
		return true
	default:
		return false
	}
}

// validateDevices rejects duplicate device ids and out-of-range channel
// configuration. An empty device list is permitted: a deployment may run
// MQTT-only ingestion with no polled Modbus devices.
func validateDevices(c *Config) error {
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.DeviceID == "" {
			return fmt.Errorf("device id cannot be empty")
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("duplicate device id: %s", d.DeviceID)
		}
		seen[d.DeviceID] = true

		if d.IP == "" {
			return fmt.Errorf("device %s: ip cannot be empty", d.DeviceID)
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("device %s: port must be between 1 and 65535", d.DeviceID)
		}
		if d.PollIntervalMs <= 0 {
			return fmt.Errorf("device %s: poll interval must be positive", d.DeviceID)
		}
		if err := validateChannels(d); err != nil {
			return err
		}
	}
	return nil
}

func validateChannels(d DeviceConfig) error {
	seenChannels := make(map[int]bool, len(d.Channels))
	for _, ch := range d.Channels {
		if seenChannels[ch.ChannelNumber] {
			return fmt.Errorf("device %s: duplicate channel number %d", d.DeviceID, ch.ChannelNumber)
		}
		seenChannels[ch.ChannelNumber] = true

		if ch.RegisterCount != 1 && ch.RegisterCount != 2 {
			return fmt.Errorf("device %s channel %d: register count must be 1 or 2", d.DeviceID, ch.ChannelNumber)
		}
		if ch.RegisterType != RegisterHolding && ch.RegisterType != RegisterInput {
			return fmt.Errorf("device %s channel %d: invalid register type %q", d.DeviceID, ch.ChannelNumber, ch.RegisterType)
		}
		if !isValidDataType(ch.DataType) {
			return fmt.Errorf("device %s channel %d: invalid data type %q", d.DeviceID, ch.ChannelNumber, ch.DataType)
		}
		if ch.ScaleFactor == 0 {
			return fmt.Errorf("device %s channel %d: scale factor cannot be zero", d.DeviceID, ch.ChannelNumber)
		}
		if ch.MinValue != nil && ch.MaxValue != nil && *ch.MinValue > *ch.MaxValue {
			return fmt.Errorf("device %s channel %d: min value exceeds max value", d.DeviceID, ch.ChannelNumber)
		}
		if ch.RateWindowSeconds < 0 {
			return fmt.Errorf("device %s channel %d: rate window seconds cannot be negative", d.DeviceID, ch.ChannelNumber)
		}
	}
	return nil
}

func isValidDataType(dt DataType) bool {
	switch dt {
	case DataTypeUInt32Counter, DataTypeInt16, DataTypeUInt16, DataTypeFloat32, DataTypeInt32:
		return true
	default:
		return false
	}
}

func validateMqtt(c *Config) error {
	if c.Mqtt.BrokerHost == "" {
		return fmt.Errorf("mqtt broker host cannot be empty")
	}
	if c.Mqtt.BrokerPort <= 0 || c.Mqtt.BrokerPort > 65535 {
		return fmt.Errorf("mqtt broker port must be between 1 and 65535")
	}
	if c.Mqtt.ClientID == "" {
		return fmt.Errorf("mqtt client id cannot be empty")
	}
	if c.Mqtt.QualityOfServiceLevel > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1, or 2")
	}
	if c.Mqtt.KeepAlivePeriodSeconds <= 0 {
		return fmt.Errorf("mqtt keep alive period must be positive")
	}
	if c.Mqtt.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("mqtt reconnect delay must be positive")
	}
	if c.Mqtt.MaxReconnectAttempts < 0 {
		return fmt.Errorf("mqtt max reconnect attempts cannot be negative")
	}
	if c.Mqtt.UseTLS {
		if c.Mqtt.CACertFile == "" || c.Mqtt.ClientCertFile == "" || c.Mqtt.ClientKeyFile == "" {
			return fmt.Errorf("mqtt ca/client certificate and key files are required when tls is enabled")
		}
	}
	return nil
}

// validateMqttDevices enforces that every configured MQTT device subscribes
// to at least one topic and that topic filters use well-formed wildcards:
// '#' is only legal as the last level and '+' must occupy a whole level.
func validateMqttDevices(c *Config) error {
	seen := make(map[string]bool, len(c.MqttDevices))
	for _, d := range c.MqttDevices {
		if d.DeviceID == "" {
			return fmt.Errorf("mqtt device id cannot be empty")
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("duplicate mqtt device id: %s", d.DeviceID)
		}
		seen[d.DeviceID] = true

		nonEmpty := 0
		for _, topic := range d.Topics {
			if strings.TrimSpace(topic) == "" {
				continue
			}
			nonEmpty++
			if err := validateTopicFilter(topic); err != nil {
				return fmt.Errorf("mqtt device %s: %w", d.DeviceID, err)
			}
		}
		if nonEmpty == 0 {
			return fmt.Errorf("mqtt device %s: at least one non-empty topic is required", d.DeviceID)
		}

		if !isValidPayloadFormat(d.Format) {
			return fmt.Errorf("mqtt device %s: invalid payload format %q", d.DeviceID, d.Format)
		}
		if d.Format == PayloadJSON && (d.ValueJSONPath == "") {
			return fmt.Errorf("mqtt device %s: value json path is required for Json payloads", d.DeviceID)
		}
		if d.ScaleFactor == 0 {
			return fmt.Errorf("mqtt device %s: scale factor cannot be zero", d.DeviceID)
		}
		if d.QoSLevel != nil && *d.QoSLevel > 2 {
			return fmt.Errorf("mqtt device %s: qos override must be 0, 1, or 2", d.DeviceID)
		}
	}
	return nil
}

func validateTopicFilter(topic string) error {
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		if level == "#" && i != len(levels)-1 {
			return fmt.Errorf("invalid topic filter %q: '#' must be the last level", topic)
		}
		if level != "#" && level != "+" && strings.ContainsAny(level, "#+") {
			return fmt.Errorf("invalid topic filter %q: wildcards must occupy a whole level", topic)
		}
	}
	return nil
}

func isValidPayloadFormat(f PayloadFormat) bool {
	switch f {
	case PayloadJSON, PayloadBinary, PayloadCSV:
		return true
	default:
		return false
	}
}

func validateTimescale(c *Config) error {
	if c.TimescaleDb.ConnectionString == "" {
		return fmt.Errorf("timescale connection string cannot be empty")
	}
	if !tableNamePattern.MatchString(c.TimescaleDb.TableName) {
		return fmt.Errorf("invalid timescale table name: %s", c.TimescaleDb.TableName)
	}
	if reservedTableNames[strings.ToLower(c.TimescaleDb.TableName)] {
		return fmt.Errorf("timescale table name %q is a reserved keyword", c.TimescaleDb.TableName)
	}
	if c.TimescaleDb.BatchSize <= 0 {
		return fmt.Errorf("timescale batch size must be positive")
	}
	if c.TimescaleDb.FlushIntervalMs <= 0 {
		return fmt.Errorf("timescale flush interval must be positive")
	}
	if c.TimescaleDb.MaxRetryAttempts < 0 {
		return fmt.Errorf("timescale max retry attempts cannot be negative")
	}
	if c.TimescaleDb.RetryDelayMs <= 0 {
		return fmt.Errorf("timescale retry delay must be positive")
	}
	if c.TimescaleDb.MaxRetryDelayMs < c.TimescaleDb.RetryDelayMs {
		return fmt.Errorf("timescale max retry delay cannot be less than the initial retry delay")
	}
	if c.TimescaleDb.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("timescale shutdown timeout must be positive")
	}
	if c.TimescaleDb.EnableDeadLetterQueue && c.TimescaleDb.DeadLetterQueuePath == "" {
		return fmt.Errorf("timescale dead letter queue path cannot be empty when enabled")
	}
	if c.TimescaleDb.DatabaseInitTimeoutSeconds <= 0 {
		return fmt.Errorf("timescale database init timeout must be positive")
	}
	return nil
}

func validateCircuitBreaker(c *Config) error {
	if !c.CircuitBreaker.Enabled {
		return nil
	}
	if c.CircuitBreaker.ErrorThreshold <= 0 || c.CircuitBreaker.ErrorThreshold > 100 {
		return fmt.Errorf("circuit breaker error threshold must be between 0 and 100")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit breaker success threshold must be positive")
	}
	if c.CircuitBreaker.Timeout <= 0 {
		return fmt.Errorf("circuit breaker timeout must be positive")
	}
	if c.CircuitBreaker.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("circuit breaker max concurrent calls must be positive")
	}
	if c.CircuitBreaker.RequestVolumeThreshold <= 0 {
		return fmt.Errorf("circuit breaker request volume threshold must be positive")
	}
	return nil
}
