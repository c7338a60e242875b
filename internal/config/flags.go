package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RegisterFlags registers all command-line flags. Safe to call more than
// once; only the first call actually registers anything.
func RegisterFlags() {
	if flag.Lookup("app-name") != nil {
		return
	}

	registerAppFlags()
	registerMqttFlags()
	registerTimescaleFlags()
	registerCircuitBreakerFlags()
}

// ApplyFlags applies command-line flag values onto cfg, taking precedence
// over environment variables.
func ApplyFlags(cfg *Config) {
	if !flag.Parsed() {
		flag.Parse()
	}

	applyAppFlags(cfg)
	applyMqttFlags(cfg)
	applyTimescaleFlags(cfg)
	applyCircuitBreakerFlags(cfg)
}

func registerAppFlags() {
	flag.String("app-name", "", "Application name")
	flag.String("app-env", "", "Application environment")
	flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.String("log-format", "", "Log format (text, json)")
	flag.Int("app-shutdown-timeout", -1, "Shutdown timeout in seconds")
	flag.Int("app-max-consecutive-failures", -1, "Max consecutive poll failures before a device is offline")
	flag.String("app-cpu-affinity", "", "Comma-separated CPU ids passed to the affinity hook (no CPUs are pinned in this build)")
}

func applyAppFlags(cfg *Config) {
	if v := getFlagString("app-name"); v != "" {
		cfg.App.Name = v
	}
	if v := getFlagString("app-env"); v != "" {
		cfg.App.Environment = v
	}
	if v := getFlagString("log-level"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := getFlagString("log-format"); v != "" {
		cfg.App.LogFormat = v
	}
	if v := getFlagInt("app-shutdown-timeout"); v > 0 {
		cfg.App.ShutdownTimeout = time.Duration(v) * time.Second
	}
	if v := getFlagInt("app-max-consecutive-failures"); v > 0 {
		cfg.App.MaxConsecutiveFailures = v
	}
	if s := getFlagString("app-cpu-affinity"); s != "" {
		cfg.App.CPUAffinity = parseIntCSV(s)
	}
}

func registerMqttFlags() {
	flag.String("mqtt-broker-host", "", "MQTT broker host")
	flag.Int("mqtt-broker-port", -1, "MQTT broker port")
	flag.String("mqtt-client-id", "", "MQTT client id")
	flag.String("mqtt-username", "", "MQTT username")
	flag.String("mqtt-password", "", "MQTT password")
	flag.Bool("mqtt-use-tls", false, "Enable MQTT TLS")
	flag.String("mqtt-ca-cert", "", "Path to MQTT CA certificate file")
	flag.String("mqtt-client-cert", "", "Path to MQTT client certificate file")
	flag.String("mqtt-client-key", "", "Path to MQTT client key file")
	flag.Int("mqtt-keep-alive", -1, "MQTT keep-alive period in seconds")
	flag.Int("mqtt-qos", -1, "MQTT quality of service level")
	flag.Int("mqtt-reconnect-delay", -1, "MQTT reconnect delay in seconds")
	flag.Int("mqtt-max-reconnect-attempts", -1, "MQTT max reconnect attempts (0 = unlimited)")
	flag.Bool("mqtt-clean-session", true, "MQTT clean session")
}

func applyMqttFlags(cfg *Config) {
	if v := getFlagString("mqtt-broker-host"); v != "" {
		cfg.Mqtt.BrokerHost = v
	}
	if v := getFlagInt("mqtt-broker-port"); v > 0 {
		cfg.Mqtt.BrokerPort = v
	}
	if v := getFlagString("mqtt-client-id"); v != "" {
		cfg.Mqtt.ClientID = v
	}
	if v := getFlagString("mqtt-username"); v != "" {
		cfg.Mqtt.Username = v
	}
	if v := getFlagString("mqtt-password"); v != "" {
		cfg.Mqtt.Password = v
	}
	if f := flag.Lookup("mqtt-use-tls"); f != nil && getFlagBool("mqtt-use-tls") {
		cfg.Mqtt.UseTLS = true
	}
	if v := getFlagString("mqtt-ca-cert"); v != "" {
		cfg.Mqtt.CACertFile = v
	}
	if v := getFlagString("mqtt-client-cert"); v != "" {
		cfg.Mqtt.ClientCertFile = v
	}
	if v := getFlagString("mqtt-client-key"); v != "" {
		cfg.Mqtt.ClientKeyFile = v
	}
	if v := getFlagInt("mqtt-keep-alive"); v > 0 {
		cfg.Mqtt.KeepAlivePeriodSeconds = v
	}
	if v := getFlagInt("mqtt-qos"); v >= 0 && v <= 2 {
		cfg.Mqtt.QualityOfServiceLevel = byte(v)
	}
	if v := getFlagInt("mqtt-reconnect-delay"); v > 0 {
		cfg.Mqtt.ReconnectDelaySeconds = v
	}
	if v := getFlagInt("mqtt-max-reconnect-attempts"); v >= 0 {
		cfg.Mqtt.MaxReconnectAttempts = v
	}
	if f := flag.Lookup("mqtt-clean-session"); f != nil {
		cfg.Mqtt.CleanSession = getFlagBool("mqtt-clean-session")
	}
}

func registerTimescaleFlags() {
	flag.String("timescale-connection-string", "", "TimescaleDB/PostgreSQL connection string")
	flag.String("timescale-table-name", "", "Hypertable name for device readings")
	flag.Int("timescale-batch-size", -1, "Batch size before a flush is forced")
	flag.Int("timescale-flush-interval-ms", -1, "Flush interval in milliseconds")
	flag.Int("timescale-max-retry-attempts", -1, "Max write retry attempts before sending to the dead letter queue")
	flag.Int("timescale-retry-delay-ms", -1, "Initial retry backoff in milliseconds")
	flag.Int("timescale-max-retry-delay-ms", -1, "Max retry backoff in milliseconds")
	flag.Int("timescale-shutdown-timeout", -1, "Seconds to wait for a final flush on shutdown")
	flag.Bool("timescale-enable-dlq", true, "Enable the dead letter queue for failed batches")
	flag.String("timescale-dlq-path", "", "Directory used for the dead letter queue")
	flag.Int("timescale-db-init-timeout", -1, "Seconds to wait for schema bootstrap on startup")
}

func applyTimescaleFlags(cfg *Config) {
	if v := getFlagString("timescale-connection-string"); v != "" {
		cfg.TimescaleDb.ConnectionString = v
	}
	if v := getFlagString("timescale-table-name"); v != "" {
		cfg.TimescaleDb.TableName = v
	}
	if v := getFlagInt("timescale-batch-size"); v > 0 {
		cfg.TimescaleDb.BatchSize = v
	}
	if v := getFlagInt("timescale-flush-interval-ms"); v > 0 {
		cfg.TimescaleDb.FlushIntervalMs = v
	}
	if v := getFlagInt("timescale-max-retry-attempts"); v >= 0 {
		cfg.TimescaleDb.MaxRetryAttempts = v
	}
	if v := getFlagInt("timescale-retry-delay-ms"); v > 0 {
		cfg.TimescaleDb.RetryDelayMs = v
	}
	if v := getFlagInt("timescale-max-retry-delay-ms"); v > 0 {
		cfg.TimescaleDb.MaxRetryDelayMs = v
	}
	if v := getFlagInt("timescale-shutdown-timeout"); v > 0 {
		cfg.TimescaleDb.ShutdownTimeoutSeconds = v
	}
	if f := flag.Lookup("timescale-enable-dlq"); f != nil {
		cfg.TimescaleDb.EnableDeadLetterQueue = getFlagBool("timescale-enable-dlq")
	}
	if v := getFlagString("timescale-dlq-path"); v != "" {
		cfg.TimescaleDb.DeadLetterQueuePath = v
	}
	if v := getFlagInt("timescale-db-init-timeout"); v > 0 {
		cfg.TimescaleDb.DatabaseInitTimeoutSeconds = v
	}
}

func registerCircuitBreakerFlags() {
	flag.Bool("cb-enabled", true, "Validate the cb-* settings (storage writes use the circuit breaker either way)")
	flag.Float64("cb-error-threshold", -1, "Error percentage threshold that opens the circuit")
	flag.Int("cb-success-threshold", -1, "Consecutive successes required to close the circuit from half-open")
	flag.Int("cb-timeout", -1, "Seconds the circuit stays open before probing again")
	flag.Int("cb-max-concurrent", -1, "Max concurrent calls permitted through the circuit")
	flag.Int("cb-request-volume", -1, "Minimum requests in the window before the breaker evaluates")
}

func applyCircuitBreakerFlags(cfg *Config) {
	if f := flag.Lookup("cb-enabled"); f != nil {
		cfg.CircuitBreaker.Enabled = getFlagBool("cb-enabled")
	}
	if v := getFlagFloat64("cb-error-threshold"); v > 0 {
		cfg.CircuitBreaker.ErrorThreshold = v
	}
	if v := getFlagInt("cb-success-threshold"); v > 0 {
		cfg.CircuitBreaker.SuccessThreshold = v
	}
	if v := getFlagInt("cb-timeout"); v > 0 {
		cfg.CircuitBreaker.Timeout = time.Duration(v) * time.Second
	}
	if v := getFlagInt("cb-max-concurrent"); v > 0 {
		cfg.CircuitBreaker.MaxConcurrentCalls = v
	}
	if v := getFlagInt("cb-request-volume"); v > 0 {
		cfg.CircuitBreaker.RequestVolumeThreshold = v
	}
}

func parseIntCSV(s string) []int {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func getFlagString(name string) string {
	f := flag.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func getFlagInt(name string) int {
	f := flag.Lookup(name)
	if f == nil {
		return -1
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		if val, ok := getter.Get().(int); ok {
			return val
		}
	}
	return -1
}

func getFlagFloat64(name string) float64 {
	f := flag.Lookup(name)
	if f == nil {
		return -1
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		if val, ok := getter.Get().(float64); ok {
			return val
		}
	}
	return -1
}

func getFlagBool(name string) bool {
	f := flag.Lookup(name)
	if f == nil {
		return false
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		if val, ok := getter.Get().(bool); ok {
			return val
		}
	}
	return false
}

// PrintUsage prints the usage information for all registered flags.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()
}
