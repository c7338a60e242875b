package config

import "testing"

func TestGetDefaultsAndValidate_Succeeds(t *testing.T) {
	cfg := GetDefaults()
	if cfg == nil {
		t.Fatal("GetDefaults returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate, got error: %v", err)
	}
}

func TestValidate_AppErrors(t *testing.T) {
	cfg := GetDefaults()
	cfg.App.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty app name")
	}

	cfg = GetDefaults()
	cfg.App.LogLevel = "bad"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}

	cfg = GetDefaults()
	cfg.App.LogFormat = "badfmt"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log format")
	}

	cfg = GetDefaults()
	cfg.App.ShutdownTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive shutdown timeout")
	}

	cfg = GetDefaults()
	cfg.App.MaxConsecutiveFailures = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive max consecutive failures")
	}
}

func sampleDevice() DeviceConfig {
	return DeviceConfig{
		DeviceID:       "plc-1",
		Enabled:        true,
		IP:             "10.0.0.5",
		Port:           502,
		UnitID:         1,
		PollIntervalMs: 1000,
		Channels: []ChannelConfig{
			{
				ChannelNumber: 1,
				StartRegister: 100,
				RegisterCount: 2,
				RegisterType:  RegisterHolding,
				DataType:      DataTypeUInt32Counter,
				ScaleFactor:   1.0,
				Unit:          "kWh",
			},
		},
	}
}

func TestValidate_DeviceErrors(t *testing.T) {
	cfg := GetDefaults()
	cfg.Devices = []DeviceConfig{sampleDevice(), sampleDevice()}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate device id")
	}

	cfg = GetDefaults()
	d := sampleDevice()
	d.Port = 0
	cfg.Devices = []DeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}

	cfg = GetDefaults()
	d = sampleDevice()
	d.Channels[0].RegisterCount = 3
	cfg.Devices = []DeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid register count")
	}

	cfg = GetDefaults()
	d = sampleDevice()
	d.Channels[0].DataType = "Bogus"
	cfg.Devices = []DeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid data type")
	}

	cfg = GetDefaults()
	d = sampleDevice()
	d.Channels[0].ScaleFactor = 0
	cfg.Devices = []DeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero scale factor")
	}

	cfg = GetDefaults()
	d = sampleDevice()
	minV, maxV := 10.0, 5.0
	d.Channels[0].MinValue = &minV
	d.Channels[0].MaxValue = &maxV
	cfg.Devices = []DeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for min > max")
	}
}

func TestValidate_MqttErrors(t *testing.T) {
	cfg := GetDefaults()
	cfg.Mqtt.BrokerHost = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty broker host")
	}

	cfg = GetDefaults()
	cfg.Mqtt.ClientID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty client id")
	}

	cfg = GetDefaults()
	cfg.Mqtt.QualityOfServiceLevel = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid qos")
	}

	cfg = GetDefaults()
	cfg.Mqtt.UseTLS = true
	cfg.Mqtt.CACertFile = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for tls enabled without cert files")
	}
}

func sampleMqttDevice() MqttDeviceConfig {
	return MqttDeviceConfig{
		DeviceID:      "sensor-1",
		Enabled:       true,
		Topics:        []string{"site/+/sensor-1"},
		Format:        PayloadJSON,
		DataType:      DataTypeFloat32,
		ValueJSONPath: "value",
		ScaleFactor:   1.0,
		Unit:          "C",
	}
}

func TestValidate_MqttDeviceErrors(t *testing.T) {
	cfg := GetDefaults()
	cfg.MqttDevices = []MqttDeviceConfig{sampleMqttDevice(), sampleMqttDevice()}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate mqtt device id")
	}

	cfg = GetDefaults()
	d := sampleMqttDevice()
	d.Topics = nil
	cfg.MqttDevices = []MqttDeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for no topics")
	}

	cfg = GetDefaults()
	d = sampleMqttDevice()
	d.Topics = []string{"site/#/sensor-1"}
	cfg.MqttDevices = []MqttDeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for '#' not in last position")
	}

	cfg = GetDefaults()
	d = sampleMqttDevice()
	d.Topics = []string{"site/a+b/sensor-1"}
	cfg.MqttDevices = []MqttDeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for '+' not occupying a whole level")
	}

	cfg = GetDefaults()
	d = sampleMqttDevice()
	d.Format = PayloadJSON
	d.ValueJSONPath = ""
	cfg.MqttDevices = []MqttDeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing value json path")
	}

	cfg = GetDefaults()
	d = sampleMqttDevice()
	d.ScaleFactor = 0
	cfg.MqttDevices = []MqttDeviceConfig{d}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero scale factor")
	}
}

func TestValidate_TimescaleErrors(t *testing.T) {
	cfg := GetDefaults()
	cfg.TimescaleDb.ConnectionString = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty connection string")
	}

	cfg = GetDefaults()
	cfg.TimescaleDb.TableName = "1bad"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid table name")
	}

	cfg = GetDefaults()
	cfg.TimescaleDb.TableName = "select"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for reserved table name")
	}

	cfg = GetDefaults()
	cfg.TimescaleDb.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive batch size")
	}

	cfg = GetDefaults()
	cfg.TimescaleDb.MaxRetryDelayMs = 1
	cfg.TimescaleDb.RetryDelayMs = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max retry delay less than retry delay")
	}

	cfg = GetDefaults()
	cfg.TimescaleDb.EnableDeadLetterQueue = true
	cfg.TimescaleDb.DeadLetterQueuePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty dlq path when enabled")
	}
}

func TestValidate_CircuitBreakerErrors(t *testing.T) {
	cfg := GetDefaults()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.ErrorThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid cb error threshold")
	}

	cfg = GetDefaults()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.SuccessThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid cb success threshold")
	}

	cfg = GetDefaults()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.MaxConcurrentCalls = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid cb max concurrent")
	}

	cfg = GetDefaults()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.RequestVolumeThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid cb request volume")
	}
}

func TestLoad_ValidateApplied(t *testing.T) {
	t.Setenv("APP_NAME", "daqd")
	t.Setenv("TIMESCALE_CONNECTION_STRING", "postgres://localhost:5432/daq")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Name == "" {
		t.Fatalf("unexpected config after Load: %+v", cfg)
	}
}
