package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvironment_OverridesDefaults(t *testing.T) {
	cfg := GetDefaults()

	t.Setenv("APP_NAME", "daqd-test")
	t.Setenv("APP_ENV", "staging")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("APP_CPU_AFFINITY", "0,1,2")

	t.Setenv("MQTT_BROKER_HOST", "broker.example.com")
	t.Setenv("MQTT_BROKER_PORT", "8883")
	t.Setenv("MQTT_CLIENT_ID", "cid-x")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("MQTT_USE_TLS", "true")

	t.Setenv("TIMESCALE_CONNECTION_STRING", "postgres://u:p@h:5432/db")
	t.Setenv("TIMESCALE_TABLE_NAME", "readings")
	t.Setenv("TIMESCALE_BATCH_SIZE", "250")

	t.Setenv("CIRCUIT_BREAKER_ERROR_THRESHOLD", "33")

	LoadFromEnvironment(cfg)

	if cfg.App.Name != "daqd-test" {
		t.Fatalf("app name: %v", cfg.App.Name)
	}
	if cfg.App.Environment != "staging" {
		t.Fatalf("env: %v", cfg.App.Environment)
	}
	if cfg.App.LogLevel != "debug" {
		t.Fatalf("log level: %v", cfg.App.LogLevel)
	}
	if cfg.App.ShutdownTimeout != 5*time.Second {
		t.Fatalf("shutdown timeout: %v", cfg.App.ShutdownTimeout)
	}
	if len(cfg.App.CPUAffinity) != 3 {
		t.Fatalf("cpu affinity: %v", cfg.App.CPUAffinity)
	}

	if cfg.Mqtt.BrokerHost != "broker.example.com" {
		t.Fatalf("broker host: %v", cfg.Mqtt.BrokerHost)
	}
	if cfg.Mqtt.BrokerPort != 8883 {
		t.Fatalf("broker port: %v", cfg.Mqtt.BrokerPort)
	}
	if cfg.Mqtt.ClientID != "cid-x" {
		t.Fatalf("client id: %v", cfg.Mqtt.ClientID)
	}
	if cfg.Mqtt.QualityOfServiceLevel != 2 {
		t.Fatalf("qos: %v", cfg.Mqtt.QualityOfServiceLevel)
	}
	if !cfg.Mqtt.UseTLS {
		t.Fatalf("use tls: %v", cfg.Mqtt.UseTLS)
	}

	if cfg.TimescaleDb.ConnectionString != "postgres://u:p@h:5432/db" {
		t.Fatalf("connection string: %v", cfg.TimescaleDb.ConnectionString)
	}
	if cfg.TimescaleDb.TableName != "readings" {
		t.Fatalf("table name: %v", cfg.TimescaleDb.TableName)
	}
	if cfg.TimescaleDb.BatchSize != 250 {
		t.Fatalf("batch size: %v", cfg.TimescaleDb.BatchSize)
	}

	if cfg.CircuitBreaker.ErrorThreshold != 33 {
		t.Fatalf("cb error threshold: %v", cfg.CircuitBreaker.ErrorThreshold)
	}
}

func TestLoadFromEnvironment_DevicesJSON(t *testing.T) {
	cfg := GetDefaults()
	t.Setenv("DEVICES_JSON", `[{"DeviceID":"plc-1","Enabled":true,"IP":"10.0.0.5","Port":502,"UnitID":1,"PollIntervalMs":1000,"Channels":[{"ChannelNumber":1,"StartRegister":100,"RegisterCount":2,"RegisterType":"Holding","DataType":"UInt32Counter","ScaleFactor":1.0,"Unit":"kWh"}]}]`)

	LoadFromEnvironment(cfg)

	if len(cfg.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(cfg.Devices))
	}
	if cfg.Devices[0].DeviceID != "plc-1" {
		t.Fatalf("device id: %v", cfg.Devices[0].DeviceID)
	}
	if len(cfg.Devices[0].Channels) != 1 {
		t.Fatalf("channels: %v", cfg.Devices[0].Channels)
	}
}

func TestLoadFromEnvironment_MqttDevicesJSON(t *testing.T) {
	cfg := GetDefaults()
	t.Setenv("MQTT_DEVICES_JSON", `[{"DeviceID":"sensor-1","Enabled":true,"Topics":["site/+/sensor-1"],"Format":"Json","DataType":"Float32","ValueJSONPath":"value","ScaleFactor":1.0,"Unit":"C"}]`)

	LoadFromEnvironment(cfg)

	if len(cfg.MqttDevices) != 1 {
		t.Fatalf("expected 1 mqtt device, got %d", len(cfg.MqttDevices))
	}
	if cfg.MqttDevices[0].DeviceID != "sensor-1" {
		t.Fatalf("device id: %v", cfg.MqttDevices[0].DeviceID)
	}
}

func TestLoad_ValidatesDefaults(t *testing.T) {
	t.Setenv("TIMESCALE_CONNECTION_STRING", "postgres://localhost:5432/daq")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Name == "" {
		t.Fatalf("unexpected config after Load: %+v", cfg)
	}
}
