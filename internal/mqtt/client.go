// Package mqtt implements an MQTT client with a lock-free handler registry and secure TLS configuration.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
)

// client implements ports.MQTTClient using Paho (single client) with a
// lock-free handler registry.
type client struct {
	client mqttlib.Client
	cfg    config.MqttConfig
	logger ports.Logger

	isConnected atomic.Bool

	// Handlers registry (lock-free via atomic pointer to immutable map)
	handlers atomic.Pointer[map[string]ports.MessageHandler]
}

// NewClient creates a new MQTT client bound to cfg.Mqtt.
func NewClient(cfg *config.Config, logger ports.Logger) (ports.MQTTClient, error) {
	c := &client{
		cfg:    cfg.Mqtt,
		logger: logger.WithFields(ports.Field{Key: "component", Value: "mqtt-client"}),
	}

	initial := make(map[string]ports.MessageHandler)
	c.handlers.Store(&initial)

	opts := mqttlib.NewClientOptions()
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Mqtt.BrokerHost, cfg.Mqtt.BrokerPort)
	if cfg.Mqtt.UseTLS {
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Mqtt.BrokerHost, cfg.Mqtt.BrokerPort)
	}
	opts.AddBroker(broker)
	opts.SetClientID(cfg.Mqtt.ClientID)
	if cfg.Mqtt.Username != "" {
		opts.SetUsername(cfg.Mqtt.Username)
		opts.SetPassword(cfg.Mqtt.Password)
	}
	opts.SetCleanSession(cfg.Mqtt.CleanSession)
	opts.SetKeepAlive(time.Duration(cfg.Mqtt.KeepAlivePeriodSeconds) * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Mqtt.ReconnectDelaySeconds) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetProtocolVersion(4) // MQTT 3.1.1

	if cfg.Mqtt.UseTLS {
		tlsConf, err := c.createTLSConfig(&cfg.Mqtt)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConf)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqttlib.NewClient(opts)
	return c, nil
}

func (c *client) onConnect(cli mqttlib.Client) {
	c.isConnected.Store(true)
	c.logger.Info("MQTT connected")

	current := c.handlers.Load()
	if current == nil {
		return
	}
	for topic := range *current {
		c.logger.Info("Re-subscribing to MQTT topic", ports.Field{Key: "topic", Value: topic})
		token := cli.Subscribe(topic, c.cfg.QualityOfServiceLevel, c.onMessage)
		if ok := token.WaitTimeout(10 * time.Second); !ok || token.Error() != nil {
			c.logger.Error("Failed to re-subscribe topic",
				ports.Field{Key: "topic", Value: topic},
				ports.Field{Key: "error", Value: token.Error()},
			)
		}
	}
}

func (c *client) onConnectionLost(_ mqttlib.Client, err error) {
	c.isConnected.Store(false)
	c.logger.Warn("MQTT connection lost", ports.Field{Key: "error", Value: err})
}

// Connect establishes connection to the MQTT broker.
func (c *client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	connectTimeout := 10 * time.Second
	waitUntil := time.Now().Add(connectTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(waitUntil) {
		waitUntil = dl
	}

	tick := 50 * time.Millisecond
	for !token.WaitTimeout(tick) && time.Now().Before(waitUntil) && ctx.Err() == nil {
		runtime.Gosched()
	}

	if err := token.Error(); err != nil {
		return err
	}
	c.isConnected.Store(true)
	return nil
}

// Disconnect gracefully disconnects.
func (c *client) Disconnect(timeout time.Duration) {
	if c.client == nil {
		return
	}
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	c.client.Disconnect(uint(ms))
	c.isConnected.Store(false)
}

// IsConnected returns current connection status.
func (c *client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	return c.client.IsConnected() && c.isConnected.Load()
}

// waitForToken waits for a Paho token to complete, honoring both ctx and a max wait duration.
func (c *client) waitForToken(ctx context.Context, token mqttlib.Token, wait time.Duration, op string) error {
	deadline := time.Now().Add(wait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	tick := wait / 20
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	if tick > 500*time.Millisecond {
		tick = 500 * time.Millisecond
	}

	for {
		if token.WaitTimeout(tick) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("%s failed: %w", op, err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s timeout after %s", op, wait)
		}
	}
}

// Publish publishes a message to topic.
func (c *client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	c.logger.Trace("MQTT publish",
		ports.Field{Key: "topic", Value: topic},
		ports.Field{Key: "qos", Value: qos},
		ports.Field{Key: "retained", Value: retained},
		ports.Field{Key: "payload_bytes", Value: len(payload)},
	)
	token := c.client.Publish(topic, qos, retained, payload)
	return c.waitForToken(ctx, token, 10*time.Second, "publish")
}

// Subscribe subscribes to topic, which may contain '+'/'#' wildcards.
func (c *client) Subscribe(ctx context.Context, topic string, qos byte, handler ports.MessageHandler) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	c.logger.Info("MQTT subscribe", ports.Field{Key: "topic", Value: topic}, ports.Field{Key: "qos", Value: qos})

	c.addHandler(topic, handler)

	token := c.client.Subscribe(topic, qos, c.onMessage)
	return c.waitForToken(ctx, token, 10*time.Second, "subscribe")
}

// Unsubscribe removes subscription(s).
func (c *client) Unsubscribe(ctx context.Context, topics ...string) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	c.removeHandlers(topics)

	token := c.client.Unsubscribe(topics...)
	return c.waitForToken(ctx, token, 10*time.Second, "unsubscribe")
}

// onMessage resolves the handler registered for the subscription filter that
// matches msg.Topic(). A handler keyed by the exact topic wins; otherwise the
// first registered filter for which TopicMatches reports a match is invoked.
// The registry is a map, so when several wildcard filters match one topic,
// which of them runs is not defined; callers that need first-match-wins
// ordering dispatch through a Router instead.
func (c *client) onMessage(_ mqttlib.Client, msg mqttlib.Message) {
	c.logger.Trace("MQTT onMessage received",
		ports.Field{Key: "topic", Value: msg.Topic()},
		ports.Field{Key: "payload_bytes", Value: len(msg.Payload())},
	)
	current := c.handlers.Load()
	if current == nil {
		return
	}
	if handler, ok := (*current)[msg.Topic()]; ok && handler != nil {
		handler(msg.Topic(), msg.Payload())
		return
	}
	for filter, handler := range *current {
		if handler != nil && TopicMatches(filter, msg.Topic()) {
			handler(msg.Topic(), msg.Payload())
			return
		}
	}
}

func (c *client) addHandler(topic string, h ports.MessageHandler) {
	for {
		old := c.handlers.Load()
		var snapshot map[string]ports.MessageHandler
		if old != nil {
			snapshot = *old
		}
		newMap := make(map[string]ports.MessageHandler, len(snapshot)+1)
		for k, v := range snapshot {
			newMap[k] = v
		}
		newMap[topic] = h
		if c.handlers.CompareAndSwap(old, &newMap) {
			return
		}
	}
}

func (c *client) removeHandlers(topics []string) {
	if len(topics) == 0 {
		return
	}
	toRemove := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		toRemove[t] = struct{}{}
	}
	for {
		old := c.handlers.Load()
		if old == nil {
			return
		}
		snapshot := *old

		newMap := make(map[string]ports.MessageHandler, len(snapshot))
		for k, v := range snapshot {
			if _, drop := toRemove[k]; !drop {
				newMap[k] = v
			}
		}
		if c.handlers.CompareAndSwap(old, &newMap) {
			return
		}
	}
}

func (c *client) createTLSConfig(cfg *config.MqttConfig) (*tls.Config, error) {
	caCert, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("append CA cert")
	}

	clientCert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:            caPool,
		Certificates:       []tls.Certificate{clientCert},
		InsecureSkipVerify: false,
		ServerName:         cfg.BrokerHost,
		MinVersion:         tls.VersionTLS12,
	}, nil
}
