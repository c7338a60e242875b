package mqtt

import (
	"testing"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/ibs-source/syslog/consumer/golang/internal/logger"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
)

// stubMessage implements mqttlib.Message for testing onMessage routing.
type stubMessage struct {
	topic   string
	payload []byte
}

func (m *stubMessage) Duplicate() bool              { return false }
func (m *stubMessage) Qos() byte                    { return 1 }
func (m *stubMessage) Retained() bool               { return false }
func (m *stubMessage) Topic() string                { return m.topic }
func (m *stubMessage) MessageID() uint16            { return 1 }
func (m *stubMessage) Payload() []byte              { return m.payload }
func (m *stubMessage) Ack()                         {}
func (m *stubMessage) ReadPayload() ([]byte, error) { return m.payload, nil }

// Test handler add/remove and onMessage routing logic using lock-free maps.
func TestHandlersAddRemoveAndOnMessage(t *testing.T) {
	log, _ := logger.NewLogrusLogger("error", "json")
	c := &client{logger: log}
	initial := make(map[string]ports.MessageHandler)
	c.handlers.Store(&initial)

	var handled int
	topic := "some/topic"

	c.addHandler(topic, func(_ string, _ []byte) {
		handled++
	})

	msg := &stubMessage{topic: topic, payload: []byte("x")}
	c.onMessage(mqttlib.Client(nil), msg)
	if handled != 1 {
		t.Fatalf("expected handler called once, got %d", handled)
	}

	c.removeHandlers([]string{topic})
	c.onMessage(mqttlib.Client(nil), msg)
	if handled != 1 {
		t.Fatalf("expected handler count to remain 1 after removal, got %d", handled)
	}
}

// Test that onMessage falls back to wildcard filter matching when no exact
// literal handler is registered.
func TestOnMessageWildcardFallback(t *testing.T) {
	log, _ := logger.NewLogrusLogger("error", "json")
	c := &client{logger: log}
	initial := make(map[string]ports.MessageHandler)
	c.handlers.Store(&initial)

	var handled int
	c.addHandler("site/+/sensor-1", func(_ string, _ []byte) { handled++ })

	msg := &stubMessage{topic: "site/hall-a/sensor-1", payload: []byte("x")}
	c.onMessage(mqttlib.Client(nil), msg)
	if handled != 1 {
		t.Fatalf("expected wildcard handler to be invoked, got %d", handled)
	}
}
