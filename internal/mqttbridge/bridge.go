// Package mqttbridge republishes pathlens events (network_changed today,
// any future topic tomorrow) onto an MQTT broker for external subscribers
// that can't hold a long-lived connection to the HTTP API or websocket
// stream.
package mqttbridge

import (
	"context"
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/pkg/plugin"
)

// Bridge forwards every event published on an EventBus to an MQTT topic
// prefix, one sub-topic per event topic (e.g. "pathlens/network_changed").
type Bridge struct {
	client mqtt.Client
	prefix string
	logger *zap.Logger
	unsub  func()
}

// Config configures the bridge's MQTT connection.
type Config struct {
	BrokerURL string
	ClientID  string
	Prefix    string
	Logger    *zap.Logger
}

// Connect dials the broker and returns a Bridge ready to Attach to an
// EventBus. Callers must call Close when done.
func Connect(cfg Config) (*Bridge, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pathlens"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return &Bridge{client: client, prefix: prefix, logger: logger}, nil
}

// Attach subscribes the bridge to every topic on bus, forwarding each event
// as a retained-false MQTT publish under <prefix>/<event topic>.
func (b *Bridge) Attach(bus plugin.EventBus) {
	b.unsub = bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			b.logger.Warn("mqttbridge: failed to marshal event", zap.Error(err))
			return
		}
		topic := b.prefix + "/" + e.Topic
		token := b.client.Publish(topic, 0, false, payload)
		if token.Wait() && token.Error() != nil {
			b.logger.Warn("mqttbridge: publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	})
}

// Close unsubscribes from the bus and disconnects from the broker.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
	}
	b.client.Disconnect(250)
}
