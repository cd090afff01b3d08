// Package emitter publishes detection results, statistic summaries and
// health messages to an MQTT broker. A Noop variant serves broker-less
// runs.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/config"
)

// MQTTEmitter publishes pipeline output to an MQTT broker.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for the control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an MQTT emitter. Connect must be called before
// publishing.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURI(e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// PublishDetections publishes one classification result.
func (e *MQTTEmitter) PublishDetections(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Detections, e.qos("detections"), payload)
}

// PublishSummary publishes the current statistic table summary.
func (e *MQTTEmitter) PublishSummary(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Summary, e.qos("summary"), payload)
}

// PublishHealth publishes a health or command-response message.
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Health, e.qos("health"), payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)

	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) qos(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}

// brokerURI accepts both bare host:port and full scheme://host:port
// broker addresses.
func brokerURI(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s", broker)
}
