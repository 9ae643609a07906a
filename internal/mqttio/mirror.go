package mqttio

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"accelgraph/internal/graph"
)

type MirrorConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// Mirror publishes every display update as JSON. It runs on the UI loop, so
// publishing never waits for the broker.
type Mirror struct {
	topic   string
	publish func(topic string, payload []byte) error
	close   func()

	published atomic.Uint64
	failed    atomic.Uint64
	warned    bool
}

func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqttio: broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqttio: topic is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "accelgraph-mirror"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttio: connect %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("mqttio: mirroring updates to %s on %s", cfg.Topic, cfg.Broker)

	publish := func(topic string, payload []byte) error {
		token := client.Publish(topic, 0, false, payload)
		select {
		case <-token.Done():
			return token.Error()
		default:
			return nil
		}
	}
	return newMirror(cfg.Topic, publish, func() { client.Disconnect(250) }), nil
}

func newMirror(topic string, publish func(string, []byte) error, closeFn func()) *Mirror {
	return &Mirror{topic: topic, publish: publish, close: closeFn}
}

func (m *Mirror) Apply(u graph.Update) {
	if m == nil || m.publish == nil {
		return
	}
	b, err := json.Marshal(u)
	if err == nil {
		err = m.publish(m.topic, b)
	}
	if err != nil {
		m.failed.Add(1)
		if !m.warned {
			log.Printf("mqttio: publish to %s failing: %v", m.topic, err)
			m.warned = true
		}
		return
	}
	m.warned = false
	m.published.Add(1)
}

type MirrorStats struct {
	Topic     string `json:"topic"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{Topic: m.topic, Published: m.published.Load(), Failed: m.failed.Load()}
}

func (m *Mirror) Close() {
	if m == nil || m.close == nil {
		return
	}
	m.close()
}
