package mqttio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"accelgraph/internal/sensor"
)

type SourceConfig struct {
	Broker        string
	ClientID      string
	AccelTopic    string
	MagTopic      string
	AccuracyTopic string
}

// Source subscribes to sensor topics and emits what it receives into a hub.
// A sensor counts as present when its topic is configured.
type Source struct {
	cfg SourceConfig
	hub *sensor.Hub

	mu     sync.Mutex
	client mqtt.Client

	received  atomic.Uint64
	malformed atomic.Uint64
}

func NewSource(cfg SourceConfig, hub *sensor.Hub) *Source {
	if cfg.ClientID == "" {
		cfg.ClientID = "accelgraph-source"
	}
	return &Source{cfg: cfg, hub: hub}
}

func (s *Source) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("mqttio: source is nil")
	}
	if s.hub == nil {
		return fmt.Errorf("mqttio: hub is nil")
	}
	if s.cfg.Broker == "" {
		return fmt.Errorf("mqttio: broker is required")
	}
	s.hub.SetAvailable(sensor.Accelerometer, s.cfg.AccelTopic != "")
	s.hub.SetAvailable(sensor.MagneticField, s.cfg.MagTopic != "")

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttio: connect %s: %w", s.cfg.Broker, token.Error())
	}
	log.Printf("mqttio: connected to MQTT broker at %s", s.cfg.Broker)

	subs := map[string]mqtt.MessageHandler{}
	if s.cfg.AccelTopic != "" {
		subs[s.cfg.AccelTopic] = func(_ mqtt.Client, msg mqtt.Message) { s.HandleSample(sensor.Accelerometer, msg.Payload()) }
	}
	if s.cfg.MagTopic != "" {
		subs[s.cfg.MagTopic] = func(_ mqtt.Client, msg mqtt.Message) { s.HandleSample(sensor.MagneticField, msg.Payload()) }
	}
	if s.cfg.AccuracyTopic != "" {
		subs[s.cfg.AccuracyTopic] = func(_ mqtt.Client, msg mqtt.Message) { s.HandleAccuracy(msg.Payload()) }
	}
	for topic, h := range subs {
		token := client.Subscribe(topic, 0, h)
		token.Wait()
		if err := token.Error(); err != nil {
			client.Disconnect(250)
			return fmt.Errorf("mqttio: subscribe %s: %w", topic, err)
		}
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// HandleSample decodes one sample payload and emits it. Malformed payloads
// are counted and dropped.
func (s *Source) HandleSample(kind sensor.Kind, payload []byte) {
	smp, err := ParseSample(kind, payload)
	if err != nil {
		s.reject(err)
		return
	}
	s.received.Add(1)
	s.hub.Emit(smp)
}

func (s *Source) HandleAccuracy(payload []byte) {
	kind, level, err := ParseAccuracy(payload)
	if err != nil {
		s.reject(err)
		return
	}
	s.hub.EmitAccuracy(kind, level)
}

func (s *Source) reject(err error) {
	// Log the first and then every hundredth to keep a noisy publisher quiet.
	if n := s.malformed.Add(1); n == 1 || n%100 == 0 {
		log.Printf("%v (malformed=%d)", err, n)
	}
}

type SourceStats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
}

func (s *Source) Stats() SourceStats {
	if s == nil {
		return SourceStats{}
	}
	return SourceStats{Received: s.received.Load(), Malformed: s.malformed.Load()}
}

func (s *Source) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
}
