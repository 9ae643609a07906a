package mqttio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"accelgraph/internal/graph"
	"accelgraph/internal/sensor"
)

func TestParseSample(t *testing.T) {
	s, err := ParseSample(sensor.Accelerometer, []byte(`{"values":[0.1,-0.2,9.8],"timestamp_ns":12345}`))
	if err != nil {
		t.Fatalf("ParseSample() error: %v", err)
	}
	want := sensor.Sample{Kind: sensor.Accelerometer, Values: [3]float64{0.1, -0.2, 9.8}, TimestampNanos: 12345}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("sample (-want +got):\n%s", diff)
	}
}

func TestParseSample_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":   `{`,
		"two values": `{"values":[1,2],"timestamp_ns":1}`,
		"no values":  `{"timestamp_ns":1}`,
	}
	for name, payload := range cases {
		if _, err := ParseSample(sensor.MagneticField, []byte(payload)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseAccuracy(t *testing.T) {
	kind, level, err := ParseAccuracy([]byte(`{"kind":"magnetic_field","level":2}`))
	if err != nil {
		t.Fatalf("ParseAccuracy() error: %v", err)
	}
	if kind != sensor.MagneticField || level != 2 {
		t.Fatalf("kind=%v level=%d", kind, level)
	}
	if _, _, err := ParseAccuracy([]byte(`{"kind":"gyro","level":2}`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, _, err := ParseAccuracy([]byte(`{"kind":"accelerometer","level":7}`)); err == nil {
		t.Fatalf("expected error for level out of range")
	}
}

type recListener struct {
	mu       sync.Mutex
	samples  []sensor.Sample
	accuracy []int
}

func (r *recListener) OnSensorChanged(s sensor.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recListener) OnAccuracyChanged(_ sensor.Kind, a int) {
	r.mu.Lock()
	r.accuracy = append(r.accuracy, a)
	r.mu.Unlock()
}

func TestSource_HandleEmitsIntoHub(t *testing.T) {
	hub := sensor.NewHub()
	hub.SetAvailable(sensor.Accelerometer, true)
	l := &recListener{}
	_ = hub.Register(l, sensor.Accelerometer, sensor.RateFastest)

	s := NewSource(SourceConfig{Broker: "tcp://unused:1883"}, hub)
	s.HandleSample(sensor.Accelerometer, []byte(`{"values":[1,2,3],"timestamp_ns":5}`))
	s.HandleSample(sensor.Accelerometer, []byte(`garbage`))
	s.HandleAccuracy([]byte(`{"kind":"accelerometer","level":1}`))

	if len(l.samples) != 1 || l.samples[0].Values != [3]float64{1, 2, 3} {
		t.Fatalf("samples=%v", l.samples)
	}
	if len(l.accuracy) != 1 || l.accuracy[0] != 1 {
		t.Fatalf("accuracy=%v", l.accuracy)
	}
	if st := s.Stats(); st.Received != 1 || st.Malformed != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSource_StartRequiresBroker(t *testing.T) {
	s := NewSource(SourceConfig{}, sensor.NewHub())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error without broker")
	}
}

func TestMirror_ApplyPublishesJSON(t *testing.T) {
	var gotTopic string
	var payloads [][]byte
	m := newMirror("accelgraph/update", func(topic string, b []byte) error {
		gotTopic = topic
		payloads = append(payloads, b)
		return nil
	}, nil)

	m.Apply(graph.Update{Seq: 3, Rate: 4})
	if gotTopic != "accelgraph/update" || len(payloads) != 1 {
		t.Fatalf("topic=%q payloads=%d", gotTopic, len(payloads))
	}
	var u graph.Update
	if err := json.Unmarshal(payloads[0], &u); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if u.Seq != 3 || u.Rate != 4 {
		t.Fatalf("decoded=%+v", u)
	}
	if st := m.Stats(); st.Published != 1 || st.Failed != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_PublishFailureCounted(t *testing.T) {
	m := newMirror("t", func(string, []byte) error { return errors.New("offline") }, nil)
	m.Apply(graph.Update{})
	if st := m.Stats(); st.Failed != 1 || st.Published != 0 {
		t.Fatalf("stats=%+v", st)
	}
	m.Close()
}

func TestNewMirror_Validates(t *testing.T) {
	if _, err := NewMirror(MirrorConfig{Topic: "t"}); err == nil {
		t.Fatalf("expected error without broker")
	}
	if _, err := NewMirror(MirrorConfig{Broker: "tcp://x:1883"}); err == nil {
		t.Fatalf("expected error without topic")
	}
}
