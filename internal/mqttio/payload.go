// Package mqttio connects the sensor hub and the display to an MQTT broker:
// Source feeds readings published by a remote device into the hub, and
// Mirror publishes every display update.
package mqttio

import (
	"encoding/json"
	"fmt"
	"math"

	"accelgraph/internal/sensor"
)

// SamplePayload is the JSON body on the accelerometer and magnetic topics.
type SamplePayload struct {
	Values      []float64 `json:"values"`
	TimestampNs int64     `json:"timestamp_ns"`
}

// AccuracyPayload is the JSON body on the accuracy topic.
type AccuracyPayload struct {
	Kind  string `json:"kind"`
	Level int    `json:"level"`
}

func ParseSample(kind sensor.Kind, payload []byte) (sensor.Sample, error) {
	var p SamplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return sensor.Sample{}, fmt.Errorf("mqttio: decode %s sample: %w", kind, err)
	}
	if len(p.Values) != 3 {
		return sensor.Sample{}, fmt.Errorf("mqttio: %s sample has %d values, want 3", kind, len(p.Values))
	}
	s := sensor.Sample{Kind: kind, TimestampNanos: p.TimestampNs}
	for i, v := range p.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return sensor.Sample{}, fmt.Errorf("mqttio: %s sample value %d is not finite", kind, i)
		}
		s.Values[i] = v
	}
	return s, nil
}

func ParseAccuracy(payload []byte) (sensor.Kind, int, error) {
	var p AccuracyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, 0, fmt.Errorf("mqttio: decode accuracy: %w", err)
	}
	kind, err := sensor.ParseKind(p.Kind)
	if err != nil {
		return 0, 0, err
	}
	if p.Level < sensor.AccuracyUnreliable || p.Level > sensor.AccuracyHigh {
		return 0, 0, fmt.Errorf("mqttio: accuracy level %d out of range", p.Level)
	}
	return kind, p.Level, nil
}
