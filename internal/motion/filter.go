// Package motion smooths raw acceleration and estimates the sample rate.
package motion

// Alpha is the weight kept from history on every update.
const Alpha = 0.75

// State is the filter output after the latest accelerometer sample.
// The zero value is the state at the start of a session.
type State struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	LastTimestampNanos int64 `json:"last_timestamp_ns"`
	// RateMillis is the gap between the last two samples in milliseconds.
	RateMillis float64 `json:"rate_ms"`
}

// Update folds one raw sample into s. The first call after a zero State
// reports the whole timestamp as the gap.
func Update(s State, raw [3]float64, timestampNanos int64) State {
	return State{
		X:                  smooth(s.X, raw[0]),
		Y:                  smooth(s.Y, raw[1]),
		Z:                  smooth(s.Z, raw[2]),
		LastTimestampNanos: timestampNanos,
		RateMillis:         float64(timestampNanos-s.LastTimestampNanos) / 1e6,
	}
}

func smooth(prev, raw float64) float64 {
	return Alpha*prev + (1-Alpha)*raw
}
