// Package sensor is the in-process stand-in for a platform sensor service.
//
// Feeds push samples into a Hub; listeners register per sensor kind and
// sampling rate and receive callbacks on the feed's goroutine.
package sensor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	Accelerometer Kind = iota + 1
	MagneticField
)

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case MagneticField:
		return "magnetic_field"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names used on the wire ("accelerometer", "magnetic_field")
// plus the short forms "a"/"accel" and "m"/"mag".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accelerometer", "accel", "a":
		return Accelerometer, nil
	case "magnetic_field", "magnetic", "mag", "m":
		return MagneticField, nil
	}
	return 0, fmt.Errorf("sensor: unknown kind %q", s)
}

// Accuracy levels reported through OnAccuracyChanged.
const (
	AccuracyUnreliable = 0
	AccuracyLow        = 1
	AccuracyMedium     = 2
	AccuracyHigh       = 3
)

// Rate is the minimum spacing between samples delivered to one registration.
type Rate time.Duration

const (
	RateFastest Rate = 0
	RateGame         = Rate(20 * time.Millisecond)
	RateUI           = Rate(66 * time.Millisecond)
	RateNormal       = Rate(200 * time.Millisecond)
)

// Sample is one reading. Values are in m/s^2 for the accelerometer and uT for
// the magnetic field. TimestampNanos is monotonic within a feed.
type Sample struct {
	Kind           Kind
	Values         [3]float64
	TimestampNanos int64
}

// Listener receives sensor callbacks. Implementations must be safe for
// concurrent use: each feed delivers on its own goroutine.
type Listener interface {
	OnSensorChanged(s Sample)
	OnAccuracyChanged(kind Kind, accuracy int)
}

// Manager is what the lifecycle needs from a sensor service.
type Manager interface {
	HasSensor(kind Kind) bool
	Register(l Listener, kind Kind, rate Rate) error
	Unregister(l Listener)
}

// Feed produces samples into a Hub.
type Feed interface {
	Start(ctx context.Context) error
	Close()
}
