// Package sim drives the sensor hub from a simulated handset.
package sim

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"accelgraph/internal/orientation"
)

// Device is a handset lying roughly flat that slowly turns about the vertical
// axis while rocking in pitch and roll. All motion is a deterministic function
// of time.
type Device struct {
	// Period is one full turn about the vertical axis.
	Period time.Duration
	// TiltDeg is the rocking amplitude in pitch and roll.
	TiltDeg float64
	// FieldMicroTesla and DipDeg describe the local magnetic field.
	FieldMicroTesla float64
	DipDeg          float64
}

func (d Device) withDefaults() Device {
	if d.Period <= 0 {
		d.Period = 60 * time.Second
	}
	if d.FieldMicroTesla <= 0 {
		d.FieldMicroTesla = 50
	}
	if d.DipDeg == 0 {
		d.DipDeg = 60
	}
	return d
}

// Pose returns yaw, pitch and roll in radians at now.
func (d Device) Pose(now time.Time) (yaw, pitch, roll float64) {
	d = d.withDefaults()
	yaw = 2 * math.Pi * phase(now, d.Period)

	// Rocking periods are decoupled from the turn to avoid a repeating pattern.
	tilt := d.TiltDeg * math.Pi / 180
	pitch = tilt * math.Sin(2*math.Pi*phase(now, d.Period/3))
	roll = tilt * math.Sin(2*math.Pi*phase(now, d.Period/7))
	return yaw, pitch, roll
}

// Vectors returns what the accelerometer (m/s^2) and magnetometer (uT) read
// at now. World axes are east, north, up.
func (d Device) Vectors(now time.Time) (accel, mag [3]float64) {
	d = d.withDefaults()
	yaw, pitch, roll := d.Pose(now)

	dip := d.DipDeg * math.Pi / 180
	gravity := r3.Vec{Z: orientation.StandardGravity}
	field := r3.Vec{Y: d.FieldMicroTesla * math.Cos(dip), Z: -d.FieldMicroTesla * math.Sin(dip)}

	toDevice := func(v r3.Vec) r3.Vec {
		v = r3.NewRotation(-yaw, r3.Vec{Z: 1}).Rotate(v)
		v = r3.NewRotation(-pitch, r3.Vec{X: 1}).Rotate(v)
		return r3.NewRotation(-roll, r3.Vec{Y: 1}).Rotate(v)
	}
	a := toDevice(gravity)
	m := toDevice(field)
	return [3]float64{a.X, a.Y, a.Z}, [3]float64{m.X, m.Y, m.Z}
}

func phase(now time.Time, period time.Duration) float64 {
	if period <= 0 {
		return 0
	}
	return float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
}
