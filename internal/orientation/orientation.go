// Package orientation turns one accelerometer and one magnetometer reading
// into device azimuth, pitch and roll.
package orientation

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// StandardGravity in m/s^2.
const StandardGravity = 9.80665

// ErrDegenerate is returned when the two input vectors cannot define a frame:
// a component is not finite, the device is in free fall, the field is near
// zero, or the vectors are parallel.
var ErrDegenerate = errors.New("orientation: degenerate accelerometer/magnetometer input")

const (
	// |a|^2 below this is treated as free fall.
	minGravitySquared = 0.01 * StandardGravity * StandardGravity
	// |e x a| below this means the field is (anti)parallel to gravity or absent.
	minHorizontalField = 0.1
)

// Frame is one orientation in whole degrees, each in [0,360).
type Frame struct {
	Azimuth int `json:"azimuth"`
	Pitch   int `json:"pitch"`
	Roll    int `json:"roll"`

	// Inclination is the angle of the magnetic field above the horizontal
	// plane in degrees; negative when the field dips below it.
	Inclination float64 `json:"inclination"`
}

// remapAxes maps display X to device X and display Y to device Z.
// Multiplying R by it on the right permutes columns: x<-x, y<- -z, z<-y.
var remapAxes = mat.NewDense(4, 4, []float64{
	1, 0, 0, 0,
	0, 0, 1, 0,
	0, -1, 0, 0,
	0, 0, 0, 1,
})

// Estimate runs the whole pipeline: rotation matrix, remap, angles, degrees.
func Estimate(accel, mag [3]float64) (Frame, error) {
	r, i, err := RotationMatrix(accel, mag)
	if err != nil {
		return Frame{}, err
	}
	azimuth, pitch, roll := Angles(Remap(r))
	return Frame{
		Azimuth:     Degrees(azimuth),
		Pitch:       Degrees(pitch),
		Roll:        Degrees(roll),
		Inclination: Inclination(i) * 180 / math.Pi,
	}, nil
}

// RotationMatrix returns the 4x4 rotation matrix R taking device coordinates to
// world coordinates (X east, Y magnetic north, Z up) and the 4x4 inclination
// matrix I rotating the field into the horizontal plane.
func RotationMatrix(accel, mag [3]float64) (rot, incl *mat.Dense, err error) {
	if !finite(accel) || !finite(mag) {
		return nil, nil, ErrDegenerate
	}
	a := r3.Vec{X: accel[0], Y: accel[1], Z: accel[2]}
	e := r3.Vec{X: mag[0], Y: mag[1], Z: mag[2]}

	if r3.Norm2(a) < minGravitySquared {
		return nil, nil, ErrDegenerate
	}
	h := r3.Cross(e, a)
	normH := r3.Norm(h)
	if normH < minHorizontalField {
		return nil, nil, ErrDegenerate
	}
	h = r3.Scale(1/normH, h)
	a = r3.Scale(1/r3.Norm(a), a)
	m := r3.Cross(a, h)

	rot = mat.NewDense(4, 4, []float64{
		h.X, h.Y, h.Z, 0,
		m.X, m.Y, m.Z, 0,
		a.X, a.Y, a.Z, 0,
		0, 0, 0, 1,
	})

	invE := 1 / r3.Norm(e)
	c := r3.Dot(e, m) * invE
	s := r3.Dot(e, a) * invE
	incl = mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, c, s, 0,
		0, -s, c, 0,
		0, 0, 0, 1,
	})
	return rot, incl, nil
}

// Remap applies the fixed display axis mapping to a 4x4 rotation matrix.
func Remap(rot mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(rot, remapAxes)
	return &out
}

// Angles extracts azimuth, pitch and roll in radians.
func Angles(rot mat.Matrix) (azimuth, pitch, roll float64) {
	azimuth = math.Atan2(rot.At(0, 1), rot.At(1, 1))
	pitch = math.Asin(clampUnit(-rot.At(2, 1)))
	roll = math.Atan2(-rot.At(2, 0), rot.At(2, 2))
	return azimuth, pitch, roll
}

// Inclination returns the field's elevation above the horizontal plane in radians.
func Inclination(incl mat.Matrix) float64 {
	return math.Atan2(incl.At(1, 2), incl.At(1, 1))
}

// Degrees converts radians to whole degrees in [0,360), wrapping negatives by
// adding 360 before flooring.
func Degrees(rad float64) int {
	deg := rad * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	d := int(math.Floor(deg)) % 360
	if d < 0 {
		d += 360
	}
	return d
}

// Rounding can push |x| a hair past 1 for a device pitched straight up.
func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func finite(v [3]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
