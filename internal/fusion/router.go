// Package fusion routes sensor callbacks into the orientation estimator and
// the motion filter and publishes the result as one immutable snapshot.
package fusion

import (
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"accelgraph/internal/motion"
	"accelgraph/internal/orientation"
	"accelgraph/internal/sensor"
)

// Snapshot is everything the refresh loop reads in one go. A published
// Snapshot is never modified.
type Snapshot struct {
	Orientation      orientation.Frame `json:"orientation"`
	OrientationValid bool              `json:"orientation_valid"`

	Filter motion.State `json:"filter"`

	Accuracy     int         `json:"accuracy"`
	AccuracyKind sensor.Kind `json:"-"`

	AccelSamples    uint64 `json:"accel_samples"`
	MagSamples      uint64 `json:"mag_samples"`
	DegenerateSkips uint64 `json:"degenerate_skips"`
	NonFinite       uint64 `json:"non_finite"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Router struct {
	// mu serialises writers; the two streams arrive on different goroutines.
	mu sync.Mutex

	accel, mag       [3]float64
	haveAcc, haveMag bool
	next             Snapshot

	snap atomic.Pointer[Snapshot]

	warnedDegenerate bool
	now              func() time.Time
}

func NewRouter() *Router {
	r := &Router{now: time.Now}
	r.snap.Store(&Snapshot{})
	return r
}

// Reset forgets every sample and returns the published snapshot to its zero
// value. Called when a new session begins.
func (r *Router) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accel, r.mag = [3]float64{}, [3]float64{}
	r.haveAcc, r.haveMag = false, false
	r.next = Snapshot{}
	r.warnedDegenerate = false
	r.snap.Store(&Snapshot{})
}

// Snapshot returns the latest published snapshot.
func (r *Router) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return *r.snap.Load()
}

func (r *Router) OnSensorChanged(s sensor.Sample) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !finite(s.Values) {
		r.next.NonFinite++
		if r.next.NonFinite == 1 {
			log.Printf("fusion: dropping non-finite %s sample", s.Kind)
		}
		r.publishLocked()
		return
	}

	switch s.Kind {
	case sensor.MagneticField:
		r.mag = s.Values
		r.haveMag = true
		r.next.MagSamples++
	case sensor.Accelerometer:
		r.accel = s.Values
		r.haveAcc = true
		r.next.AccelSamples++
	default:
		return
	}

	if r.haveAcc && r.haveMag {
		f, err := orientation.Estimate(r.accel, r.mag)
		switch {
		case err == nil:
			r.next.Orientation = f
			r.next.OrientationValid = true
			r.warnedDegenerate = false
		case errors.Is(err, orientation.ErrDegenerate):
			r.next.DegenerateSkips++
			if !r.warnedDegenerate {
				log.Printf("fusion: %v; keeping last orientation", err)
				r.warnedDegenerate = true
			}
		}
	}

	if s.Kind == sensor.Accelerometer {
		r.next.Filter = motion.Update(r.next.Filter, s.Values, s.TimestampNanos)
	}
	r.publishLocked()
}

func (r *Router) OnAccuracyChanged(kind sensor.Kind, accuracy int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next.Accuracy = accuracy
	r.next.AccuracyKind = kind
	r.publishLocked()
}

func finite(v [3]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (r *Router) publishLocked() {
	r.next.UpdatedAt = r.now().UTC()
	s := r.next
	r.snap.Store(&s)
}
