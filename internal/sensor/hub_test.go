package sensor

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recListener struct {
	mu       sync.Mutex
	samples  []Sample
	accuracy []int
}

func (r *recListener) OnSensorChanged(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recListener) OnAccuracyChanged(_ Kind, accuracy int) {
	r.mu.Lock()
	r.accuracy = append(r.accuracy, accuracy)
	r.mu.Unlock()
}

func TestHub_RegisterMissingSensor(t *testing.T) {
	h := NewHub()
	err := h.Register(&recListener{}, Accelerometer, RateFastest)
	if !errors.Is(err, ErrNoSensor) {
		t.Fatalf("err=%v want %v", err, ErrNoSensor)
	}
	if h.Listeners() != 0 {
		t.Fatalf("listeners=%d want 0", h.Listeners())
	}
}

func TestHub_EmitRoutesByKind(t *testing.T) {
	h := NewHub()
	h.SetAvailable(Accelerometer, true)
	h.SetAvailable(MagneticField, true)

	acc := &recListener{}
	if err := h.Register(acc, Accelerometer, RateFastest); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	h.Emit(Sample{Kind: Accelerometer, Values: [3]float64{1, 2, 3}, TimestampNanos: 1})
	h.Emit(Sample{Kind: MagneticField, Values: [3]float64{4, 5, 6}, TimestampNanos: 2})

	if len(acc.samples) != 1 {
		t.Fatalf("samples=%d want 1", len(acc.samples))
	}
	if acc.samples[0].Values != [3]float64{1, 2, 3} {
		t.Fatalf("values=%v", acc.samples[0].Values)
	}
	st := h.Stats()
	if st.Delivered != 1 || st.Dropped != 1 {
		t.Fatalf("stats=%+v want delivered=1 dropped=1", st)
	}
}

func TestHub_RateThrottlesPerRegistration(t *testing.T) {
	h := NewHub()
	h.SetAvailable(Accelerometer, true)
	fast := &recListener{}
	slow := &recListener{}
	_ = h.Register(fast, Accelerometer, RateFastest)
	_ = h.Register(slow, Accelerometer, RateGame)

	step := int64(5 * time.Millisecond)
	for i := int64(0); i < 10; i++ {
		h.Emit(Sample{Kind: Accelerometer, TimestampNanos: i * step})
	}
	if len(fast.samples) != 10 {
		t.Fatalf("fast=%d want 10", len(fast.samples))
	}
	// 0, 20ms, 40ms.
	if len(slow.samples) != 3 {
		t.Fatalf("slow=%d want 3", len(slow.samples))
	}
}

func TestHub_UnregisterRemovesAllKinds(t *testing.T) {
	h := NewHub()
	h.SetAvailable(Accelerometer, true)
	h.SetAvailable(MagneticField, true)
	l := &recListener{}
	_ = h.Register(l, Accelerometer, RateFastest)
	_ = h.Register(l, MagneticField, RateFastest)
	if h.Listeners() != 2 {
		t.Fatalf("listeners=%d want 2", h.Listeners())
	}
	h.Unregister(l)
	if h.Listeners() != 0 {
		t.Fatalf("listeners=%d want 0", h.Listeners())
	}
	h.Emit(Sample{Kind: Accelerometer})
	h.EmitAccuracy(Accelerometer, AccuracyHigh)
	if len(l.samples) != 0 || len(l.accuracy) != 0 {
		t.Fatalf("unexpected delivery after unregister")
	}
}

func TestHub_EmitAccuracy(t *testing.T) {
	h := NewHub()
	h.SetAvailable(MagneticField, true)
	l := &recListener{}
	_ = h.Register(l, MagneticField, RateFastest)
	h.EmitAccuracy(MagneticField, AccuracyLow)
	if len(l.accuracy) != 1 || l.accuracy[0] != AccuracyLow {
		t.Fatalf("accuracy=%v want [%d]", l.accuracy, AccuracyLow)
	}
}

func TestHub_RegisterReplaysLastAccuracy(t *testing.T) {
	h := NewHub()
	h.SetAvailable(Accelerometer, true)
	h.EmitAccuracy(Accelerometer, AccuracyMedium)

	l := &recListener{}
	if err := h.Register(l, Accelerometer, RateFastest); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if len(l.accuracy) != 1 || l.accuracy[0] != AccuracyMedium {
		t.Fatalf("accuracy=%v want [%d]", l.accuracy, AccuracyMedium)
	}
	// Re-registering only changes the rate.
	_ = h.Register(l, Accelerometer, RateUI)
	if len(l.accuracy) != 1 {
		t.Fatalf("accuracy replayed twice: %v", l.accuracy)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"accelerometer":  Accelerometer,
		"A":              Accelerometer,
		"magnetic_field": MagneticField,
		" mag ":          MagneticField,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q)=%v want %v", in, got, want)
		}
	}
	if _, err := ParseKind("gyro"); err == nil {
		t.Fatalf("expected error")
	}
}

type blockingListener struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingListener) OnSensorChanged(Sample) {
	b.entered <- struct{}{}
	<-b.release
}

func (b *blockingListener) OnAccuracyChanged(Kind, int) {}

// A sample already picked up by Emit must not reach a listener that was
// unregistered before its turn came.
func TestHub_NoDeliveryAfterUnregister(t *testing.T) {
	h := NewHub()
	h.SetAvailable(Accelerometer, true)

	first := &blockingListener{entered: make(chan struct{}, 1), release: make(chan struct{})}
	second := &recListener{}
	if err := h.Register(first, Accelerometer, RateFastest); err != nil {
		t.Fatalf("Register(first) error: %v", err)
	}
	if err := h.Register(second, Accelerometer, RateFastest); err != nil {
		t.Fatalf("Register(second) error: %v", err)
	}

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		h.Emit(Sample{Kind: Accelerometer, TimestampNanos: 1})
	}()
	<-first.entered

	h.Unregister(second)
	// A fresh registration must not pick up the sample in flight either.
	if err := h.Register(second, Accelerometer, RateFastest); err != nil {
		t.Fatalf("Register(second) again error: %v", err)
	}
	close(first.release)
	<-emitted

	second.mu.Lock()
	n := len(second.samples)
	second.mu.Unlock()
	if n != 0 {
		t.Fatalf("second got %d samples after unregister; want 0", n)
	}
}

func TestHub_UnregisterWaitsForCallback(t *testing.T) {
	h := NewHub()
	h.SetAvailable(Accelerometer, true)
	l := &blockingListener{entered: make(chan struct{}, 1), release: make(chan struct{})}
	if err := h.Register(l, Accelerometer, RateFastest); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	go h.Emit(Sample{Kind: Accelerometer, TimestampNanos: 1})
	<-l.entered

	unregistered := make(chan struct{})
	go func() {
		defer close(unregistered)
		h.Unregister(l)
	}()
	select {
	case <-unregistered:
		t.Fatalf("Unregister returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(l.release)
	select {
	case <-unregistered:
	case <-time.After(2 * time.Second):
		t.Fatalf("Unregister did not return after the callback finished")
	}

	h.Emit(Sample{Kind: Accelerometer, TimestampNanos: 2})
	select {
	case <-l.entered:
		t.Fatalf("callback after Unregister")
	default:
	}
}
