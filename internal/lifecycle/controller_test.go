package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"accelgraph/internal/fusion"
	"accelgraph/internal/graph"
	"accelgraph/internal/refresh"
	"accelgraph/internal/sensor"
)

type registration struct {
	kind sensor.Kind
	rate sensor.Rate
}

type fakeManager struct {
	mu         sync.Mutex
	available  map[sensor.Kind]bool
	regs       []registration
	unregister int
}

func newFakeManager(kinds ...sensor.Kind) *fakeManager {
	m := &fakeManager{available: map[sensor.Kind]bool{}}
	for _, k := range kinds {
		m.available[k] = true
	}
	return m
}

func (m *fakeManager) HasSensor(k sensor.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available[k]
}

func (m *fakeManager) Register(_ sensor.Listener, k sensor.Kind, r sensor.Rate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs = append(m.regs, registration{kind: k, rate: r})
	return nil
}

func (m *fakeManager) Unregister(sensor.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregister++
}

func (m *fakeManager) registrations() []registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registration(nil), m.regs...)
}

type inlineUI struct{}

func (inlineUI) Post(fn func()) error {
	fn()
	return nil
}

type countingDisplay struct {
	mu      sync.Mutex
	applied atomic.Int64
	notices []string
	times   []time.Time
}

func (d *countingDisplay) Apply(graph.Update) {
	d.mu.Lock()
	d.times = append(d.times, time.Now())
	d.mu.Unlock()
	d.applied.Add(1)
}

// appliedSince returns the arrival times of updates after the first n.
func (d *countingDisplay) appliedSince(n int) []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.times) {
		return nil
	}
	return append([]time.Time(nil), d.times[n:]...)
}

func (d *countingDisplay) Notice(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, msg)
}

func newController(m *fakeManager) (*Controller, *countingDisplay) {
	d := &countingDisplay{}
	c := New(Config{
		Manager: m,
		Router:  fusion.NewRouter(),
		UI:      inlineUI{},
		Display: d,
		Notices: d,
	})
	return c, d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResume_MissingAccelerometer(t *testing.T) {
	m := newFakeManager(sensor.MagneticField)
	c, d := newController(m)

	err := c.Resume(context.Background())
	if !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("err=%v want %v", err, ErrMissingCapability)
	}
	if regs := m.registrations(); len(regs) != 0 {
		t.Fatalf("registrations=%v want none", regs)
	}
	st := c.State()
	if st.Active || st.Running || st.Loops != 0 || st.Generation != 0 {
		t.Fatalf("state=%+v", st)
	}
	if st.LastError == "" {
		t.Fatalf("last error not recorded")
	}
	if len(d.notices) != 1 || d.notices[0] != NoticeNoAccelerometer {
		t.Fatalf("notices=%v", d.notices)
	}
	if d.applied.Load() != 0 {
		t.Fatalf("display updated without a session")
	}
}

func TestResume_RegistersBothSensorsFastest(t *testing.T) {
	m := newFakeManager(sensor.Accelerometer, sensor.MagneticField)
	c, d := newController(m)
	defer c.Pause()

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	regs := m.registrations()
	if len(regs) != 2 {
		t.Fatalf("registrations=%v want 2", regs)
	}
	for _, r := range regs {
		if r.rate != sensor.RateFastest {
			t.Fatalf("%s registered at %v want fastest", r.kind, r.rate)
		}
	}
	waitFor(t, "first update", func() bool { return d.applied.Load() > 0 })
}

func TestResume_WithoutMagnetometer(t *testing.T) {
	m := newFakeManager(sensor.Accelerometer)
	c, _ := newController(m)
	defer c.Pause()

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	regs := m.registrations()
	if len(regs) != 1 || regs[0].kind != sensor.Accelerometer {
		t.Fatalf("registrations=%v want accelerometer only", regs)
	}
}

func TestResumePauseResume_SingleLoop(t *testing.T) {
	m := newFakeManager(sensor.Accelerometer, sensor.MagneticField)
	c, d := newController(m)
	ctx := context.Background()

	if err := c.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	first := c.State()
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("second Resume() error: %v", err)
	}
	if st := c.State(); st.SessionID != first.SessionID || st.Loops != 1 {
		t.Fatalf("idempotent resume changed state: %+v vs %+v", st, first)
	}

	c.Pause()
	st := c.State()
	if st.Active || st.Running || st.Loops != 0 {
		t.Fatalf("after pause state=%+v", st)
	}
	if m.unregister != 1 {
		t.Fatalf("unregister=%d want 1", m.unregister)
	}
	applied := d.applied.Load()
	time.Sleep(3 * refresh.Interval)
	if got := d.applied.Load(); got != applied {
		t.Fatalf("display updated after pause: %d -> %d", applied, got)
	}

	mark := int(d.applied.Load())
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("Resume() after pause error: %v", err)
	}
	defer c.Pause()
	st = c.State()
	if !st.Running || st.Loops != 1 {
		t.Fatalf("state=%+v want one running loop", st)
	}
	if st.Generation != first.Generation+1 || st.SessionID == first.SessionID {
		t.Fatalf("expected a fresh session: %+v vs %+v", st, first)
	}

	// A second loop would dispatch between the first loop's ticks. Allow one
	// short gap for a tick delivered late.
	waitFor(t, "dispatches after resume", func() bool { return len(d.appliedSince(mark)) >= 12 })
	times := d.appliedSince(mark)
	short := 0
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < refresh.Interval/2 {
			short++
		}
	}
	if short > 1 {
		t.Fatalf("%d of %d dispatches arrived within %v of the previous one", short, len(times)-1, refresh.Interval/2)
	}
}

func TestPause_WhenInactiveIsNoop(t *testing.T) {
	m := newFakeManager(sensor.Accelerometer)
	c, _ := newController(m)
	c.Pause()
	if m.unregister != 0 {
		t.Fatalf("unregister=%d want 0", m.unregister)
	}
}

func TestInterruptedSession_NextResumeReactivates(t *testing.T) {
	m := newFakeManager(sensor.Accelerometer, sensor.MagneticField)
	c, _ := newController(m)
	ctx, cancel := context.WithCancel(context.Background())

	if err := c.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	cancel()
	waitFor(t, "loop exit", func() bool { return c.State().Loops == 0 })

	st := c.State()
	if !st.Active || st.Running {
		t.Fatalf("state=%+v want active but not running", st)
	}
	if !strings.Contains(st.LastError, "interrupted") {
		t.Fatalf("last error=%q", st.LastError)
	}

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	defer c.Pause()
	st = c.State()
	if !st.Running || st.Generation != 2 || st.Loops != 1 || st.LastError != "" {
		t.Fatalf("state=%+v", st)
	}
	if m.unregister != 1 {
		t.Fatalf("unregister=%d want 1", m.unregister)
	}
}
