// Package refresh pushes the latest fused values to the display at a fixed
// cadence.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"accelgraph/internal/fusion"
	"accelgraph/internal/graph"
)

// Interval between two dispatches to the display.
const Interval = 20 * time.Millisecond

// ErrInterrupted means the loop was stopped by something other than its own
// session being killed. The session is dead afterwards.
var ErrInterrupted = errors.New("refresh: loop interrupted")

// Source yields the values to show.
type Source interface {
	Snapshot() fusion.Snapshot
}

// Poster marshals a function onto the UI context.
type Poster interface {
	Post(fn func()) error
}

// Display receives one update per tick, always on the UI context.
type Display interface {
	Apply(u graph.Update)
}

type Scheduler struct {
	src     Source
	ui      Poster
	display Display

	interval time.Duration
	newTick  func(time.Duration) ticker

	seq          atomic.Uint64
	dispatches   atomic.Uint64
	postFailures atomic.Uint64
	lastDispatch atomic.Int64
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func New(src Source, ui Poster, display Display) *Scheduler {
	return &Scheduler{
		src:      src,
		ui:       ui,
		display:  display,
		interval: Interval,
		newTick:  func(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} },
	}
}

// Run dispatches until sess is killed (returns nil) or ctx ends while sess is
// still alive (kills sess and returns ErrInterrupted).
func (s *Scheduler) Run(ctx context.Context, sess *Session) error {
	if s == nil {
		return fmt.Errorf("refresh: scheduler is nil")
	}
	if sess == nil {
		return fmt.Errorf("refresh: session is nil")
	}
	t := s.newTick(s.interval)
	defer t.Stop()

	for {
		if !sess.Alive() {
			return nil
		}
		if err := s.dispatch(sess); err != nil {
			sess.Kill()
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		select {
		case <-sess.Done():
			return nil
		case <-ctx.Done():
			if !sess.Alive() {
				return nil
			}
			sess.Kill()
			return ErrInterrupted
		case <-t.C():
		}
	}
}

func (s *Scheduler) dispatch(sess *Session) error {
	snap := s.src.Snapshot()
	u := BuildUpdate(snap)
	u.Seq = s.seq.Add(1)
	u.At = time.Now().UTC()

	display := s.display
	err := s.ui.Post(func() {
		// A frame queued just before the session ended is stale.
		if sess.Alive() {
			display.Apply(u)
		}
	})
	switch {
	case err == nil:
		s.dispatches.Add(1)
		s.lastDispatch.Store(u.At.UnixNano())
		return nil
	case errors.Is(err, graph.ErrBusy):
		// UI is behind; the next tick carries newer values anyway.
		s.postFailures.Add(1)
		return nil
	default:
		s.postFailures.Add(1)
		return err
	}
}

// BuildUpdate turns a fused snapshot into one display update. Every point
// scrolls. An undefined orientation shows as zeros.
func BuildUpdate(snap fusion.Snapshot) graph.Update {
	f := snap.Filter
	o := snap.Orientation
	return graph.Update{
		Rate:     f.RateMillis,
		Accuracy: snap.Accuracy,
		Points: [graph.NumChannels]graph.Point{
			{Channel: graph.AccelX, Value: f.X, Scroll: true},
			{Channel: graph.AccelY, Value: f.Y, Scroll: true},
			{Channel: graph.AccelZ, Value: f.Z, Scroll: true},
			{Channel: graph.Pitch, Value: float64(o.Pitch), Scroll: true},
			{Channel: graph.Roll, Value: float64(o.Roll), Scroll: true},
			{Channel: graph.Azimuth, Value: float64(o.Azimuth), Scroll: true},
		},
	}
}

type Stats struct {
	Dispatches   uint64    `json:"dispatches"`
	PostFailures uint64    `json:"post_failures"`
	LastDispatch time.Time `json:"last_dispatch,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	st := Stats{Dispatches: s.dispatches.Load(), PostFailures: s.postFailures.Load()}
	if n := s.lastDispatch.Load(); n != 0 {
		st.LastDispatch = time.Unix(0, n).UTC()
	}
	return st
}
