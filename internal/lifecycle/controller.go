// Package lifecycle starts and stops sensor delivery and the refresh loop as
// the application moves between the foreground and background.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"accelgraph/internal/fusion"
	"accelgraph/internal/refresh"
	"accelgraph/internal/sensor"
)

// ErrMissingCapability is returned by Resume when the device has no
// accelerometer. Nothing is registered and no loop starts.
var ErrMissingCapability = errors.New("lifecycle: device has no accelerometer")

// NoticeNoAccelerometer is shown to the user when Resume fails for lack of an
// accelerometer.
const NoticeNoAccelerometer = "no accelerometer"

// Noticer shows a one-shot message. It is only called on the UI loop.
type Noticer interface {
	Notice(msg string)
}

type Config struct {
	Manager sensor.Manager
	Router  *fusion.Router
	UI      refresh.Poster
	Display refresh.Display
	Notices Noticer
}

type State struct {
	Active     bool      `json:"active"`
	Running    bool      `json:"running"`
	SessionID  string    `json:"session_id,omitempty"`
	Generation uint64    `json:"generation"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Loops      int       `json:"loops"`
	LastError  string    `json:"last_error,omitempty"`
}

type Controller struct {
	cfg Config

	// mu serialises Resume and Pause.
	mu     sync.Mutex
	active bool
	gen    uint64
	sess   *refresh.Session
	sched  *refresh.Scheduler
	done   chan struct{}

	loops atomic.Int32

	errMu   sync.Mutex
	lastErr string
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Resume activates sensor delivery and starts a fresh refresh loop bounded by
// ctx. It is a no-op when already active with a live session. An active
// controller whose loop was interrupted is torn down and re-activated.
func (c *Controller) Resume(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("lifecycle: controller is nil")
	}
	if c.cfg.Manager == nil || c.cfg.Router == nil || c.cfg.UI == nil || c.cfg.Display == nil {
		return fmt.Errorf("lifecycle: controller is not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active && c.sess.Alive() {
		return nil
	}
	if c.active {
		log.Printf("lifecycle: session %s was interrupted; re-activating", c.sess.ID())
		c.deactivateLocked()
	}

	mgr := c.cfg.Manager
	if !mgr.HasSensor(sensor.Accelerometer) {
		c.notice(NoticeNoAccelerometer)
		c.setErr(ErrMissingCapability)
		return ErrMissingCapability
	}

	c.cfg.Router.Reset()
	if err := mgr.Register(c.cfg.Router, sensor.Accelerometer, sensor.RateFastest); err != nil {
		mgr.Unregister(c.cfg.Router)
		err = fmt.Errorf("lifecycle: register accelerometer: %w", err)
		c.setErr(err)
		return err
	}
	if mgr.HasSensor(sensor.MagneticField) {
		if err := mgr.Register(c.cfg.Router, sensor.MagneticField, sensor.RateFastest); err != nil {
			mgr.Unregister(c.cfg.Router)
			err = fmt.Errorf("lifecycle: register magnetic field: %w", err)
			c.setErr(err)
			return err
		}
	} else {
		log.Printf("lifecycle: no magnetometer; orientation stays undefined")
	}

	c.gen++
	sess := refresh.NewSession(c.gen)
	sched := refresh.New(c.cfg.Router, c.cfg.UI, c.cfg.Display)
	done := make(chan struct{})
	c.setErr(nil)

	c.loops.Add(1)
	go func() {
		defer close(done)
		defer c.loops.Add(-1)
		if err := sched.Run(ctx, sess); err != nil {
			log.Printf("lifecycle: session %s ended: %v", sess.ID(), err)
			c.setErr(err)
		}
	}()

	c.active = true
	c.sess = sess
	c.sched = sched
	c.done = done
	log.Printf("lifecycle: session %s started (generation %d)", sess.ID(), sess.Generation())
	return nil
}

// Pause stops sensor delivery and waits for the refresh loop to exit. It is a
// no-op when inactive.
func (c *Controller) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	id := c.sess.ID()
	c.deactivateLocked()
	log.Printf("lifecycle: session %s paused", id)
}

// Close is Pause; it lets the controller sit alongside other services.
func (c *Controller) Close() { c.Pause() }

func (c *Controller) deactivateLocked() {
	c.sess.Kill()
	c.cfg.Manager.Unregister(c.cfg.Router)
	<-c.done
	c.active = false
}

func (c *Controller) State() State {
	if c == nil {
		return State{}
	}
	c.mu.Lock()
	st := State{Active: c.active, Generation: c.gen}
	if c.sess != nil {
		st.Running = c.active && c.sess.Alive()
		st.SessionID = c.sess.ID()
		st.StartedAt = c.sess.StartedAt()
	}
	c.mu.Unlock()
	st.Loops = int(c.loops.Load())
	c.errMu.Lock()
	st.LastError = c.lastErr
	c.errMu.Unlock()
	return st
}

// SchedulerStats reports on the most recent refresh loop.
func (c *Controller) SchedulerStats() refresh.Stats {
	if c == nil {
		return refresh.Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Stats()
}

func (c *Controller) notice(msg string) {
	n := c.cfg.Notices
	if n == nil {
		log.Printf("lifecycle: %s", msg)
		return
	}
	if err := c.cfg.UI.Post(func() { n.Notice(msg) }); err != nil {
		log.Printf("lifecycle: notice %q not shown: %v", msg, err)
	}
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if err == nil {
		c.lastErr = ""
		return
	}
	c.lastErr = err.Error()
}
