// Package netsrc reads sensor lines from a TCP endpoint into the sensor hub,
// reconnecting whenever the connection drops. Lines use the serial feed
// format.
package netsrc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"accelgraph/internal/sensor"
	"accelgraph/internal/serialsrc"
)

type Config struct {
	Addr string

	ReconnectDelay time.Duration
	// DialTimeout bounds each connect attempt.
	DialTimeout  time.Duration
	MaxLineBytes int
}

// Feed is a sensor.Feed backed by a TCP line stream. The remote end is
// assumed to carry both sensors.
type Feed struct {
	cfg Config
	hub *sensor.Hub

	started atomic.Bool
	closed  atomic.Bool

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time

	lines     atomic.Uint64
	malformed atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Stats struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Lines       uint64 `json:"lines"`
	Malformed   uint64 `json:"malformed"`
}

func NewFeed(cfg Config, hub *sensor.Hub) (*Feed, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("netsrc: addr is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4 * 1024
	}
	return &Feed{cfg: cfg, hub: hub, state: "stopped", done: make(chan struct{})}, nil
}

func (f *Feed) Start(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("netsrc: feed is nil")
	}
	if f.hub == nil {
		return fmt.Errorf("netsrc: hub is nil")
	}
	if f.closed.Load() {
		return fmt.Errorf("netsrc: feed is closed")
	}
	if f.started.Swap(true) {
		return fmt.Errorf("netsrc: feed already started")
	}
	f.hub.SetAvailable(sensor.Accelerometer, true)
	f.hub.SetAvailable(sensor.MagneticField, true)

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.setState("connecting", "")
	log.Printf("netsrc: reading %s", f.cfg.Addr)

	go func() {
		defer close(f.done)
		f.runLoop(runCtx)
	}()
	return nil
}

// Close stops the feed and waits for the reader to exit.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	if f.closed.Swap(true) {
		return
	}
	if !f.started.Load() {
		return
	}
	f.cancel()
	<-f.done
}

func (f *Feed) Stats() Stats {
	if f == nil {
		return Stats{}
	}
	f.mu.RLock()
	out := Stats{
		Addr:      f.cfg.Addr,
		State:     f.state,
		LastError: f.lastErr,
	}
	lastSeen := f.lastSeen
	f.mu.RUnlock()
	out.Lines = f.lines.Load()
	out.Malformed = f.malformed.Load()
	if !lastSeen.IsZero() {
		out.LastSeenUTC = lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (f *Feed) runLoop(ctx context.Context) {
	dialer := &net.Dialer{Timeout: f.cfg.DialTimeout}

	for {
		if ctx.Err() != nil {
			f.setState("stopped", "")
			return
		}

		f.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", f.cfg.Addr)
		if err != nil {
			f.setState("error", err.Error())
			if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
				f.setState("stopped", "")
				return
			}
			continue
		}

		f.setState("connected", "")
		// Unblock the read when the feed stops.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		f.read(conn)
		stop()
		_ = conn.Close()

		if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
			f.setState("stopped", "")
			return
		}
	}
}

func (f *Feed) read(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				f.setState("disconnected", "")
			} else {
				f.setState("disconnected", err.Error())
			}
			return
		}
		if len(line) > f.cfg.MaxLineBytes {
			f.setState("error", fmt.Sprintf("line too large (%d bytes)", len(line)))
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		f.handle(string(line))
	}
}

func (f *Feed) handle(text string) {
	f.lines.Add(1)
	ln, err := serialsrc.ParseLine(text)
	if err != nil {
		if n := f.malformed.Add(1); n == 1 || n%100 == 0 {
			log.Printf("netsrc: %v (malformed=%d)", err, n)
		}
		return
	}
	f.mu.Lock()
	f.lastSeen = time.Now().UTC()
	f.mu.Unlock()
	if ln.Accuracy {
		f.hub.EmitAccuracy(ln.Kind, ln.Level)
		return
	}
	f.hub.Emit(ln.Sample)
}

func (f *Feed) setState(state string, lastErr string) {
	f.mu.Lock()
	f.state = state
	if lastErr != "" {
		f.lastErr = lastErr
	} else if state == "connected" || state == "connecting" || state == "stopped" {
		f.lastErr = ""
	}
	f.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
