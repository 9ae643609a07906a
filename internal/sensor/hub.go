package sensor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrNoSensor = errors.New("sensor: no such sensor")

type registration struct {
	l        Listener
	kind     Kind
	minDelta int64
	lastTS   int64
	have     bool

	// deliver is held around every callback; removed is set under it once
	// the registration has left the hub.
	deliver sync.Mutex
	removed bool
}

// call runs fn for the listener unless the registration was removed.
func (r *registration) call(fn func(Listener)) bool {
	r.deliver.Lock()
	defer r.deliver.Unlock()
	if r.removed {
		return false
	}
	fn(r.l)
	return true
}

// Hub fans samples out to registered listeners.
type Hub struct {
	mu        sync.RWMutex
	available map[Kind]bool
	accuracy  map[Kind]int
	regs      []*registration

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{available: make(map[Kind]bool), accuracy: make(map[Kind]int)}
}

// SetAvailable declares whether a sensor kind exists on this device.
func (h *Hub) SetAvailable(kind Kind, ok bool) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.available[kind] = ok
	h.mu.Unlock()
}

func (h *Hub) HasSensor(kind Kind) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.available[kind]
}

// Register adds l for kind. Registering the same listener for the same kind
// again replaces the previous rate. A new registration is told the last known
// accuracy of kind straight away.
func (h *Hub) Register(l Listener, kind Kind, rate Rate) error {
	if h == nil {
		return fmt.Errorf("sensor: hub is nil")
	}
	if l == nil {
		return fmt.Errorf("sensor: listener is nil")
	}
	if rate < 0 {
		rate = RateFastest
	}
	h.mu.Lock()
	if !h.available[kind] {
		h.mu.Unlock()
		return fmt.Errorf("register %s: %w", kind, ErrNoSensor)
	}
	for _, r := range h.regs {
		if r.l == l && r.kind == kind {
			r.minDelta = int64(rate)
			h.mu.Unlock()
			return nil
		}
	}
	reg := &registration{l: l, kind: kind, minDelta: int64(rate)}
	h.regs = append(h.regs, reg)
	acc, known := h.accuracy[kind]
	h.mu.Unlock()

	if known {
		reg.call(func(l Listener) { l.OnAccuracyChanged(kind, acc) })
	}
	return nil
}

// Unregister removes every registration of l. It waits for callbacks already
// in progress for l; none start after it returns. A listener must not
// unregister itself from inside a callback.
func (h *Hub) Unregister(l Listener) {
	if h == nil {
		return
	}
	h.mu.Lock()
	var gone []*registration
	kept := h.regs[:0]
	for _, r := range h.regs {
		if r.l != l {
			kept = append(kept, r)
		} else {
			gone = append(gone, r)
		}
	}
	for i := len(kept); i < len(h.regs); i++ {
		h.regs[i] = nil
	}
	h.regs = kept
	h.mu.Unlock()

	for _, r := range gone {
		r.deliver.Lock()
		r.removed = true
		r.deliver.Unlock()
	}
}

// Listeners reports how many registrations are active.
func (h *Hub) Listeners() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.regs)
}

// Emit delivers s to every listener registered for its kind, honouring each
// registration's rate. Samples of an unavailable kind are dropped.
func (h *Hub) Emit(s Sample) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if !h.available[s.Kind] {
		h.mu.Unlock()
		h.dropped.Add(1)
		return
	}
	targets := make([]*registration, 0, len(h.regs))
	for _, r := range h.regs {
		if r.kind != s.Kind {
			continue
		}
		if r.have && r.minDelta > 0 && s.TimestampNanos-r.lastTS < r.minDelta {
			continue
		}
		r.lastTS = s.TimestampNanos
		r.have = true
		targets = append(targets, r)
	}
	h.mu.Unlock()

	var n uint64
	for _, r := range targets {
		if r.call(func(l Listener) { l.OnSensorChanged(s) }) {
			n++
		}
	}
	if n == 0 {
		h.dropped.Add(1)
		return
	}
	h.delivered.Add(n)
}

// EmitAccuracy records the accuracy of kind and notifies listeners
// registered for it.
func (h *Hub) EmitAccuracy(kind Kind, accuracy int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.accuracy[kind] = accuracy
	targets := make([]*registration, 0, len(h.regs))
	for _, r := range h.regs {
		if r.kind == kind {
			targets = append(targets, r)
		}
	}
	h.mu.Unlock()
	for _, r := range targets {
		r.call(func(l Listener) { l.OnAccuracyChanged(kind, accuracy) })
	}
}

type HubStats struct {
	Listeners int    `json:"listeners"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	return HubStats{
		Listeners: h.Listeners(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}
