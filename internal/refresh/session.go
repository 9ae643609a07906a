package refresh

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the liveness handle of one refresh loop. It starts alive and can
// only be killed once; it is never revived.
type Session struct {
	id         string
	generation uint64
	startedAt  time.Time

	alive    atomic.Bool
	done     chan struct{}
	killOnce sync.Once
}

func NewSession(generation uint64) *Session {
	s := &Session{
		id:         uuid.NewString(),
		generation: generation,
		startedAt:  time.Now().UTC(),
		done:       make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Generation() uint64   { return s.generation }
func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) Alive() bool {
	if s == nil {
		return false
	}
	return s.alive.Load()
}

// Kill marks the session dead and wakes anything waiting on Done.
func (s *Session) Kill() {
	if s == nil {
		return
	}
	s.killOnce.Do(func() {
		s.alive.Store(false)
		close(s.done)
	})
}

func (s *Session) Done() <-chan struct{} { return s.done }
