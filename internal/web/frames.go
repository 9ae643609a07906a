package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"accelgraph/internal/graph"
)

// FrameBroadcaster fans display updates out to stream subscribers. It keeps
// the most recent update so new subscribers get an immediate frame. It is a
// graph.Sink.
type FrameBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan graph.Update
	nextID   int
	last     graph.Update
	haveLast bool

	dropped uint64
}

func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{
		subs: make(map[int]chan graph.Update),
	}
}

func (b *FrameBroadcaster) Subscribe(buffer int) (int, <-chan graph.Update) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan graph.Update, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *FrameBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *FrameBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Apply publishes u to every subscriber without blocking; a subscriber that
// is behind misses the frame.
func (b *FrameBroadcaster) Apply(u graph.Update) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.dropped++
		}
	}
	b.last = u
	b.haveLast = true
}

type FrameStats struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

func (b *FrameBroadcaster) Stats() FrameStats {
	if b == nil {
		return FrameStats{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return FrameStats{Subscribers: len(b.subs), Dropped: b.dropped}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const streamWriteWait = 2 * time.Second

// StreamHandler upgrades to a websocket and writes one JSON message per
// display update until the client goes away.
func (b *FrameBroadcaster) StreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b == nil {
			http.Error(w, "stream unavailable", http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: stream upgrade: %v", err)
			return
		}
		defer conn.Close()

		id, frames := b.Subscribe(8)
		defer b.Unsubscribe(id)

		// Reads only serve to notice the peer closing.
		_ = conn.SetReadDeadline(time.Time{})
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case u, ok := <-frames:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(u); err != nil {
					return
				}
			}
		}
	})
}
