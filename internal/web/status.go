package web

import (
	"sync/atomic"
	"time"

	"accelgraph/internal/fusion"
	"accelgraph/internal/graph"
	"accelgraph/internal/lifecycle"
	"accelgraph/internal/refresh"
	"accelgraph/internal/sensor"
)

// StatusSources are read each time /api/status is served. Any of them may be
// nil.
type StatusSources struct {
	Session   func() lifecycle.State
	Scheduler func() refresh.Stats
	Fusion    func() fusion.Snapshot
	Hub       func() sensor.HubStats
	UI        func() graph.LoopStats
	Frames    func() FrameStats
	// Extra carries per-component counters (feed, mirrors) keyed by name.
	Extra func() map[string]any
}

type Status struct {
	startUnixNano int64
	source        atomic.Value // string
	listen        atomic.Value // string
	feedErr       atomic.Value // string
	sources       atomic.Pointer[StatusSources]
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.listen.Store("")
	s.feedErr.Store("")
	s.sources.Store(&StatusSources{})
	return s
}

func (s *Status) SetStatic(source string, listen string) {
	if source != "" {
		s.source.Store(source)
	}
	if listen != "" {
		s.listen.Store(listen)
	}
}

func (s *Status) SetSources(src StatusSources) {
	s.sources.Store(&src)
}

// SetFeedError records why the sensor feed failed; empty clears it.
func (s *Status) SetFeedError(msg string) {
	s.feedErr.Store(msg)
}

type StatusSnapshot struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	UptimeSec int64  `json:"uptime_sec"`
	Source    string `json:"source"`
	Listen    string `json:"listen"`
	FeedError string `json:"feed_error,omitempty"`

	Session   lifecycle.State `json:"session"`
	Scheduler refresh.Stats   `json:"scheduler"`
	Fusion    fusion.Snapshot `json:"fusion"`
	Hub       sensor.HubStats `json:"hub"`
	UI        graph.LoopStats `json:"ui"`
	Frames    FrameStats      `json:"frames"`
	Extra     map[string]any  `json:"extra,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	uptime := nowUTC.Sub(start)

	snap := StatusSnapshot{
		Service:   serviceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(uptime.Seconds()),
		Source:    s.source.Load().(string),
		Listen:    s.listen.Load().(string),
		FeedError: s.feedErr.Load().(string),
	}
	src := s.sources.Load()
	if src.Session != nil {
		snap.Session = src.Session()
	}
	if src.Scheduler != nil {
		snap.Scheduler = src.Scheduler()
	}
	if src.Fusion != nil {
		snap.Fusion = src.Fusion()
	}
	if src.Hub != nil {
		snap.Hub = src.Hub()
	}
	if src.UI != nil {
		snap.UI = src.UI()
	}
	if src.Frames != nil {
		snap.Frames = src.Frames()
	}
	if src.Extra != nil {
		snap.Extra = src.Extra()
	}
	return snap
}
