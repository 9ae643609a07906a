package replay

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"accelgraph/internal/sensor"
	"accelgraph/internal/serialsrc"
)

type FeedConfig struct {
	Path  string
	Speed float64
	Loop  bool
}

// Feed plays a recorded log into the hub. The sensors present in the log are
// the sensors the device has.
type Feed struct {
	cfg FeedConfig
	hub *sensor.Hub

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	played atomic.Uint64
}

func NewFeed(cfg FeedConfig, hub *sensor.Hub) *Feed {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &Feed{cfg: cfg, hub: hub}
}

func (f *Feed) Start(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("replay: feed is nil")
	}
	if f.hub == nil {
		return fmt.Errorf("replay: hub is nil")
	}
	file, err := os.Open(f.cfg.Path)
	if err != nil {
		return fmt.Errorf("replay: open: %w", err)
	}
	recs, err := NewReader(file).ReadAll()
	_ = file.Close()
	if err != nil {
		return err
	}

	present := map[sensor.Kind]bool{}
	for _, r := range recs {
		if r.Line != nil && !r.Line.Accuracy {
			present[r.Line.Kind] = true
		}
	}
	f.hub.SetAvailable(sensor.Accelerometer, present[sensor.Accelerometer])
	f.hub.SetAvailable(sensor.MagneticField, present[sensor.MagneticField])

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.mu.Lock()
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	log.Printf("replay: playing %s (%d records, speed %.2f, loop %v)", f.cfg.Path, len(recs), f.cfg.Speed, f.cfg.Loop)
	start := time.Now()
	go func() {
		defer close(done)
		err := Play(ctx, recs, f.cfg.Speed, f.cfg.Loop, nil, func(ln serialsrc.Line) error {
			f.played.Add(1)
			if ln.Accuracy {
				f.hub.EmitAccuracy(ln.Kind, ln.Level)
				return nil
			}
			// Restamp so timestamps keep increasing across loops.
			s := ln.Sample
			s.TimestampNanos = time.Since(start).Nanoseconds()
			f.hub.Emit(s)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("replay: %v", err)
			return
		}
		log.Printf("replay: finished after %d records", f.played.Load())
	}()
	return nil
}

type FeedStats struct {
	Played uint64 `json:"played"`
}

func (f *Feed) Stats() FeedStats {
	if f == nil {
		return FeedStats{}
	}
	return FeedStats{Played: f.played.Load()}
}

// Close stops playback and waits for it to end.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Recorder is a sensor listener that appends every callback to a Writer.
type Recorder struct {
	w   *Writer
	now func() time.Time

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewRecorder(w *Writer) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

func (r *Recorder) OnSensorChanged(s sensor.Sample) {
	r.write(serialsrc.Line{Kind: s.Kind, Sample: s})
}

func (r *Recorder) OnAccuracyChanged(kind sensor.Kind, accuracy int) {
	r.write(serialsrc.Line{Accuracy: true, Kind: kind, Level: accuracy})
}

func (r *Recorder) write(ln serialsrc.Line) {
	if err := r.w.WriteLine(r.now(), ln); err != nil {
		if r.failed.Add(1) == 1 {
			log.Printf("replay: record failed: %v", err)
		}
		return
	}
	r.written.Add(1)
}

type RecorderStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

func (r *Recorder) Stats() RecorderStats {
	if r == nil {
		return RecorderStats{}
	}
	return RecorderStats{Written: r.written.Load(), Failed: r.failed.Load()}
}
