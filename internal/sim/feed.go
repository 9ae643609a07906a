package sim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"accelgraph/internal/sensor"
)

type FeedConfig struct {
	Device Device

	AccelInterval time.Duration
	MagInterval   time.Duration

	// Accelerometer and Magnetometer declare which sensors the simulated
	// handset has.
	Accelerometer bool
	Magnetometer  bool
}

// Feed emits the simulated handset's readings into a hub. The two sensors run
// on independent tickers so their samples interleave irregularly.
type Feed struct {
	cfg FeedConfig
	hub *sensor.Hub
	now func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewFeed(cfg FeedConfig, hub *sensor.Hub) *Feed {
	if cfg.AccelInterval <= 0 {
		cfg.AccelInterval = 10 * time.Millisecond
	}
	if cfg.MagInterval <= 0 {
		cfg.MagInterval = 25 * time.Millisecond
	}
	return &Feed{cfg: cfg, hub: hub, now: time.Now, stopCh: make(chan struct{})}
}

func (f *Feed) Start(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("sim: feed is nil")
	}
	if f.hub == nil {
		return fmt.Errorf("sim: hub is nil")
	}
	f.startOnce.Do(func() {
		f.hub.SetAvailable(sensor.Accelerometer, f.cfg.Accelerometer)
		f.hub.SetAvailable(sensor.MagneticField, f.cfg.Magnetometer)

		start := f.now()
		if f.cfg.Accelerometer {
			f.hub.EmitAccuracy(sensor.Accelerometer, sensor.AccuracyHigh)
			f.wg.Add(1)
			go f.run(ctx, sensor.Accelerometer, f.cfg.AccelInterval, start)
		}
		if f.cfg.Magnetometer {
			f.hub.EmitAccuracy(sensor.MagneticField, sensor.AccuracyHigh)
			f.wg.Add(1)
			go f.run(ctx, sensor.MagneticField, f.cfg.MagInterval, start)
		}
		log.Printf("sim: feed started (accelerometer=%t magnetometer=%t)", f.cfg.Accelerometer, f.cfg.Magnetometer)
	})
	return nil
}

func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.wg.Wait()
}

func (f *Feed) run(ctx context.Context, kind sensor.Kind, every time.Duration, start time.Time) {
	defer f.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-t.C:
			f.hub.Emit(f.Sample(kind, start))
		}
	}
}

// Sample reads one sensor now. Timestamps count from start.
func (f *Feed) Sample(kind sensor.Kind, start time.Time) sensor.Sample {
	now := f.now()
	accel, mag := f.cfg.Device.Vectors(now)
	s := sensor.Sample{Kind: kind, TimestampNanos: now.Sub(start).Nanoseconds()}
	if kind == sensor.MagneticField {
		s.Values = mag
	} else {
		s.Values = accel
	}
	return s
}
