// Package imu polls an ICM-20948 over Linux I2C and feeds its accelerometer
// and magnetometer into the sensor hub.
package imu

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"accelgraph/internal/i2c"
	"accelgraph/internal/sensor"
)

type Config struct {
	// Bus is the I2C bus number (/dev/i2c-N). Defaults to 1.
	Bus  int
	Addr uint16

	AccelInterval time.Duration
	MagInterval   time.Duration
}

type devBus interface {
	Dev(addr uint16) regIO
	Close() error
}

type i2cBus struct{ b *i2c.Bus }

func (b i2cBus) Dev(addr uint16) regIO { return b.b.Dev(addr) }
func (b i2cBus) Close() error          { return b.b.Close() }

func openI2C(path string) (devBus, error) {
	b, err := i2c.Open(path)
	if err != nil {
		return nil, err
	}
	return i2cBus{b: b}, nil
}

// Feed owns the bus while running. A missing magnetometer leaves only the
// accelerometer available.
type Feed struct {
	cfg  Config
	hub  *sensor.Hub
	open func(path string) (devBus, error)

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
	bus       devBus

	accelReads atomic.Uint64
	magReads   atomic.Uint64
	readErrors atomic.Uint64
	hasMag     atomic.Bool
}

func NewFeed(cfg Config, hub *sensor.Hub) *Feed {
	if cfg.Bus <= 0 {
		cfg.Bus = 1
	}
	if cfg.Addr == 0 {
		cfg.Addr = icmAddrDefault
	}
	if cfg.AccelInterval <= 0 {
		cfg.AccelInterval = 10 * time.Millisecond
	}
	if cfg.MagInterval <= 0 {
		cfg.MagInterval = 20 * time.Millisecond
	}
	return &Feed{cfg: cfg, hub: hub, open: openI2C, stopCh: make(chan struct{})}
}

func (f *Feed) Start(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("imu: feed is nil")
	}
	if f.hub == nil {
		return fmt.Errorf("imu: hub is nil")
	}
	var err error
	f.startOnce.Do(func() { err = f.start(ctx) })
	return err
}

func (f *Feed) start(ctx context.Context) error {
	path := fmt.Sprintf("/dev/i2c-%d", f.cfg.Bus)
	bus, err := f.open(path)
	if err != nil {
		f.hub.SetAvailable(sensor.Accelerometer, false)
		f.hub.SetAvailable(sensor.MagneticField, false)
		return fmt.Errorf("imu: open %s: %w", path, err)
	}
	accel, err := newAccel(bus.Dev(f.cfg.Addr), int(time.Second/f.cfg.AccelInterval))
	if err != nil {
		_ = bus.Close()
		f.hub.SetAvailable(sensor.Accelerometer, false)
		f.hub.SetAvailable(sensor.MagneticField, false)
		return err
	}
	mag, err := newMag(bus.Dev(akAddr))
	if err != nil {
		log.Printf("imu: no magnetometer: %v", err)
		mag = nil
	}
	f.bus = bus
	f.hasMag.Store(mag != nil)

	f.hub.SetAvailable(sensor.Accelerometer, true)
	f.hub.SetAvailable(sensor.MagneticField, mag != nil)
	f.hub.EmitAccuracy(sensor.Accelerometer, sensor.AccuracyHigh)

	start := time.Now()
	f.wg.Add(1)
	go f.poll(ctx, f.cfg.AccelInterval, func() {
		v, err := accel.Read()
		if err != nil {
			f.readFailed(err)
			return
		}
		f.accelReads.Add(1)
		f.hub.Emit(sensor.Sample{Kind: sensor.Accelerometer, Values: v, TimestampNanos: time.Since(start).Nanoseconds()})
	})
	if mag != nil {
		// Uncalibrated: no hard or soft iron correction.
		f.hub.EmitAccuracy(sensor.MagneticField, sensor.AccuracyMedium)
		f.wg.Add(1)
		go f.poll(ctx, f.cfg.MagInterval, func() {
			v, err := mag.Read()
			if errors.Is(err, errNoData) {
				return
			}
			if err != nil {
				f.readFailed(err)
				return
			}
			f.magReads.Add(1)
			f.hub.Emit(sensor.Sample{Kind: sensor.MagneticField, Values: v, TimestampNanos: time.Since(start).Nanoseconds()})
		})
	}
	log.Printf("imu: polling %s addr=0x%02X (magnetometer=%t)", path, f.cfg.Addr, mag != nil)
	return nil
}

func (f *Feed) poll(ctx context.Context, every time.Duration, read func()) {
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
			read()
		}
	}
}

func (f *Feed) readFailed(err error) {
	if n := f.readErrors.Add(1); n == 1 || n%100 == 0 {
		log.Printf("%v (errors=%d)", err, n)
	}
}

type Stats struct {
	Magnetometer bool   `json:"magnetometer"`
	AccelReads   uint64 `json:"accel_reads"`
	MagReads     uint64 `json:"mag_reads"`
	ReadErrors   uint64 `json:"read_errors"`
}

func (f *Feed) Stats() Stats {
	if f == nil {
		return Stats{}
	}
	return Stats{
		Magnetometer: f.hasMag.Load(),
		AccelReads:   f.accelReads.Load(),
		MagReads:     f.magReads.Load(),
		ReadErrors:   f.readErrors.Load(),
	}
}

// Close stops polling and releases the bus.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.stopOnce.Do(func() {
		close(f.stopCh)
		f.wg.Wait()
		if f.bus != nil {
			_ = f.bus.Close()
		}
	})
}
