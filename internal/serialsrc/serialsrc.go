// Package serialsrc reads sensor lines from a serial port into the sensor
// hub. Each line is one of
//
//	A,<timestamp_ns>,<x>,<y>,<z>
//	M,<timestamp_ns>,<x>,<y>,<z>
//	C,<A|M>,<level>
package serialsrc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"accelgraph/internal/sensor"
)

// Line is one parsed record. Accuracy lines carry Kind and Level; sample lines
// carry Sample.
type Line struct {
	Accuracy bool
	Kind     sensor.Kind
	Level    int
	Sample   sensor.Sample
}

func ParseLine(s string) (Line, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) == 0 || fields[0] == "" {
		return Line{}, fmt.Errorf("serialsrc: empty line")
	}
	switch strings.ToUpper(fields[0]) {
	case "A", "M":
		kind, _ := sensor.ParseKind(fields[0])
		if len(fields) != 5 {
			return Line{}, fmt.Errorf("serialsrc: %s line has %d fields, want 5", kind, len(fields))
		}
		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return Line{}, fmt.Errorf("serialsrc: timestamp: %w", err)
		}
		smp := sensor.Sample{Kind: kind, TimestampNanos: ts}
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[2+i], 64)
			if err != nil {
				return Line{}, fmt.Errorf("serialsrc: value %d: %w", i, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Line{}, fmt.Errorf("serialsrc: %s value %d is not finite", kind, i)
			}
			smp.Values[i] = v
		}
		return Line{Kind: kind, Sample: smp}, nil
	case "C":
		if len(fields) != 3 {
			return Line{}, fmt.Errorf("serialsrc: accuracy line has %d fields, want 3", len(fields))
		}
		kind, err := sensor.ParseKind(fields[1])
		if err != nil {
			return Line{}, err
		}
		level, err := strconv.Atoi(fields[2])
		if err != nil {
			return Line{}, fmt.Errorf("serialsrc: accuracy level: %w", err)
		}
		if level < sensor.AccuracyUnreliable || level > sensor.AccuracyHigh {
			return Line{}, fmt.Errorf("serialsrc: accuracy level %d out of range", level)
		}
		return Line{Accuracy: true, Kind: kind, Level: level}, nil
	}
	return Line{}, fmt.Errorf("serialsrc: unknown record %q", fields[0])
}

// FormatLine renders ln in the form ParseLine reads.
func FormatLine(ln Line) string {
	if ln.Accuracy {
		return fmt.Sprintf("C,%s,%d", kindLetter(ln.Kind), ln.Level)
	}
	s := ln.Sample
	return fmt.Sprintf("%s,%d,%s,%s,%s", kindLetter(s.Kind), s.TimestampNanos,
		strconv.FormatFloat(s.Values[0], 'g', -1, 64),
		strconv.FormatFloat(s.Values[1], 'g', -1, 64),
		strconv.FormatFloat(s.Values[2], 'g', -1, 64))
}

func kindLetter(k sensor.Kind) string {
	if k == sensor.MagneticField {
		return "M"
	}
	return "A"
}

type Config struct {
	Port string
	Baud int
}

type openFunc func(path string, mode *serial.Mode) (io.ReadCloser, error)

// Feed reads lines from a serial device until closed. The device is assumed
// to carry both sensors.
type Feed struct {
	cfg  Config
	hub  *sensor.Hub
	open openFunc

	mu   sync.Mutex
	port io.ReadCloser
	done chan struct{}

	lines     atomic.Uint64
	malformed atomic.Uint64
}

func NewFeed(cfg Config, hub *sensor.Hub) *Feed {
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	open := func(path string, mode *serial.Mode) (io.ReadCloser, error) {
		return serial.Open(path, mode)
	}
	return &Feed{cfg: cfg, hub: hub, open: open}
}

func (f *Feed) Start(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("serialsrc: feed is nil")
	}
	if f.hub == nil {
		return fmt.Errorf("serialsrc: hub is nil")
	}
	if f.cfg.Port == "" {
		return fmt.Errorf("serialsrc: port is required")
	}
	mode := &serial.Mode{
		BaudRate: f.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := f.open(f.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("serialsrc: open %s: %w", f.cfg.Port, err)
	}
	f.hub.SetAvailable(sensor.Accelerometer, true)
	f.hub.SetAvailable(sensor.MagneticField, true)

	done := make(chan struct{})
	f.mu.Lock()
	f.port = port
	f.done = done
	f.mu.Unlock()

	log.Printf("serialsrc: reading %s at %d baud", f.cfg.Port, f.cfg.Baud)
	go func() {
		defer close(done)
		f.read(port)
	}()
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-done:
		}
	}()
	return nil
}

func (f *Feed) read(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		f.lines.Add(1)
		ln, err := ParseLine(text)
		if err != nil {
			if n := f.malformed.Add(1); n == 1 || n%100 == 0 {
				log.Printf("%v (malformed=%d)", err, n)
			}
			continue
		}
		if ln.Accuracy {
			f.hub.EmitAccuracy(ln.Kind, ln.Level)
			continue
		}
		f.hub.Emit(ln.Sample)
	}
	if err := sc.Err(); err != nil {
		log.Printf("serialsrc: read %s: %v", f.cfg.Port, err)
	}
}

type Stats struct {
	Lines     uint64 `json:"lines"`
	Malformed uint64 `json:"malformed"`
}

func (f *Feed) Stats() Stats {
	if f == nil {
		return Stats{}
	}
	return Stats{Lines: f.lines.Load(), Malformed: f.malformed.Load()}
}

// Close closes the port and waits for the reader to finish.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	port, done := f.port, f.done
	f.port = nil
	f.mu.Unlock()
	if port == nil {
		return
	}
	_ = port.Close()
	<-done
}
