// Package graph is the display side: a single UI goroutine owning a board of
// scrolling series plus text readouts, and renderers for that board.
package graph

import (
	"fmt"
	"strconv"
	"time"
)

type Channel int

const (
	AccelX Channel = iota
	AccelY
	AccelZ
	Pitch
	Roll
	Azimuth

	NumChannels = 6
)

var channelNames = [NumChannels]string{"accel_x", "accel_y", "accel_z", "pitch", "roll", "azimuth"}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	for i, n := range channelNames {
		if n == string(b) {
			*c = Channel(i)
			return nil
		}
	}
	return fmt.Errorf("graph: unknown channel %q", b)
}

// Point is one value for one series. Scroll appends; otherwise the newest
// point is overwritten.
type Point struct {
	Channel Channel `json:"channel"`
	Value   float64 `json:"value"`
	Scroll  bool    `json:"scroll"`
}

// Update is everything one refresh tick hands to the display.
type Update struct {
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
	Rate     float64   `json:"rate_ms"`
	Accuracy int       `json:"accuracy"`

	Points [NumChannels]Point `json:"points"`
}

func (u Update) RateText() string {
	return fmt.Sprintf("%f", u.Rate)
}

func (u Update) AccuracyText() string {
	return strconv.Itoa(u.Accuracy)
}

// Sink receives updates on the UI goroutine.
type Sink interface {
	Apply(u Update)
}

// Displays applies an update to every sink in order.
type Displays []Sink

func (d Displays) Apply(u Update) {
	for _, s := range d {
		if s != nil {
			s.Apply(u)
		}
	}
}

// Slot is a sink that can be swapped while updates flow. Set and Apply must
// both run on the UI loop.
type Slot struct {
	sink Sink
}

// Set replaces the sink; nil empties the slot.
func (s *Slot) Set(sink Sink) { s.sink = sink }

func (s *Slot) Apply(u Update) {
	if s.sink != nil {
		s.sink.Apply(u)
	}
}
