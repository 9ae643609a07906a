package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"accelgraph/internal/config"
	"accelgraph/internal/fusion"
	"accelgraph/internal/graph"
	"accelgraph/internal/imu"
	"accelgraph/internal/lifecycle"
	"accelgraph/internal/mqttio"
	"accelgraph/internal/netsrc"
	"accelgraph/internal/replay"
	"accelgraph/internal/sensor"
	"accelgraph/internal/serialsrc"
	"accelgraph/internal/sim"
	"accelgraph/internal/udp"
	"accelgraph/internal/web"
)

// runtime owns every long-lived component and the wiring between them.
type runtime struct {
	configPath string

	// life bounds the UI loop and every session. It ignores the caller's
	// cancellation so Close can pause the session before the loop stops.
	life     context.Context
	stopLife context.CancelFunc

	// mu guards cfg and udpMirror, which settings changes replace.
	mu  sync.Mutex
	cfg config.Config

	status *web.Status
	logs   *web.LogBuffer

	hub    *sensor.Hub
	feed   sensor.Feed
	router *fusion.Router

	ui     *graph.Loop
	uiDone chan struct{}
	board  *graph.Board
	frames *web.FrameBroadcaster

	udpSlot    graph.Slot
	udpMirror  *udp.Mirror
	mqttMirror *mqttio.Mirror

	recWriter *replay.Writer
	recorder  *replay.Recorder

	ctl *lifecycle.Controller
}

func newRuntime(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	life, stopLife := context.WithCancel(context.WithoutCancel(ctx))
	r := &runtime{
		life:       life,
		stopLife:   stopLife,
		cfg:        c,
		configPath: configPath,
		status:     web.NewStatus(),
		logs:       logs,
		hub:        sensor.NewHub(),
		router:     fusion.NewRouter(),
		ui:         graph.NewLoop(c.Graph.Queue),
		uiDone:     make(chan struct{}),
		board:      graph.NewBoard(c.Graph.History),
		frames:     web.NewFrameBroadcaster(),
	}
	r.status.SetStatic(c.Source.Kind, c.Web.Listen)

	feed, err := newFeed(c, r.hub)
	if err != nil {
		stopLife()
		return nil, err
	}
	r.feed = feed
	if err := feed.Start(ctx); err != nil {
		// Keep running without samples; the failure shows in status and a
		// Resume will report the missing sensors.
		log.Printf("feed: start failed: %v", err)
		r.status.SetFeedError(err.Error())
	}

	if c.Record.Path != "" {
		r.startRecording(c.Record.Path)
	}

	go func() {
		defer close(r.uiDone)
		_ = r.ui.Run(life)
	}()

	displays := graph.Displays{r.board, r.frames, &r.udpSlot}
	if c.Mirror.UDP.Enable {
		m, err := udp.NewMirror(c.Mirror.UDP.Dest)
		if err != nil {
			log.Printf("udp: mirror disabled: %v", err)
		} else {
			r.udpMirror = m
			r.udpSlot.Set(m)
		}
	}
	if c.Mirror.MQTT.Enable {
		m, err := mqttio.NewMirror(mqttio.MirrorConfig{
			Broker:   c.Mirror.MQTT.Broker,
			ClientID: c.Mirror.MQTT.ClientID,
			Topic:    c.Mirror.MQTT.Topic,
		})
		if err != nil {
			log.Printf("mqttio: mirror disabled: %v", err)
		} else {
			r.mqttMirror = m
			displays = append(displays, m)
		}
	}

	r.ctl = lifecycle.New(lifecycle.Config{
		Manager: r.hub,
		Router:  r.router,
		UI:      r.ui,
		Display: displays,
		Notices: r.board,
	})

	r.status.SetSources(web.StatusSources{
		Session:   r.ctl.State,
		Scheduler: r.ctl.SchedulerStats,
		Fusion:    r.router.Snapshot,
		Hub:       r.hub.Stats,
		UI:        r.ui.Stats,
		Frames:    r.frames.Stats,
		Extra:     r.extraStatus,
	})

	if config.Enabled(c.Session.Autostart, true) {
		if err := r.ctl.Resume(life); err != nil {
			log.Printf("lifecycle: autostart: %v", err)
		}
	}
	return r, nil
}

func newFeed(cfg config.Config, hub *sensor.Hub) (sensor.Feed, error) {
	switch cfg.Source.Kind {
	case config.SourceSim:
		s := cfg.Source.Sim
		return sim.NewFeed(sim.FeedConfig{
			Device:        sim.Device{Period: s.Period, TiltDeg: s.TiltDeg},
			AccelInterval: s.AccelInterval,
			MagInterval:   s.MagInterval,
			Accelerometer: config.Enabled(s.Accelerometer, true),
			Magnetometer:  config.Enabled(s.Magnetometer, true),
		}, hub), nil
	case config.SourceMQTT:
		m := cfg.Source.MQTT
		return mqttio.NewSource(mqttio.SourceConfig{
			Broker:        m.Broker,
			ClientID:      m.ClientID,
			AccelTopic:    m.AccelTopic,
			MagTopic:      m.MagTopic,
			AccuracyTopic: m.AccuracyTopic,
		}, hub), nil
	case config.SourceSerial:
		return serialsrc.NewFeed(serialsrc.Config{
			Port: cfg.Source.Serial.Port,
			Baud: cfg.Source.Serial.Baud,
		}, hub), nil
	case config.SourceIMU:
		m := cfg.Source.IMU
		return imu.NewFeed(imu.Config{
			Bus:           m.Bus,
			Addr:          m.Addr,
			AccelInterval: m.AccelInterval,
			MagInterval:   m.MagInterval,
		}, hub), nil
	case config.SourceTCP:
		f, err := netsrc.NewFeed(netsrc.Config{
			Addr:           cfg.Source.TCP.Addr,
			ReconnectDelay: cfg.Source.TCP.ReconnectDelay,
		}, hub)
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.SourceReplay:
		rp := cfg.Source.Replay
		return replay.NewFeed(replay.FeedConfig{Path: rp.Path, Speed: rp.Speed, Loop: rp.Loop}, hub), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// startRecording logs every callback of the sensors the feed provides,
// independent of the session.
func (r *runtime) startRecording(path string) {
	w, err := replay.CreateWriter(path)
	if err != nil {
		log.Printf("replay: recording disabled: %v", err)
		return
	}
	rec := replay.NewRecorder(w)
	for _, kind := range []sensor.Kind{sensor.Accelerometer, sensor.MagneticField} {
		if !r.hub.HasSensor(kind) {
			continue
		}
		if err := r.hub.Register(rec, kind, sensor.RateFastest); err != nil {
			log.Printf("replay: record %s: %v", kind, err)
		}
	}
	r.recWriter = w
	r.recorder = rec
	log.Printf("replay: recording to %s", path)
}

func (r *runtime) extraStatus() map[string]any {
	out := map[string]any{}
	switch f := r.feed.(type) {
	case *mqttio.Source:
		out["mqtt_source"] = f.Stats()
	case *serialsrc.Feed:
		out["serial_source"] = f.Stats()
	case *imu.Feed:
		out["imu_source"] = f.Stats()
	case *netsrc.Feed:
		out["tcp_source"] = f.Stats()
	case *replay.Feed:
		out["replay_source"] = f.Stats()
	}
	if r.recorder != nil {
		out["recorder"] = r.recorder.Stats()
	}
	r.mu.Lock()
	um := r.udpMirror
	r.mu.Unlock()
	if um != nil {
		out["udp_mirror"] = um.Stats()
	}
	if r.mqttMirror != nil {
		out["mqtt_mirror"] = r.mqttMirror.Stats()
	}
	return out
}

// ReadBoard copies the board on the UI loop.
func (r *runtime) ReadBoard(ctx context.Context) (graph.BoardSnapshot, error) {
	var snap graph.BoardSnapshot
	err := r.ui.Do(ctx, func() { snap = r.board.Snapshot() })
	return snap, err
}

const applyTimeout = 2 * time.Second

// ApplySettings makes the editable settings live: the board history is
// resized and the UDP mirror opened, moved or closed, all on the UI loop.
// Autostart only matters at the next start.
func (r *runtime) ApplySettings(cfg config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.udpMirror
	next := cur
	want := cfg.Mirror.UDP
	switch {
	case !want.Enable:
		next = nil
	case cur == nil || cur.Dest() != want.Dest:
		m, err := udp.NewMirror(want.Dest)
		if err != nil {
			return fmt.Errorf("udp mirror: %w", err)
		}
		next = m
	}

	ctx, cancel := context.WithTimeout(r.life, applyTimeout)
	defer cancel()
	err := r.ui.Do(ctx, func() {
		r.board.SetHistory(cfg.Graph.History)
		if next == nil {
			r.udpSlot.Set(nil)
		} else {
			r.udpSlot.Set(next)
		}
	})
	if err != nil {
		if next != nil && next != cur {
			_ = next.Close()
		}
		return err
	}
	if cur != nil && cur != next {
		_ = cur.Close()
	}

	r.udpMirror = next
	r.cfg.Graph.History = cfg.Graph.History
	r.cfg.Session.Autostart = cfg.Session.Autostart
	r.cfg.Mirror.UDP = want
	log.Printf("web: settings applied (history=%d udp_mirror=%t)", cfg.Graph.History, next != nil)
	return nil
}

func (r *runtime) Deps() web.Deps {
	return web.Deps{
		Status:         r.status,
		Session:        r.ctl,
		SessionContext: r.life,
		Board:          r.ReadBoard,
		Frames:         r.frames,
		Settings:       web.SettingsStore{ConfigPath: r.configPath, Apply: r.ApplySettings},
		Logs:           r.logs,

		Source:     r.cfg.Source.Kind,
		ConfigPath: r.configPath,
	}
}

// Close pauses the session, then stops the UI loop and releases the feed and
// mirrors.
func (r *runtime) Close() {
	if r == nil {
		return
	}
	r.ctl.Pause()
	r.stopLife()
	if r.feed != nil {
		r.feed.Close()
	}
	if r.recorder != nil {
		r.hub.Unregister(r.recorder)
		if err := r.recWriter.Close(); err != nil {
			log.Printf("replay: close recording: %v", err)
		}
	}
	r.mu.Lock()
	if r.udpMirror != nil {
		_ = r.udpMirror.Close()
		r.udpMirror = nil
	}
	r.mu.Unlock()
	if r.mqttMirror != nil {
		r.mqttMirror.Close()
	}
}

// waitUI blocks until the UI loop has exited or d passes.
func (r *runtime) waitUI(d time.Duration) bool {
	select {
	case <-r.uiDone:
		return true
	case <-time.After(d):
		return false
	}
}
