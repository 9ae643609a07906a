package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web     WebConfig     `yaml:"web"`
	Session SessionConfig `yaml:"session"`
	Source  SourceConfig  `yaml:"source"`
	Graph   GraphConfig   `yaml:"graph"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Record  RecordConfig  `yaml:"record"`
	Log     LogConfig     `yaml:"log"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type SessionConfig struct {
	// Autostart resumes the session at startup. Defaults to true.
	Autostart *bool `yaml:"autostart"`
}

type SourceConfig struct {
	Kind   string             `yaml:"kind"`
	Sim    SimSourceConfig    `yaml:"sim"`
	MQTT   MQTTSourceConfig   `yaml:"mqtt"`
	Serial SerialSourceConfig `yaml:"serial"`
	Replay ReplaySourceConfig `yaml:"replay"`
	TCP    TCPSourceConfig    `yaml:"tcp"`
	IMU    IMUSourceConfig    `yaml:"imu"`
}

type SimSourceConfig struct {
	AccelInterval time.Duration `yaml:"accel_interval"`
	MagInterval   time.Duration `yaml:"mag_interval"`
	Period        time.Duration `yaml:"period"`
	TiltDeg       float64       `yaml:"tilt_deg"`
	// Accelerometer and Magnetometer declare which sensors the simulated
	// handset has. Both default to true.
	Accelerometer *bool `yaml:"accelerometer"`
	Magnetometer  *bool `yaml:"magnetometer"`
}

type MQTTSourceConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	AccelTopic    string `yaml:"accel_topic"`
	MagTopic      string `yaml:"mag_topic"`
	AccuracyTopic string `yaml:"accuracy_topic"`
}

type SerialSourceConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// IMUSourceConfig selects an ICM-20948 on a Linux I2C bus.
type IMUSourceConfig struct {
	Bus           int           `yaml:"bus"`
	Addr          uint16        `yaml:"addr"`
	AccelInterval time.Duration `yaml:"accel_interval"`
	MagInterval   time.Duration `yaml:"mag_interval"`
}

type TCPSourceConfig struct {
	Addr           string        `yaml:"addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type ReplaySourceConfig struct {
	Path string `yaml:"path"`
	// Speed 1.0 is real time. Defaults to 1.
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type GraphConfig struct {
	// History is how many points each series keeps.
	History int `yaml:"history"`
	// Queue bounds the UI loop's pending work.
	Queue int `yaml:"queue"`
}

type MirrorConfig struct {
	UDP  UDPMirrorConfig  `yaml:"udp"`
	MQTT MQTTMirrorConfig `yaml:"mqtt"`
}

type UDPMirrorConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTMirrorConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// RecordConfig, when Path is set, appends every sensor callback to a replay
// log.
type RecordConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	BufferLines int `yaml:"buffer_lines"`
}

const (
	SourceSim    = "sim"
	SourceMQTT   = "mqtt"
	SourceSerial = "serial"
	SourceReplay = "replay"
	SourceTCP    = "tcp"
	SourceIMU    = "imu"
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Session.Autostart == nil {
		cfg.Session.Autostart = boolPtr(true)
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceSim
	}
	switch cfg.Source.Kind {
	case SourceSim:
	case SourceMQTT:
		if cfg.Source.MQTT.Broker == "" {
			return fmt.Errorf("source.mqtt.broker is required when source.kind is 'mqtt'")
		}
	case SourceSerial:
		if cfg.Source.Serial.Port == "" {
			return fmt.Errorf("source.serial.port is required when source.kind is 'serial'")
		}
	case SourceReplay:
		if cfg.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is 'replay'")
		}
	case SourceTCP:
		if cfg.Source.TCP.Addr == "" {
			return fmt.Errorf("source.tcp.addr is required when source.kind is 'tcp'")
		}
	case SourceIMU:
	default:
		return fmt.Errorf("source.kind must be one of sim, mqtt, serial, replay, tcp, imu")
	}
	imu := &cfg.Source.IMU
	if imu.Bus < 0 {
		return fmt.Errorf("source.imu.bus must be >= 0")
	}
	if imu.Bus == 0 {
		imu.Bus = 1
	}
	if imu.Addr > 0x7F {
		return fmt.Errorf("source.imu.addr must be a 7-bit address")
	}
	if imu.Addr == 0 {
		imu.Addr = 0x68
	}
	if imu.AccelInterval < 0 || imu.MagInterval < 0 {
		return fmt.Errorf("source.imu intervals must be >= 0")
	}
	if imu.AccelInterval == 0 {
		imu.AccelInterval = 10 * time.Millisecond
	}
	if imu.MagInterval == 0 {
		imu.MagInterval = 20 * time.Millisecond
	}

	if cfg.Source.TCP.ReconnectDelay < 0 {
		return fmt.Errorf("source.tcp.reconnect_delay must be >= 0")
	}
	if cfg.Source.TCP.ReconnectDelay == 0 {
		cfg.Source.TCP.ReconnectDelay = time.Second
	}
	if cfg.Source.Replay.Speed < 0 {
		return fmt.Errorf("source.replay.speed must be > 0")
	}
	if cfg.Source.Replay.Speed == 0 {
		cfg.Source.Replay.Speed = 1
	}
	if cfg.Record.Path != "" && cfg.Source.Kind == SourceReplay && cfg.Record.Path == cfg.Source.Replay.Path {
		return fmt.Errorf("record.path must differ from source.replay.path")
	}

	// Simulator defaults (safe even if another source is used).
	sim := &cfg.Source.Sim
	if sim.AccelInterval < 0 || sim.MagInterval < 0 {
		return fmt.Errorf("source.sim intervals must be >= 0")
	}
	if sim.AccelInterval == 0 {
		sim.AccelInterval = 10 * time.Millisecond
	}
	if sim.MagInterval == 0 {
		sim.MagInterval = 25 * time.Millisecond
	}
	if sim.Period <= 0 {
		sim.Period = 60 * time.Second
	}
	if sim.TiltDeg < 0 || sim.TiltDeg > 90 {
		return fmt.Errorf("source.sim.tilt_deg must be between 0 and 90")
	}
	if sim.TiltDeg == 0 {
		sim.TiltDeg = 15
	}
	if sim.Accelerometer == nil {
		sim.Accelerometer = boolPtr(true)
	}
	if sim.Magnetometer == nil {
		sim.Magnetometer = boolPtr(true)
	}

	mq := &cfg.Source.MQTT
	if mq.ClientID == "" {
		mq.ClientID = "accelgraph-source"
	}
	if mq.AccelTopic == "" {
		mq.AccelTopic = "accelgraph/sensor/accelerometer"
	}
	if mq.MagTopic == "" {
		mq.MagTopic = "accelgraph/sensor/magnetic_field"
	}
	if mq.AccuracyTopic == "" {
		mq.AccuracyTopic = "accelgraph/sensor/accuracy"
	}

	if cfg.Source.Serial.Baud < 0 {
		return fmt.Errorf("source.serial.baud must be > 0")
	}
	if cfg.Source.Serial.Baud == 0 {
		cfg.Source.Serial.Baud = 115200
	}

	if cfg.Graph.History < 0 {
		return fmt.Errorf("graph.history must be > 0")
	}
	if cfg.Graph.History == 0 {
		cfg.Graph.History = 300
	}
	if cfg.Graph.Queue < 0 {
		return fmt.Errorf("graph.queue must be > 0")
	}
	if cfg.Graph.Queue == 0 {
		cfg.Graph.Queue = 8
	}

	if cfg.Mirror.UDP.Enable && strings.TrimSpace(cfg.Mirror.UDP.Dest) == "" {
		return fmt.Errorf("mirror.udp.dest is required when mirror.udp.enable is true")
	}
	if cfg.Mirror.MQTT.Enable {
		if cfg.Mirror.MQTT.Broker == "" {
			return fmt.Errorf("mirror.mqtt.broker is required when mirror.mqtt.enable is true")
		}
	}
	if cfg.Mirror.MQTT.ClientID == "" {
		cfg.Mirror.MQTT.ClientID = "accelgraph-mirror"
	}
	if cfg.Mirror.MQTT.Topic == "" {
		cfg.Mirror.MQTT.Topic = "accelgraph/update"
	}

	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 2000
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

// Enabled reports the value of an optional flag, treating unset as def.
func Enabled(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
