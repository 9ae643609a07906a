package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("listen=%q want :8080", cfg.Web.Listen)
	}
	if !Enabled(cfg.Session.Autostart, false) {
		t.Fatalf("autostart should default to true")
	}
	if cfg.Source.Kind != SourceSim {
		t.Fatalf("source.kind=%q want sim", cfg.Source.Kind)
	}
	sim := cfg.Source.Sim
	if sim.AccelInterval != 10*time.Millisecond || sim.MagInterval != 25*time.Millisecond || sim.Period != time.Minute {
		t.Fatalf("sim timing defaults=%+v", sim)
	}
	if !Enabled(sim.Accelerometer, false) || !Enabled(sim.Magnetometer, false) {
		t.Fatalf("sim sensors should default to present")
	}
	if cfg.Graph.History != 300 || cfg.Graph.Queue != 8 {
		t.Fatalf("graph=%+v", cfg.Graph)
	}
	if cfg.Source.Serial.Baud != 115200 {
		t.Fatalf("baud=%d", cfg.Source.Serial.Baud)
	}
	if imu := cfg.Source.IMU; imu.Bus != 1 || imu.Addr != 0x68 || imu.AccelInterval != 10*time.Millisecond {
		t.Fatalf("imu defaults=%+v", imu)
	}
	if cfg.Source.TCP.ReconnectDelay != time.Second {
		t.Fatalf("tcp reconnect delay=%v", cfg.Source.TCP.ReconnectDelay)
	}
	if cfg.Source.Replay.Speed != 1 || cfg.Record.Path != "" {
		t.Fatalf("replay/record defaults: %+v %+v", cfg.Source.Replay, cfg.Record)
	}
	if cfg.Mirror.MQTT.Topic != "accelgraph/update" || cfg.Log.BufferLines != 2000 {
		t.Fatalf("mirror/log defaults not applied: %+v %+v", cfg.Mirror.MQTT, cfg.Log)
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	path := writeTempConfig(t, `
web:
  listen: "127.0.0.1:9000"
session:
  autostart: false
source:
  kind: SIM
  sim:
    accel_interval: 5ms
    tilt_deg: 30
    magnetometer: false
graph:
  history: 120
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:9000" {
		t.Fatalf("listen=%q", cfg.Web.Listen)
	}
	if Enabled(cfg.Session.Autostart, true) {
		t.Fatalf("autostart should be false")
	}
	if cfg.Source.Kind != SourceSim {
		t.Fatalf("kind=%q want normalised sim", cfg.Source.Kind)
	}
	if cfg.Source.Sim.AccelInterval != 5*time.Millisecond || cfg.Source.Sim.TiltDeg != 30 {
		t.Fatalf("sim=%+v", cfg.Source.Sim)
	}
	if Enabled(cfg.Source.Sim.Magnetometer, true) || !Enabled(cfg.Source.Sim.Accelerometer, false) {
		t.Fatalf("sensor flags wrong")
	}
	if cfg.Graph.History != 120 {
		t.Fatalf("history=%d", cfg.Graph.History)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"UnknownSource", "source:\n  kind: bluetooth\n", "source.kind must be one of sim, mqtt, serial, replay, tcp, imu"},
		{"MQTTNeedsBroker", "source:\n  kind: mqtt\n", "source.mqtt.broker is required when source.kind is 'mqtt'"},
		{"SerialNeedsPort", "source:\n  kind: serial\n", "source.serial.port is required when source.kind is 'serial'"},
		{"ReplayNeedsPath", "source:\n  kind: replay\n", "source.replay.path is required when source.kind is 'replay'"},
		{"RecordOverReplay", "source:\n  kind: replay\n  replay:\n    path: a.log\nrecord:\n  path: a.log\n", "record.path must differ from source.replay.path"},
		{"TCPNeedsAddr", "source:\n  kind: tcp\n", "source.tcp.addr is required when source.kind is 'tcp'"},
		{"IMUAddrRange", "source:\n  kind: imu\n  imu:\n    addr: 200\n", "source.imu.addr must be a 7-bit address"},
		{"TiltRange", "source:\n  sim:\n    tilt_deg: 120\n", "source.sim.tilt_deg must be between 0 and 90"},
		{"NegativeHistory", "graph:\n  history: -1\n", "graph.history must be > 0"},
		{"UDPMirrorNeedsDest", "mirror:\n  udp:\n    enable: true\n", "mirror.udp.dest is required when mirror.udp.enable is true"},
		{"MQTTMirrorNeedsBroker", "mirror:\n  mqtt:\n    enable: true\n", "mirror.mqtt.broker is required when mirror.mqtt.enable is true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultAndValidate_Nil(t *testing.T) {
	requireErrEq(t, DefaultAndValidate(nil), "config is nil")
}
