package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"accelgraph/internal/config"
)

// SettingsPayload is the part of the config editable from the web UI.
type SettingsPayload struct {
	GraphHistory     int    `json:"graph_history"`
	SessionAutostart bool   `json:"session_autostart"`
	MirrorUDPEnable  bool   `json:"mirror_udp_enable"`
	MirrorUDPDest    string `json:"mirror_udp_dest"`
}

func settingsOf(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		GraphHistory:     cfg.Graph.History,
		SessionAutostart: config.Enabled(cfg.Session.Autostart, true),
		MirrorUDPEnable:  cfg.Mirror.UDP.Enable,
		MirrorUDPDest:    cfg.Mirror.UDP.Dest,
	}
}

const (
	minGraphHistory = 2
	maxGraphHistory = 100000
	maxSettingsBody = 1 << 20
)

// settingField decodes one JSON value straight into the config.
type settingField struct {
	key string
	set func(cfg *config.Config, raw json.RawMessage) error
}

var settingFields = []settingField{
	{"graph_history", func(cfg *config.Config, raw json.RawMessage) error {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if v < minGraphHistory || v > maxGraphHistory {
			return fmt.Errorf("must be between %d and %d", minGraphHistory, maxGraphHistory)
		}
		cfg.Graph.History = v
		return nil
	}},
	{"session_autostart", func(cfg *config.Config, raw json.RawMessage) error {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		cfg.Session.Autostart = &v
		return nil
	}},
	{"mirror_udp_enable", func(cfg *config.Config, raw json.RawMessage) error {
		return json.Unmarshal(raw, &cfg.Mirror.UDP.Enable)
	}},
	{"mirror_udp_dest", func(cfg *config.Config, raw json.RawMessage) error {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		cfg.Mirror.UDP.Dest = strings.TrimSpace(v)
		return nil
	}},
}

func lookupSettingField(key string) (settingField, bool) {
	for _, f := range settingFields {
		if f.key == key {
			return f, true
		}
	}
	return settingField{}, false
}

// decodeSettings applies a complete settings object to cfg. Every key must be
// present exactly once; unknown keys, nulls and trailing data are errors.
func decodeSettings(body []byte, cfg *config.Config) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	seen := make(map[string]bool, len(settingFields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		key, _ := tok.(string)
		f, ok := lookupSettingField(key)
		if !ok {
			return fmt.Errorf("invalid json: unknown key %q", key)
		}
		if seen[key] {
			return fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return fmt.Errorf("%s: cannot be null", key)
		}
		if err := f.set(cfg, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}
	for _, f := range settingFields {
		if !seen[f.key] {
			return fmt.Errorf("invalid json: missing required key %q", f.key)
		}
	}
	if cfg.Mirror.UDP.Enable && cfg.Mirror.UDP.Dest == "" {
		return errors.New("mirror_udp_dest must be set when mirror_udp_enable is true")
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("invalid json: expected %q", want)
	}
	return nil
}

// SettingsStore serves /api/settings backed by the YAML file at ConfigPath.
type SettingsStore struct {
	ConfigPath string
	// Apply makes a validated config live. It runs before the file is written;
	// an error leaves the file untouched. After a failed write it is called
	// again with the previous config.
	Apply func(cfg config.Config) error
}

func (s SettingsStore) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.get(w)
		case http.MethodPost:
			s.post(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func (s SettingsStore) get(w http.ResponseWriter) {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, settingsOf(cfg))
}

func (s SettingsStore) post(w http.ResponseWriter, r *http.Request) {
	if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	if err != nil {
		http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
		return
	}

	prev, err := config.Load(s.ConfigPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
		return
	}
	next := prev
	if err := decodeSettings(body, &next); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.DefaultAndValidate(&next); err != nil {
		http.Error(w, fmt.Sprintf("invalid config: %v", err), http.StatusBadRequest)
		return
	}

	if s.Apply != nil {
		if err := s.Apply(next); err != nil {
			http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
			return
		}
	}
	if err := writeConfig(s.ConfigPath, next); err != nil {
		if s.Apply != nil {
			if rerr := s.Apply(prev); rerr != nil {
				log.Printf("web: settings rollback failed: %v", rerr)
			}
		}
		http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
		return
	}
	log.Printf("web: settings saved to %s", s.ConfigPath)
	writeJSON(w, settingsOf(next))
}

// writeConfig replaces path with cfg through a temp file and a rename, so a
// reader never sees a partial file.
func writeConfig(path string, cfg config.Config) error {
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
