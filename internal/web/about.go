package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const serviceName = "accelgraph"

// BuildInfo is what the Go toolchain stamped into the binary.
type BuildInfo struct {
	Module  string `json:"module,omitempty"`
	Version string `json:"version,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
	Time    string `json:"time,omitempty"`
}

type AboutResponse struct {
	Service    string    `json:"service"`
	Source     string    `json:"source,omitempty"`
	ConfigPath string    `json:"config_path,omitempty"`
	NowUTC     string    `json:"now_utc"`
	Uptime     string    `json:"uptime"`
	GoVersion  string    `json:"go_version"`
	Build      BuildInfo `json:"build"`
}

var processStart = time.Now()

var buildInfo = sync.OnceValue(func() BuildInfo {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return BuildInfo{}
	}
	out := BuildInfo{Module: bi.Main.Path, Version: bi.Main.Version}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.Time = s.Value
		}
	}
	return out
})

// AboutHandler reports the sensor source, config file and build of this
// process.
func AboutHandler(source, configPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		now := time.Now()
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, AboutResponse{
			Service:    serviceName,
			Source:     source,
			ConfigPath: configPath,
			NowUTC:     now.UTC().Format(time.RFC3339Nano),
			Uptime:     now.Sub(processStart).Round(time.Second).String(),
			GoVersion:  runtime.Version(),
			Build:      buildInfo(),
		})
	})
}
