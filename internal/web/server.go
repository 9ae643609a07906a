package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"accelgraph/internal/graph"
	"accelgraph/internal/lifecycle"
)

// SessionController is the lifecycle as seen from the API.
type SessionController interface {
	Resume(ctx context.Context) error
	Pause()
	State() lifecycle.State
}

// BoardReader copies the display board. Implementations run the copy on the
// UI loop.
type BoardReader func(ctx context.Context) (graph.BoardSnapshot, error)

type Deps struct {
	Status  *Status
	Session SessionController
	// SessionContext bounds refresh loops started through the API. Request
	// contexts end with the request, so they cannot be used.
	SessionContext context.Context
	Board          BoardReader
	Frames         *FrameBroadcaster
	Settings       SettingsStore
	Logs           *LogBuffer

	Source     string
	ConfigPath string
}

const boardTimeout = 2 * time.Second

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	status := d.Status
	if status == nil {
		status = NewStatus()
	}
	sessionCtx := d.SessionContext
	if sessionCtx == nil {
		sessionCtx = context.Background()
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/session/resume", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if d.Session == nil {
			http.Error(w, "session unavailable", http.StatusNotFound)
			return
		}
		if err := d.Session.Resume(sessionCtx); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, lifecycle.ErrMissingCapability) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, d.Session.State())
	})

	mux.HandleFunc("/api/session/pause", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if d.Session == nil {
			http.Error(w, "session unavailable", http.StatusNotFound)
			return
		}
		d.Session.Pause()
		writeJSON(w, d.Session.State())
	})

	mux.HandleFunc("/api/board", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		snap, ok := readBoard(w, r, d.Board)
		if !ok {
			return
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("/api/graph", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		snap, ok := readBoard(w, r, d.Board)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := graph.RenderHTML(w, snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/api/graph.png", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		group, err := graph.ParseGroup(r.URL.Query().Get("group"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		snap, ok := readBoard(w, r, d.Board)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := graph.RenderPNG(w, snap, group); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.Handle("/api/stream", d.Frames.StreamHandler())
	mux.Handle("/api/settings", d.Settings.Handler())

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler(d.Source, d.ConfigPath))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})

	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func readBoard(w http.ResponseWriter, r *http.Request, read BoardReader) (graph.BoardSnapshot, bool) {
	if read == nil {
		http.Error(w, "display unavailable", http.StatusNotFound)
		return graph.BoardSnapshot{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), boardTimeout)
	defer cancel()
	snap, err := read(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("display unavailable: %v", err), http.StatusServiceUnavailable)
		return graph.BoardSnapshot{}, false
	}
	return snap, true
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	if d.SessionContext == nil {
		d.SessionContext = ctx
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
