package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogTail = 200
	maxLogTail     = 5000
)

// LogBuffer keeps the most recent log lines for /api/logs. It is an
// io.Writer so it can sit behind log.SetOutput.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write stores each complete line of p. A trailing fragment is held until
// its newline arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			b.partial = append(b.partial, rest...)
			return len(p), nil
		}
		line := rest[:i]
		if len(b.partial) > 0 {
			line = append(b.partial, line...)
			b.partial = nil
		}
		b.push(string(bytes.TrimRight(line, "\r")))
		rest = rest[i+1:]
	}
}

func (b *LogBuffer) push(line string) {
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[1:]
		b.dropped++
	}
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	return b.SnapshotComponent(tail, "")
}

// SnapshotComponent returns up to tail of the newest lines logged by
// component, oldest first. A component's lines read "<component>: ..."; an
// empty component matches every line.
func (b *LogBuffer) SnapshotComponent(tail int, component string) (lines []string, dropped uint64) {
	if tail <= 0 {
		tail = defaultLogTail
	}
	marker := component + ": "

	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.lines)
	for n := 0; start > 0 && n < tail; start-- {
		if component == "" || fromComponent(b.lines[start-1], marker) {
			n++
		}
	}
	for _, l := range b.lines[start:] {
		if component == "" || fromComponent(l, marker) {
			lines = append(lines, l)
		}
	}
	return lines, b.dropped
}

// fromComponent matches marker at the start of the message, after any date
// and time prefix the logger added.
func fromComponent(line, marker string) bool {
	return strings.HasPrefix(line, marker) || strings.Contains(line, " "+marker)
}

// Handler serves the buffer. Query: tail=N (1..5000), component=NAME and
// format=text for plain output.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		tail := defaultLogTail
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > maxLogTail {
				http.Error(w, fmt.Sprintf("tail must be an integer in [1,%d]", maxLogTail), http.StatusBadRequest)
				return
			}
			tail = v
		}
		lines, dropped := b.SnapshotComponent(tail, strings.TrimSpace(q.Get("component")))

		w.Header().Set("Cache-Control", "no-store")
		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			_, _ = fmt.Fprint(w, strings.Join(lines, "\n"))
			if len(lines) > 0 {
				_, _ = fmt.Fprintln(w)
			}
			return
		}
		writeJSON(w, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   lines,
		})
	})
}
