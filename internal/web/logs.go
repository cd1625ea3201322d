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

// LogLine is one complete log line. Channel is set when the line carries a
// channel=<name> field, as the conversion service's output events do.
type LogLine struct {
	Seq     uint64 `json:"seq"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// LogBuffer keeps the most recent log lines for /api/logs. It is an
// io.Writer so it can sit behind the standard logger.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []LogLine
	partial []byte
	seq     uint64
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write splits p into lines. A trailing fragment waits for its newline.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		b.appendLocked(strings.TrimRight(string(b.partial[:i]), "\r"))
		b.partial = b.partial[i+1:]
	}
	if len(b.partial) == 0 {
		b.partial = nil
	}
	return len(p), nil
}

func (b *LogBuffer) appendLocked(text string) {
	if text == "" {
		return
	}
	b.seq++
	b.lines = append(b.lines, LogLine{Seq: b.seq, Channel: channelField(text), Text: text})
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0], b.lines[over:]...)
		b.dropped += uint64(over)
	}
}

func channelField(text string) string {
	for _, f := range strings.Fields(text) {
		if v, ok := strings.CutPrefix(f, "channel="); ok {
			return v
		}
	}
	return ""
}

// LogQuery selects lines from a LogBuffer. Zero values match everything;
// Tail <= 0 means 200.
type LogQuery struct {
	Tail    int
	Channel string
	// After skips lines with Seq <= After, for incremental polling.
	After uint64
}

// Query returns the newest q.Tail matching lines, oldest first, and how many
// lines the ring has dropped so far.
func (b *LogBuffer) Query(q LogQuery) (lines []LogLine, dropped uint64) {
	if q.Tail <= 0 {
		q.Tail = 200
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	lines = []LogLine{}
	for i := len(b.lines) - 1; i >= 0 && len(lines) < q.Tail; i-- {
		l := b.lines[i]
		if l.Seq <= q.After {
			break
		}
		if q.Channel != "" && l.Channel != q.Channel {
			continue
		}
		lines = append(lines, l)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, b.dropped
}

// Tail returns the text of the last n lines.
func (b *LogBuffer) Tail(n int) []string {
	lines, _ := b.Query(LogQuery{Tail: n})
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

type LogsResponse struct {
	NowUTC  string    `json:"now_utc"`
	Dropped uint64    `json:"dropped"`
	Lines   []LogLine `json:"lines"`
}

// Handler serves GET /api/logs?tail=N&channel=name&after=seq[&format=text].
// channels lists the names a channel filter may use; nil accepts any.
func (b *LogBuffer) Handler(channels func() []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !getOnly(w, r) {
			return
		}
		qs := r.URL.Query()

		q := LogQuery{Tail: 200, Channel: strings.TrimSpace(qs.Get("channel"))}
		if s := strings.TrimSpace(qs.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			q.Tail = v
		}
		if s := strings.TrimSpace(qs.Get("after")); s != "" {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				http.Error(w, "after must be a line sequence number", http.StatusBadRequest)
				return
			}
			q.After = v
		}
		if q.Channel != "" && channels != nil && !containsName(channels(), q.Channel) {
			http.Error(w, fmt.Sprintf("unknown channel %q", q.Channel), http.StatusBadRequest)
			return
		}

		lines, dropped := b.Query(q)
		if strings.EqualFold(qs.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, l := range lines {
				_, _ = fmt.Fprintln(w, l.Text)
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

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
