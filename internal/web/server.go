package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func Handler(status *Status, logs *LogBuffer, stream *StatusBroadcaster) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !getOnly(w, r) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	// Returns paths like "./configs/scenarios/step.yaml".
	mux.HandleFunc("/api/scenarios", func(w http.ResponseWriter, r *http.Request) {
		if !getOnly(w, r) {
			return
		}

		paths := []string{}
		entries, err := os.ReadDir(filepath.FromSlash("configs/scenarios"))
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				lower := strings.ToLower(e.Name())
				if !(strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")) {
					continue
				}
				paths = append(paths, "./configs/scenarios/"+e.Name())
			}
		}
		sort.Strings(paths)

		writeJSON(w, struct {
			Paths []string `json:"paths"`
		}{Paths: paths})
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler(status.ChannelNames))
	}
	if stream != nil {
		mux.Handle("/api/stream", StreamHandler(stream))
	}

	mux.Handle("/api/about", AboutHandler(status))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !getOnly(w, r) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gaugeconv</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>gaugeconv</h1>")
		_, _ = fmt.Fprintf(w, "<p>JSON: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/logs?format=text\">/api/logs</a>. Live: ws /api/stream.</p>")
		_, _ = fmt.Fprintf(w, "<table border=\"1\" cellpadding=\"4\"><tr><th>channel</th><th>ratio</th><th>input hz</th><th>target hz</th><th>compare</th><th>forced</th></tr>")
		for _, ch := range snap.Convert.Channels {
			_, _ = fmt.Fprintf(w, "<tr><td>%s</td><td>%d/%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td></tr>",
				html.EscapeString(ch.Name), ch.Multiplier, ch.Divisor, ch.SmoothedHz, ch.TargetHz, ch.Compare, ch.Forced,
			)
		}
		_, _ = fmt.Fprintf(w, "</table><pre>boot_id=%s\nperipheral=%s\nstrategy=%s\nticks=%d\nlast_tick_utc=%s</pre>",
			html.EscapeString(snap.BootID), html.EscapeString(snap.Static.Peripheral), html.EscapeString(snap.Static.Strategy),
			snap.Convert.Ticks, snap.Convert.LastTickAt.Format(time.RFC3339Nano),
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, status *Status, logs *LogBuffer, stream *StatusBroadcaster) error {
	if status == nil {
		status = NewStatus()
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, logs, stream),
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
