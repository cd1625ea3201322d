package web

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// Build identifies the running binary.
type Build struct {
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Time      string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// ReadBuild fills a Build from the embedded module and VCS info.
func ReadBuild() Build {
	b := Build{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return b
	}
	b.Module = bi.Main.Path
	b.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Commit = s.Value
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		case "vcs.time":
			b.Time = s.Value
		}
	}
	return b
}

// String is the one-line form printed by -version.
func (b Build) String() string {
	v := b.Version
	if v == "" {
		v = "(devel)"
	}
	s := "gaugeconv " + v
	if b.Commit != "" {
		s += " " + b.Commit
		if b.Dirty {
			s += "+dirty"
		}
	}
	return s + " " + b.GoVersion
}

// AboutChannel is the fixed part of a channel's setup.
type AboutChannel struct {
	Name   string `json:"name"`
	Ratio  string `json:"ratio"`
	Window int    `json:"window"`
}

type AboutResponse struct {
	Service      string         `json:"service"`
	BootID       string         `json:"boot_id,omitempty"`
	NowUTC       string         `json:"now_utc"`
	UptimeSec    int64          `json:"uptime_sec"`
	Build        Build          `json:"build"`
	Strategy     string         `json:"strategy,omitempty"`
	OutputMode   string         `json:"output_mode,omitempty"`
	TimerClockHz uint32         `json:"timer_clock_hz,omitempty"`
	Channels     []AboutChannel `json:"channels"`
}

// AboutHandler reports what this run converts and with which binary. The
// boot id lets a client match it against telemetry from the same run.
func AboutHandler(status *Status) http.Handler {
	build := ReadBuild()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !getOnly(w, r) {
			return
		}

		now := time.Now().UTC()
		resp := AboutResponse{
			Service:  "gaugeconv",
			NowUTC:   now.Format(time.RFC3339Nano),
			Build:    build,
			Channels: []AboutChannel{},
		}
		if status != nil {
			snap := status.Snapshot(now)
			resp.BootID = snap.BootID
			resp.UptimeSec = snap.UptimeSec
			resp.Strategy = snap.Convert.Strategy
			resp.OutputMode = snap.Convert.OutputMode
			resp.TimerClockHz = snap.Convert.TimerClockHz
			for _, c := range snap.Convert.Channels {
				resp.Channels = append(resp.Channels, AboutChannel{
					Name:   c.Name,
					Ratio:  fmt.Sprintf("%d/%d", c.Multiplier, c.Divisor),
					Window: c.Window,
				})
			}
		}
		writeJSON(w, resp)
	})
}
