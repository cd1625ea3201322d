package web

import (
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"gaugeconv/internal/convert"
)

// StaticInfo is deployment information that does not change while running.
type StaticInfo struct {
	Peripheral    string `json:"peripheral"`
	Strategy      string `json:"strategy"`
	OutputMode    string `json:"output_mode"`
	Scenario      string `json:"scenario,omitempty"`
	TelemetryDest string `json:"telemetry_dest,omitempty"`
}

type Status struct {
	bootID        string
	startUnixNano int64
	static        atomic.Value // StaticInfo
	source        atomic.Value // func() convert.Snapshot
}

// NewStatus stamps a fresh boot id. Each process start gets a new one, so
// clients can tell a restart from a stalled stream.
func NewStatus() *Status {
	s := &Status{bootID: ulid.Make().String()}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(StaticInfo{})
	s.source.Store(func() convert.Snapshot { return convert.Snapshot{} })
	return s
}

// BootID identifies this process run.
func (s *Status) BootID() string { return s.bootID }

func (s *Status) SetStatic(info StaticInfo) {
	s.static.Store(info)
}

// SetSource installs the function that reports the conversion state.
func (s *Status) SetSource(fn func() convert.Snapshot) {
	if fn == nil {
		return
	}
	s.source.Store(fn)
}

// Uptime is the whole seconds since NewStatus.
func (s *Status) Uptime(nowUTC time.Time) int64 {
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	return int64(nowUTC.Sub(start).Seconds())
}

type StatusSnapshot struct {
	Service    string           `json:"service"`
	BootID     string           `json:"boot_id"`
	NowUTC     string           `json:"now_utc"`
	UptimeSec  int64            `json:"uptime_sec"`
	Static     StaticInfo       `json:"static"`
	Convert    convert.Snapshot `json:"convert"`
	LocalAddrs []string         `json:"local_addrs,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	source := s.source.Load().(func() convert.Snapshot)

	return StatusSnapshot{
		Service:    "gaugeconv",
		BootID:     s.bootID,
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  s.Uptime(nowUTC),
		Static:     s.static.Load().(StaticInfo),
		Convert:    source(),
		LocalAddrs: localInterfaceAddrs(),
	}
}

// ChannelNames lists the configured channels in pipe order.
func (s *Status) ChannelNames() []string {
	source := s.source.Load().(func() convert.Snapshot)
	chans := source().Channels
	names := make([]string, 0, len(chans))
	for _, c := range chans {
		names = append(names, c.Name)
	}
	return names
}
