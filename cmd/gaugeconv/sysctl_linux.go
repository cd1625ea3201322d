//go:build linux

package main

import (
	"log"

	"github.com/lorenzosaino/go-sysctl"
)

// Kernel knobs that bound how late the capture and compare goroutines can
// run. Logged once at startup; nothing is changed.
var schedulerTunables = []string{
	"kernel.sched_rt_runtime_us",
	"kernel.sched_min_granularity_ns",
	"kernel.timer_migration",
	"kernel.hz",
}

var sysctlGet = sysctl.Get

func logSchedulerTunables() {
	for _, name := range schedulerTunables {
		v, err := sysctlGet(name)
		if err != nil {
			continue
		}
		log.Printf("sysctl %s=%s", name, v)
	}
}
