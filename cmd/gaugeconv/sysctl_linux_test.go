//go:build linux

package main

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestLogSchedulerTunables_SkipsUnreadable(t *testing.T) {
	old := sysctlGet
	t.Cleanup(func() { sysctlGet = old })
	sysctlGet = func(name string) (string, error) {
		if name == "kernel.timer_migration" {
			return "1", nil
		}
		return "", errors.New("no such key")
	}

	var buf bytes.Buffer
	oldOut, oldFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(oldOut)
		log.SetFlags(oldFlags)
	})

	logSchedulerTunables()
	if got := strings.TrimSpace(buf.String()); got != "sysctl kernel.timer_migration=1" {
		t.Fatalf("log=%q", got)
	}
}
