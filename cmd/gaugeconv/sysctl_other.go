//go:build !linux

package main

func logSchedulerTunables() {}
