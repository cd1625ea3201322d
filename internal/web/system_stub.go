//go:build !linux

package web

func localInterfaceAddrs() []string { return nil }
