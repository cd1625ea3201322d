package udp

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Broadcaster sends datagrams to one fixed destination.
type Broadcaster struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	errors atomic.Uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{
		dest: dest,
		conn: conn,
	}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	if err != nil {
		b.errors.Add(1)
		return err
	}
	b.sent.Add(1)
	return nil
}

// Counters reports datagrams sent and write failures.
func (b *Broadcaster) Counters() (sent, failed uint64) {
	return b.sent.Load(), b.errors.Load()
}

// Run sends payload() every interval until ctx is done. Marshal and write
// failures are logged once per streak and do not stop the loop.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, payload func() ([]byte, error)) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		p, err := payload()
		if err == nil {
			err = b.Send(p)
		}
		if err != nil {
			if !failing {
				log.Printf("udp: telemetry dest=%s send failed: %v", b.dest, err)
			}
			failing = true
			continue
		}
		if failing {
			log.Printf("udp: telemetry dest=%s recovered", b.dest)
		}
		failing = false
	}
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
