package web

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StatusBroadcaster fans status snapshots out to any listeners (the
// /api/stream websocket, UDP telemetry). It keeps the most recent value so
// new subscribers get an immediate sample.
type StatusBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan StatusSnapshot
	nextID   int
	last     StatusSnapshot
	haveLast bool
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		subs: make(map[int]chan StatusSnapshot),
	}
}

func (b *StatusBroadcaster) Subscribe(buffer int) (int, <-chan StatusSnapshot) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan StatusSnapshot, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *StatusBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *StatusBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers snap to every subscriber that has room; slow subscribers
// miss samples rather than stall the publisher.
func (b *StatusBroadcaster) Publish(snap StatusSnapshot) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	b.last = snap
	b.haveLast = true
}

// Run publishes a status snapshot every interval until ctx is done.
func (b *StatusBroadcaster) Run(ctx context.Context, status *Status, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Publish(status.Snapshot(time.Now().UTC()))
		}
	}
}

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	// The API is read-only; any page may watch it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler upgrades to a websocket and pushes every published snapshot
// as a JSON text message.
func StreamHandler(b *StatusBroadcaster) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conn, err := streamUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: stream upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		id, ch := b.Subscribe(4)
		defer b.Unsubscribe(id)

		// Clients only send control frames; reading keeps pongs and close
		// frames flowing and tells us when the peer goes away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadLimit(4096)
			_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(streamPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("web: stream read: %v", err)
					}
					return
				}
			}
		}()

		ping := time.NewTicker(streamPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case snap, ok := <-ch:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
