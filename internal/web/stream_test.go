package web

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStatusBroadcaster_LastValueOnSubscribe(t *testing.T) {
	b := NewStatusBroadcaster()
	b.Publish(StatusSnapshot{BootID: "first"})

	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	select {
	case got := <-ch:
		if got.BootID != "first" {
			t.Fatalf("boot_id=%q", got.BootID)
		}
	default:
		t.Fatalf("expected last snapshot on subscribe")
	}
}

func TestStatusBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewStatusBroadcaster()
	id, ch := b.Subscribe(1)

	for i := 0; i < 5; i++ {
		b.Publish(StatusSnapshot{UptimeSec: int64(i)})
	}
	got := <-ch
	if got.UptimeSec != 0 {
		t.Fatalf("uptime=%d", got.UptimeSec)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
}

func TestStatusBroadcaster_RunPublishes(t *testing.T) {
	b := NewStatusBroadcaster()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, testStatus(), 5*time.Millisecond)

	select {
	case got := <-ch:
		if got.Service != "gaugeconv" {
			t.Fatalf("service=%q", got.Service)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot published")
	}
}

func TestAPIStream_PushesSnapshots(t *testing.T) {
	b := NewStatusBroadcaster()
	ts := httptest.NewServer(Handler(testStatus(), nil, b))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	b.Publish(testStatus().Snapshot(time.Now().UTC()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got StatusSnapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Service != "gaugeconv" || len(got.Convert.Channels) != 1 {
		t.Fatalf("got=%+v", got)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	deadline = time.Now().Add(2 * time.Second)
	for b.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream did not unsubscribe after close")
		}
		time.Sleep(time.Millisecond)
	}
}
