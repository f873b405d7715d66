package control

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/events"
)

func startControlServer(t *testing.T, token string) (string, *events.RingBuffer) {
	t.Helper()
	sink := events.NewRingBuffer(16)
	srv := NewServer(&fakeHandler{}, NewSessionManager(), sink, token, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), sink
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_CallRoundTrip(t *testing.T) {
	url, _ := startControlServer(t, "secret")

	c := NewClient(url, "secret", nil, nil)
	c.Enable()
	defer c.Disable()
	waitConnected(t, c)

	var platforms []domain.PlatformDescriptor
	if err := c.Call(context.Background(), "listPlatforms", nil, &platforms); err != nil {
		t.Fatal(err)
	}
	if len(platforms) != 1 || platforms[0].ID != "wordpress" {
		t.Errorf("platforms = %+v", platforms)
	}
}

func TestClient_ConcurrentCalls(t *testing.T) {
	url, _ := startControlServer(t, "secret")

	c := NewClient(url, "secret", nil, nil)
	c.Enable()
	defer c.Disable()
	waitConnected(t, c)

	// Many callers share the single connection; writes must be serialized
	// and each response routed to its own caller.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var platforms []domain.PlatformDescriptor
			if err := c.Call(context.Background(), "listPlatforms", nil, &platforms); err != nil {
				t.Error(err)
				return
			}
			if len(platforms) != 1 || platforms[0].ID != "wordpress" {
				t.Errorf("platforms = %+v", platforms)
			}
		}()
	}
	wg.Wait()
}

func TestClient_ServerErrorSurfaced(t *testing.T) {
	url, _ := startControlServer(t, "secret")

	c := NewClient(url, "wrong", nil, nil)
	c.Enable()
	defer c.Disable()
	waitConnected(t, c)

	err := c.Call(context.Background(), "listPlatforms", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want token mismatch with code 403", err)
	}
}

func TestClient_DisabledRejectsCalls(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", "", nil, nil)

	err := c.Call(context.Background(), "listPlatforms", nil, nil)
	if !errors.Is(err, ErrClientDisabled) {
		t.Errorf("err = %v, want ErrClientDisabled", err)
	}
}

func TestClient_DisableStopsReconnecting(t *testing.T) {
	// Nothing listens here; the client keeps backing off until disabled.
	c := NewClient("ws://127.0.0.1:1/ws", "", nil, nil)
	c.Enable()
	time.Sleep(20 * time.Millisecond)
	c.Disable()

	c.mu.Lock()
	retrying := c.retry != nil
	enabled := c.enabled
	c.mu.Unlock()
	if retrying || enabled {
		t.Errorf("retry=%v enabled=%v after Disable, want timers cancelled", retrying, enabled)
	}
	if c.Connected() {
		t.Error("connected after Disable")
	}
}

func TestClient_ReceivesPushedEvents(t *testing.T) {
	url, sink := startControlServer(t, "secret")

	got := make(chan events.Event, 1)
	c := NewClient(url, "secret", func(ev events.Event) {
		select {
		case got <- ev:
		default:
		}
	}, nil)
	c.Enable()
	defer c.Disable()
	waitConnected(t, c)

	// A round trip guarantees the server-side subscription exists before
	// the publish.
	if err := c.Call(context.Background(), "listPlatforms", nil, nil); err != nil {
		t.Fatal(err)
	}
	sink.Publish(events.Event{Type: events.SyncCompleted, SyncID: "s3"})

	select {
	case ev := <-got:
		if ev.Type != events.SyncCompleted || ev.SyncID != "s3" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClient_ReconnectsAfterBackoff(t *testing.T) {
	url, _ := startControlServer(t, "secret")

	c := NewClient(url, "secret", nil, nil)
	c.Enable()
	defer c.Disable()
	waitConnected(t, c)

	// Kill the connection out from under the client; it should come back
	// after the initial backoff.
	c.mu.Lock()
	c.conn.Close()
	c.mu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if c.Connected() {
			if err := c.Call(context.Background(), "listPlatforms", nil, nil); err == nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("client did not reconnect")
}
