package events

import (
	"fmt"
	"testing"
)

func TestRingBuffer_PublishAndRecent(t *testing.T) {
	rb := NewRingBuffer(4)

	for i := 0; i < 6; i++ {
		rb.Publish(Event{Type: SyncStarted, SyncID: fmt.Sprintf("s%d", i)})
	}

	if rb.Count() != 4 {
		t.Errorf("Count = %d, want 4", rb.Count())
	}

	recent := rb.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len(Recent(2)) = %d", len(recent))
	}
	if recent[0].SyncID != "s5" || recent[1].SyncID != "s4" {
		t.Errorf("Recent order wrong: %s, %s", recent[0].SyncID, recent[1].SyncID)
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(8)

	var got []Event
	unsub := rb.Subscribe(func(e Event) { got = append(got, e) })

	rb.Publish(Event{Type: PlatformStarting, Platform: "wordpress"})
	if len(got) != 1 || got[0].Platform != "wordpress" {
		t.Fatalf("handler not called: %+v", got)
	}

	unsub()
	rb.Publish(Event{Type: PlatformCompleted})
	if len(got) != 1 {
		t.Errorf("handler called after unsubscribe")
	}
}

func TestRingBuffer_RecentBySync(t *testing.T) {
	rb := NewRingBuffer(16)

	rb.Publish(Event{Type: SyncStarted, SyncID: "a"})
	rb.Publish(Event{Type: SyncStarted, SyncID: "b"})
	rb.Publish(Event{Type: PlatformCompleted, SyncID: "a", Platform: "p1"})

	got := rb.RecentBySync("a", 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != PlatformCompleted || got[1].Type != SyncStarted {
		t.Errorf("order wrong: %v, %v", got[0].Type, got[1].Type)
	}
}

func TestRingBuffer_TimestampAssigned(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Publish(Event{Type: AuthChecked})
	if rb.Recent(1)[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}
