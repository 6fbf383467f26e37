package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	if n := b.Publish(NewEvent(KindMessageNew, "m1")); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageNew {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageNew)
		}
		if evt.Payload != "m1" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("pending.", 10)
	defer unsub()

	b.Publish(NewEvent(KindMessageNew, nil))
	b.Publish(NewEvent(KindPendingFailed, nil))

	select {
	case evt := <-ch:
		if evt.Kind != KindPendingFailed {
			t.Errorf("got kind %q, want %s", evt.Kind, KindPendingFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the message event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()
	unsub() // idempotent

	if n := b.Publish(NewEvent(KindMessageNew, nil)); n != 0 {
		t.Errorf("delivered = %d after unsubscribe", n)
	}

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}
