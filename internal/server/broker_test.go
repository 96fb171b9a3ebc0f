package server

import (
	"bytes"
	"testing"
)

func TestBrokerRoomIsolation(t *testing.T) {
	b := NewBroker(8)

	roomA := RoomForRun("run-a")
	roomB := RoomForRun("run-b")

	chA := b.Subscribe(roomA)
	chB := b.Subscribe(roomB)
	defer b.Unsubscribe(roomA, chA)
	defer b.Unsubscribe(roomB, chB)

	b.Publish(roomA, "thought_event", []byte(`{"run_id":"run-a"}`))

	select {
	case ev := <-chA:
		if !bytes.Contains(ev, []byte("run-a")) {
			t.Fatalf("unexpected event: %s", ev)
		}
	default:
		t.Fatal("room A subscriber received nothing")
	}

	select {
	case ev := <-chB:
		t.Fatalf("room B received room A's event: %s", ev)
	default:
	}
}

func TestBrokerFanOutWithinRoom(t *testing.T) {
	b := NewBroker(8)
	room := RoomForRun("run-1")

	first := b.Subscribe(room)
	second := b.Subscribe(room)
	defer b.Unsubscribe(room, first)
	defer b.Unsubscribe(room, second)

	b.Publish(room, "ci_update_event", []byte(`{"iteration":2}`))

	for i, ch := range []chan []byte{first, second} {
		select {
		case <-ch:
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBrokerSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBroker(1)
	room := RoomForRun("run-1")

	slow := b.Subscribe(room)
	defer b.Unsubscribe(room, slow)

	// Fill the buffer, then publish more. Publish must return promptly
	// and later events are simply dropped for the slow subscriber.
	b.Publish(room, "thought_event", []byte("one"))
	b.Publish(room, "thought_event", []byte("two"))
	b.Publish(room, "thought_event", []byte("three"))

	if got := len(slow); got != 1 {
		t.Fatalf("slow subscriber buffered %d events, want 1", got)
	}
}

func TestBrokerUnsubscribeDropsEmptyRoom(t *testing.T) {
	b := NewBroker(8)
	room := RoomForRun("run-1")

	ch := b.Subscribe(room)
	if b.Subscribers(room) != 1 {
		t.Fatalf("subscribers = %d", b.Subscribers(room))
	}

	b.Unsubscribe(room, ch)
	if b.Subscribers(room) != 0 {
		t.Fatal("room not emptied")
	}

	b.mu.RLock()
	_, present := b.rooms[room]
	b.mu.RUnlock()
	if present {
		t.Fatal("empty room not removed from map")
	}

	// Receiving from the closed channel does not panic.
	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}

	// Double-unsubscribe is harmless.
	b.Unsubscribe(room, ch)
}

func TestFormatSSE(t *testing.T) {
	got := formatSSE("thought_event", []byte(`{"x":1}`))
	want := "event: thought_event\ndata: {\"x\":1}\n\n"
	if string(got) != want {
		t.Fatalf("formatSSE = %q, want %q", got, want)
	}
}
