package server

import (
	"sync"
)

// RoomForRun returns the subscriber room name for a run. The same string is
// handed to clients as socket_room in the submission response.
func RoomForRun(runID string) string {
	return "/run/" + runID
}

// Broker fans telemetry events out to SSE subscribers, scoped by room. Each
// run has its own room; an event for one run is never delivered to another
// run's subscribers.
type Broker struct {
	bufferSize int

	mu    sync.RWMutex
	rooms map[string]map[chan []byte]struct{}
}

// NewBroker creates a broker. bufferSize is the per-subscriber channel
// buffer; a subscriber whose buffer is full misses events rather than
// blocking everyone else.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		bufferSize: bufferSize,
		rooms:      make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives SSE-formatted events for room.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(room string) chan []byte {
	ch := make(chan []byte, b.bufferSize)

	b.mu.Lock()
	subs, ok := b.rooms[room]
	if !ok {
		subs = make(map[chan []byte]struct{})
		b.rooms[room] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel from room and closes it. Empty
// rooms are dropped so the map does not accumulate finished runs.
func (b *Broker) Unsubscribe(room string, ch chan []byte) {
	b.mu.Lock()
	if subs, ok := b.rooms[room]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.rooms, room)
		}
	}
	b.mu.Unlock()
}

// Publish sends an SSE-formatted event to every subscriber in room. Slow
// subscribers with a full buffer are skipped — their event is dropped — to
// prevent one slow client from blocking all others.
func (b *Broker) Publish(room string, eventType string, data []byte) {
	event := formatSSE(eventType, data)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.rooms[room] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports the number of subscribers in room.
func (b *Broker) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

// formatSSE formats an event as a Server-Sent Events message:
// "event: <type>\ndata: <payload>\n\n".
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
