// Package loghub provides per-job log distribution: a capacity-bounded
// replay buffer, an on-disk transcript, and best-effort fan-out to any
// number of live subscribers.
//
// Delivery is at-least-recent, not guaranteed: a subscriber that joins
// late sees the buffered history up to capacity, and a subscriber whose
// channel is full silently misses lines. The producer never blocks.
package loghub

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// subscriberBuffer is the channel capacity given to each subscriber on
// top of the replayed history. Live lines beyond this are dropped for
// that subscriber only.
const subscriberBuffer = 256

// Hub fans log lines out to a ring buffer, a transcript file and live
// subscriber channels. Safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	path     string
	capacity int
	lines    []string
	subs     map[chan string]struct{}
}

// New creates a Hub writing its transcript to path and keeping at most
// capacity lines for replay.
func New(path string, capacity int) *Hub {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub{
		path:     path,
		capacity: capacity,
		lines:    make([]string, 0, capacity),
		subs:     make(map[chan string]struct{}),
	}
}

// Emit timestamps message, appends it to the ring buffer and transcript
// file, and attempts non-blocking delivery to every subscriber.
func (h *Hub) Emit(message string) {
	line := time.Now().UTC().Format(time.RFC3339) + " | " + message

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.lines) == h.capacity {
		copy(h.lines, h.lines[1:])
		h.lines = h.lines[:h.capacity-1]
	}
	h.lines = append(h.lines, line)

	h.appendFile(line)

	for ch := range h.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber, drop the line for it.
		}
	}
}

// Emitf formats and emits a log line.
func (h *Hub) Emitf(format string, args ...any) {
	h.Emit(fmt.Sprintf(format, args...))
}

func (h *Hub) appendFile(line string) {
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line + "\n")
}

// Lines returns a copy of the current ring buffer contents.
func (h *Hub) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.lines))
	copy(out, h.lines)
	return out
}

// Snapshot returns every line of the on-disk transcript. A missing
// transcript yields an empty slice.
func (h *Hub) Snapshot() []string {
	data, err := os.ReadFile(h.path)
	if err != nil || len(data) == 0 {
		return []string{}
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// Subscription is one attached log consumer. Receive from C until done,
// then call Close to detach.
type Subscription struct {
	C    <-chan string
	hub  *Hub
	ch   chan string
	once sync.Once
}

// Subscribe registers a new consumer. The current buffer contents are
// replayed into the subscription channel before any live line, so late
// joiners see recent history up to the hub capacity.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan string, h.capacity+subscriberBuffer)
	for _, line := range h.lines {
		ch <- line
	}
	h.subs[ch] = struct{}{}

	return &Subscription{C: ch, hub: h, ch: ch}
}

// Close detaches the subscription from its hub. Lines already delivered
// to the channel remain readable; no further lines arrive.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.ch)
		s.hub.mu.Unlock()
	})
}
