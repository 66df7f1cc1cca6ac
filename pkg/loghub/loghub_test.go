package loghub

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, capacity int) *Hub {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "job.log"), capacity)
}

func TestEmitAppendsRingAndFile(t *testing.T) {
	h := newTestHub(t, 10)
	h.Emit("first")
	h.Emitf("second %d", 2)

	lines := h.Lines()
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "| first"))
	assert.True(t, strings.HasSuffix(lines[1], "| second 2"))

	snapshot := h.Snapshot()
	assert.Equal(t, lines, snapshot)
}

func TestRingEvictsOldest(t *testing.T) {
	h := newTestHub(t, 3)
	for i := 0; i < 5; i++ {
		h.Emit(fmt.Sprintf("line-%d", i))
	}

	lines := h.Lines()
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "line-2"))
	assert.True(t, strings.HasSuffix(lines[2], "line-4"))

	// The transcript keeps everything the ring evicted.
	assert.Len(t, h.Snapshot(), 5)
}

func TestSubscribeReplaysHistoryInOrder(t *testing.T) {
	h := newTestHub(t, 100)
	for i := 0; i < 7; i++ {
		h.Emit(fmt.Sprintf("early-%d", i))
	}

	sub := h.Subscribe()
	defer sub.Close()
	h.Emit("live-0")

	var got []string
	for i := 0; i < 8; i++ {
		select {
		case line := <-sub.C:
			got = append(got, line)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}

	for i := 0; i < 7; i++ {
		assert.True(t, strings.HasSuffix(got[i], fmt.Sprintf("early-%d", i)), "line %d out of order: %s", i, got[i])
	}
	assert.True(t, strings.HasSuffix(got[7], "live-0"))
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	h := newTestHub(t, 2)
	sub := h.Subscribe()
	defer sub.Close()

	// Overrun the subscriber channel; Emit must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < h.capacity+subscriberBuffer+50; i++ {
			h.Emit("flood")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a slow subscriber")
	}
}

func TestCloseDetaches(t *testing.T) {
	h := newTestHub(t, 10)
	sub := h.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	h.Emit("after close")
	select {
	case line, ok := <-sub.C:
		if ok {
			t.Fatalf("received line after close: %s", line)
		}
	default:
	}
}

func TestSnapshotMissingFile(t *testing.T) {
	h := newTestHub(t, 10)
	assert.Empty(t, h.Snapshot())
}
