package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(id, database string) *Client {
	return &Client{id: id, database: database, send: make(chan []byte, 4)}
}

func TestHubDeliversEventsOnlyToMatchingDatabase(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	a := newTestClient("a", "db1")
	b := newTestClient("b", "db2")
	h.register <- a
	h.register <- b

	h.Publish(Event{Type: EventCommit, Database: "db1", CommitHash: "abc"})

	select {
	case msg := <-a.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "abc", ev.CommitHash)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber a to receive the event")
	}

	select {
	case <-b.send:
		t.Fatal("subscriber on a different database must not receive the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubDropsEventForSlowSubscriberWithoutBlocking(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	c := newTestClient("slow", "db1")
	h.register <- c

	for i := 0; i < 10; i++ {
		h.Publish(Event{Type: EventCommit, Database: "db1"})
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(c.send), 4, "send channel never exceeds its buffer, excess events are dropped")
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	c := newTestClient("gone", "db1")
	h.register <- c
	h.unregister <- c

	time.Sleep(50 * time.Millisecond)
	_, ok := <-c.send
	assert.False(t, ok, "send channel is closed after unregister")
}
