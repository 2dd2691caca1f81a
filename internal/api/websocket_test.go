package api_test

import (
	"testing"
	"time"

	"github.com/rawblock/persona-engine/internal/api"
)

func TestHubBroadcast_NeverBlocksWithoutConsumers(t *testing.T) {
	// The hub is deliberately not running: every send past the channel
	// buffer must be dropped, not block the caller. The engine emits events
	// under the session lock, so a blocking broadcast would stall sessions.
	hub := api.NewHub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Broadcast([]byte(`{"type":"engine_event"}`))
		}
		hub.BroadcastJSON(map[string]string{"type": "engine_event"})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked once the buffer filled")
	}
}
