package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prudhvinik1/liverelay/internal/config"
	"github.com/prudhvinik1/liverelay/internal/hub"
	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func waitForSubscribers(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, h.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestHandler_WritesEventFrames connects a real HTTP client, publishes
// through the hub, and checks the wire framing end to end.
func TestHandler_WritesEventFrames(t *testing.T) {
	h := hub.New(8, config.OverflowDropSubscriber, testLogger())
	server := httptest.NewServer(Handler(h, time.Minute, testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitForSubscribers(t, h, 1)

	h.Publish(&models.ChangeEvent{
		Operation:  models.OpUpdated,
		EntityKind: models.KindDependent,
		EntityID:   "p-42",
		ParentID:   "e-7",
		Snapshot:   []byte(`{"status":"confirmed"}`),
		OccurredAt: time.Now(),
	})

	reader := bufio.NewReader(resp.Body)
	var frame []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		frame = append(frame, line)
	}

	require.Len(t, frame, 3)
	assert.Equal(t, "event: participant-updated", frame[0])
	assert.Equal(t, "id: p-42", frame[1])
	assert.True(t, strings.HasPrefix(frame[2], "data: {"), "data line: %s", frame[2])
	assert.Contains(t, frame[2], `"entity_id":"p-42"`)
	assert.Contains(t, frame[2], `"parent_id":"e-7"`)
}

// TestHandler_Heartbeat checks the comment frame arrives when no events do.
func TestHandler_Heartbeat(t *testing.T) {
	h := hub.New(8, config.OverflowDropSubscriber, testLogger())
	server := httptest.NewServer(Handler(h, 20*time.Millisecond, testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": keep-alive\n", line)
}

// TestHandler_ClientDisconnectUnregisters is the path by which the hub
// learns a consumer vanished: the session must remove its handle.
func TestHandler_ClientDisconnectUnregisters(t *testing.T) {
	h := hub.New(8, config.OverflowDropSubscriber, testLogger())
	server := httptest.NewServer(Handler(h, time.Minute, testLogger()))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	waitForSubscribers(t, h, 1)

	cancel()

	waitForSubscribers(t, h, 0)
}

// TestHandler_EvictedSubscriberEndsSession: when the hub drops a slow
// subscriber, its session terminates rather than hanging on a dead queue.
func TestHandler_EvictedSubscriberEndsSession(t *testing.T) {
	h := hub.New(2, config.OverflowDropSubscriber, testLogger())

	recorder := httptest.NewRecorder()
	done := make(chan struct{})

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	go func() {
		Handler(h, time.Minute, testLogger())(recorder, req)
		close(done)
	}()

	waitForSubscribers(t, h, 1)

	// Outrun the draining session until its queue overflows and the hub
	// evicts it.
	for h.Len() > 0 {
		for i := 0; i < 8; i++ {
			h.Publish(&models.ChangeEvent{
				Operation:  models.OpCreated,
				EntityKind: models.KindPrimary,
				EntityID:   "e-1",
				Snapshot:   []byte(`{}`),
				OccurredAt: time.Now(),
			})
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after eviction")
	}
}
