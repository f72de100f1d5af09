package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/poller"
	"acs-event-bridge/internal/types"
)

type stubStatus struct {
	devices []poller.DeviceStatus
}

func (s *stubStatus) Snapshot() []poller.DeviceStatus { return s.devices }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, status *stubStatus) (*Server, *EventFeed, *httptest.Server) {
	t.Helper()
	logger := quietLogger()
	feed := NewEventFeed(logger)
	s := NewServer(config.APIConfig{ListenAddr: "127.0.0.1:0"}, status, feed, "test", logger)

	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	t.Cleanup(feed.Close)
	return s, feed, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, &stubStatus{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestStatusEndpoint(t *testing.T) {
	status := &stubStatus{devices: []poller.DeviceStatus{{
		DeviceID:         "gate-a",
		WindowsProcessed: 12,
		EventsAccepted:   340,
	}}}
	_, _, ts := newTestServer(t, status)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Version string                `json:"version"`
		Devices []poller.DeviceStatus `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Devices, 1)
	assert.Equal(t, "gate-a", body.Devices[0].DeviceID)
	assert.Equal(t, int64(12), body.Devices[0].WindowsProcessed)
}

func TestLiveFeedDeliversBroadcasts(t *testing.T) {
	_, feed, ts := newTestServer(t, &stubStatus{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber registers before the broadcast lands.
	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return len(feed.conns) == 1
	}, time.Second, 10*time.Millisecond)

	ev := types.CanonicalEvent{Device: "gate-a", Direction: types.DirectionIn, CardNo: "42"}
	feed.Broadcast(ev)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg feedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "gate-a", msg.Event.Device)
	assert.Equal(t, "42", msg.Event.CardNo)
}

func TestBroadcastWithoutSubscribersIsNoop(t *testing.T) {
	feed := NewEventFeed(quietLogger())
	// Must not block or panic.
	feed.Broadcast(types.CanonicalEvent{Device: "gate-a"})
}
