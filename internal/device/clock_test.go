package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-event-bridge/internal/config"
)

func testClock(t *testing.T, handler http.HandlerFunc) (*Clock, *config.Device) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	clock := NewClock(server.Client(), cfg, logrus.NewEntry(logger))
	dev := &config.Device{Name: "d1", Host: host, Port: port, Username: "admin", Password: "pw"}
	return clock, dev
}

func TestNowParsesWrappedEnvelope(t *testing.T) {
	clock, dev := testClock(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ISAPI/System/time", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		fmt.Fprint(w, `{"Time":{"localTime":"2024-03-01T08:15:30+08:00"}}`)
	})

	got, err := clock.Now(context.Background(), dev)
	require.NoError(t, err)
	want := time.Date(2024, 3, 1, 8, 15, 30, 0, time.FixedZone("", 8*3600))
	assert.True(t, got.Equal(want))
}

func TestNowParsesFlattenedEnvelope(t *testing.T) {
	clock, dev := testClock(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"localTime":"2024-03-01T08:15:30Z"}`)
	})

	got, err := clock.Now(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
}

func TestNowReportsMissingField(t *testing.T) {
	clock, dev := testClock(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	_, err := clock.Now(context.Background(), dev)
	assert.Error(t, err)
}

func TestDeviceNowFallsBack(t *testing.T) {
	clock, dev := testClock(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	got := clock.DeviceNow(context.Background(), dev)
	// Fallback is the host clock in the configured fixed offset.
	_, offset := got.Zone()
	assert.Equal(t, 8*3600, offset)
	assert.WithinDuration(t, time.Now(), got, 5*time.Second)
}
