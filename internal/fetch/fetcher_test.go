package fetch

import (
	"context"
	"encoding/json"
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
	"acs-event-bridge/internal/types"
)

func testDevice(t *testing.T, server *httptest.Server) *config.Device {
	t.Helper()
	u := server.Listener.Addr().String()
	host, portStr, err := net.SplitHostPort(u)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.Device{
		Name:     "test-door",
		Host:     host,
		Port:     port,
		Username: "admin",
		Password: "secret",
	}
}

func testFetcher(server *httptest.Server) *PageFetcher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := config.DefaultConfig()
	return NewPageFetcher(server.Client(), cfg, logrus.NewEntry(logger))
}

func testWindow() types.Window {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	return types.Window{Start: start, End: start.Add(5 * time.Minute)}
}

func TestFetchWindowSinglePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.NotEmpty(t, r.URL.Query().Get("startTime"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"AcsEvent":{"totalMatches":2,"InfoList":[{"cardNo":"1"},{"cardNo":"2"}]}}`)
	}))
	defer server.Close()

	f := testFetcher(server)
	records, err := f.FetchWindow(context.Background(), testDevice(t, server), testWindow(), 30)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0]["cardNo"])
}

func TestFetchWindowPaginates(t *testing.T) {
	var gets int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets++
		w.Header().Set("Content-Type", "application/json")
		pageNo, _ := strconv.Atoi(r.URL.Query().Get("pageNo"))
		switch pageNo {
		case 1:
			fmt.Fprint(w, `{"AcsEvent":{"totalMatches":3,"InfoList":[{"cardNo":"1"},{"cardNo":"2"}]}}`)
		case 2:
			fmt.Fprint(w, `{"AcsEvent":{"totalMatches":3,"InfoList":[{"cardNo":"3"}]}}`)
		default:
			fmt.Fprint(w, `{"AcsEvent":{"totalMatches":3,"InfoList":[]}}`)
		}
	}))
	defer server.Close()

	f := testFetcher(server)
	records, err := f.FetchWindow(context.Background(), testDevice(t, server), testWindow(), 2)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "3", records[2]["cardNo"])
	assert.Equal(t, 3, gets)
}

func TestFetchPageFallsBackToSearch(t *testing.T) {
	var sawSearch bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Primary endpoint unsupported on this firmware.
			w.WriteHeader(http.StatusNotFound)
			return
		}

		sawSearch = true
		var body map[string]map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		cond, ok := body["AcsEventCond"]
		require.True(t, ok)
		assert.NotEmpty(t, cond["searchID"])
		assert.Equal(t, float64(0), cond["searchResultPosition"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"AcsEvent":{"totalMatches":1,"InfoList":[{"cardNo":"7"}]}}`)
	}))
	defer server.Close()

	f := testFetcher(server)
	records, err := f.FetchWindow(context.Background(), testDevice(t, server), testWindow(), 30)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0]["cardNo"])
	assert.True(t, sawSearch)
}

func TestFetchPageFallsBackWhenNoArrayLocatable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			// Parses fine but holds no record array anywhere.
			fmt.Fprint(w, `{"statusCode":1,"statusString":"OK"}`)
			return
		}
		fmt.Fprint(w, `{"AcsEvent":{"totalMatches":1,"InfoList":[{"cardNo":"5"}]}}`)
	}))
	defer server.Close()

	f := testFetcher(server)
	page, err := f.FetchPage(context.Background(), testDevice(t, server), testWindow(), 1, 30)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "5", page.Records[0]["cardNo"])
}

func TestFetchWindowEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"AcsEvent":{"totalMatches":0,"InfoList":[]}}`)
	}))
	defer server.Close()

	f := testFetcher(server)
	records, err := f.FetchWindow(context.Background(), testDevice(t, server), testWindow(), 30)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchWindowBothTransportsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := testFetcher(server)
	_, err := f.FetchWindow(context.Background(), testDevice(t, server), testWindow(), 30)
	assert.Error(t, err)
}

func TestCanonHistoryAPI(t *testing.T) {
	assert.Equal(t, defaultHistoryAPI, canonHistoryAPI(""))
	assert.Equal(t, "/custom/events?format=json", canonHistoryAPI("custom/events"))
	assert.Equal(t, "/custom/events?a=1&format=json", canonHistoryAPI("/custom/events?a=1"))
	assert.Equal(t, "/custom?format=xml", canonHistoryAPI("/custom?format=xml"))
}
