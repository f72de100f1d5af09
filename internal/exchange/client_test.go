package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-event-bridge/internal/config"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

const clientTestKey = "0123456789abcdef"

func TestUploadEncryptsRows(t *testing.T) {
	rows := []map[string]interface{}{
		{"name": "Alice", "direction": "IN"},
		{"name": "Bob", "direction": "OUT"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/push/person", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)

		var envelope map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))

		plain, err := DecryptCBC([]byte(clientTestKey), envelope["datas"])
		require.NoError(t, err)
		var got []map[string]interface{}
		require.NoError(t, json.Unmarshal(plain, &got))
		assert.Len(t, got, 2)
		assert.Equal(t, "Alice", got[0]["name"])

		fmt.Fprint(w, `{"code":0}`)
	}))
	defer server.Close()

	client := NewClient(config.ExchangeConfig{
		BaseURL:    server.URL,
		PersonPath: "/push/person",
		AESKey:     clientTestKey,
		AuthType:   "basic",
		Username:   "u",
		Password:   "p",
	}, testLogger())

	resp, err := client.Upload(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, `{"code":0}`, resp)
}

func TestUploadLoginAuthReusesToken(t *testing.T) {
	var logins int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			logins++
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"user":"u"`)
			fmt.Fprint(w, `{"accessToken":"opaque-token-123"}`)
		case "/push/person":
			assert.Equal(t, "token opaque-token-123", r.Header.Get("X-Auth"))
			fmt.Fprint(w, `{"code":0}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(config.ExchangeConfig{
		BaseURL:           server.URL,
		PersonPath:        "/push/person",
		AESKey:            clientTestKey,
		AuthType:          "login",
		Username:          "u",
		Password:          "p",
		LoginPath:         "/auth/login",
		LoginBodyTemplate: `{"user":"${username}","pass":"${password}"}`,
		TokenField:        "accessToken",
		TokenHeaderName:   "X-Auth",
		TokenHeaderFormat: "token %s",
	}, testLogger())

	_, err := client.Upload(context.Background(), nil)
	require.NoError(t, err)
	_, err = client.Upload(context.Background(), nil)
	require.NoError(t, err)

	// The opaque token has no exp claim and is reused.
	assert.Equal(t, 1, logins)
}

func TestUploadRejectsUnknownAuthType(t *testing.T) {
	client := NewClient(config.ExchangeConfig{
		BaseURL:  "http://localhost:1",
		AESKey:   clientTestKey,
		AuthType: "oauth2",
	}, testLogger())

	_, err := client.Upload(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_type")
}

func TestUploadSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer server.Close()

	client := NewClient(config.ExchangeConfig{
		BaseURL: server.URL,
		AESKey:  clientTestKey,
	}, testLogger())

	body, err := client.Upload(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	// The raw body is still returned for diagnostics.
	assert.Equal(t, "upstream down", body)
}

func TestTokenExpiryOpaqueToken(t *testing.T) {
	assert.True(t, tokenExpiry("not-a-jwt").IsZero())
}
