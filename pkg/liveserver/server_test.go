package liveserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://dashboard.local"

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := NewServer(hub, testLogger(), cfg)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, hub, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWithOrigin(ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(wsURL(ts), header)
}

func TestServerBroadcastRoundtrip(t *testing.T) {
	_, hub, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{testOrigin}})

	conn, _, err := dialWithOrigin(ts, testOrigin)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Broadcast(NewMessage(TypeQuote, map[string]interface{}{
		"symbol": "600519.SH",
		"close":  "1700.00",
	}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeQuote, msg.Type)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "600519.SH", data["symbol"])
}

func TestServerRejectsMissingOrigin(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{testOrigin}})

	conn, resp, err := dialWithOrigin(ts, "")
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerRejectsUnknownOrigin(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{testOrigin}})

	conn, resp, err := dialWithOrigin(ts, "http://evil.example.com")
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerWildcardOriginAllowedInDev(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{"*"}})

	conn, _, err := dialWithOrigin(ts, "http://anywhere.example.com")
	require.NoError(t, err)
	conn.Close()
}

func TestServerHealthDefault(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{testOrigin}})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["clients"])
}

func TestServerHealthReportsUnhealthy(t *testing.T) {
	srv, _, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{testOrigin}})
	srv.SetHealth(func() (bool, interface{}) {
		return false, map[string]string{"broker": "unhealthy: connection refused"}
	})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body["status"])

	components, ok := body["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, components["broker"], "connection refused")
}

func TestServerHealthReportsHealthyComponents(t *testing.T) {
	srv, _, ts := newTestServer(t, ServerConfig{AllowedOrigins: []string{testOrigin}})
	srv.SetHealth(func() (bool, interface{}) {
		return true, map[string]string{"broker": "healthy", "feed": "healthy"}
	})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServerRunStopsOnCancel(t *testing.T) {
	hub := NewHub(testLogger())
	hubCtx, stopHub := context.WithCancel(context.Background())
	t.Cleanup(stopHub)
	go hub.Run(hubCtx)

	srv := NewServer(hub, testLogger(), ServerConfig{
		Addr:           "127.0.0.1:0",
		AllowedOrigins: []string{testOrigin},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
