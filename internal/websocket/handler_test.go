package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecore/internal/events"
	"licensecore/internal/shared/testutil"
)

func dial(t *testing.T, server *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHandlerStreamsEvents(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger, WithSnapshot(func() interface{} { return map[string]bool{"activated": false} }))
	hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(NewHandler(hub, logger))
	defer server.Close()

	conn, _, err := dial(t, server, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, TypeConnection, readMessage(t, conn).Type)
	assert.Equal(t, TypeStatus, readMessage(t, conn).Type)

	e := events.New(events.NeedsAttention)
	e.Reason = events.ReasonExpiringSoon
	hub.PublishEvent(e)

	m := readMessage(t, conn)
	assert.Equal(t, string(events.NeedsAttention), m.Type)
	data, ok := m.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, events.ReasonExpiringSoon, data["reason"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(NewHandler(hub, logger))
	defer server.Close()

	_, resp, err := dial(t, server, http.Header{"Origin": []string{"https://example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestAllowLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "http://127.0.0.1:5173", want: true},
		{origin: "http://[::1]:8080", want: true},
		{origin: "http://127.0.0.1:24803", want: true},
		{origin: "https://example.com", want: false},
		{origin: "http://192.168.1.10", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:24803/api/events", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, allowLocalOrigin(r))
		})
	}
}
