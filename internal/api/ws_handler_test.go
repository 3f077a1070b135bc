package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/auth"
)

type chanDMSource struct {
	mu       sync.Mutex
	events   chan string
	users    []string
	released chan struct{}
}

func newChanDMSource() *chanDMSource {
	return &chanDMSource{events: make(chan string, 4), released: make(chan struct{})}
}

func (s *chanDMSource) Messages(_ context.Context, userID string) (<-chan string, func(), error) {
	s.mu.Lock()
	s.users = append(s.users, userID)
	s.mu.Unlock()
	var once sync.Once
	return s.events, func() { once.Do(func() { close(s.released) }) }, nil
}

func newWsServer(t *testing.T, source DMSource) (*httptest.Server, *auth.TokenVerifier) {
	t.Helper()
	verifier, err := auth.NewTokenVerifier("ws-secret", "issuer", "")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/api/ws", NewWsHandler(source, verifier, nil, nil).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, verifier
}

func dialWs(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestWsForwardsDMEvents(t *testing.T) {
	source := newChanDMSource()
	srv, verifier := newWsServer(t, source)
	token, err := verifier.Sign("student-1", "", time.Minute)
	require.NoError(t, err)

	conn := dialWs(t, srv)
	require.NoError(t, conn.WriteJSON(wsFrame{Type: "auth", Token: token}))

	var ready map[string]string
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "ready", ready["type"])

	source.events <- `{"type":"message","message":{"content":"hi"}}`
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","message":{"content":"hi"}}`, string(payload))

	require.NoError(t, conn.WriteJSON(wsFrame{Type: "ping"}))
	var pong map[string]string
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	source.mu.Lock()
	assert.Equal(t, []string{"student-1"}, source.users)
	source.mu.Unlock()

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case <-source.released:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not released after client closed")
	}
}

func TestWsRejectsBadAuth(t *testing.T) {
	srv, _ := newWsServer(t, newChanDMSource())

	cases := map[string]any{
		"wrong type":    wsFrame{Type: "hello", Token: "x"},
		"missing token": wsFrame{Type: "auth"},
		"bad token":     wsFrame{Type: "auth", Token: "not-a-jwt"},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			conn := dialWs(t, srv)
			require.NoError(t, conn.WriteJSON(frame))
			_, _, err := conn.ReadMessage()
			require.Error(t, err)
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
		})
	}
}

func TestWsWithoutPushSource(t *testing.T) {
	srv, verifier := newWsServer(t, nil)
	token, err := verifier.Sign("student-1", "", time.Minute)
	require.NoError(t, err)

	conn := dialWs(t, srv)
	require.NoError(t, conn.WriteJSON(wsFrame{Type: "auth", Token: token}))
	var ready map[string]string
	require.NoError(t, conn.ReadJSON(&ready))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "%v", err)
}

func TestOriginAllowed(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.example.com/api/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, originAllowed(req(""), nil))
	assert.True(t, originAllowed(req("https://api.example.com"), nil))
	assert.False(t, originAllowed(req("https://evil.example.com"), nil))
	assert.True(t, originAllowed(req("https://app.example.com"), []string{"https://app.example.com"}))
	assert.False(t, originAllowed(req("https://evil.example.com"), []string{"https://app.example.com"}))
	assert.True(t, originAllowed(req("https://any.example.com"), []string{"*"}))
}
