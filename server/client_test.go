package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsConnPair returns both ends of a real websocket connection without any
// server machinery attached.
func wsConnPair(t *testing.T) (serverSide, clientSide *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))

	clientSide, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	serverSide = <-connCh

	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
		ts.Close()
	})
	return serverSide, clientSide
}

// A connection whose send buffer has filled up is not draining frames; it
// must be closed rather than silently losing frames, so a live peer can
// never miss an ack for a message that was already persisted.
func TestEnqueueOverflowClosesConnection(t *testing.T) {
	serverSide, clientSide := wsConnPair(t)

	s := newRelayServer(newFakeStore())
	c := newClient("c1", serverSide, s)
	c.userID = "u1"
	c.state = stateAuthenticated

	// Pumps are deliberately not started: the buffer never drains.
	frame := []byte(`{"event":"ack","data":{"success":true}}`)
	for i := 0; i < cap(c.send); i++ {
		c.send <- frame
	}

	assert.False(t, c.enqueue(frame))

	require.NoError(t, clientSide.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := clientSide.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Contains(t, closeErr.Text, "send buffer full")
}

// Filling the buffer short of capacity must not close anything.
func TestEnqueueBelowCapacity(t *testing.T) {
	serverSide, _ := wsConnPair(t)

	s := newRelayServer(newFakeStore())
	c := newClient("c1", serverSide, s)

	frame := []byte(`{"event":"ack"}`)
	for i := 0; i < cap(c.send); i++ {
		assert.True(t, c.enqueue(frame))
	}
	assert.Len(t, c.send, cap(c.send))
}
