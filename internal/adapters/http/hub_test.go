package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *EventHub, meetingID domain.MeetingID) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(meetingID, "carol", conn)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCloseMeetingHangsUpLateSubscriber(t *testing.T) {
	hub := NewEventHub()
	t.Cleanup(hub.Close)

	ended := dialHub(t, hub, "m1")
	dialHub(t, hub, "m2")
	require.Eventually(t, func() bool {
		return hub.subscriberCount("m1") == 1 && hub.subscriberCount("m2") == 1
	}, time.Second, 5*time.Millisecond)

	hub.CloseMeeting("m1")

	require.NoError(t, ended.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ended.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Zero(t, hub.subscriberCount("m1"))
	assert.Equal(t, 1, hub.subscriberCount("m2"))

	// closing an unwatched meeting is a no-op
	hub.CloseMeeting("m3")
}
