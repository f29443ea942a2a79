package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ServeWS(hub, conn, r.URL.Query().Get("clientId"))
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?clientId=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

func TestHubGreetsAndEchoes(t *testing.T) {
	hub, srv := startHub(t)
	hub.OnConnect(func(id string) {
		_ = hub.Send(id, map[string]string{"type": "hello", "id": id})
	})
	hub.SetHandler(func(ctx context.Context, c *Client, data []byte) {
		_ = c.SendRaw(data)
	})

	conn := dial(t, srv, "client-a")

	var greeting map[string]string
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, "hello", greeting["type"])
	assert.Equal(t, "client-a", greeting["id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, echo, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(echo))
}

func TestHubBroadcastReachesEveryClient(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.Broadcast(map[string]string{"type": "info", "message": "hi"})

	for _, conn := range []*websocket.Conn{a, b} {
		var got map[string]string
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "hi", got["message"])
	}
}

func TestHubHandlesFramesSequentiallyPerClient(t *testing.T) {
	hub, srv := startHub(t)
	var inFlight, maxInFlight atomic.Int32
	handled := make(chan struct{}, 3)
	hub.SetHandler(func(ctx context.Context, c *Client, data []byte) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		handled <- struct{}{}
	})

	conn := dial(t, srv, "seq")
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("frame not handled")
		}
	}
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestSendToUnknownOrClosedClient(t *testing.T) {
	hub, srv := startHub(t)

	err := hub.Send("nobody", map[string]string{})
	assert.ErrorIs(t, err, ErrClientClosed)

	conn := dial(t, srv, "gone")
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestClientSendBufferFull(t *testing.T) {
	c := NewClient(nil, NewHub(), "slow")
	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, c.SendRaw([]byte("x")))
	}
	assert.ErrorIs(t, c.SendRaw([]byte("x")), ErrClientSendBufferFull)

	c.Close()
	assert.True(t, c.IsClosed())
	assert.ErrorIs(t, c.SendRaw([]byte("x")), ErrClientClosed)
}

func TestFramesAreAnsweredWhileConnectHooksAreBusy(t *testing.T) {
	hub, srv := startHub(t)
	release := make(chan struct{})
	hub.OnConnect(func(id string) {
		if id == "first" {
			<-release
		}
	})
	sendErr := make(chan error, 1)
	hub.SetHandler(func(ctx context.Context, c *Client, data []byte) {
		sendErr <- hub.Send(c.ID, map[string]string{"type": "info", "message": "got it"})
	})
	defer close(release)

	dial(t, srv, "first")
	second := dial(t, srv, "second")
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"type":"setTopic"}`)))

	select {
	case err := <-sendErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("frame not handled")
	}
	var reply map[string]string
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, second.ReadJSON(&reply))
	assert.Equal(t, "got it", reply["message"])
}

func TestQuickDisconnectsLeaveNoClients(t *testing.T) {
	hub, srv := startHub(t)
	for i := 0; i < 20; i++ {
		conn := dial(t, srv, "flaky")
		conn.Close()
	}
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestJoinAfterStopIsRejected(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	c := NewClient(nil, hub, "late")
	assert.False(t, hub.join(c))
	assert.Equal(t, 0, hub.ClientCount())
}
