package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connFactory hands out real connection pairs backed by one test server, so
// hub tests exercise actual WebSocket writes.
type connFactory struct {
	server   *httptest.Server
	accepted chan *websocket.Conn
}

func newConnFactory(t *testing.T) *connFactory {
	t.Helper()

	f := &connFactory{accepted: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.accepted <- conn
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *connFactory) dial(t *testing.T) (serverSide, clientSide *websocket.Conn) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	clientSide, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSide.Close() })

	return <-f.accepted, clientSide
}

func TestNotifyMailboxChangedReachesEveryConnection(t *testing.T) {
	factory := newConnFactory(t)
	hub := NewHub(10)

	s1, c1 := factory.dial(t)
	s2, c2 := factory.dial(t)
	require.NotNil(t, hub.Register("user-1", s1))
	require.NotNil(t, hub.Register("user-1", s2))

	hub.NotifyMailboxChanged("user-1", "acct-1", 3)

	for _, clientSide := range []*websocket.Conn{c1, c2} {
		require.NoError(t, clientSide.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := clientSide.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"mailbox_changed","account_id":"acct-1","new_messages":3}`, string(msg))
	}

	assert.Equal(t, 2, hub.ActiveConnections("user-1"))
}

func TestRegisterEnforcesPerUserCap(t *testing.T) {
	factory := newConnFactory(t)
	hub := NewHub(1)

	s1, _ := factory.dial(t)
	require.NotNil(t, hub.Register("user-1", s1))

	s2, _ := factory.dial(t)
	assert.Nil(t, hub.Register("user-1", s2))
	assert.Equal(t, 1, hub.ActiveConnections("user-1"))
}

func TestSendDuringRegistrationChurn(t *testing.T) {
	factory := newConnFactory(t)
	hub := NewHub(100)

	conns := make([]*websocket.Conn, 0, 8)
	for i := 0; i < 8; i++ {
		serverSide, _ := factory.dial(t)
		conns = append(conns, serverSide)
	}

	// Broadcasts run on the sync goroutine while HTTP handlers register and
	// unregister; the hub must tolerate the client set changing underneath
	// an in-flight Send.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			client := hub.Register("user-1", conns[i%len(conns)])
			hub.Unregister("user-1", client)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.Send("user-1", []byte(`{"type":"mailbox_changed"}`))
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, hub.ActiveConnections("user-1"))
}
