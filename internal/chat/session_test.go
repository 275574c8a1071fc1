package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPair returns the server and client ends of one websocket. The server
// end is left idle so tests control every read.
func socketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- c
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.CloseNow() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { _ = server.CloseNow() })
		return server, client
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the socket")
		return nil, nil
	}
}

func TestRegisterTracksSessionsPerUser(t *testing.T) {
	m := NewSessionManager()
	a, _ := socketPair(t)
	b, _ := socketPair(t)

	m.Register("u1", "s2", a)
	m.Register("u1", "s1", b)
	m.Register("u2", "s1", a)
	assert.Equal(t, []string{"s1", "s2"}, m.Sessions("u1"))
	assert.Equal(t, 3, m.Count())

	m.Unregister("u1", "s1", a)
	assert.Equal(t, 3, m.Count(), "a stale socket must not unregister its replacement")
	m.Unregister("u1", "s1", b)
	assert.Equal(t, []string{"s2"}, m.Sessions("u1"))
}

func TestReplacedSocketIsClosedWithoutHoldingLock(t *testing.T) {
	m := NewSessionManager()
	oldServer, oldClient := socketPair(t)
	newServer, _ := socketPair(t)
	m.Register("u1", "s1", oldServer)

	replaced := make(chan struct{})
	go func() {
		defer close(replaced)
		m.Register("u1", "s1", newServer)
	}()

	// The old client is not reading, so closing its socket waits on the close
	// handshake. Lookups must not wait with it.
	time.Sleep(100 * time.Millisecond)
	counted := make(chan int, 1)
	go func() { counted <- m.Count() }()
	select {
	case n := <-counted:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("session lookups blocked while a replaced socket was closing")
	}
	assert.Equal(t, []string{"s1"}, m.Sessions("u1"))

	go func() { _, _, _ = oldClient.Read(context.Background()) }()
	select {
	case <-replaced:
	case <-time.After(6 * time.Second):
		t.Fatal("replacement never finished")
	}

	m.Unregister("u1", "s1", oldServer)
	assert.Equal(t, 1, m.Count())
}
