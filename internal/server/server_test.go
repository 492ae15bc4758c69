package server_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskline/rudp/internal/client"
	"github.com/duskline/rudp/internal/config"
	"github.com/duskline/rudp/internal/peer"
	"github.com/duskline/rudp/internal/server"
)

func testTimeouts() config.Timeouts {
	return config.Timeouts{
		MinRTO:         20 * time.Millisecond,
		MaxRTO:         100 * time.Millisecond,
		ActionInterval: 50 * time.Millisecond,
		DropTimeout:    1 * time.Second,
	}
}

type echoServerHandler struct {
	mu       sync.Mutex
	newCount int
}

func (h *echoServerHandler) HandlePacket(s *server.Server, p *peer.Peer, appCommand uint8, payload []byte) {
	// Called on the server's own event-loop goroutine: send through the
	// peer directly, not s.SendTo, which would deadlock from in here.
	_ = p.Send(true, appCommand, payload)
}
func (h *echoServerHandler) PeerNew(s *server.Server, p *peer.Peer) {
	h.mu.Lock()
	h.newCount++
	h.mu.Unlock()
}
func (h *echoServerHandler) PeerDropped(s *server.Server, p *peer.Peer) {}

type recordingClientHandler struct {
	connected chan struct{}
	packets   chan []byte
	lost      chan struct{}
}

func newRecordingClientHandler() *recordingClientHandler {
	return &recordingClientHandler{
		connected: make(chan struct{}, 1),
		packets:   make(chan []byte, 16),
		lost:      make(chan struct{}, 1),
	}
}

func (h *recordingClientHandler) HandlePacket(c *client.Client, appCommand uint8, payload []byte) {
	h.packets <- append([]byte(nil), payload...)
}
func (h *recordingClientHandler) Connected(c *client.Client) {
	select {
	case h.connected <- struct{}{}:
	default:
	}
}
func (h *recordingClientHandler) ServerLost(c *client.Client) {
	select {
	case h.lost <- struct{}{}:
	default:
	}
}

// End-to-end: a client dials a server over real loopback UDP sockets, the
// handshake completes, and an application message round-trips through the
// server's echo handler.
func TestClientServerHandshakeAndEcho(t *testing.T) {
	sh := &echoServerHandler{}
	srv, err := server.Listen("127.0.0.1:0", testTimeouts(), sh, nil, nil)
	require.NoError(t, err)
	defer srv.Close()

	ch := newRecordingClientHandler()
	c, err := client.Dial("127.0.0.1:0", srv.LocalAddr().String(), testTimeouts(), ch, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-ch.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	require.NoError(t, c.Send(true, 5, []byte("ping")))

	select {
	case got := <-ch.packets:
		require.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("never got echo back")
	}

	require.Equal(t, 1, srv.PeerCount())
}

// Two independent clients dialing the same server each get their own peer.
func TestServerTracksMultiplePeers(t *testing.T) {
	sh := &echoServerHandler{}
	srv, err := server.Listen("127.0.0.1:0", testTimeouts(), sh, nil, nil)
	require.NoError(t, err)
	defer srv.Close()

	var clients []*client.Client
	var handlers []*recordingClientHandler
	for i := 0; i < 3; i++ {
		ch := newRecordingClientHandler()
		c, err := client.Dial("127.0.0.1:0", srv.LocalAddr().String(), testTimeouts(), ch, nil, nil)
		require.NoError(t, err)
		defer c.Close()
		clients = append(clients, c)
		handlers = append(handlers, ch)
	}

	for _, h := range handlers {
		select {
		case <-h.connected:
		case <-time.After(2 * time.Second):
			t.Fatal("a client never connected")
		}
	}
	require.Equal(t, 3, srv.PeerCount())
}
