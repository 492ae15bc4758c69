package client_test

import (
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

type noopServerHandler struct{}

func (noopServerHandler) HandlePacket(s *server.Server, p *peer.Peer, appCommand uint8, payload []byte) {
}
func (noopServerHandler) PeerNew(s *server.Server, p *peer.Peer)     {}
func (noopServerHandler) PeerDropped(s *server.Server, p *peer.Peer) {}

type flagHandler struct {
	connected chan struct{}
	lost      chan struct{}
}

func newFlagHandler() *flagHandler {
	return &flagHandler{connected: make(chan struct{}, 1), lost: make(chan struct{}, 1)}
}
func (h *flagHandler) HandlePacket(c *client.Client, appCommand uint8, payload []byte) {}
func (h *flagHandler) Connected(c *client.Client) {
	select {
	case h.connected <- struct{}{}:
	default:
	}
}
func (h *flagHandler) ServerLost(c *client.Client) {
	select {
	case h.lost <- struct{}{}:
	default:
	}
}

// Closing the client's peer server-side must surface as ServerLost on the
// client.
func TestClientDetectsServerClose(t *testing.T) {
	srv, err := server.Listen("127.0.0.1:0", testTimeouts(), noopServerHandler{}, nil, nil)
	require.NoError(t, err)
	defer srv.Close()

	h := newFlagHandler()
	c, err := client.Dial("127.0.0.1:0", srv.LocalAddr().String(), testTimeouts(), h, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-h.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	require.NoError(t, srv.Close())

	select {
	case <-h.lost:
	case <-time.After(2 * time.Second):
		t.Fatal("client never noticed the server closing")
	}
}
