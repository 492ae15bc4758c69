// Package client implements the single-peer convenience endpoint of
// spec.md §4 "Client": one Endpoint plus one Peer. It tracks exactly one
// remote server and drives the peer's event loop from its own goroutine.
package client

import (
	"fmt"
	"net"

	"github.com/duskline/rudp/internal/clock"
	"github.com/duskline/rudp/internal/config"
	"github.com/duskline/rudp/internal/endpoint"
	"github.com/duskline/rudp/internal/metrics"
	"github.com/duskline/rudp/internal/peer"
	"github.com/duskline/rudp/internal/rlog"
	"github.com/duskline/rudp/internal/rtimer"
	"github.com/duskline/rudp/pkg/netaddr"
	"github.com/duskline/rudp/pkg/wire"
)

// Handler receives upcalls from the Client's single peer (spec.md §6
// "Client adds connected(client), server_lost(client)").
//
// Every Handler method runs synchronously on the Client's own event-loop
// goroutine, the same one Client.Send submits onto and blocks waiting for.
// A Handler that wants to reply from within HandlePacket must call
// c.Peer().Send directly rather than c.Send, which would deadlock waiting
// for the very loop iteration that is already running it.
type Handler interface {
	// HandlePacket delivers a reassembled application payload from the
	// server.
	HandlePacket(c *Client, appCommand uint8, payload []byte)
	// Connected fires once the handshake completes.
	Connected(c *Client)
	// ServerLost fires when the peer is declared dropped or receives
	// CLOSE; the Client is unusable afterward.
	ServerLost(c *Client)
}

// Client owns one UDP socket and the single Peer representing its
// connection to a server.
type Client struct {
	ep      *endpoint.Endpoint
	p       *peer.Peer
	pool    *wire.Pool
	clk     clock.Clock
	log     *rlog.Logger
	metrics *metrics.Metrics
	handler Handler

	events chan func()
	done   chan struct{}
}

// Dial binds a local UDP socket, resolves serverAddr, and starts the
// CONNECTING handshake toward it. The caller's Handler.Connected fires
// once the server accepts.
func Dial(localAddr, serverAddr string, timeouts config.Timeouts, handler Handler, m *metrics.Metrics, log *rlog.Logger) (*Client, error) {
	if log == nil {
		log = rlog.Default()
	}
	pool := wire.NewPool()
	ep, err := endpoint.Bind(localAddr, pool, log, m)
	if err != nil {
		return nil, err
	}
	remote, err := netaddr.Resolve(serverAddr)
	if err != nil {
		ep.Close()
		return nil, err
	}

	c := &Client{
		ep:      ep,
		pool:    pool,
		clk:     clock.New(),
		log:     log,
		metrics: m,
		handler: handler,
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
	}
	c.p = peer.New(remote, peer.StateConnecting, timeouts, peer.Deps{
		Sink:    ep,
		Upcalls: clientUpcalls{c},
		Pool:    pool,
		Clock:   c.clk,
		Timer:   &rtimer.Loop{Timer: &rtimer.StdTimer{}, Submit: c.submit},
		Metrics: m,
		Log:     log,
	})

	go c.loop()
	c.submit(func() {
		if err := c.p.Connect(); err != nil {
			c.log.Warnw("connect failed", "err", err)
		}
	})
	return c, nil
}

// submit runs fn on the Client's event-loop goroutine, the only goroutine
// permitted to touch the peer (spec.md §5).
func (c *Client) submit(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Client) loop() {
	for {
		select {
		case dg, ok := <-c.ep.Datagrams():
			if !ok {
				return
			}
			c.handleDatagram(dg)
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleDatagram(dg endpoint.Datagram) {
	defer dg.Release(c.pool)
	if !netaddr.Equal(dg.Addr, c.p.Addr) {
		c.log.Warnw("dropping datagram from unknown address", "from", dg.Addr)
		return
	}
	h, payload, err := wire.Decode(dg.Buf.Slice())
	if err != nil {
		c.log.Warnw("dropping malformed packet", "err", err)
		return
	}
	if err := c.p.Ingress(h, payload); err != nil {
		c.log.Warnw("ingress rejected packet", "err", err)
	}
}

// Send queues an application payload for delivery to the server. It
// blocks until the event loop has run the send and returns its error; it
// is meant for callers outside that loop (see the Handler doc comment — a Handler
// callback must call c.Peer().Send directly instead, or this deadlocks).
func (c *Client) Send(reliable bool, appCommand uint8, payload []byte) error {
	errCh := make(chan error, 1)
	c.submit(func() {
		errCh <- c.p.Send(reliable, appCommand, payload)
	})
	select {
	case err := <-errCh:
		return err
	case <-c.done:
		return fmt.Errorf("%w: client closed", peer.ErrInvalidArgument)
	}
}

// Close tears the connection down, notifying the server, and releases the
// local socket.
func (c *Client) Close() error {
	done := make(chan struct{})
	c.submit(func() {
		_ = c.p.Close()
		close(done)
	})
	select {
	case <-done:
	case <-c.done:
	}
	close(c.done)
	return c.ep.Close()
}

// Peer exposes the underlying peer for diagnostics (e.g. inspecting RTT
// via tests). It must only be read from within a Handler callback or
// after Close.
func (c *Client) Peer() *peer.Peer { return c.p }

// RemoteAddr returns the server's address.
func (c *Client) RemoteAddr() *net.UDPAddr { return c.p.Addr }

// clientUpcalls adapts peer.Upcalls to the Client's Handler.
type clientUpcalls struct{ c *Client }

func (u clientUpcalls) HandlePacket(p *peer.Peer, appCommand uint8, payload []byte) {
	u.c.handler.HandlePacket(u.c, appCommand, payload)
}

func (u clientUpcalls) LinkInfo(p *peer.Peer, ackedSeq uint16) {}

func (u clientUpcalls) Dropped(p *peer.Peer) {
	u.c.handler.ServerLost(u.c)
}

func (u clientUpcalls) Connected(p *peer.Peer) {
	u.c.handler.Connected(u.c)
}
