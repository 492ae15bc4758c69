// Package server implements the multi-peer server of spec.md §4.3: one
// Endpoint multiplexing many peers, keyed by source address, over a
// single UDP socket.
package server

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

// Handler receives upcalls from every peer the server owns, plus the
// server-level peer_new/peer_dropped signals of spec.md §4.3/§6.
//
// Every Handler method runs synchronously on the Server's own event-loop
// goroutine (the same one that calls Peer.Ingress/Peer.Tick), so an
// implementation that wants to send in response — an echo from
// HandlePacket, for instance — must call p.Send directly rather than
// s.SendTo: SendTo submits a closure onto the very loop that is already
// busy running the Handler callback and blocks waiting for its result,
// which never arrives from inside the callback itself. Broadcast does not
// wait for a result: called from a Handler, its sends run only after the
// callback returns, and it blocks if the loop's event queue is full.
// SendTo/Broadcast exist for goroutines outside the loop (the owner of
// the *Server*, not its Handler).
type Handler interface {
	HandlePacket(s *Server, p *peer.Peer, appCommand uint8, payload []byte)
	PeerNew(s *Server, p *peer.Peer)
	PeerDropped(s *Server, p *peer.Peer)
}

// Server owns one UDP socket and a set of peers keyed by canonical source
// address.
type Server struct {
	ep       *endpoint.Endpoint
	pool     *wire.Pool
	clk      clock.Clock
	log      *rlog.Logger
	metrics  *metrics.Metrics
	handler  Handler
	timeouts config.Timeouts

	peers map[string]*peer.Peer

	events chan func()
	done   chan struct{}
}

// Listen binds bindAddr and starts accepting peers.
func Listen(bindAddr string, timeouts config.Timeouts, handler Handler, m *metrics.Metrics, log *rlog.Logger) (*Server, error) {
	if log == nil {
		log = rlog.Default()
	}
	pool := wire.NewPool()
	ep, err := endpoint.Bind(bindAddr, pool, log, m)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ep:       ep,
		pool:     pool,
		clk:      clock.New(),
		log:      log,
		metrics:  m,
		handler:  handler,
		timeouts: timeouts,
		peers:    make(map[string]*peer.Peer),
		events:   make(chan func(), 256),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *Server) submit(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

func (s *Server) loop() {
	for {
		select {
		case dg, ok := <-s.ep.Datagrams():
			if !ok {
				return
			}
			s.handleDatagram(dg)
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleDatagram(dg endpoint.Datagram) {
	defer dg.Release(s.pool)
	h, payload, err := wire.Decode(dg.Buf.Slice())
	if err != nil {
		s.log.Warnw("dropping malformed packet", "from", dg.Addr, "err", err)
		return
	}

	key := netaddr.Key(dg.Addr)
	if p, ok := s.peers[key]; ok {
		if err := p.Ingress(h, payload); err != nil {
			s.log.Warnw("ingress rejected packet", "peer", p.ID, "err", err)
		}
		return
	}

	// A new source address is only accepted as a connection attempt: a
	// bare CONN_REQ header with no payload (spec.md §4.3 step 2).
	if h.Command != wire.CmdConnReq || len(payload) != 0 {
		s.log.Warnw("dropping garbage from unknown address", "from", dg.Addr)
		return
	}

	p := peer.New(dg.Addr, peer.StateNew, s.timeouts, peer.Deps{
		Sink:    s.ep,
		Upcalls: serverUpcalls{s},
		Pool:    s.pool,
		Clock:   s.clk,
		Timer:   &rtimer.Loop{Timer: &rtimer.StdTimer{}, Submit: s.submit},
		Metrics: s.metrics,
		Log:     s.log,
	})
	if err := p.Ingress(h, payload); err != nil {
		// Ingress failed on the very first packet: destroy the peer
		// silently, it was never announced upward (spec.md §4.3 step 3).
		return
	}
	s.peers[key] = p
	s.metrics.SetPeerCount(len(s.peers))
	s.handler.PeerNew(s, p)
}

// SendTo queues an application payload for one peer. It is meant to be
// called from goroutines outside the server's event loop; calling it from
// within a Handler callback deadlocks (see the Handler doc comment) —
// call p.Send directly from there instead.
func (s *Server) SendTo(p *peer.Peer, reliable bool, appCommand uint8, payload []byte) error {
	errCh := make(chan error, 1)
	s.submit(func() {
		errCh <- p.Send(reliable, appCommand, payload)
	})
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return fmt.Errorf("%w: server closed", peer.ErrInvalidArgument)
	}
}

// Broadcast queues an application payload for every currently connected
// peer (spec.md §4.3 "server.send_all(msg)"). Like SendTo, this is for
// callers outside the event loop; a Handler callback must iterate peers
// and call p.Send directly instead.
func (s *Server) Broadcast(reliable bool, appCommand uint8, payload []byte) {
	s.submit(func() {
		for _, p := range s.peers {
			if err := p.Send(reliable, appCommand, payload); err != nil {
				s.log.Warnw("broadcast send failed", "peer", p.ID, "err", err)
			}
		}
	})
}

// LocalAddr returns the address the server's socket is bound to.
func (s *Server) LocalAddr() *net.UDPAddr { return s.ep.LocalAddr() }

// PeerCount returns the number of peers currently tracked.
func (s *Server) PeerCount() int {
	n := make(chan int, 1)
	s.submit(func() { n <- len(s.peers) })
	select {
	case v := <-n:
		return v
	case <-s.done:
		return 0
	}
}

// Close shuts down every peer and releases the socket. Calling Close
// again after it has returned is a no-op.
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	done := make(chan struct{})
	s.submit(func() {
		for _, p := range s.peers {
			_ = p.Close()
		}
		close(done)
	})
	select {
	case <-done:
	case <-s.done:
	}
	close(s.done)
	return s.ep.Close()
}

type serverUpcalls struct{ s *Server }

func (u serverUpcalls) HandlePacket(p *peer.Peer, appCommand uint8, payload []byte) {
	u.s.handler.HandlePacket(u.s, p, appCommand, payload)
}

func (u serverUpcalls) LinkInfo(p *peer.Peer, ackedSeq uint16) {}

func (u serverUpcalls) Dropped(p *peer.Peer) {
	delete(u.s.peers, netaddr.Key(p.Addr))
	u.s.metrics.SetPeerCount(len(u.s.peers))
	u.s.handler.PeerDropped(u.s, p)
}

// Connected is unused on the server side: a server peer transitions
// NEW -> RUN directly on CONN_REQ, it never passes through CONNECTING.
func (u serverUpcalls) Connected(p *peer.Peer) {}
