// Package endpoint owns a single UDP socket and demultiplexes inbound
// datagrams by source address to its caller, satisfying spec.md §4.2. It
// also implements the peer.Sink capability peers use to write outbound
// bytes.
//
// Reading happens on its own goroutine (the idiomatic Go equivalent of a
// "read-readiness" callback); that goroutine never touches peer or demux
// state directly, it only hands datagrams to the owner's Datagrams()
// channel. The owner (Client or Server) drains that channel from its own
// single goroutine, which is where all protocol-engine logic runs,
// preserving the single-threaded, lock-free processing model spec.md §5
// requires.
package endpoint

import (
	"fmt"
	"net"

	"github.com/duskline/rudp/internal/metrics"
	"github.com/duskline/rudp/internal/peer"
	"github.com/duskline/rudp/internal/rlog"
	"github.com/duskline/rudp/pkg/netaddr"
	"github.com/duskline/rudp/pkg/wire"
)

// Datagram is one inbound UDP packet together with its source address.
// Buf is pool-owned; the receiver must call Release once done with it.
type Datagram struct {
	Addr *net.UDPAddr
	Buf  *wire.Buffer
}

// Release returns a Datagram's buffer to the pool it came from.
func (d Datagram) Release(pool *wire.Pool) { pool.Put(d.Buf) }

// Endpoint owns one UDP socket.
type Endpoint struct {
	conn    *net.UDPConn
	pool    *wire.Pool
	log     *rlog.Logger
	metrics *metrics.Metrics

	out  chan Datagram
	done chan struct{}
}

// Bind creates a UDP socket listening on addr and starts its read loop.
func Bind(addr string, pool *wire.Pool, log *rlog.Logger, m *metrics.Metrics) (*Endpoint, error) {
	if addr == "" {
		return nil, peer.ErrAddressRequired
	}
	udpAddr, err := netaddr.Resolve(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", peer.ErrAddressRequired, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", peer.ErrSocketError, addr, err)
	}
	e := &Endpoint{
		conn:    conn,
		pool:    pool,
		log:     log,
		metrics: m,
		out:     make(chan Datagram, 256),
		done:    make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Datagrams is the channel the owning demux drains inbound packets from.
func (e *Endpoint) Datagrams() <-chan Datagram { return e.out }

func (e *Endpoint) readLoop() {
	for {
		buf := e.pool.Get()
		n, addr, err := e.conn.ReadFromUDP(buf.Bytes[:])
		if err != nil {
			e.pool.Put(buf)
			select {
			case <-e.done:
				return
			default:
			}
			e.log.Warnw("recvfrom failed", "err", err)
			continue
		}
		buf.Len = n
		e.metrics.AddBytesReceived(n)
		select {
		case e.out <- Datagram{Addr: addr, Buf: buf}:
		case <-e.done:
			e.pool.Put(buf)
			return
		}
	}
}

// SendTo implements peer.Sink.
func (e *Endpoint) SendTo(addr *net.UDPAddr, b []byte) error {
	_, err := e.conn.WriteToUDP(b, addr)
	if err != nil {
		return fmt.Errorf("%w: sendto %s: %v", peer.ErrSocketError, addr, err)
	}
	return nil
}

// Close shuts the socket down and stops the read loop.
func (e *Endpoint) Close() error {
	close(e.done)
	return e.conn.Close()
}

var _ peer.Sink = (*Endpoint)(nil)
