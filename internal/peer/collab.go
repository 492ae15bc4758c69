package peer

import "net"

// Sink is the capability a Peer needs to put bytes on the wire. Endpoint
// implements it; the peer never touches a socket directly (spec.md §9,
// "Static function-table handlers ... become a small set of capability
// traits").
type Sink interface {
	SendTo(addr *net.UDPAddr, b []byte) error
}

// Upcalls is everything a Peer reports to its owner (Client or Server).
type Upcalls interface {
	// HandlePacket delivers a fully reassembled application payload.
	HandlePacket(p *Peer, appCommand uint8, payload []byte)
	// LinkInfo reports that an outbound reliable segment was acknowledged.
	LinkInfo(p *Peer, ackedSeq uint16)
	// Dropped fires exactly once, when the peer is declared lost or
	// receives CLOSE. p must not be touched by the engine afterward.
	Dropped(p *Peer)
	// Connected fires when a client-side peer completes its handshake
	// (CONNECTING -> RUN). Server-side owners can leave this a no-op:
	// the server's peer_new upcall is driven by its demux, not by this.
	Connected(p *Peer)
}
