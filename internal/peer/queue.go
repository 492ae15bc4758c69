package peer

import "github.com/duskline/rudp/pkg/wire"

// segment is one entry in a peer's send queue: a framed header plus the
// payload bytes that follow it on the wire. Reliable segments stay in the
// queue until acknowledged; unreliable segments are removed once sent.
//
// This is the value-owning replacement for the teacher's intrusive
// {packet_bytes, length, list_link} record (spec.md §4.1): an ordinary
// slice holds these in order instead of a linked list threaded through
// the struct itself.
type segment struct {
	header  wire.Header
	payload []byte
}

func (s *segment) reliable() bool {
	return s.header.Opt.Has(wire.OptReliable)
}

func (s *segment) retransmitted() bool {
	return s.header.Opt.Has(wire.OptRetransmitted)
}
