package peer

import "github.com/duskline/rudp/pkg/wire"

// reassembly is the at-most-one in-progress multi-segment message a peer
// is accumulating (spec.md §3, §4.4 "Reassembly").
type reassembly struct {
	opt      wire.Opt
	command  wire.Command
	buf      []byte
	expected int
}

func newReassembly(h wire.Header, payload []byte) *reassembly {
	r := &reassembly{
		opt:      h.Opt,
		command:  h.Command,
		expected: int(h.SegmentsSize),
		buf:      make([]byte, 0, int(h.SegmentsSize)*wire.RecvBufferSize),
	}
	r.buf = append(r.buf, payload...)
	return r
}

func (r *reassembly) append(payload []byte) {
	r.buf = append(r.buf, payload...)
}
