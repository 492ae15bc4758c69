// Package peer implements the per-peer protocol engine: the state
// machine, sequence-number bookkeeping, retransmission queue, RTT/RTO
// estimator, segmentation/reassembly, connection handshake, and
// liveness/timeout scheduling described in spec.md §3-§4.4. This is the
// core of the repository; Client and Server are thin owners around it.
package peer

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/duskline/rudp/internal/clock"
	"github.com/duskline/rudp/internal/config"
	"github.com/duskline/rudp/internal/metrics"
	"github.com/duskline/rudp/internal/rlog"
	"github.com/duskline/rudp/internal/rtimer"
	"github.com/duskline/rudp/pkg/wire"
)

// Peer is one end of a connection-oriented session multiplexed over a
// shared UDP socket. Every method is expected to run on the single event
// loop thread that owns the peer (spec.md §5); there is no internal
// locking.
type Peer struct {
	// ID has no wire presence; it exists only to label log lines for a
	// session, generalizing the teacher's Session.GUID.
	ID   uuid.UUID
	Addr *net.UDPAddr

	sink    Sink
	upcalls Upcalls
	pool    *wire.Pool
	clk     clock.Clock
	timer   rtimer.Timer
	metrics *metrics.Metrics
	log     *rlog.Logger

	state State

	inSeqReliable   uint16
	inSeqUnreliable uint16

	outSeqReliable   uint16
	outSeqUnreliable uint16
	outSeqAcked      uint16

	sendQueue []*segment
	reasm     *reassembly

	rto *rtoEstimator

	minRTOms    int64
	maxRTOms    int64
	actionMS    int64
	dropMS      int64

	lastOutTime        int64
	absTimeoutDeadline int64

	mustAck       bool
	lastSendError error
}

// Deps bundles a Peer's collaborators, mirroring spec.md §6's collaborator
// contracts (Sink/Upcalls plus Clock, Timer, pool, metrics, logger).
type Deps struct {
	Sink    Sink
	Upcalls Upcalls
	Pool    *wire.Pool
	Clock   clock.Clock
	Timer   rtimer.Timer
	Metrics *metrics.Metrics
	Log     *rlog.Logger
}

// New creates a peer bound to addr in the given initial state (NEW for
// server-accepted peers, CONNECTING for client-initiated ones, per
// spec.md §3).
func New(addr *net.UDPAddr, initial State, timeouts config.Timeouts, deps Deps) *Peer {
	now := deps.Clock.NowMS()
	minRTO := timeouts.MinRTO.Milliseconds()
	maxRTO := timeouts.MaxRTO.Milliseconds()
	p := &Peer{
		ID:                 uuid.New(),
		Addr:               addr,
		sink:               deps.Sink,
		upcalls:            deps.Upcalls,
		pool:               deps.Pool,
		clk:                deps.Clock,
		timer:              deps.Timer,
		metrics:            deps.Metrics,
		log:                deps.Log,
		state:              initial,
		inSeqReliable:      wire.NoPriorReliableSeq,
		outSeqReliable:     randomSeed(),
		rto:                newRTOEstimator(minRTO, maxRTO),
		minRTOms:           minRTO,
		maxRTOms:           maxRTO,
		actionMS:           timeouts.ActionInterval.Milliseconds(),
		dropMS:             timeouts.DropTimeout.Milliseconds(),
		lastOutTime:        now,
		absTimeoutDeadline: now + timeouts.DropTimeout.Milliseconds(),
	}
	p.outSeqAcked = p.outSeqReliable - 1
	return p
}

// randomSeed seeds out_seq_reliable per spec.md §3 ("seeded with a random
// value"). time.Now().UnixNano() is enough entropy for a sequence seed;
// this isn't a security boundary (spec.md Non-goals exclude
// authentication).
func randomSeed() uint16 {
	return uint16(time.Now().UnixNano())
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State { return p.state }

// LastSendError returns and clears the sticky send error surfaced by
// spec.md §7 ("captured in last_send_error and returned from the next
// user send call").
func (p *Peer) LastSendError() error {
	err := p.lastSendError
	p.lastSendError = nil
	return err
}

// ---- Ingress -------------------------------------------------------------

// Ingress processes one inbound packet already split into header and
// payload by the owning Client or Server. It implements spec.md §4.4's seven-step
// ingress algorithm.
func (p *Peer) Ingress(h wire.Header, payload []byte) error {
	if p.state == StateDead {
		return fmt.Errorf("%w: peer is dead", ErrInvalidArgument)
	}
	now := p.clk.NowMS()

	// 1. ACK piggyback.
	if h.Opt.Has(wire.OptAck) {
		if wire.SeqDelta(h.ReliableAck, p.outSeqReliable) > 0 {
			p.log.Warnw("malformed ack ahead of assigned sequence",
				"peer", p.ID, "ack", h.ReliableAck, "outSeqReliable", p.outSeqReliable)
			return fmt.Errorf("peer: ack %d ahead of assigned sequence %d", h.ReliableAck, p.outSeqReliable)
		}
		p.processAck(h.ReliableAck)
	}

	if h.Opt.Has(wire.OptReliable) {
		if err := p.ingressReliable(h, payload, now); err != nil {
			return err
		}
	} else {
		if err := p.ingressUnreliable(h, payload, now); err != nil {
			return err
		}
	}

	// A CLOSE dispatched above already tore the peer down via die(): no
	// further ack bookkeeping or timer rearming for a peer that no longer
	// exists (spec.md §4.4 step 5 "the peer may be destroyed during this
	// callback; do not touch self thereafter").
	if p.state == StateDead {
		return nil
	}

	// 6. Ack posting.
	if h.Opt.Has(wire.OptReliable) {
		p.mustAck = true
		if len(p.sendQueue) == 0 {
			p.enqueueControl(wire.CmdNoop, nil, false)
		}
	}

	// 7. Reschedule the service timer.
	p.reschedule(now)
	return nil
}

func (p *Peer) ingressReliable(h wire.Header, payload []byte, now int64) error {
	switch {
	case h.ReliableSeq == p.inSeqReliable:
		// RETRANSMITTED: refresh the deadline, do not re-deliver.
		p.absTimeoutDeadline = now + p.dropMS
		return nil
	case h.ReliableSeq == p.inSeqReliable+1:
		p.absTimeoutDeadline = now + p.dropMS
		p.inSeqReliable = h.ReliableSeq
		return p.dispatch(h, payload, now)
	default:
		return p.handleUnsequenced(h, payload, now)
	}
}

// ingressUnreliable handles a packet with OptReliable clear. Unreliable
// sends always carry the peer's *established* reliable epoch unchanged
// in reliable_seq (stampSeq never advances it for them), so the normal
// case is reliable_seq == in_seq_reliable, not in_seq_reliable+1 — unlike
// the reliable stream, equality here is the expected steady state, not a
// retransmission. The one exception is CONN_RSP during the handshake:
// it is sent unreliably (spec.md §4.4 step 3) before the client has ever
// accepted a reliable packet, so in_seq_reliable is still the
// NoPriorReliableSeq sentinel and the comparison necessarily misses;
// that case is routed to handleUnsequenced instead of being dropped.
func (p *Peer) ingressUnreliable(h wire.Header, payload []byte, now int64) error {
	if h.ReliableSeq != p.inSeqReliable {
		if p.inSeqReliable == wire.NoPriorReliableSeq {
			return p.handleUnsequenced(h, payload, now)
		}
		p.log.Warnw("dropping unreliable packet from stale epoch", "peer", p.ID)
		return nil
	}
	if wire.SeqDelta(h.UnreliableSeq, p.inSeqUnreliable) <= 0 {
		return nil
	}
	p.inSeqUnreliable = h.UnreliableSeq
	return p.dispatch(h, payload, now)
}

// handleUnsequenced implements the handshake special cases of spec.md
// §4.4 step 3; anything else is dropped with a log line.
func (p *Peer) handleUnsequenced(h wire.Header, payload []byte, now int64) error {
	switch {
	case p.state == StateNew && h.Command == wire.CmdConnReq:
		p.inSeqReliable = h.ReliableSeq
		p.absTimeoutDeadline = now + p.dropMS
		p.enqueueControl(wire.CmdConnRsp, wire.EncodeConnRsp(true), false)
		p.state = StateRun
		return nil
	case p.state == StateConnecting && h.Command == wire.CmdConnRsp:
		p.inSeqReliable = h.ReliableSeq
		p.absTimeoutDeadline = now + p.dropMS
		p.state = StateRun
		p.upcalls.Connected(p)
		return nil
	default:
		p.log.Warnw("dropping unsequenced packet", "peer", p.ID, "state", p.state, "command", h.Command)
		return nil
	}
}

// dispatch implements the SEQUENCED command switch of spec.md §4.4 step
// 5. It is also used for the unreliable-SEQUENCED path, which shares the
// same command vocabulary (PING/PONG/application data).
func (p *Peer) dispatch(h wire.Header, payload []byte, now int64) error {
	switch {
	case h.Command == wire.CmdClose:
		p.die()
		return nil
	case h.Command == wire.CmdPing && p.state == StateRun:
		if !h.Opt.Has(wire.OptRetransmitted) {
			p.enqueueControl(wire.CmdPong, payload, false)
		}
		return nil
	case h.Command == wire.CmdPong && p.state == StateRun:
		rtt := now - wire.DecodePingPong(payload)
		if rtt >= 0 {
			p.rto.sample(rtt)
			p.metrics.ObserveRTT(float64(rtt))
			p.metrics.ObserveRTO(float64(p.rto.rto))
		}
		return nil
	case h.Command == wire.CmdNoop || h.Command == wire.CmdConnReq || h.Command == wire.CmdConnRsp:
		return nil
	case h.Command.IsApplication() && p.state == StateRun:
		p.acceptApplication(h, payload)
		return nil
	default:
		p.log.Warnw("dropping packet for wrong state", "peer", p.ID, "state", p.state, "command", h.Command)
		return nil
	}
}

func (p *Peer) acceptApplication(h wire.Header, payload []byte) {
	if h.SegmentsSize <= 1 {
		p.deliver(h.Command, payload)
		return
	}
	if h.SegmentIndex == 0 {
		p.reasm = newReassembly(h, payload)
		p.metrics.SetReassemblyActive(1)
		return
	}
	if p.reasm == nil {
		p.log.Warnw("dropping mid-stream segment with no reassembly in progress", "peer", p.ID)
		return
	}
	p.reasm.append(payload)
	if int(h.SegmentIndex) == p.reasm.expected-1 {
		full := p.reasm.buf
		cmd := p.reasm.command
		p.reasm = nil
		p.metrics.SetReassemblyActive(0)
		p.deliver(cmd, full)
	}
}

func (p *Peer) deliver(cmd wire.Command, payload []byte) {
	p.upcalls.HandlePacket(p, uint8(cmd-wire.APP), payload)
}

// die is the single path that declares a peer DEAD: a CLOSE command
// (dispatch) or an expired drop deadline (Tick) both route through it, so
// exactly one Dropped upcall ever fires per peer (spec.md §8 invariant 7)
// and the peer's timer is always cancelled before the callback that may
// destroy it runs, instead of leaking an armed time.AfterFunc pointing at
// a peer nothing still owns.
func (p *Peer) die() {
	if p.state == StateDead {
		return
	}
	p.state = StateDead
	p.timer.Cancel()
	p.metrics.IncDrops()
	p.upcalls.Dropped(p)
}

// ---- Ack processing -------------------------------------------------------

func (p *Peer) processAck(ack uint16) {
	if wire.SeqDelta(ack, p.outSeqAcked) < 0 {
		return
	}
	p.outSeqAcked = ack
	for len(p.sendQueue) > 0 {
		seg := p.sendQueue[0]
		if !seg.reliable() || !seg.retransmitted() {
			break
		}
		if wire.SeqDelta(seg.header.ReliableSeq, ack) > 0 {
			break
		}
		p.sendQueue = p.sendQueue[1:]
		p.upcalls.LinkInfo(p, seg.header.ReliableSeq)
	}
}

// ---- Sending --------------------------------------------------------------

// Send segments payload into one or more framed packets carrying
// application command appCommand, per spec.md §4.4 "Sending".
func (p *Peer) Send(reliable bool, appCommand uint8, payload []byte) error {
	if p.state == StateDead {
		return fmt.Errorf("%w: peer is dead", ErrInvalidArgument)
	}
	if int(wire.APP)+int(appCommand) > 255 {
		return fmt.Errorf("%w: app command %d out of range", ErrInvalidArgument, appCommand)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}
	if p.state != StateRun {
		return fmt.Errorf("%w: handshake incomplete", ErrNotConnected)
	}

	cmd := wire.APP + wire.Command(appCommand)
	chunks := segmentPayload(payload, wire.MaxPayload)
	for i, chunk := range chunks {
		h := wire.Header{
			Version:      wire.ProtocolVersion,
			Command:      cmd,
			SegmentIndex: uint16(i),
			SegmentsSize: uint16(len(chunks)),
		}
		p.stampSeq(&h, reliable)
		p.enqueue(h, chunk)
	}
	p.reschedule(p.clk.NowMS())
	return p.LastSendError()
}

func segmentPayload(payload []byte, chunkSize int) [][]byte {
	n := (len(payload) + chunkSize - 1) / chunkSize
	if n == 0 {
		n = 1
	}
	chunks := make([][]byte, 0, n)
	for start := 0; start < len(payload); start += chunkSize {
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	if len(chunks) == 0 {
		chunks = append(chunks, nil)
	}
	return chunks
}

func (p *Peer) stampSeq(h *wire.Header, reliable bool) {
	if reliable {
		p.outSeqUnreliable = 0
		p.outSeqReliable++
		h.ReliableSeq = p.outSeqReliable
		h.UnreliableSeq = 0
		h.Opt = wire.OptReliable
	} else {
		h.ReliableSeq = p.outSeqReliable
		p.outSeqUnreliable++
		h.UnreliableSeq = p.outSeqUnreliable
		h.Opt = 0
	}
}

func (p *Peer) enqueue(h wire.Header, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.sendQueue = append(p.sendQueue, &segment{header: h, payload: cp})
}

// enqueueControl frames and queues a protocol command (NOOP, CONN_RSP,
// PONG, ...) with a fresh sequence stamp.
func (p *Peer) enqueueControl(cmd wire.Command, payload []byte, reliable bool) {
	h := wire.Header{Version: wire.ProtocolVersion, Command: cmd, SegmentsSize: 1}
	p.stampSeq(&h, reliable)
	p.enqueue(h, payload)
}

// Connect allocates and queues a reliable CONN_REQ, transitioning to
// CONNECTING (spec.md §4.4 "peer.send_connect()").
func (p *Peer) Connect() error {
	p.enqueueControl(wire.CmdConnReq, nil, true)
	p.state = StateConnecting
	p.reschedule(p.clk.NowMS())
	return p.LastSendError()
}

// Close writes a CLOSE packet directly to the socket, bypassing the send
// queue since the peer is about to be torn down (spec.md §4.4
// "peer.send_close_noqueue()").
func (p *Peer) Close() error {
	h := wire.Header{Version: wire.ProtocolVersion, Command: wire.CmdClose, SegmentsSize: 1}
	h.ReliableSeq = p.outSeqReliable
	p.outSeqUnreliable++
	h.UnreliableSeq = p.outSeqUnreliable
	err := p.sink.SendTo(p.Addr, h.Encode())
	p.lastSendError = err
	p.metrics.AddBytesSent(wire.Size)
	return err
}

// ---- Service tick ----------------------------------------------------------

// Tick is the timer-driven function that flushes the send queue,
// injects keepalives, and reschedules itself (spec.md §4.4 "Service /
// timer tick"). It is also invoked once after ingress and after any
// send, via reschedule, to start the timer chain.
//
// A Tick can still be in flight (already fired, queued on the owner's
// event loop) when something else kills the peer first; die() cancels the
// timer, but it cannot unqueue a callback already handed to the loop, so
// Tick guards itself against running on a peer that is already DEAD.
func (p *Peer) Tick() {
	if p.state == StateDead {
		return
	}
	now := p.clk.NowMS()
	if now > p.absTimeoutDeadline {
		p.die()
		return
	}
	if len(p.sendQueue) == 0 && now-p.lastOutTime > p.actionMS {
		p.enqueueControl(wire.CmdPing, wire.EncodePingPong(now), true)
	}
	p.flush(now)
	p.reschedule(now)
}

func (p *Peer) flush(now int64) {
	i := 0
	for i < len(p.sendQueue) {
		seg := p.sendQueue[i]
		out := seg.header
		if p.mustAck {
			out.Opt |= wire.OptAck
			out.ReliableAck = p.inSeqReliable
		}
		buf := make([]byte, wire.Size+len(seg.payload))
		out.EncodeInto(buf)
		copy(buf[wire.Size:], seg.payload)
		err := p.sink.SendTo(p.Addr, buf)
		p.lastSendError = err
		if !isEINVAL(err) {
			p.lastOutTime = now
		}
		p.metrics.AddBytesSent(len(buf))
		if p.mustAck {
			p.mustAck = false
		}

		switch {
		case seg.reliable() && seg.retransmitted():
			p.rto.backoff()
			p.metrics.IncRetransmits()
			p.metrics.ObserveRTO(float64(p.rto.rto))
			return // one retransmit per tick
		case seg.reliable():
			seg.header.Opt |= wire.OptRetransmitted
			i++
		default:
			p.sendQueue = append(p.sendQueue[:i], p.sendQueue[i+1:]...)
		}
	}
}

func isEINVAL(err error) bool {
	return err != nil && errors.Is(err, syscall.EINVAL)
}

// reschedule arms the peer's single-shot timer per spec.md §4.4 step 4.
func (p *Peer) reschedule(now int64) {
	delta := p.actionMS
	if len(p.sendQueue) > 0 {
		head := p.sendQueue[0]
		if head.reliable() && head.retransmitted() {
			delta = (p.lastOutTime + p.rto.rto) - now
		} else {
			delta = 0
		}
	}
	if delta < 0 {
		delta = 0
	}
	maxDelta := p.absTimeoutDeadline - now
	if maxDelta < 0 {
		maxDelta = 0
	}
	if delta > maxDelta {
		delta = maxDelta
	}
	p.timer.Arm(time.Duration(delta)*time.Millisecond, p.Tick)
}
