package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskline/rudp/internal/config"
	"github.com/duskline/rudp/internal/rlog"
	"github.com/duskline/rudp/pkg/wire"
)

func testLogger() *rlog.Logger { return rlog.New(rlog.LevelError) }

// fakeClock lets tests advance time deterministically instead of sleeping.
type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMS() int64    { return c.ms }
func (c *fakeClock) advance(ms int64) { c.ms += ms }

// fakeTimer records the last arming instead of actually scheduling it;
// tests drive Peer.Tick by hand.
type fakeTimer struct {
	armed time.Duration
	fn    func()
}

func (t *fakeTimer) Arm(d time.Duration, fn func()) { t.armed, t.fn = d, fn }
func (t *fakeTimer) Cancel()                        { t.fn = nil }

type sentPacket struct {
	addr *net.UDPAddr
	h    wire.Header
	body []byte
}

type fakeSink struct {
	sent []sentPacket
	drop bool
}

func (s *fakeSink) SendTo(addr *net.UDPAddr, b []byte) error {
	if s.drop {
		return nil
	}
	h, payload, err := wire.Decode(b)
	if err != nil {
		return err
	}
	s.sent = append(s.sent, sentPacket{addr: addr, h: h, body: append([]byte(nil), payload...)})
	return nil
}

type fakeUpcalls struct {
	packets   []appPacket
	linkInfos []uint16
	dropped   int
	connected int
}

type appPacket struct {
	cmd     uint8
	payload []byte
}

func (u *fakeUpcalls) HandlePacket(p *Peer, appCommand uint8, payload []byte) {
	u.packets = append(u.packets, appPacket{cmd: appCommand, payload: append([]byte(nil), payload...)})
}
func (u *fakeUpcalls) LinkInfo(p *Peer, ackedSeq uint16) { u.linkInfos = append(u.linkInfos, ackedSeq) }
func (u *fakeUpcalls) Dropped(p *Peer)                   { u.dropped++ }
func (u *fakeUpcalls) Connected(p *Peer)                 { u.connected++ }

func testAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	require.NoError(t, err)
	return addr
}

func newTestPeer(t *testing.T, initial State) (*Peer, *fakeClock, *fakeSink, *fakeUpcalls) {
	t.Helper()
	clk := &fakeClock{ms: 1_000_000}
	sink := &fakeSink{}
	up := &fakeUpcalls{}
	timeouts := config.Timeouts{
		MinRTO:         100 * time.Millisecond,
		MaxRTO:         1000 * time.Millisecond,
		ActionInterval: 500 * time.Millisecond,
		DropTimeout:    5000 * time.Millisecond,
	}
	p := New(testAddr(t), initial, timeouts, Deps{
		Sink:    sink,
		Upcalls: up,
		Pool:    wire.NewPool(),
		Clock:   clk,
		Timer:   &fakeTimer{},
		Metrics: nil,
		Log:     testLogger(),
	})
	return p, clk, sink, up
}

// Scenario S1: a fresh peer accepts a bare CONN_REQ and replies CONN_RSP.
func TestHandshakeServerSideAcceptsConnReq(t *testing.T) {
	p, _, sink, _ := newTestPeer(t, StateNew)

	req := wire.Header{
		Version:     wire.ProtocolVersion,
		Command:     wire.CmdConnReq,
		Opt:         wire.OptReliable,
		ReliableSeq: 500,
	}
	err := p.Ingress(req, nil)
	require.NoError(t, err)
	require.Equal(t, StateRun, p.State())

	p.Tick()
	require.NotEmpty(t, sink.sent)
	last := sink.sent[len(sink.sent)-1]
	require.Equal(t, wire.CmdConnRsp, last.h.Command)
	require.True(t, wire.DecodeConnRsp(last.body))
}

// Scenario: a client-side peer completes its handshake on CONN_RSP.
func TestHandshakeClientSideFiresConnected(t *testing.T) {
	p, _, sink, up := newTestPeer(t, StateNew)
	require.NoError(t, p.Connect())
	require.Equal(t, StateConnecting, p.State())

	p.Tick()
	require.NotEmpty(t, sink.sent)
	reqSeq := sink.sent[len(sink.sent)-1].h.ReliableSeq

	rsp := wire.Header{
		Version:     wire.ProtocolVersion,
		Command:     wire.CmdConnRsp,
		ReliableSeq: reqSeq + 1,
	}
	require.NoError(t, p.Ingress(rsp, wire.EncodeConnRsp(true)))
	require.Equal(t, StateRun, p.State())
	require.Equal(t, 1, up.connected)
}

// Scenario: a reliable application message in RUN is delivered once.
func TestReliableApplicationMessageDelivered(t *testing.T) {
	p, _, _, up := newTestPeer(t, StateRun)
	p.inSeqReliable = 10

	h := wire.Header{
		Version:      wire.ProtocolVersion,
		Command:      wire.APP + 7,
		Opt:          wire.OptReliable,
		ReliableSeq:  11,
		SegmentsSize: 1,
	}
	require.NoError(t, p.Ingress(h, []byte("hello")))
	require.Len(t, up.packets, 1)
	require.EqualValues(t, 7, up.packets[0].cmd)
	require.Equal(t, "hello", string(up.packets[0].payload))

	// A retransmission of the same sequence must not be redelivered.
	require.NoError(t, p.Ingress(h, []byte("hello")))
	require.Len(t, up.packets, 1)
}

// Scenario: an unacknowledged reliable segment is retransmitted once RTO
// elapses, and the estimator's back-off collapses to max_rto (the
// preserved source quirk — see DESIGN.md).
func TestRetransmissionAfterRTO(t *testing.T) {
	p, clk, sink, _ := newTestPeer(t, StateRun)
	p.inSeqReliable = 0

	require.NoError(t, p.Send(true, 1, []byte("payload")))
	p.Tick() // first send
	require.Len(t, sink.sent, 1)
	firstSeq := sink.sent[0].h.ReliableSeq
	require.False(t, sink.sent[0].h.Opt.Has(wire.OptRetransmitted))

	clk.advance(p.maxRTOms + 1)
	p.Tick() // retransmit
	require.Len(t, sink.sent, 2)
	require.Equal(t, firstSeq, sink.sent[1].h.ReliableSeq)
	require.True(t, sink.sent[1].h.Opt.Has(wire.OptRetransmitted))
	require.EqualValues(t, p.maxRTOms, p.rto.rto)
}

// Scenario: an ACK removes a retransmitted segment and fires LinkInfo.
func TestAckRemovesAcknowledgedSegment(t *testing.T) {
	p, _, sink, up := newTestPeer(t, StateRun)
	p.inSeqReliable = 0

	require.NoError(t, p.Send(true, 1, []byte("payload")))
	p.Tick()
	seq := sink.sent[0].h.ReliableSeq
	p.sendQueue[0].header.Opt |= wire.OptRetransmitted

	ack := wire.Header{Version: wire.ProtocolVersion, Command: wire.CmdNoop, Opt: wire.OptAck, ReliableAck: seq}
	require.NoError(t, p.Ingress(ack, nil))
	require.Empty(t, p.sendQueue)
	require.Equal(t, []uint16{seq}, up.linkInfos)
}

// Scenario: an idle RUN peer injects a PING once the action interval
// elapses with nothing else queued.
func TestIdlePeerInjectsKeepalivePing(t *testing.T) {
	p, clk, sink, _ := newTestPeer(t, StateRun)
	clk.advance(p.actionMS + 1)
	p.Tick()
	require.NotEmpty(t, sink.sent)
	last := sink.sent[len(sink.sent)-1]
	require.Equal(t, wire.CmdPing, last.h.Command)
}

// Scenario: a peer is declared dropped once its absolute deadline passes.
func TestPeerDroppedAfterDeadline(t *testing.T) {
	p, clk, _, up := newTestPeer(t, StateRun)
	clk.advance(p.dropMS + 1)
	p.Tick()
	require.Equal(t, StateDead, p.State())
	require.Equal(t, 1, up.dropped)
}

// Scenario: a CLOSE packet immediately drops the peer.
func TestCloseCommandDropsPeer(t *testing.T) {
	p, _, _, up := newTestPeer(t, StateRun)
	p.inSeqReliable = 0
	h := wire.Header{Version: wire.ProtocolVersion, Command: wire.CmdClose, Opt: wire.OptReliable, ReliableSeq: 1}
	require.NoError(t, p.Ingress(h, nil))
	require.Equal(t, StateDead, p.State())
	require.Equal(t, 1, up.dropped)
}

// Scenario: a message larger than one segment's payload is reassembled
// before delivery.
func TestFragmentedMessageReassembled(t *testing.T) {
	p, _, _, up := newTestPeer(t, StateRun)
	p.inSeqReliable = 0

	chunks := [][]byte{[]byte("abc"), []byte("def"), []byte("ghi")}
	for i, c := range chunks {
		h := wire.Header{
			Version:      wire.ProtocolVersion,
			Command:      wire.APP + 2,
			Opt:          wire.OptReliable,
			ReliableSeq:  uint16(i + 1),
			SegmentIndex: uint16(i),
			SegmentsSize: uint16(len(chunks)),
		}
		require.NoError(t, p.Ingress(h, c))
	}
	require.Len(t, up.packets, 1)
	require.Equal(t, "abcdefghi", string(up.packets[0].payload))
}

// Scenario: Send on a peer that hasn't finished its handshake is
// rejected, matching spec.md §7's not_connected error.
func TestSendBeforeRunRejected(t *testing.T) {
	p, _, _, _ := newTestPeer(t, StateConnecting)
	err := p.Send(true, 0, []byte("x"))
	require.ErrorIs(t, err, ErrNotConnected)
}

// Scenario: Send with an empty payload is rejected.
func TestSendRejectsEmptyPayload(t *testing.T) {
	p, _, _, _ := newTestPeer(t, StateRun)
	err := p.Send(true, 0, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
