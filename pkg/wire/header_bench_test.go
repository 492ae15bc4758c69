package wire

import "testing"

func BenchmarkHeaderEncode(b *testing.B) {
	h := Header{
		Version:       ProtocolVersion,
		Command:       APP,
		Opt:           OptReliable,
		ReliableSeq:   1000,
		UnreliableSeq: 0,
		ReliableAck:   999,
		SegmentIndex:  0,
		SegmentsSize:  1,
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = h.Encode()
	}
}

func BenchmarkHeaderDecode(b *testing.B) {
	h := Header{Version: ProtocolVersion, Command: APP, SegmentsSize: 1}
	buf := append(h.Encode(), make([]byte, 64)...)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _, _ = Decode(buf)
	}
}
