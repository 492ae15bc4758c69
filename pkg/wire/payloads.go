package wire

import "encoding/binary"

// EncodeConnRsp builds the 4-byte CONN_RSP payload: a nonzero accepted
// flag in network byte order.
func EncodeConnRsp(accepted bool) []byte {
	buf := make([]byte, 4)
	if accepted {
		binary.BigEndian.PutUint32(buf, 1)
	}
	return buf
}

// DecodeConnRsp reports whether a CONN_RSP payload's accepted field is
// nonzero.
func DecodeConnRsp(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	return binary.BigEndian.Uint32(payload[:4]) != 0
}

// EncodePingPong builds the 8-byte echoed-timestamp payload carried by
// PING and PONG packets.
func EncodePingPong(timestampMS int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(timestampMS))
	return buf
}

// DecodePingPong extracts the echoed timestamp from a PING/PONG payload.
func DecodePingPong(payload []byte) int64 {
	if len(payload) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(payload[:8]))
}
