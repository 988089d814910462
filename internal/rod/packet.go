// Package rod implements the Reliable Ordered Datagram channel spec §4.B
// describes: a sliding-window protocol layered on a single connected UDP
// (or, after upgrade, TCP) socket, with per-message sequence numbers,
// selective retransmission, keep-alives, and liveness-based disconnect.
package rod

import (
	"encoding/binary"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// PacketType is the first byte of every datagram (spec §4.B).
type PacketType byte

const (
	TypeOpen      PacketType = 0x01
	TypeData      PacketType = 0x02
	TypeAck       PacketType = 0x03
	TypeKeepAlive PacketType = 0x04
)

// MaxPayload is the largest payload a single package may carry.
const MaxPayload = 65535

// packetHeaderLen is type(1) + seq(4) + size(2).
const packetHeaderLen = 1 + 4 + 2

// packet is one on-wire datagram: type(1) | seq(4, BE) | size(2, BE) | payload.
type packet struct {
	typ     PacketType
	seq     uint32
	payload []byte
}

func encodePacket(p packet) []byte {
	buf := make([]byte, packetHeaderLen+len(p.payload))
	buf[0] = byte(p.typ)
	binary.BigEndian.PutUint32(buf[1:5], p.seq)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(p.payload)))
	copy(buf[7:], p.payload)
	return buf
}

func decodePacket(buf []byte) (packet, bool) {
	if len(buf) < packetHeaderLen {
		return packet{}, false
	}
	typ := PacketType(buf[0])
	switch typ {
	case TypeOpen, TypeData, TypeAck, TypeKeepAlive:
	default:
		return packet{}, false // Invalid, dropped
	}
	seq := binary.BigEndian.Uint32(buf[1:5])
	size := binary.BigEndian.Uint16(buf[5:7])
	if len(buf)-packetHeaderLen != int(size) {
		return packet{}, false
	}
	payload := append([]byte(nil), buf[packetHeaderLen:]...)
	return packet{typ: typ, seq: seq, payload: payload}, true
}

// seqLess compares 32-bit wrapping sequence numbers the way spec §4.B's
// wraparound rule requires: valid only because the window is kept far
// smaller than 2^31, so ordinary signed-difference comparison suffices.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

func seqLessEq(a, b uint32) bool {
	return a == b || seqLess(a, b)
}

var errIllegalByteStream = rerrors.New(rerrors.IllegalByteStream, "message exceeds 65535 bytes")
