package cipherstream

import (
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// StreamHeader is exchanged in the clear once keys are derived, to
// initialise each direction's symmetric stream (spec §4.C: "A per-direction
// stream header is then exchanged to initialise the symmetric streams").
type StreamHeader struct {
	Salt [12]byte
}

// NewStreamHeader generates a fresh random salt for one direction.
func NewStreamHeader() (StreamHeader, error) {
	var h StreamHeader
	if _, err := readRandom(h.Salt[:]); err != nil {
		return h, rerrors.Wrap(rerrors.EncryptionFailed, err, "generate stream header")
	}
	return h, nil
}

// Stream is the authenticated, block-framed write/read pair spec §4.C
// defines over a MessageTransport: each write is encrypted as consecutive
// B-sized MESSAGE blocks with a final PUSH-tagged block; each read
// concatenates decrypted blocks until a PUSH.
type Stream struct {
	transport MessageTransport
	tx        *AEAD
	rx        *AEAD
	txCounter uint64
	rxCounter uint64
}

// NewStream builds a Stream from already-derived per-direction AEADs.
func NewStream(transport MessageTransport, tx, rx *AEAD) *Stream {
	return &Stream{transport: transport, tx: tx, rx: rx}
}

// Rebind swaps the underlying transport (e.g. a UDP rod.Channel for a
// FramedConn over the upgraded TCP socket) while preserving the AEAD keys
// and block counters, so the upgraded stream continues the same sequence
// rather than restarting it (spec §4.D: "the symmetric stream state is
// carried over from UDP, preserving sequence").
func (s *Stream) Rebind(transport MessageTransport) {
	s.transport = transport
}

// Write encrypts msg as consecutive BlockSize-byte MESSAGE blocks with a
// final PUSH-tagged block carrying the tail (empty only for a zero-length
// message; a message whose length is a multiple of BlockSize ends with a
// full PUSH-tagged block).
func (s *Stream) Write(msg []byte) error {
	i := 0
	for {
		end := i + BlockSize
		last := false
		if end >= len(msg) {
			end = len(msg)
			last = true
		}
		tag := tagMessage
		if last {
			tag = tagPush
		}
		block := s.tx.seal(s.txCounter, tag, msg[i:end])
		wire := make([]byte, 1+len(block))
		wire[0] = byte(tag)
		copy(wire[1:], block)
		if err := s.transport.Write(wire); err != nil {
			return rerrors.Wrap(rerrors.CommunicationFailed, err, "write cipher block")
		}
		s.txCounter++
		if last {
			return nil
		}
		i = end
	}
}

// Read blocks up to timeout for the next logical message: it concatenates
// decrypted blocks until a PUSH-tagged block is received.
func (s *Stream) Read(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var out []byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rerrors.New(rerrors.TimedOut, "cipherstream read timed out")
		}
		wire, err := s.transport.Read(remaining)
		if err != nil {
			return nil, err
		}
		if len(wire) < 1 {
			return nil, rerrors.New(rerrors.EncryptionFailed, "empty cipher block")
		}
		tag := blockTag(wire[0])
		plain, err := s.rx.open(s.rxCounter, tag, wire[1:])
		if err != nil {
			return nil, err
		}
		s.rxCounter++
		out = append(out, plain...)
		if tag == tagPush {
			return out, nil
		}
	}
}

func readRandom(buf []byte) (int, error) {
	return cryptoRandRead(buf)
}
