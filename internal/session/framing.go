package session

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// frameStream gives a smux stream (a plain byte stream, like TCP — it
// does not preserve message boundaries) the same length-prefixed framing
// cipherstream.FramedConn gives a raw TCP conn, so each wire.Frame travels
// as exactly one logical message.
type frameStream struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
}

func newFrameStream(rw io.ReadWriteCloser) *frameStream {
	return &frameStream{rw: rw, reader: bufio.NewReaderSize(rw, 64*1024)}
}

func (f *frameStream) writeMessage(msg []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := f.rw.Write(hdr[:]); err != nil {
		return rerrors.Wrap(rerrors.CommunicationFailed, err, "write frame-stream header")
	}
	if _, err := f.rw.Write(msg); err != nil {
		return rerrors.Wrap(rerrors.CommunicationFailed, err, "write frame-stream body")
	}
	return nil
}

func (f *frameStream) readMessage() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(f.reader, hdr[:]); err != nil {
		return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "read frame-stream header")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.reader, buf); err != nil {
		return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "read frame-stream body")
	}
	return buf, nil
}

func (f *frameStream) Close() error { return f.rw.Close() }
