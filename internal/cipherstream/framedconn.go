package cipherstream

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// FramedConn adapts a raw net.Conn (a TCP stream after the §4.D upgrade, no
// longer message-boundary-preserving the way UDP or rod.Channel are) into a
// MessageTransport by prefixing every message with a 4-byte big-endian
// length, so Stream's block framing keeps working unchanged post-upgrade.
type FramedConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewFramedConn wraps conn. conn should already be connected (dialed or
// accepted); FramedConn claims exclusive ownership of its read deadline.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}
}

func (f *FramedConn) Write(msg []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := f.conn.Write(hdr[:]); err != nil {
		return rerrors.Wrap(rerrors.CommunicationFailed, err, "write frame header")
	}
	if _, err := f.conn.Write(msg); err != nil {
		return rerrors.Wrap(rerrors.CommunicationFailed, err, "write frame body")
	}
	return nil
}

func (f *FramedConn) Read(timeout time.Duration) ([]byte, error) {
	f.conn.SetReadDeadline(time.Now().Add(timeout))
	defer f.conn.SetReadDeadline(time.Time{})
	return f.readFrame()
}

func (f *FramedConn) TryRead() ([]byte, error) {
	f.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer f.conn.SetReadDeadline(time.Time{})
	return f.readFrame()
}

func (f *FramedConn) readFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(f.reader, hdr[:]); err != nil {
		if isTimeoutErr(err) {
			return nil, rerrors.New(rerrors.TimedOut, "framed read timed out")
		}
		return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "read frame header")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.reader, buf); err != nil {
		return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "read frame body")
	}
	return buf, nil
}

func (f *FramedConn) Close() error {
	return f.conn.Close()
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
