package cipherstream

import (
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// readTimeoutSlice is how long each blocking Read attempt waits before
// checking again; Conn.Read loops on this so it behaves like an ordinary
// io.Reader that blocks until data or a hard error, despite Stream.Read
// requiring an explicit timeout.
const readTimeoutSlice = 2 * time.Second

// Conn presents a Stream as an io.ReadWriteCloser so smux (which expects a
// byte-stream-shaped conn, not a message transport) can multiplex logical
// file-transfer streams over it (see SPEC_FULL.md REDESIGN FLAGS #1).
type Conn struct {
	stream  *Stream
	closer  interface{ Close() error }
	pending []byte // leftover bytes from a decrypted message not yet delivered to Read
}

// NewConn wraps stream; closer is invoked on Close (typically the
// underlying rod.Channel, so closing the smux session also tears down the
// transport beneath it).
func NewConn(stream *Stream, closer interface{ Close() error }) *Conn {
	return &Conn{stream: stream, closer: closer}
}

// Read implements io.Reader, blocking until at least one byte is available.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		msg, err := c.stream.Read(readTimeoutSlice)
		if err != nil {
			if rerrors.Is(err, rerrors.TimedOut) {
				continue
			}
			return 0, err
		}
		c.pending = msg
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write implements io.Writer: the whole of p becomes one logical cipherstream
// message (itself split into BlockSize blocks internally).
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.stream.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close tears down the underlying transport.
func (c *Conn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
