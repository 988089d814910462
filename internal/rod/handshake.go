package rod

import (
	"bufio"
	"net"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// Handshake performs the "ping-and-wait" exchange spec §4.D's Waiting →
// PlainUdp transition describes: both sides send Open packages at
// pingInterval cadence until either receives an Open back or connectTimeout
// elapses, then any residual Open messages still in flight are drained.
// conn must already be connected to the peer address. The returned
// *bufio.Reader carries no buffered bytes past the handshake and should be
// passed to NewChannelFromHandshake so no datagram is lost between the two.
func Handshake(conn net.Conn, pingInterval, connectTimeout time.Duration) (*bufio.Reader, error) {
	reader := bufio.NewReaderSize(conn, 64*1024)
	deadline := time.Now().Add(connectTimeout)

	if _, err := conn.Write(encodePacket(packet{typ: TypeOpen})); err != nil {
		return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "send initial open")
	}

	gotOpen := false
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(pingInterval))
		p, ok, err := readPacket(reader)
		if err != nil {
			if isTimeout(err) {
				if _, werr := conn.Write(encodePacket(packet{typ: TypeOpen})); werr != nil {
					return nil, rerrors.Wrap(rerrors.CommunicationFailed, werr, "resend open")
				}
				continue
			}
			return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "read during handshake")
		}
		if ok && p.typ == TypeOpen {
			gotOpen = true
			break
		}
	}
	if !gotOpen {
		return nil, rerrors.New(rerrors.TimedOut, "open handshake timed out")
	}

	// Drain any residual Open messages still arriving from the peer's own
	// resend loop, non-blocking once none remain.
	for {
		conn.SetReadDeadline(time.Now().Add(pingInterval))
		p, ok, err := readPacket(reader)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return nil, rerrors.Wrap(rerrors.CommunicationFailed, err, "drain residual opens")
		}
		if !ok || p.typ != TypeOpen {
			break
		}
	}

	conn.SetReadDeadline(time.Time{})
	return reader, nil
}
