package rendezvous

import (
	"net"

	"github.com/philipp3923/rdrop-sub000/internal/cipherstream"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

// EncryptedTcp is the terminal state: the authenticated cipherstream now
// runs over a plain TCP socket (already reliable and ordered, so no ROD
// layer is needed on this leg) rather than the UDP ROD channel.
type EncryptedTcp struct {
	conn     *net.TCPConn
	stream   *cipherstream.Stream
	settings *settings.Settings
}

// Stream exposes the encrypted message transport for the session
// controller to build framing/chunk delivery on top of.
func (t EncryptedTcp) Stream() *cipherstream.Stream { return t.stream }

// Close tears down the TCP socket.
func (t EncryptedTcp) Close() error { return t.conn.Close() }
