package rendezvous

import (
	"net"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/rod"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

// Waiting owns an unconnected UDP socket bound to one local port, waiting
// to be told a peer Endpoint to dial (spec §4.D: "Waiting(port) — owns the
// UDP socket").
type Waiting struct {
	conn     *net.UDPConn
	settings *settings.Settings
}

// NewWaiting binds a UDP socket at port (0 lets the OS assign one).
func NewWaiting(s *settings.Settings, port int) (Waiting, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return Waiting{}, rerrors.Wrap(rerrors.StateChangeFailed, err, "bind waiting socket")
	}
	return Waiting{conn: conn, settings: s}, nil
}

// Port is the local port a caller hands to its rendezvous partner via
// whatever out-of-band channel they use.
func (w Waiting) Port() int {
	return w.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the listening socket without attempting a connection.
func (w Waiting) Close() error {
	return w.conn.Close()
}

// Connect attempts Waiting → PlainUdp against peer: it dials peer (closing
// and reusing the local port, the standard simultaneous-UDP-hole-punch
// idiom) then runs the ping-and-wait Open handshake. On handshake failure
// the Waiting state is carried back to the caller via a fresh rebind on
// the same port, per spec §4.D ("Failure carries the Waiting state back
// to the caller").
func (w Waiting) Connect(peer Endpoint) (PlainUdp, Waiting, error) {
	if isLocal(peer, w.Port()) {
		return PlainUdp{}, w, rerrors.New(rerrors.CannotConnectToSelf, "refusing to connect to own port")
	}

	localAddr := w.conn.LocalAddr().(*net.UDPAddr)
	if err := w.conn.Close(); err != nil {
		return PlainUdp{}, Waiting{}, rerrors.Wrap(rerrors.StateChangeFailed, err, "release waiting socket")
	}

	conn, err := net.DialUDP("udp", localAddr, peer.udpAddr())
	if err != nil {
		fresh, rebindErr := rebind(w.settings, localAddr.Port)
		return PlainUdp{}, fresh, joinDialErr(err, rebindErr)
	}

	reader, err := rod.Handshake(conn, w.settings.ReceiveTick, handshakeTimeout(w.settings))
	if err != nil {
		conn.Close()
		fresh, rebindErr := rebind(w.settings, localAddr.Port)
		return PlainUdp{}, fresh, joinDialErr(err, rebindErr)
	}

	channel := rod.NewChannelFromHandshake(conn, rodConfig(w.settings), reader)
	return PlainUdp{channel: channel, settings: w.settings}, Waiting{}, nil
}

func rebind(s *settings.Settings, port int) (Waiting, error) {
	w, err := NewWaiting(s, port)
	if err != nil {
		return Waiting{}, rerrors.Wrap(rerrors.StateChangeFailed, err, "rebind waiting socket after failed connect")
	}
	return w, nil
}

func joinDialErr(primary, rebind error) error {
	if rebind != nil {
		return rerrors.Wrap(rerrors.StateChangeFailed, primary, "connect failed and rebind also failed: "+rebind.Error())
	}
	return rerrors.Wrap(rerrors.StateChangeFailed, primary, "connect to peer failed")
}

func handshakeTimeout(s *settings.Settings) time.Duration {
	return s.DisconnectTimeout
}

func rodConfig(s *settings.Settings) rod.Config {
	return rod.Config{
		Window:            s.WindowSize,
		KeepAliveInterval: s.KeepAliveInterval,
		DisconnectTimeout: s.DisconnectTimeout,
		SendInterval:      s.SendInterval,
		ReceiveTick:       s.ReceiveTick,
	}
}
