// Package rdrop is the module's public entry point: it wires together the
// rendezvous state machine, the cipherstream encryption layer, and the
// smux-backed session controller into the "connection builder returning a
// paired reader/writer" spec §1 asks for. Everything else (the offer/order/
// data/stop codec in internal/wire, the splitter/merger in
// internal/chunkengine) is exercised through the resulting Connection.
package rdrop

import (
	"net"

	"github.com/xtaci/smux"

	"github.com/philipp3923/rdrop-sub000/internal/cipherstream"
	"github.com/philipp3923/rdrop-sub000/internal/rendezvous"
	"github.com/philipp3923/rdrop-sub000/internal/session"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

// Endpoint is the peer address to rendezvous-connect to.
type Endpoint = rendezvous.Endpoint

// Connection is a live, authenticated peer session: the embedded Controller
// drives file transfers and delivers UI events; Close tears down the whole
// stack — control stream, file streams, and the underlying socket alike,
// since smux.Session.Close closes the conn it wraps.
type Connection struct {
	*session.Controller
}

// Event is the UI event Connect and the resulting Connection report on,
// re-exported from session so callers don't need to import internal/session
// directly. The session controller collapses every signal it produces into
// the same five kinds (spec §9): ConnectProgress, ConnectError, Disconnect,
// FileState, and BindPort.
type Event = session.Event

// EventKind constants, re-exported from session for the same reason as Event.
const (
	EventConnectProgress = session.EventConnectProgress
	EventConnectError    = session.EventConnectError
	EventDisconnect      = session.EventDisconnect
	EventFileState       = session.EventFileState
	EventBindPort        = session.EventBindPort
)

// Connect implements spec §1's connection builder: bind port, rendezvous
// with peer (UDP hole punch, then key exchange), attempt the optional
// UDP→TCP upgrade, and start the session controller on whichever transport
// won. localIP is only consulted if the TCP upgrade is attempted; a failed
// upgrade already falls back to the UDP stream (rendezvous.EncryptedUdp.
// UpgradeToTCP), so Connect never fails outright just because the upgrade
// didn't land.
//
// The returned event channel carries EventBindPort and EventConnectProgress
// as each rendezvous stage completes, and is the same channel the returned
// Connection later reports EventFileState/EventDisconnect on — so a caller
// only ever needs to range over one channel. On failure Connect still
// returns the channel (already carrying an EventConnectError) alongside the
// error, since there is no Connection yet to read it from.
func Connect(s *settings.Settings, port int, peer Endpoint, localIP net.IP) (*Connection, <-chan Event, error) {
	events := make(chan Event, 64)

	waiting, err := rendezvous.NewWaiting(s, port)
	if err != nil {
		emitConnectError(events, err)
		return nil, events, err
	}
	emit(events, Event{Kind: session.EventBindPort, Port: waiting.Port()})
	emit(events, Event{Kind: session.EventConnectProgress, Stage: "waiting"})

	plain, _, err := waiting.Connect(peer)
	if err != nil {
		emitConnectError(events, err)
		return nil, events, err
	}
	emit(events, Event{Kind: session.EventConnectProgress, Stage: "plain-udp"})

	enc, err := plain.Negotiate()
	if err != nil {
		emitConnectError(events, err)
		return nil, events, err
	}
	emit(events, Event{Kind: session.EventConnectProgress, Stage: "encrypted-udp"})

	role := enc.Role()
	stream, closer := upgradeOrFallback(enc, localIP)
	emit(events, Event{Kind: session.EventConnectProgress, Stage: "transport-selected"})
	conn := cipherstream.NewConn(stream, closer)

	cfg, err := session.SmuxConfig(s)
	if err != nil {
		emitConnectError(events, err)
		conn.Close()
		return nil, events, err
	}

	mux, err := openMux(role, conn, cfg)
	if err != nil {
		emitConnectError(events, err)
		conn.Close()
		return nil, events, err
	}

	ctrl, err := session.New(mux, sessionRole(role), s, events)
	if err != nil {
		emitConnectError(events, err)
		mux.Close()
		return nil, events, err
	}

	return &Connection{Controller: ctrl}, events, nil
}

func emitConnectError(events chan Event, err error) {
	emit(events, Event{Kind: session.EventConnectError, Err: err})
}

// emit is the same best-effort, drop-oldest-on-full policy
// session.Controller.emit uses, applied here before a Controller exists to
// own the channel.
func emit(events chan Event, ev Event) {
	select {
	case events <- ev:
	default:
		select {
		case <-events:
		default:
		}
		select {
		case events <- ev:
		default:
		}
	}
}

// upgradeOrFallback attempts the UDP→TCP upgrade and returns whichever
// stream ends up live: the upgraded EncryptedTcp on success, or the
// original EncryptedUdp (handed back unchanged by UpgradeToTCP) otherwise.
func upgradeOrFallback(enc rendezvous.EncryptedUdp, localIP net.IP) (*cipherstream.Stream, interface{ Close() error }) {
	tcp, udpFallback, err := enc.UpgradeToTCP(localIP)
	if err == nil {
		return tcp.Stream(), tcp
	}
	return udpFallback.Stream(), udpFallback
}

// openMux opens the control-stream side the negotiated cipherstream role
// maps onto: the Client always plays smux.Client, the Server smux.Server,
// matching client/main.go and server/main.go's own split.
func openMux(role cipherstream.Role, conn *cipherstream.Conn, cfg *smux.Config) (session.Mux, error) {
	if role == cipherstream.RoleClient {
		return session.NewClientMux(conn, cfg)
	}
	return session.NewServerMux(conn, cfg)
}

func sessionRole(role cipherstream.Role) session.Role {
	if role == cipherstream.RoleClient {
		return session.RoleClient
	}
	return session.RoleServer
}
