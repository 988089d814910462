// Package rendezvous implements spec component D: the NAT-traversal state
// machine Waiting → PlainUdp → EncryptedUdp → EncryptedTcp. Each state is
// a Go value type; each transition method consumes its receiver and
// returns the next state, so a caller can never hold two states live for
// the same underlying socket at once.
package rendezvous

import (
	"net"
	"strconv"
)

// Endpoint is a peer's reachable (IP, port) pair, exchanged out of band
// (the public-IP discovery HTTP call is an explicit non-goal — the caller
// supplies Endpoint values from whatever discovery mechanism it uses).
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

func (e Endpoint) udpAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: e.Port}
}

func (e Endpoint) tcpAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: e.IP, Port: e.Port}
}

// isLocal reports whether peer names this process's own listening port —
// the self-connect guard spec §4.D requires ("If the caller attempts to
// connect to their own port the state machine refuses immediately with
// CannotConnectToSelf").
func isLocal(peer Endpoint, localPort int) bool {
	if peer.Port != localPort {
		return false
	}
	if peer.IP.IsLoopback() || peer.IP.IsUnspecified() {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if ok && ipNet.IP.Equal(peer.IP) {
			return true
		}
	}
	return false
}
