package rendezvous

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/cipherstream"
	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/rod"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
	"github.com/philipp3923/rdrop-sub000/internal/timesync"
)

const tcpUpgradeSlack = 100 * time.Millisecond

// EncryptedUdp is the state after key exchange: an authenticated
// cipherstream.Stream over the still-UDP ROD channel (spec §4.D).
type EncryptedUdp struct {
	channel  *rod.Channel
	stream   *cipherstream.Stream
	role     cipherstream.Role
	settings *settings.Settings
}

// Stream exposes the encrypted message transport, e.g. for the session
// controller to hand to wire/chunkengine once no further upgrade is
// attempted.
func (e EncryptedUdp) Stream() *cipherstream.Stream { return e.stream }

// Role is the role NegotiateRole assigned during PlainUdp → EncryptedUdp.
func (e EncryptedUdp) Role() cipherstream.Role { return e.role }

// Close tears down the underlying ROD channel.
func (e EncryptedUdp) Close() error { return e.channel.Close() }

// UpgradeToTCP performs EncryptedUdp → EncryptedTcp (spec §4.D steps 1–6):
// each side binds a TCP listener, exchanges ports over the encrypted UDP
// channel, syncs clocks, and attempts a timed simultaneous connect up to
// settings.TCPUpgradeRetries times. On exhaustion it falls back to
// returning the caller to EncryptedUdp rather than failing the session.
func (e EncryptedUdp) UpgradeToTCP(localIP net.IP) (EncryptedTcp, EncryptedUdp, error) {
	retries := e.settings.TCPUpgradeRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		tcp, err := e.attemptUpgrade(localIP)
		if err == nil {
			return tcp, EncryptedUdp{}, nil
		}
		lastErr = err
	}
	return EncryptedTcp{}, e, rerrors.Wrap(rerrors.StateChangeFailed, lastErr, "tcp upgrade exhausted retries, falling back to EncryptedUdp")
}

func (e EncryptedUdp) attemptUpgrade(localIP net.IP) (EncryptedTcp, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: localIP, Port: 0})
	if err != nil {
		return EncryptedTcp{}, rerrors.Wrap(rerrors.StateChangeFailed, err, "bind tcp upgrade listener")
	}
	localPort := ln.Addr().(*net.TCPAddr).Port

	if err := e.stream.Write(portBytes(localPort)); err != nil {
		ln.Close()
		return EncryptedTcp{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "send tcp upgrade port")
	}
	peerPortBytes, err := e.stream.Read(negotiationTimeout)
	if err != nil {
		ln.Close()
		return EncryptedTcp{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "receive peer tcp upgrade port")
	}
	if len(peerPortBytes) != 2 {
		ln.Close()
		return EncryptedTcp{}, rerrors.New(rerrors.ReadHeaderError, "peer tcp upgrade port has wrong length")
	}
	peerPort := int(binary.BigEndian.Uint16(peerPortBytes))
	peerAddr := &net.TCPAddr{IP: e.peerIP(ln), Port: peerPort}

	target, err := e.syncClocksAndPickTarget()
	if err != nil {
		ln.Close()
		return EncryptedTcp{}, err
	}

	ln.Close() // release the port so DialTCP can reuse it for the simultaneous open
	time.Sleep(time.Until(target))

	conn, err := net.DialTCP("tcp", &net.TCPAddr{IP: localIP, Port: localPort}, peerAddr)
	if err != nil {
		return EncryptedTcp{}, rerrors.Wrap(rerrors.StateChangeFailed, err, "simultaneous tcp connect")
	}

	e.stream.Rebind(cipherstream.NewFramedConn(conn))
	e.channel.Close() // the UDP ROD channel is superseded by the TCP socket
	return EncryptedTcp{conn: conn, stream: e.stream, settings: e.settings}, nil
}

// peerIP assumes the peer reachable at the same address this UDP channel
// is already talking to; ln is unused beyond keeping the signature
// symmetric with a future multi-homed extension.
func (e EncryptedUdp) peerIP(_ *net.TCPListener) net.IP {
	if udpAddr, ok := e.channel.RemoteAddr().(*net.UDPAddr); ok {
		return udpAddr.IP
	}
	return nil
}

// syncClocksAndPickTarget implements spec §4.D step 3: the Server samples
// clock skew via timesync and picks T = now + 10·D + slack, compensated by
// the median, then shares it; the Client answers probes and receives T
// translated to its own clock. When Settings.UseSNTP is set, the Server
// additionally queries an SNTP pool for its own UTC offset and, on success,
// sends T as a UTC instant instead of a Delta-compensated one — the
// Client then translates it via its own independent SNTP query rather than
// the Server's Delta. Either side's SNTP query failing (or the toggle
// being off) falls back to the sample-based Delta path unchanged; spec
// §4.A: "This is optional; absence must not be fatal."
func (e EncryptedUdp) syncClocksAndPickTarget() (time.Time, error) {
	if e.role == cipherstream.RoleServer {
		delta, d, err := timesync.SampleServer(e.stream, e.settings.ClockSamples, negotiationTimeout)
		if err != nil {
			return time.Time{}, err
		}

		target := time.Now().Add(10*d + tcpUpgradeSlack)
		localTarget := target
		carriedDelta := delta
		useUTC := false
		if e.settings.UseSNTP {
			if offset, sntpErr := timesync.SNTPOffset(e.settings.SNTPPool); sntpErr == nil {
				target = timesync.TargetUTC(offset, d, tcpUpgradeSlack)
				localTarget = timesync.UTCToLocal(target, offset)
				// target is now a UTC instant; folding this side's offset
				// into the carried Delta keeps the Client's Delta-only
				// translation pointing at the same moment.
				carriedDelta = delta + offset
				useUTC = true
			}
		}

		if err := e.stream.Write(targetBytes(target, carriedDelta, useUTC)); err != nil {
			return time.Time{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "send tcp upgrade target instant")
		}
		return localTarget, nil
	}

	if err := timesync.SampleClient(e.stream, negotiationTimeout); err != nil {
		return time.Time{}, err
	}
	raw, err := e.stream.Read(negotiationTimeout)
	if err != nil {
		return time.Time{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "receive tcp upgrade target instant")
	}
	serverTarget, delta, isUTC, err := parseTargetBytes(raw)
	if err != nil {
		return time.Time{}, err
	}

	if isUTC && e.settings.UseSNTP {
		if offset, sntpErr := timesync.SNTPOffset(e.settings.SNTPPool); sntpErr == nil {
			return timesync.UTCToLocal(serverTarget, offset), nil
		}
	}
	// delta = (clock serverTarget is expressed in) - (client clock): the
	// Server's clock on the sample path, UTC on the SNTP path (the Server
	// adds its own SNTP offset to the sampled Delta there). Translating
	// with it gives this Client's equivalent local instant on either path,
	// including when the Server's target was UTC-based but this side's own
	// SNTP query failed.
	return serverTarget.Add(-delta), nil
}

func portBytes(port int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(port))
	return b
}

// targetBytes carries the shared target instant plus a leading tag byte
// marking whether it is UTC-based (SNTP path) or Delta-compensated (sample
// path); the Delta field is always populated so the receiving side always
// has the sample-based fallback available regardless of which tag it sees.
func targetBytes(t time.Time, delta time.Duration, isUTC bool) []byte {
	b := make([]byte, 17)
	if isUTC {
		b[0] = 1
	}
	binary.BigEndian.PutUint64(b[1:9], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(b[9:], uint64(delta.Nanoseconds()))
	return b
}

func parseTargetBytes(b []byte) (t time.Time, delta time.Duration, isUTC bool, err error) {
	if len(b) != 17 {
		return time.Time{}, 0, false, rerrors.New(rerrors.ReadHeaderError, "tcp upgrade target instant has wrong length")
	}
	isUTC = b[0] != 0
	t = time.Unix(0, int64(binary.BigEndian.Uint64(b[1:9])))
	delta = time.Duration(int64(binary.BigEndian.Uint64(b[9:])))
	return t, delta, isUTC, nil
}
