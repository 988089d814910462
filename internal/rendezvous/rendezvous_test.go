package rendezvous

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

func fastSettings() *settings.Settings {
	return &settings.Settings{
		WindowSize:        64,
		KeepAliveInterval: 20 * time.Millisecond,
		DisconnectTimeout: 2 * time.Second,
		SendInterval:      30 * time.Millisecond,
		ReceiveTick:       2 * time.Millisecond,
		Cipher:            "chacha20poly1305",
		ClockSamples:      5,
		TCPUpgradeRetries: 3,
	}
}

func TestIsLocalDetectsLoopbackSamePort(t *testing.T) {
	if !isLocal(Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, 9000) {
		t.Fatal("expected loopback same-port endpoint to be local")
	}
	if isLocal(Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: 9001}, 9000) {
		t.Fatal("different port must not be considered local")
	}
}

func TestWaitingConnectRefusesSelf(t *testing.T) {
	w, err := NewWaiting(fastSettings(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	_, carried, err := w.Connect(Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: w.Port()})
	if !rerrors.Is(err, rerrors.CannotConnectToSelf) {
		t.Fatalf("expected CannotConnectToSelf, got %v", err)
	}
	if carried.Port() != w.Port() {
		t.Fatal("expected the original Waiting state to be carried back unchanged")
	}
}

func connectPair(t *testing.T) (PlainUdp, PlainUdp) {
	t.Helper()
	s := fastSettings()
	wa, err := NewWaiting(s, 0)
	if err != nil {
		t.Fatal(err)
	}
	wb, err := NewWaiting(s, 0)
	if err != nil {
		t.Fatal(err)
	}

	type connResult struct {
		p   PlainUdp
		err error
	}
	resA := make(chan connResult, 1)
	resB := make(chan connResult, 1)

	go func() {
		p, _, err := wa.Connect(Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: wb.Port()})
		resA <- connResult{p, err}
	}()
	go func() {
		p, _, err := wb.Connect(Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: wa.Port()})
		resB <- connResult{p, err}
	}()

	ra := <-resA
	rb := <-resB
	if ra.err != nil {
		t.Fatalf("side A connect failed: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("side B connect failed: %v", rb.err)
	}
	return ra.p, rb.p
}

func TestPlainUdpHandshake(t *testing.T) {
	a, b := connectPair(t)
	defer a.Close()
	defer b.Close()

	if err := a.Channel().WriteTimeout([]byte("ping"), time.Second); err != nil {
		t.Fatal(err)
	}
	got, err := b.Channel().Read(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want ping", got)
	}
}

func TestNegotiateProducesWorkingEncryptedStream(t *testing.T) {
	a, b := connectPair(t)

	type negResult struct {
		e   EncryptedUdp
		err error
	}
	resA := make(chan negResult, 1)
	resB := make(chan negResult, 1)
	go func() {
		e, err := a.Negotiate()
		resA <- negResult{e, err}
	}()
	go func() {
		e, err := b.Negotiate()
		resB <- negResult{e, err}
	}()
	ra := <-resA
	rb := <-resB
	if ra.err != nil {
		t.Fatalf("side A negotiate failed: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("side B negotiate failed: %v", rb.err)
	}
	defer ra.e.Close()
	defer rb.e.Close()

	if ra.e.Role() == rb.e.Role() {
		t.Fatal("expected complementary roles")
	}

	payload := []byte("secret message over encrypted udp")
	if err := ra.e.Stream().Write(payload); err != nil {
		t.Fatal(err)
	}
	got, err := rb.e.Stream().Read(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

// TestUpgradeToTCPEitherSucceedsOrFallsBack exercises both terminal
// branches of spec §4.D step 6: on loopback the simultaneous connect
// usually succeeds, but the state machine must also leave a usable
// EncryptedUdp behind if every retry is exhausted.
func TestUpgradeToTCPEitherSucceedsOrFallsBack(t *testing.T) {
	a, b := connectPair(t)

	type negResult struct {
		e   EncryptedUdp
		err error
	}
	resA := make(chan negResult, 1)
	resB := make(chan negResult, 1)
	go func() {
		e, err := a.Negotiate()
		resA <- negResult{e, err}
	}()
	go func() {
		e, err := b.Negotiate()
		resB <- negResult{e, err}
	}()
	ra := <-resA
	rb := <-resB
	if ra.err != nil || rb.err != nil {
		t.Fatalf("negotiate failed: %v %v", ra.err, rb.err)
	}

	type upgradeResult struct {
		tcp EncryptedTcp
		udp EncryptedUdp
		err error
	}
	upA := make(chan upgradeResult, 1)
	upB := make(chan upgradeResult, 1)
	go func() {
		tcp, udp, err := ra.e.UpgradeToTCP(net.IPv4(127, 0, 0, 1))
		upA <- upgradeResult{tcp, udp, err}
	}()
	go func() {
		tcp, udp, err := rb.e.UpgradeToTCP(net.IPv4(127, 0, 0, 1))
		upB <- upgradeResult{tcp, udp, err}
	}()
	resultA := <-upA
	resultB := <-upB

	bothUpgraded := resultA.err == nil && resultB.err == nil
	bothFellBack := resultA.err != nil && resultB.err != nil
	if !bothUpgraded && !bothFellBack {
		t.Fatalf("expected both sides to agree on upgrade outcome, got errA=%v errB=%v", resultA.err, resultB.err)
	}

	if bothUpgraded {
		defer resultA.tcp.Close()
		defer resultB.tcp.Close()
		payload := []byte("over tcp now")
		if err := resultA.tcp.Stream().Write(payload); err != nil {
			t.Fatal(err)
		}
		got, err := resultB.tcp.Stream().Read(2 * time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("tcp round trip mismatch: got %q", got)
		}
		return
	}

	defer resultA.udp.Close()
	defer resultB.udp.Close()
	payload := []byte("still on udp")
	if err := resultA.udp.Stream().Write(payload); err != nil {
		t.Fatal(err)
	}
	got, err := resultB.udp.Stream().Read(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("fallback udp round trip mismatch: got %q", got)
	}
}
