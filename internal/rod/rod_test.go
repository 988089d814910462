package rod

import (
	"net"
	"testing"
	"time"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := packet{typ: TypeData, seq: 42, payload: []byte("hello")}
	enc := encodePacket(p)
	dec, ok := decodePacket(enc)
	if !ok {
		t.Fatal("decode failed")
	}
	if dec.typ != p.typ || dec.seq != p.seq || string(dec.payload) != string(p.payload) {
		t.Fatalf("round trip mismatch: %+v vs %+v", dec, p)
	}
}

func TestSeqWraparound(t *testing.T) {
	if !seqLess(^uint32(0), 0) {
		t.Fatal("expected seq 2^32-1 to be less than 0 after wraparound")
	}
	if !seqLessEq(^uint32(0), ^uint32(0)) {
		t.Fatal("seqLessEq should hold for equal values")
	}
}

func udpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	ca, err := net.DialUDP("udp", nil, b.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	cb, err := net.DialUDP("udp", nil, a.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
	b.Close()
	return ca, cb
}

func fastConfig() Config {
	return Config{
		Window:            64,
		KeepAliveInterval: 20 * time.Millisecond,
		DisconnectTimeout: 2 * time.Second,
		SendInterval:      30 * time.Millisecond,
		ReceiveTick:       2 * time.Millisecond,
	}
}

func TestChannelWriteReadInOrder(t *testing.T) {
	connA, connB := udpPair(t)
	a := NewChannel(connA, fastConfig())
	b := NewChannel(connB, fastConfig())
	defer a.Close()
	defer b.Close()

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range msgs {
		if err := a.WriteTimeout(m, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range msgs {
		got, err := b.Read(2 * time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(want) {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

// lossyConn drops every Nth write to simulate a flaky link; retransmission
// inside the engine should still deliver every message in order.
type lossyConn struct {
	net.Conn
	n     int
	count int
}

func (l *lossyConn) Write(b []byte) (int, error) {
	l.count++
	if l.count%l.n == 0 {
		return len(b), nil // silently dropped, as if lost on the wire
	}
	return l.Conn.Write(b)
}

func TestChannelRetransmitsOnLoss(t *testing.T) {
	connA, connB := udpPair(t)
	lossyA := &lossyConn{Conn: connA, n: 3}
	a := NewChannel(lossyA, fastConfig())
	b := NewChannel(connB, fastConfig())
	defer a.Close()
	defer b.Close()

	const count = 10
	for i := 0; i < count; i++ {
		if err := a.WriteTimeout([]byte{byte(i)}, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < count; i++ {
		got, err := b.Read(3 * time.Second)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if got[0] != byte(i) {
			t.Fatalf("message %d out of order: got %d", i, got[0])
		}
	}
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	connA, connB := udpPair(t)
	a := NewChannel(connA, fastConfig())
	b := NewChannel(connB, fastConfig())
	defer a.Close()
	defer b.Close()

	big := make([]byte, MaxPayload+1)
	if err := a.Write(big); err == nil {
		t.Fatal("expected IllegalByteStream for oversized message")
	}
}

func TestDisconnectDetection(t *testing.T) {
	connA, connB := udpPair(t)
	cfg := fastConfig()
	cfg.DisconnectTimeout = 80 * time.Millisecond
	cfg.KeepAliveInterval = 500 * time.Millisecond // suppress A's keepalives so B stops hearing traffic
	a := NewChannel(connA, cfg)
	b := NewChannel(connB, cfg)
	defer a.Close()

	time.Sleep(300 * time.Millisecond)
	if _, err := b.Read(500 * time.Millisecond); err == nil {
		t.Fatal("expected disconnect error after liveness timeout")
	}
}
