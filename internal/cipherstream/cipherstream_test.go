package cipherstream

import (
	"bytes"
	"testing"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// pipeTransport is an in-memory MessageTransport backed by a pair of
// buffered channels, used so Stream/role/key-exchange tests don't need a
// real rod.Channel or network socket.
type pipeTransport struct {
	out chan<- []byte
	in  <-chan []byte
}

func newPipePair() (*pipeTransport, *pipeTransport) {
	ab := make(chan []byte, 32)
	ba := make(chan []byte, 32)
	a := &pipeTransport{out: ab, in: ba}
	b := &pipeTransport{out: ba, in: ab}
	return a, b
}

func (p *pipeTransport) Write(msg []byte) error {
	cp := append([]byte(nil), msg...)
	p.out <- cp
	return nil
}

func (p *pipeTransport) Read(timeout time.Duration) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-time.After(timeout):
		return nil, rerrors.New(rerrors.TimedOut, "pipeTransport read timed out")
	}
}

func (p *pipeTransport) TryRead() ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
		return nil, rerrors.New(rerrors.TimedOut, "pipeTransport has no pending message")
	}
}

func TestKeyExchangeProducesMatchingSessionKeys(t *testing.T) {
	serverKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	clientKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	serverKeys, err := DeriveSessionKeys(serverKP, clientKP.Public, RoleServer)
	if err != nil {
		t.Fatal(err)
	}
	clientKeys, err := DeriveSessionKeys(clientKP, serverKP.Public, RoleClient)
	if err != nil {
		t.Fatal(err)
	}

	if serverKeys.TxKey != clientKeys.RxKey {
		t.Fatal("server tx must equal client rx")
	}
	if serverKeys.RxKey != clientKeys.TxKey {
		t.Fatal("server rx must equal client tx")
	}
}

func TestDeriveSessionKeysRejectsUndefinedRole(t *testing.T) {
	kp, _ := GenerateKeyPair()
	if _, err := DeriveSessionKeys(kp, kp.Public, RoleUndefined); !rerrors.Is(err, rerrors.UndefinedRole) {
		t.Fatalf("expected UndefinedRole, got %v", err)
	}
}

func TestNegotiateRoleAssignsComplementaryRoles(t *testing.T) {
	a, b := newPipePair()
	type result struct {
		role Role
		err  error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)
	go func() {
		r, err := NegotiateRole(a, time.Second)
		resA <- result{r, err}
	}()
	go func() {
		r, err := NegotiateRole(b, time.Second)
		resB <- result{r, err}
	}()
	ra := <-resA
	rb := <-resB
	if ra.err != nil || rb.err != nil {
		t.Fatalf("negotiation errors: %v %v", ra.err, rb.err)
	}
	if ra.role == rb.role {
		t.Fatalf("expected complementary roles, got %v and %v", ra.role, rb.role)
	}
	if ra.role != RoleServer && ra.role != RoleClient {
		t.Fatalf("unexpected role %v", ra.role)
	}
}

func buildStreamPair(t *testing.T) (*Stream, *Stream) {
	t.Helper()
	serverKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	clientKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	serverKeys, err := DeriveSessionKeys(serverKP, clientKP.Public, RoleServer)
	if err != nil {
		t.Fatal(err)
	}
	clientKeys, err := DeriveSessionKeys(clientKP, serverKP.Public, RoleClient)
	if err != nil {
		t.Fatal(err)
	}

	serverHeader, err := NewStreamHeader()
	if err != nil {
		t.Fatal(err)
	}
	clientHeader, err := NewStreamHeader()
	if err != nil {
		t.Fatal(err)
	}

	serverTx, err := NewAEAD("chacha20poly1305", serverKeys.TxKey, serverHeader.Salt)
	if err != nil {
		t.Fatal(err)
	}
	serverRx, err := NewAEAD("chacha20poly1305", serverKeys.RxKey, clientHeader.Salt)
	if err != nil {
		t.Fatal(err)
	}
	clientTx, err := NewAEAD("chacha20poly1305", clientKeys.TxKey, clientHeader.Salt)
	if err != nil {
		t.Fatal(err)
	}
	clientRx, err := NewAEAD("chacha20poly1305", clientKeys.RxKey, serverHeader.Salt)
	if err != nil {
		t.Fatal(err)
	}

	a, b := newPipePair()
	server := NewStream(a, serverTx, serverRx)
	client := NewStream(b, clientTx, clientRx)
	return server, client
}

func TestStreamWriteReadRoundTrip(t *testing.T) {
	server, client := buildStreamPair(t)

	msgs := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte{0x42}, BlockSize),
		bytes.Repeat([]byte{0x07}, BlockSize*3+17),
		{},
	}
	for _, msg := range msgs {
		if err := server.Write(msg); err != nil {
			t.Fatal(err)
		}
		got, err := client.Read(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(msg))
		}
	}
}

func TestStreamDetectsTamperedBlock(t *testing.T) {
	link := make(chan []byte, 4)
	a := &pipeTransport{out: link, in: make(chan []byte)}
	b := &pipeTransport{out: make(chan []byte), in: link}

	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{1}, 32))
	var salt [12]byte
	copy(salt[:], bytes.Repeat([]byte{2}, 12))
	tx, err := NewAEAD("chacha20poly1305", key, salt)
	if err != nil {
		t.Fatal(err)
	}
	rx, err := NewAEAD("chacha20poly1305", key, salt)
	if err != nil {
		t.Fatal(err)
	}

	server := NewStream(a, tx, rx)
	client := NewStream(b, rx, tx)

	if err := server.Write([]byte("integrity matters")); err != nil {
		t.Fatal(err)
	}
	raw := <-link
	raw[len(raw)-1] ^= 0xFF
	link <- raw

	if _, err := client.Read(time.Second); err == nil {
		t.Fatal("expected tampered block to fail authentication")
	}
}

func TestAEADRejectsWrongKey(t *testing.T) {
	var key1, key2 [32]byte
	copy(key1[:], bytes.Repeat([]byte{1}, 32))
	copy(key2[:], bytes.Repeat([]byte{3}, 32))
	var salt [12]byte
	copy(salt[:], bytes.Repeat([]byte{2}, 12))

	aeadA, err := NewAEAD("chacha20poly1305", key1, salt)
	if err != nil {
		t.Fatal(err)
	}
	aeadB, err := NewAEAD("chacha20poly1305", key2, salt)
	if err != nil {
		t.Fatal(err)
	}

	ct := aeadA.seal(0, tagPush, []byte("secret"))
	if _, err := aeadB.open(0, tagPush, ct); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestAEADRejectsTamperedTag(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{9}, 32))
	var salt [12]byte
	copy(salt[:], bytes.Repeat([]byte{5}, 12))

	aead, err := NewAEAD("chacha20poly1305", key, salt)
	if err != nil {
		t.Fatal(err)
	}
	ct := aead.seal(0, tagMessage, []byte("payload"))
	if _, err := aead.open(0, tagPush, ct); err == nil {
		t.Fatal("expected associated-data mismatch (tag swap) to fail authentication")
	}
}

func TestConnReadWriteRoundTrip(t *testing.T) {
	server, client := buildStreamPair(t)
	serverConn := NewConn(server, nil)
	clientConn := NewConn(client, nil)

	payload := bytes.Repeat([]byte("x"), BlockSize*2+5)
	if _, err := serverConn.Write(payload); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	read := 0
	for read < len(payload) {
		n, err := clientConn.Read(buf[read:])
		if err != nil {
			t.Fatal(err)
		}
		read += n
	}
	if !bytes.Equal(buf, payload) {
		t.Fatal("Conn round trip mismatch")
	}
}
