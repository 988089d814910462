package session

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

// fakeMux is an in-process Mux: Open() on one side hands the other end of a
// net.Pipe to the peer's Accept() queue, so a connected pair behaves like a
// real smux session without any network I/O.
type fakeMux struct {
	accept chan io.ReadWriteCloser
	peer   *fakeMux
	closed bool
}

func newFakeMuxPair() (*fakeMux, *fakeMux) {
	a := &fakeMux{accept: make(chan io.ReadWriteCloser, 16)}
	b := &fakeMux{accept: make(chan io.ReadWriteCloser, 16)}
	a.peer, b.peer = b, a
	return a, b
}

func (m *fakeMux) Open() (io.ReadWriteCloser, error) {
	c1, c2 := net.Pipe()
	m.peer.accept <- c2
	return c1, nil
}

func (m *fakeMux) Accept() (io.ReadWriteCloser, error) {
	c, ok := <-m.accept
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (m *fakeMux) IsClosed() bool       { return m.closed }
func (m *fakeMux) NumStreams() int      { return 0 }
func (m *fakeMux) RemoteAddr() net.Addr { return &net.TCPAddr{} }
func (m *fakeMux) Close() error {
	if !m.closed {
		m.closed = true
		close(m.accept)
	}
	return nil
}

func testSettings(chunkSize int) *settings.Settings {
	s := settings.Default()
	s.ChunkSize = chunkSize
	s.SendInterval = time.Millisecond
	return s
}

func waitForState(t *testing.T, events <-chan Event, hash string, want FileState, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventFileState && ev.FileHash == hash && ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v on hash %s", want, hash)
		}
	}
}

func waitForAnyState(t *testing.T, events <-chan Event, want FileState, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventFileState && ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestControllerOfferAcceptTransfersFile(t *testing.T) {
	clientMux, serverMux := newFakeMuxPair()
	s := testSettings(8)

	client, err := New(clientMux, RoleClient, s, nil)
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	defer client.Close()

	server, err := New(serverMux, RoleServer, s, nil)
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	defer server.Close()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "greeting.txt")
	content := []byte("hello from the chunk engine, across many tiny chunks")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	if err := client.Offer(srcPath); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	pendingEv := waitForAnyState(t, server.Events(), FilePending, time.Second)
	hash := pendingEv.FileHash
	if hash == "" {
		t.Fatalf("expected a non-empty file hash on the pending event")
	}

	outDir := t.TempDir()
	if err := server.Accept(hash, outDir); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	waitForState(t, server.Events(), hash, FileCompleted, 2*time.Second)
	waitForState(t, client.Events(), hash, FileCompleted, 2*time.Second)

	targetPath := filepath.Join(outDir, hash, "greeting.txt")
	got, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("read merged file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("merged content mismatch: got %q want %q", got, content)
	}
}

func TestControllerDenyWithdrawsOffer(t *testing.T) {
	clientMux, serverMux := newFakeMuxPair()
	s := testSettings(8)

	client, err := New(clientMux, RoleClient, s, nil)
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	defer client.Close()

	server, err := New(serverMux, RoleServer, s, nil)
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	defer server.Close()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "note.txt")
	if err := os.WriteFile(srcPath, []byte("short"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	if err := client.Offer(srcPath); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	pendingEv := waitForAnyState(t, server.Events(), FilePending, time.Second)

	if err := server.Deny(pendingEv.FileHash); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	waitForState(t, client.Events(), pendingEv.FileHash, FileStopped, time.Second)
}

func TestControllerAcceptZeroByteFileCompletesImmediately(t *testing.T) {
	clientMux, serverMux := newFakeMuxPair()
	s := testSettings(8)

	client, err := New(clientMux, RoleClient, s, nil)
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	defer client.Close()

	server, err := New(serverMux, RoleServer, s, nil)
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	defer server.Close()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "empty.txt")
	if err := os.WriteFile(srcPath, nil, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	if err := client.Offer(srcPath); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	pendingEv := waitForAnyState(t, server.Events(), FilePending, time.Second)
	hash := pendingEv.FileHash

	outDir := t.TempDir()
	if err := server.Accept(hash, outDir); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Both sides must see FileCompleted, not FileStopped: accepting a
	// zero-byte offer sends the same start=end=0 Order a Deny would, and
	// only the offer's locally-known Size distinguishes the two.
	waitForState(t, server.Events(), hash, FileCompleted, time.Second)
	waitForState(t, client.Events(), hash, FileCompleted, time.Second)

	targetPath := filepath.Join(outDir, hash, "empty.txt")
	info, err := os.Stat(targetPath)
	if err != nil {
		t.Fatalf("stat merged file: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty merged file, got size %d", info.Size())
	}
}
