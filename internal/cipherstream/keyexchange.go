package cipherstream

import (
	"crypto/rand"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// Role is assigned once by negotiation and immutable thereafter (spec §3).
type Role int

const (
	RoleUndefined Role = iota
	RoleServer
	RoleClient
)

// MessageTransport is the minimal shape cipherstream needs from whatever
// carries its blocks — satisfied by *rod.Channel during PlainUdp/
// EncryptedUdp and, after the TCP upgrade, by a FramedConn wrapping the
// new TCP conn directly.
type MessageTransport interface {
	Write(msg []byte) error
	Read(timeout time.Duration) ([]byte, error)
	TryRead() ([]byte, error)
}

// KeyPair is one side's X25519 key pair for the role-negotiated key
// exchange spec §4.C describes ("Each side generates a key pair; public
// halves are exchanged in the clear over the PlainUdp channel").
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, rerrors.Wrap(rerrors.EncryptionFailed, err, "generate private key")
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, rerrors.Wrap(rerrors.EncryptionFailed, err, "derive public key")
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SessionKeys is the (rx, tx) pair each side derives such that
// Server.tx == Client.rx and Client.tx == Server.rx (spec §3 invariant).
type SessionKeys struct {
	RxKey [32]byte
	TxKey [32]byte
}

// DeriveSessionKeys computes the shared X25519 secret between local and
// peer, then HKDF-SHA256-expands it into a (rx,tx) pair labeled by
// direction so both sides agree on which physical key is whose tx/rx.
func DeriveSessionKeys(local KeyPair, peerPublic [32]byte, role Role) (SessionKeys, error) {
	if role == RoleUndefined {
		return SessionKeys{}, rerrors.New(rerrors.UndefinedRole, "role must be negotiated before key derivation")
	}
	shared, err := curve25519.X25519(local.Private[:], peerPublic[:])
	if err != nil {
		return SessionKeys{}, rerrors.Wrap(rerrors.EncryptionFailed, err, "compute shared secret")
	}

	serverToClient, err := expand(shared, "rdrop server->client")
	if err != nil {
		return SessionKeys{}, err
	}
	clientToServer, err := expand(shared, "rdrop client->server")
	if err != nil {
		return SessionKeys{}, err
	}

	if role == RoleServer {
		return SessionKeys{RxKey: clientToServer, TxKey: serverToClient}, nil
	}
	return SessionKeys{RxKey: serverToClient, TxKey: clientToServer}, nil
}

func expand(secret []byte, label string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err := readFull(r, out[:]); err != nil {
		return out, rerrors.Wrap(rerrors.EncryptionFailed, err, "hkdf expand "+label)
	}
	return out, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
