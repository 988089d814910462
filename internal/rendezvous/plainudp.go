package rendezvous

import (
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/cipherstream"
	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/rod"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

const negotiationTimeout = 10 * time.Second

// PlainUdp is the state after a successful ping-and-wait handshake: a
// reliable but unencrypted ROD channel over UDP (spec §4.D).
type PlainUdp struct {
	channel  *rod.Channel
	settings *settings.Settings
}

// Channel exposes the underlying ROD channel, e.g. for Stats during tests.
func (p PlainUdp) Channel() *rod.Channel { return p.channel }

// Close tears down the ROD channel without encrypting it.
func (p PlainUdp) Close() error { return p.channel.Close() }

// Negotiate performs PlainUdp → EncryptedUdp: role negotiation, X25519 key
// exchange, and stream-header exchange, then wraps the plain channel in
// the resulting symmetric cipherstream (spec §4.D: "The plain
// reader/writer are consumed and replaced by encrypted wrappers").
func (p PlainUdp) Negotiate() (EncryptedUdp, error) {
	role, err := cipherstream.NegotiateRole(p.channel, negotiationTimeout)
	if err != nil {
		return EncryptedUdp{}, err
	}

	local, err := cipherstream.GenerateKeyPair()
	if err != nil {
		return EncryptedUdp{}, err
	}
	if err := p.channel.Write(local.Public[:]); err != nil {
		return EncryptedUdp{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "send public key")
	}
	peerPubBytes, err := p.channel.Read(negotiationTimeout)
	if err != nil {
		return EncryptedUdp{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "receive peer public key")
	}
	if len(peerPubBytes) != 32 {
		return EncryptedUdp{}, rerrors.New(rerrors.ReadHeaderError, "peer public key has wrong length")
	}
	var peerPub [32]byte
	copy(peerPub[:], peerPubBytes)

	keys, err := cipherstream.DeriveSessionKeys(local, peerPub, role)
	if err != nil {
		return EncryptedUdp{}, err
	}

	header, err := cipherstream.NewStreamHeader()
	if err != nil {
		return EncryptedUdp{}, err
	}
	if err := p.channel.Write(header.Salt[:]); err != nil {
		return EncryptedUdp{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "send stream header")
	}
	peerSaltBytes, err := p.channel.Read(negotiationTimeout)
	if err != nil {
		return EncryptedUdp{}, rerrors.Wrap(rerrors.CommunicationFailed, err, "receive peer stream header")
	}
	if len(peerSaltBytes) != 12 {
		return EncryptedUdp{}, rerrors.New(rerrors.ReadHeaderError, "peer stream header has wrong length")
	}
	var peerSalt [12]byte
	copy(peerSalt[:], peerSaltBytes)

	tx, err := cipherstream.NewAEAD(p.settings.Cipher, keys.TxKey, header.Salt)
	if err != nil {
		return EncryptedUdp{}, err
	}
	rx, err := cipherstream.NewAEAD(p.settings.Cipher, keys.RxKey, peerSalt)
	if err != nil {
		return EncryptedUdp{}, err
	}

	stream := cipherstream.NewStream(p.channel, tx, rx)
	return EncryptedUdp{channel: p.channel, stream: stream, role: role, settings: p.settings}, nil
}
