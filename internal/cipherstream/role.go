package cipherstream

import (
	"bytes"
	"crypto/rand"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// NegotiateRole implements spec §4.C's role negotiation: each side writes
// two random bytes and reads two bytes back; on inequality the
// lexicographically-greater side becomes Server, the other Client; on
// equality both sides repeat. Roles are stable for the rest of the session.
func NegotiateRole(t MessageTransport, readTimeout time.Duration) (Role, error) {
	for {
		mine := make([]byte, 2)
		if _, err := rand.Read(mine); err != nil {
			return RoleUndefined, rerrors.Wrap(rerrors.EncryptionFailed, err, "generate role-negotiation bytes")
		}
		if err := t.Write(mine); err != nil {
			return RoleUndefined, rerrors.Wrap(rerrors.CommunicationFailed, err, "send role-negotiation bytes")
		}
		theirs, err := t.Read(readTimeout)
		if err != nil {
			return RoleUndefined, rerrors.Wrap(rerrors.CommunicationFailed, err, "receive role-negotiation bytes")
		}
		if len(theirs) != 2 {
			return RoleUndefined, rerrors.New(rerrors.ConversionError, "role-negotiation message has wrong length")
		}
		switch bytes.Compare(mine, theirs) {
		case 1:
			return RoleServer, nil
		case -1:
			return RoleClient, nil
		default:
			continue // equal — repeat
		}
	}
}
