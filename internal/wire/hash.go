package wire

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// HashAlgorithm identifies one of the four hash families spec §4.E allows
// for both file hashes and chunk hashes.
type HashAlgorithm string

const (
	SIPHASH24 HashAlgorithm = "SIPHASH24"
	MD5       HashAlgorithm = "MD5"
	SHA256    HashAlgorithm = "SHA256"
	SHA512    HashAlgorithm = "SHA512"
)

// siphashKey is fixed so peers that never exchanged a siphash key still
// agree on file/chunk identity; SIPHASH24 here is a fast integrity check,
// not a keyed MAC, matching spec's "non-cryptographic" framing.
var siphashKey = [16]byte{0x72, 0x64, 0x72, 0x6f, 0x70, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// HexLen returns the hex string length this algorithm's digest produces,
// used to validate wire-decoded hash strings (spec: {16, 32, 64, 128}).
func (h HashAlgorithm) HexLen() int {
	switch h {
	case SIPHASH24:
		return 16
	case MD5:
		return 32
	case SHA256:
		return 64
	case SHA512:
		return 128
	default:
		return 0
	}
}

// ByteLen returns the raw digest length in bytes (spec's 8/16/32/64 used
// by the data-frame header's file-hash and chunk-hash fields).
func (h HashAlgorithm) ByteLen() int {
	return h.HexLen() / 2
}

// ParseHashAlgorithm validates a textual algorithm name from the wire.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch strings.ToUpper(s) {
	case string(SIPHASH24):
		return SIPHASH24, nil
	case string(MD5):
		return MD5, nil
	case string(SHA256):
		return SHA256, nil
	case string(SHA512):
		return SHA512, nil
	default:
		return "", rerrors.New(rerrors.ConversionError, "unknown hash algorithm "+s)
	}
}

// Sum computes the hex digest of data under algorithm h.
func Sum(h HashAlgorithm, data []byte) (string, error) {
	switch h {
	case SIPHASH24:
		sum := siphash.Hash(binary.LittleEndian.Uint64(siphashKey[:8]), binary.LittleEndian.Uint64(siphashKey[8:]), data)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], sum)
		return hex.EncodeToString(b[:]), nil
	case MD5:
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:]), nil
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case SHA512:
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", errors.Errorf("unknown hash algorithm %q", h)
	}
}

// SumBytes is Sum but returns the raw digest instead of its hex form, for
// embedding directly into a data-frame header.
func SumBytes(h HashAlgorithm, data []byte) ([]byte, error) {
	s, err := Sum(h, data)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(s)
}
