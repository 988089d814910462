package chunkengine

import (
	"os"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

// HashFile computes the whole-file hash an Offer frame advertises (spec
// §4.E's file-hash-hex field), read once up front at offer time rather
// than incrementally — offers are created far less often than chunks are
// sent, so this is not on the hot path chunkengine.Splitter owns.
func HashFile(path string, alg wire.HashAlgorithm) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", rerrors.Wrap(rerrors.InputOutputError, err, "read file for hashing")
	}
	return wire.Sum(alg, data)
}
