package wire

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// OfferFrame is the advertisement a sender emits before transfer (spec §3).
type OfferFrame struct {
	FileName string
	Size     uint64
	HashAlg  HashAlgorithm
	FileHash string
}

// offerRegex matches "[<name>] - [<size-bytes>] - [<file-hash-alg>] - [<file-hash-hex>]".
var offerRegex = regexp.MustCompile(`^\[(.*)\]\s*-\s*\[(\d+)\]\s*-\s*\[(SIPHASH24|MD5|SHA256|SHA512)\]\s*-\s*\[([a-fA-F0-9]+)\]$`)

// EncodeOfferFrame renders o as the bracketed ASCII record spec §4.E
// defines, not including the leading tag byte.
func EncodeOfferFrame(o *OfferFrame) []byte {
	s := fmt.Sprintf("[%s] - [%d] - [%s] - [%s]", o.FileName, o.Size, o.HashAlg, o.FileHash)
	return []byte(s)
}

// DecodeOfferFrame parses the bracketed ASCII record back into an OfferFrame.
func DecodeOfferFrame(body []byte) (*OfferFrame, error) {
	m := offerRegex.FindSubmatch(body)
	if m == nil {
		return nil, rerrors.New(rerrors.RegexError, "malformed offer frame")
	}
	size, err := strconv.ParseUint(string(m[2]), 10, 64)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ConversionError, err, "offer size")
	}
	alg, err := ParseHashAlgorithm(string(m[3]))
	if err != nil {
		return nil, err
	}
	hash := string(m[4])
	if len(hash) != alg.HexLen() {
		return nil, rerrors.New(rerrors.ConversionError, "offer file-hash length mismatch for "+string(alg))
	}
	return &OfferFrame{
		FileName: string(m[1]),
		Size:     size,
		HashAlg:  alg,
		FileHash: hash,
	}, nil
}
