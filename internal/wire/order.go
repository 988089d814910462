package wire

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// OrderFrame requests a contiguous range of 1-based chunk indices from a
// sender (spec §3). Start == End == 0 means "nothing needed".
type OrderFrame struct {
	ChunkSize uint64
	HashAlg   HashAlgorithm
	FileHash  string
	FileName  string
	Start     uint64
	End       uint64
}

// orderRegex matches "[<chunk-size>] - [<file-hash-alg>] - [<file-hash>] - [<file-name>] - [<start>] - [<end>]".
var orderRegex = regexp.MustCompile(`^\[(\d+)\]\s*-\s*\[(SIPHASH24|MD5|SHA256|SHA512)\]\s*-\s*\[([a-fA-F0-9]+)\]\s*-\s*\[(.*)\]\s*-\s*\[(\d+)\]\s*-\s*\[(\d+)\]$`)

// EncodeOrderFrame renders o as the bracketed ASCII record.
func EncodeOrderFrame(o *OrderFrame) []byte {
	s := fmt.Sprintf("[%d] - [%s] - [%s] - [%s] - [%d] - [%d]", o.ChunkSize, o.HashAlg, o.FileHash, o.FileName, o.Start, o.End)
	return []byte(s)
}

// DecodeOrderFrame parses the bracketed ASCII record back into an OrderFrame.
func DecodeOrderFrame(body []byte) (*OrderFrame, error) {
	m := orderRegex.FindSubmatch(body)
	if m == nil {
		return nil, rerrors.New(rerrors.RegexError, "malformed order frame")
	}
	chunkSize, err := strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ConversionError, err, "order chunk-size")
	}
	alg, err := ParseHashAlgorithm(string(m[2]))
	if err != nil {
		return nil, err
	}
	hash := string(m[3])
	if len(hash) != alg.HexLen() {
		return nil, rerrors.New(rerrors.ConversionError, "order file-hash length mismatch for "+string(alg))
	}
	start, err := strconv.ParseUint(string(m[5]), 10, 64)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ConversionError, err, "order start")
	}
	end, err := strconv.ParseUint(string(m[6]), 10, 64)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ConversionError, err, "order end")
	}
	if (start == 0) != (end == 0) {
		return nil, rerrors.New(rerrors.ConversionError, "order start/end must both be zero or both non-zero")
	}
	if start != 0 && start > end {
		return nil, rerrors.New(rerrors.ConversionError, "order start greater than end")
	}
	return &OrderFrame{
		ChunkSize: chunkSize,
		HashAlg:   alg,
		FileHash:  hash,
		FileName:  string(m[4]),
		Start:     start,
		End:       end,
	}, nil
}

// Empty reports whether o requests nothing ("start == end == 0").
func (o *OrderFrame) Empty() bool {
	return o.Start == 0 && o.End == 0
}
