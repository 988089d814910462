// Package chunkengine implements spec component F: splitting a source file
// into numbered, optionally hashed chunks on the sender side, and merging
// received chunks into a sparse output file with an append-only log on the
// receiver side.
package chunkengine

import (
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

// NumChunks returns ceil(size/chunkSize), the number of chunks spec §4.F
// defines a file of size bytes splits into under chunkSize.
func NumChunks(size, chunkSize uint64) uint64 {
	if size == 0 {
		return 0
	}
	if chunkSize == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// ChunkBounds returns the [start, end) byte range chunk k (1-based) occupies
// in a file of the given size and chunkSize.
func ChunkBounds(k, size, chunkSize uint64) (start, end uint64) {
	start = (k - 1) * chunkSize
	end = start + chunkSize
	if end > size {
		end = size
	}
	return start, end
}

// Splitter reads numbered chunks out of an open source file.
type Splitter struct {
	file        *os.File
	size        uint64
	chunkSize   uint64
	chunkHash   *wire.HashAlgorithm // nil disables per-chunk hashing
	compression bool
}

// NewSplitter opens path and prepares to emit chunks of chunkSize bytes.
// chunkHash, if non-nil, is computed over every chunk's (possibly
// compressed) payload.
func NewSplitter(path string, chunkSize uint64, chunkHash *wire.HashAlgorithm, compression bool) (*Splitter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.InputOutputError, err, "open source file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, rerrors.Wrap(rerrors.InputOutputError, err, "stat source file")
	}
	return &Splitter{file: f, size: uint64(info.Size()), chunkSize: chunkSize, chunkHash: chunkHash, compression: compression}, nil
}

// Close releases the underlying file handle.
func (s *Splitter) Close() error {
	return s.file.Close()
}

// Size is the source file's byte length.
func (s *Splitter) Size() uint64 { return s.size }

// NumChunks is the number of chunks this splitter will emit.
func (s *Splitter) NumChunks() uint64 { return NumChunks(s.size, s.chunkSize) }

// ReadChunk seeks to chunk k (1-based) and returns its data frame, with
// ChunkMax/ChunkIndex/ChunkHash populated; FileHash and UserHash are left
// for the caller to fill in (they don't vary per chunk).
func (s *Splitter) ReadChunk(k uint64) (*wire.DataFrame, error) {
	max := s.NumChunks()
	if k < 1 || k > max {
		return nil, errors.Errorf("chunk index %d out of range [1,%d]", k, max)
	}
	start, end := ChunkBounds(k, s.size, s.chunkSize)
	buf := make([]byte, end-start)
	if _, err := s.file.Seek(int64(start), 0); err != nil {
		return nil, rerrors.Wrap(rerrors.InputOutputError, err, "seek source file")
	}
	if _, err := io.ReadFull(s.file, buf); err != nil {
		return nil, rerrors.Wrap(rerrors.InputOutputError, err, "read chunk")
	}

	payload := buf
	if s.compression {
		payload = snappy.Encode(nil, buf)
	}

	df := &wire.DataFrame{
		ChunkMax:   max,
		ChunkIndex: k,
		Payload:    payload,
	}
	if s.chunkHash != nil {
		h, err := wire.SumBytes(*s.chunkHash, payload)
		if err != nil {
			return nil, err
		}
		df.ChunkHash = h
	}
	return df, nil
}

