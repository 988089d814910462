package chunkengine

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

func TestNumChunksBoundaries(t *testing.T) {
	cases := []struct{ size, chunkSize, want uint64 }{
		{0, 1024, 0},
		{1024, 1024, 1},
		{2048, 1024, 2},
		{1025, 1024, 2},
		{1, 1024, 1},
	}
	for _, c := range cases {
		if got := NumChunks(c.size, c.chunkSize); got != c.want {
			t.Errorf("NumChunks(%d,%d) = %d, want %d", c.size, c.chunkSize, got, c.want)
		}
	}
}

func TestSplitMergeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	content := bytes.Repeat([]byte{0xAB, 0xCD}, 1500) // 3000 bytes
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	chunkSize := uint64(1024)
	chunkHash := wire.SIPHASH24
	splitter, err := NewSplitter(srcPath, chunkSize, &chunkHash, false)
	if err != nil {
		t.Fatal(err)
	}
	defer splitter.Close()

	fileHash, err := wire.Sum(wire.SIPHASH24, content)
	if err != nil {
		t.Fatal(err)
	}

	outDir := filepath.Join(dir, "out")
	merger := NewMerger(outDir, "source.bin", fileHash, wire.SIPHASH24, [8]byte{}, false)

	n := splitter.NumChunks()
	if n != 3 {
		t.Fatalf("expected 3 chunks for 3000 bytes / 1024, got %d", n)
	}
	for k := uint64(1); k <= n; k++ {
		df, err := splitter.ReadChunk(k)
		if err != nil {
			t.Fatal(err)
		}
		df.FileHash, _ = hexDecodeHelper(fileHash)
		if err := merger.Write(df, chunkSize); err != nil {
			t.Fatalf("write chunk %d: %v", k, err)
		}
	}

	got, err := os.ReadFile(merger.TargetPath())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("merged file does not match source")
	}

	first, last, err := Validate(merger.LogPath(), n)
	if err != nil {
		t.Fatal(err)
	}
	if first != 0 || last != 0 {
		t.Fatalf("expected complete validation, got (%d,%d)", first, last)
	}
}

func TestMergeIdempotentForEqualPayloads(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	merger := NewMerger(outDir, "f.bin", "0123456789abcdef", wire.SIPHASH24, [8]byte{}, false)

	df := &wire.DataFrame{
		FileHash:   mustHex("0123456789abcdef"),
		ChunkMax:   1,
		ChunkIndex: 1,
		Payload:    []byte{1, 2, 3, 4},
	}
	if err := merger.Write(df, 1024); err != nil {
		t.Fatal(err)
	}
	if err := merger.Write(df, 1024); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(merger.TargetPath())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected idempotent merge, got %v", got)
	}
}

func TestValidateReportsMissingRange(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "f.rdroplog")
	for _, idx := range []uint64{1, 3, 5} {
		entry := LogEntry{FileHashAlg: wire.SIPHASH24, FileHash: "abc", ChunkIndex: idx, ChunkMax: 5, ChunkByteSize: 10}
		if err := AppendLog(logPath, entry); err != nil {
			t.Fatal(err)
		}
	}
	first, last, err := Validate(logPath, 5)
	if err != nil {
		t.Fatal(err)
	}
	if first != 2 || last != 4 {
		t.Fatalf("expected contiguous range covering 2-4, got (%d,%d)", first, last)
	}
	missing, err := MissingChunks(logPath, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 || missing[0] != 2 || missing[1] != 4 {
		t.Fatalf("expected sparse missing [2 4], got %v", missing)
	}
}

func TestLogLineRoundTrip(t *testing.T) {
	alg := wire.SHA256
	e := LogEntry{
		FileHashAlg:   wire.SIPHASH24,
		FileHash:      "0123456789abcdef",
		ChunkIndex:    7,
		ChunkMax:      42,
		ChunkByteSize: 1048576,
		ChunkHashAlg:  &alg,
		ChunkHash:     bytes.Repeat([]byte{0x01}, 32),
	}
	e.Timestamp = time.Now()
	line := FormatLogLine(e)
	parsed, err := ParseLogLine(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.FileHash != e.FileHash || parsed.ChunkIndex != e.ChunkIndex || parsed.ChunkMax != e.ChunkMax {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, e)
	}
	if !bytes.Equal(parsed.ChunkHash, e.ChunkHash) {
		t.Fatalf("chunk hash mismatch")
	}
}

func hexDecodeHelper(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	return b, err
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
