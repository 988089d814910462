package chunkengine

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

// LogEntry is one append-only record written after a chunk is merged
// (spec §3, §6).
type LogEntry struct {
	Timestamp     time.Time
	UserHash      [wire.UserHashLength]byte
	FileHashAlg   wire.HashAlgorithm
	FileHash      string
	ChunkIndex    uint64
	ChunkMax      uint64
	ChunkByteSize uint64
	ChunkHashAlg  *wire.HashAlgorithm
	ChunkHash     []byte
}

const logTimeLayout = "02.01.2006 - 15:04:05.000"

// logLineRegex mirrors the grammar original_source/chunk/src/general/general.rs
// names LOGGER_REGEX, adapted to Go's regexp syntax.
var logLineRegex = regexp.MustCompile(
	`^\[(\d{2}\.\d{2}\.\d{4} - \d{2}:\d{2}:\d{2}\.\d{3})\]\s*-\s*\[([a-zA-Z0-9]+)\]\s*-\s*\[(SHA256|SHA512|MD5|SIPHASH24)\]\s*-\s*\[([a-zA-Z0-9]+)\]\s*-\s*\[(\d+)\]\s*-\s*\[(\d+)\]\s*-\s*\[(\d+) bytes\](\s*-\s*\[(SHA256|SHA512|MD5|SIPHASH24)\]\s*-\s*\[([a-zA-Z0-9]+)\])?$`,
)

// FormatLogLine renders e in the exact format spec §6 defines.
func FormatLogLine(e LogEntry) string {
	base := fmt.Sprintf("[%s] - [%s] - [%s] - [%s] - [%d] - [%d] - [%d bytes]",
		e.Timestamp.Format(logTimeLayout),
		hex.EncodeToString(e.UserHash[:]),
		e.FileHashAlg,
		e.FileHash,
		e.ChunkIndex,
		e.ChunkMax,
		e.ChunkByteSize,
	)
	if e.ChunkHashAlg != nil && len(e.ChunkHash) > 0 {
		base += fmt.Sprintf(" - [%s] - [%s]", *e.ChunkHashAlg, hex.EncodeToString(e.ChunkHash))
	}
	return base
}

// ParseLogLine parses one line back into a LogEntry; it returns
// rerrors.RegexError if line doesn't match the grammar.
func ParseLogLine(line string) (LogEntry, error) {
	m := logLineRegex.FindStringSubmatch(line)
	if m == nil {
		return LogEntry{}, rerrors.New(rerrors.RegexError, "log line does not match grammar")
	}
	ts, err := time.Parse(logTimeLayout, m[1])
	if err != nil {
		return LogEntry{}, rerrors.Wrap(rerrors.ConversionError, err, "log timestamp")
	}
	userHashBytes, err := hex.DecodeString(m[2])
	if err != nil {
		return LogEntry{}, rerrors.Wrap(rerrors.ConversionError, err, "log user-hash")
	}
	fileAlg, err := wire.ParseHashAlgorithm(m[3])
	if err != nil {
		return LogEntry{}, err
	}
	chunkIdx, err := strconv.ParseUint(m[5], 10, 64)
	if err != nil {
		return LogEntry{}, rerrors.Wrap(rerrors.ConversionError, err, "log chunk-index")
	}
	chunkMax, err := strconv.ParseUint(m[6], 10, 64)
	if err != nil {
		return LogEntry{}, rerrors.Wrap(rerrors.ConversionError, err, "log chunk-max")
	}
	chunkBytes, err := strconv.ParseUint(m[7], 10, 64)
	if err != nil {
		return LogEntry{}, rerrors.Wrap(rerrors.ConversionError, err, "log chunk-byte-size")
	}

	entry := LogEntry{
		Timestamp:     ts,
		FileHashAlg:   fileAlg,
		FileHash:      m[4],
		ChunkIndex:    chunkIdx,
		ChunkMax:      chunkMax,
		ChunkByteSize: chunkBytes,
	}
	copy(entry.UserHash[:], userHashBytes)

	if m[9] != "" {
		chunkAlg, err := wire.ParseHashAlgorithm(m[9])
		if err != nil {
			return LogEntry{}, err
		}
		chunkHash, err := hex.DecodeString(m[10])
		if err != nil {
			return LogEntry{}, rerrors.Wrap(rerrors.ConversionError, err, "log chunk-hash")
		}
		entry.ChunkHashAlg = &chunkAlg
		entry.ChunkHash = chunkHash
	}

	return entry, nil
}

// AppendLog appends one formatted line to path, creating it if missing.
func AppendLog(path string, e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return rerrors.Wrap(rerrors.InputOutputError, err, "open log file")
	}
	defer f.Close()
	if _, err := f.WriteString(FormatLogLine(e) + "\n"); err != nil {
		return rerrors.Wrap(rerrors.InputOutputError, err, "append log entry")
	}
	return nil
}

// ReadLog reads and parses every line of path; lines that fail to parse are
// skipped (a partially-written trailing line is possible if the process was
// killed mid-append).
func ReadLog(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.InputOutputError, err, "open log file")
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := ParseLogLine(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, rerrors.Wrap(rerrors.InputOutputError, err, "scan log file")
	}
	return entries, nil
}

// Validate scans the log at path and reports the contiguous missing range
// (spec §4.F "Validation"): for each log line whose chunk-index <=
// chunkMax, the corresponding bit is set; the returned range is
// (first-missing, last-missing), or (0,0) if complete.
func Validate(path string, chunkMax uint64) (first, last uint64, err error) {
	entries, err := ReadLog(path)
	if err != nil {
		return 0, 0, err
	}
	have := make([]bool, chunkMax+1) // 1-based; index 0 unused
	for _, e := range entries {
		if e.ChunkIndex >= 1 && e.ChunkIndex <= chunkMax {
			have[e.ChunkIndex] = true
		}
	}
	first, last = 0, 0
	for i := uint64(1); i <= chunkMax; i++ {
		if !have[i] {
			if first == 0 {
				first = i
			}
			last = i
		}
	}
	return first, last, nil
}

// MissingChunks supplements Validate (see SPEC_FULL.md Open Question
// decisions) by returning the full sparse set of missing 1-based indices,
// for callers that want to avoid re-ordering chunks already received
// inside an interior gap of Validate's contiguous range.
func MissingChunks(path string, chunkMax uint64) ([]uint64, error) {
	entries, err := ReadLog(path)
	if err != nil {
		return nil, err
	}
	have := make([]bool, chunkMax+1)
	for _, e := range entries {
		if e.ChunkIndex >= 1 && e.ChunkIndex <= chunkMax {
			have[e.ChunkIndex] = true
		}
	}
	var missing []uint64
	for i := uint64(1); i <= chunkMax; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing, nil
}
