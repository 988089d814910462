// Package settings holds the Settings record threaded by reference into
// every session constructor, replacing the module-level defaults the
// original implementation used (spec "Global mutable state avoided").
package settings

import (
	"encoding/json"
	"os"
	"time"
)

// Settings mirrors the shape of server/config.go's Config: a flat,
// json-tagged struct loadable from a file, with defaults applied by
// Default() rather than by zero values.
type Settings struct {
	// ROD channel tuning.
	WindowSize       int           `json:"window_size"`
	KeepAliveInterval time.Duration `json:"keepalive_interval"`
	DisconnectTimeout time.Duration `json:"disconnect_timeout"`
	SendInterval      time.Duration `json:"send_interval"`
	ReceiveTick       time.Duration `json:"receive_tick"`

	// Cipher / cipherstream tuning.
	BlockSize int    `json:"block_size"`
	Cipher    string `json:"cipher"` // "chacha20poly1305" or "aes-gcm"

	// Chunk engine tuning.
	ChunkSize         int    `json:"chunk_size"`
	BufferSize        int    `json:"buffer_size"`
	FileHashAlgorithm string `json:"file_hash_algorithm"`
	ChunkHashAlgorithm string `json:"chunk_hash_algorithm"`
	Compression       bool   `json:"compression"`
	OutputDir         string `json:"output_dir"`

	// Identity.
	Anonymous bool   `json:"anonymous"`
	UserHash  [8]byte `json:"-"`

	// Clock sync.
	ClockSamples      int    `json:"clock_samples"`
	SNTPPool          string `json:"sntp_pool"`
	UseSNTP           bool   `json:"use_sntp"`
	TCPUpgradeRetries int    `json:"tcp_upgrade_retries"`

	// smux tuning (session control/file-stream multiplexer), mirroring
	// std/smuxcfg.go's BuildSmuxConfig CLI parameters.
	SmuxVersion           int           `json:"smux_version"`
	SmuxMaxReceiveBuffer  int           `json:"smux_max_receive_buffer"`
	SmuxMaxStreamBuffer   int           `json:"smux_max_stream_buffer"`
	SmuxMaxFrameSize      int           `json:"smux_max_frame_size"`
	SmuxKeepAliveInterval time.Duration `json:"smux_keepalive_interval"`

	// Stats logging (periodic CSV dump of a rod.Channel's counters).
	StatsLogPath     string        `json:"stats_log_path"`
	StatsLogInterval time.Duration `json:"stats_log_interval"`
}

// Default returns the constants named in spec §6: CHUNK_SIZE = 1 MiB,
// BUFFER_SIZE = 1 MiB, USER_HASH_LENGTH = 8 bytes, SIPHASH24 default
// chunk hash, ROD block size 1024 bytes, W = 1024*128.
func Default() *Settings {
	return &Settings{
		WindowSize:         1024 * 128,
		KeepAliveInterval:  100 * time.Millisecond,
		DisconnectTimeout:  5 * time.Second,
		SendInterval:       100 * time.Millisecond,
		ReceiveTick:        5 * time.Millisecond,
		BlockSize:          1024,
		Cipher:             "chacha20poly1305",
		ChunkSize:          1024 * 1024,
		BufferSize:         1024 * 1024,
		FileHashAlgorithm:  "SIPHASH24",
		ChunkHashAlgorithm: "SIPHASH24",
		Compression:        false,
		OutputDir:          "./output",
		Anonymous:          true,
		ClockSamples:       16,
		SNTPPool:           "pool.ntp.org",
		TCPUpgradeRetries:  10,
		SmuxVersion:           2,
		SmuxMaxReceiveBuffer:  4 * 1024 * 1024,
		SmuxMaxStreamBuffer:   2 * 1024 * 1024,
		SmuxMaxFrameSize:      32768,
		SmuxKeepAliveInterval: 10 * time.Second,
	}
}

// Load reads a JSON file into a fresh Settings starting from Default(),
// the way server/config.go#parseJSONConfig populates a Config.
func Load(path string) (*Settings, error) {
	s := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}
