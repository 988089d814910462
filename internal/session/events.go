// Package session implements spec component G: the session controller's
// reader/writer task split over a smux-multiplexed, cipherstream-wrapped
// channel (see SPEC_FULL.md REDESIGN FLAGS #1 for the multiplexing
// substrate swap), collapsing every internal signal into the five UI
// events spec §9 names.
package session

// FileState is the lifecycle spec §9 assigns a file transfer.
type FileState int

const (
	FilePending FileState = iota
	FileTransferring
	FilePaused
	FileStopped
	FileCompleted
	FileCorrupted
)

func (s FileState) String() string {
	switch s {
	case FilePending:
		return "pending"
	case FileTransferring:
		return "transferring"
	case FilePaused:
		return "paused"
	case FileStopped:
		return "stopped"
	case FileCompleted:
		return "completed"
	case FileCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// EventKind is one of the five UI event categories spec §9 names
// ("The session controller collapses errors into five UI events").
type EventKind int

const (
	EventConnectProgress EventKind = iota
	EventConnectError
	EventDisconnect
	EventFileState
	EventBindPort
)

// Event is handed to the surrounding application (an external
// collaborator per spec's non-goals — this package only produces
// events, it never renders them).
type Event struct {
	Kind     EventKind
	Stage    string    // ConnectProgress
	Err      error     // ConnectError, Disconnect
	FileHash string    // FileState
	State    FileState // FileState
	Port     int       // BindPort
}
