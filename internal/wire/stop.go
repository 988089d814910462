package wire

import "github.com/philipp3923/rdrop-sub000/internal/rerrors"

// StopFrame terminates an in-progress send for the named file hash.
type StopFrame struct {
	FileHash string
}

// EncodeStopFrame renders s as its bare hex file-hash string.
func EncodeStopFrame(s *StopFrame) []byte {
	return []byte(s.FileHash)
}

// DecodeStopFrame parses the bare hex file-hash string.
func DecodeStopFrame(body []byte) (*StopFrame, error) {
	hash := string(body)
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return nil, rerrors.New(rerrors.ConversionError, "stop file-hash is not hex")
		}
	}
	switch len(hash) {
	case 16, 32, 64, 128:
	default:
		return nil, rerrors.New(rerrors.ConversionError, "stop file-hash has an invalid length")
	}
	return &StopFrame{FileHash: hash}, nil
}
