package wire

import "github.com/philipp3923/rdrop-sub000/internal/rerrors"

// UserHashLength is the fixed width of the opaque user-hash field (spec §6).
const UserHashLength = 8

// DataFrame carries one chunk's payload plus the header spec §4.E/§6 define.
// FileHash and ChunkHash are raw digest bytes (not hex), matching the wire
// representation; their lengths must be 8, 16, 32 or 64 (0 for ChunkHash
// meaning "absent").
type DataFrame struct {
	UserHash   [UserHashLength]byte
	FileHash   []byte
	ChunkMax   uint64
	ChunkIndex uint64
	ChunkHash  []byte // nil/empty = absent
	Payload    []byte
}

// fileHashSizeCode maps a byte length to the flag bits 4-3 code, and back.
func fileHashSizeCode(n int) (byte, error) {
	switch n {
	case 8:
		return 0b00, nil
	case 16:
		return 0b01, nil
	case 32:
		return 0b10, nil
	case 64:
		return 0b11, nil
	default:
		return 0, rerrors.New(rerrors.ConversionError, "invalid file-hash byte length")
	}
}

func fileHashSizeFromCode(code byte) int {
	switch code {
	case 0b00:
		return 8
	case 0b01:
		return 16
	case 0b10:
		return 32
	default:
		return 64
	}
}

// chunkHashSizeCode maps a byte length (0 meaning absent) to flag bits 2-0.
func chunkHashSizeCode(n int) (byte, error) {
	switch n {
	case 0:
		return 0b000, nil
	case 8:
		return 0b100, nil
	case 16:
		return 0b101, nil
	case 32:
		return 0b110, nil
	case 64:
		return 0b111, nil
	default:
		return 0, rerrors.New(rerrors.ConversionError, "invalid chunk-hash byte length")
	}
}

func chunkHashSizeFromCode(code byte) int {
	switch code {
	case 0b000:
		return 0
	case 0b100:
		return 8
	case 0b101:
		return 16
	case 0b110:
		return 32
	case 0b111:
		return 64
	default:
		return 0
	}
}

// EncodeDataFrame serializes d's header and payload, recomputing
// header-length from the field widths it actually needs (spec: "The codec
// must recompute header-length on encode").
func EncodeDataFrame(d *DataFrame) ([]byte, error) {
	if len(d.UserHash) != UserHashLength {
		return nil, rerrors.New(rerrors.ConversionError, "user-hash must be 8 bytes")
	}
	fileHashCode, err := fileHashSizeCode(len(d.FileHash))
	if err != nil {
		return nil, err
	}
	chunkHashCode, err := chunkHashSizeCode(len(d.ChunkHash))
	if err != nil {
		return nil, err
	}

	idxWidth := minWidth(d.ChunkMax)
	if w := minWidth(d.ChunkIndex); w > idxWidth {
		idxWidth = w
	}
	if idxWidth > 4 {
		return nil, rerrors.New(rerrors.ConversionError, "chunk-max/chunk-index too large")
	}

	chunkLen := uint64(len(d.Payload))
	lengthWidth := 3
	var lengthBit byte
	if chunkLen > 0xFFFFFF {
		lengthWidth = 4
		lengthBit = 1 << 7
	}

	flags := lengthBit | (byte(idxWidth-1) << 5) | (fileHashCode << 3) | chunkHashCode

	headerLen := 1 /*header-length*/ + 1 /*flags*/ + UserHashLength + lengthWidth + len(d.FileHash) + idxWidth*2 + len(d.ChunkHash)
	if headerLen > 255 {
		return nil, rerrors.New(rerrors.ConversionError, "data header too large")
	}

	out := make([]byte, headerLen+len(d.Payload))
	out[0] = byte(headerLen)
	out[1] = flags
	pos := 2
	copy(out[pos:], d.UserHash[:])
	pos += UserHashLength
	putUintN(out[pos:pos+lengthWidth], chunkLen, lengthWidth)
	pos += lengthWidth
	copy(out[pos:], d.FileHash)
	pos += len(d.FileHash)
	putUintN(out[pos:pos+idxWidth], d.ChunkMax, idxWidth)
	pos += idxWidth
	putUintN(out[pos:pos+idxWidth], d.ChunkIndex, idxWidth)
	pos += idxWidth
	copy(out[pos:], d.ChunkHash)
	pos += len(d.ChunkHash)
	copy(out[pos:], d.Payload)

	return out, nil
}

// DecodeDataFrame parses body (everything after the tag byte) back into a
// DataFrame, verifying the self-declared header-length against the width
// implied by the flags byte (spec: "a mismatch is ReadHeaderError").
func DecodeDataFrame(body []byte) (*DataFrame, error) {
	if len(body) < 2 {
		return nil, rerrors.New(rerrors.ReadHeaderError, "data frame too short")
	}
	headerLen := int(body[0])
	if headerLen > len(body) {
		return nil, rerrors.New(rerrors.ReadHeaderError, "declared header-length exceeds frame size")
	}
	flags := body[1]

	lengthWidth := 3
	if flags&(1<<7) != 0 {
		lengthWidth = 4
	}
	idxWidth := int((flags>>5)&0b11) + 1
	fileHashLen := fileHashSizeFromCode((flags >> 3) & 0b11)
	chunkHashLen := chunkHashSizeFromCode(flags & 0b111)

	wantHeaderLen := 1 + 1 + UserHashLength + lengthWidth + fileHashLen + idxWidth*2 + chunkHashLen
	if wantHeaderLen != headerLen {
		return nil, rerrors.New(rerrors.ReadHeaderError, "recomputed header-length does not match declared value")
	}

	pos := 2
	var d DataFrame
	copy(d.UserHash[:], body[pos:pos+UserHashLength])
	pos += UserHashLength

	chunkLen := getUintN(body[pos : pos+lengthWidth])
	pos += lengthWidth

	d.FileHash = append([]byte(nil), body[pos:pos+fileHashLen]...)
	pos += fileHashLen

	d.ChunkMax = getUintN(body[pos : pos+idxWidth])
	pos += idxWidth

	d.ChunkIndex = getUintN(body[pos : pos+idxWidth])
	pos += idxWidth

	if chunkHashLen > 0 {
		d.ChunkHash = append([]byte(nil), body[pos:pos+chunkHashLen]...)
		pos += chunkHashLen
	}

	if pos != headerLen {
		return nil, rerrors.New(rerrors.ReadHeaderError, "header field widths do not sum to header-length")
	}
	if uint64(len(body)-headerLen) != chunkLen {
		return nil, rerrors.New(rerrors.ReadHeaderError, "payload length does not match chunk-length field")
	}
	d.Payload = append([]byte(nil), body[headerLen:]...)

	return &d, nil
}
