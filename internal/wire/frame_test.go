package wire

import (
	"bytes"
	"testing"
)

func TestOfferRoundTrip(t *testing.T) {
	o := &OfferFrame{FileName: "Testfile.pdf", Size: 2684354, HashAlg: SHA256, FileHash: "abcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd"[:64]}
	f := &Frame{Tag: TagOffer, Offer: o}
	enc, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if *dec.Offer != *o {
		t.Fatalf("round trip mismatch: got %+v want %+v", dec.Offer, o)
	}
}

func TestOrderRoundTrip(t *testing.T) {
	o := &OrderFrame{ChunkSize: 1048576, HashAlg: SIPHASH24, FileHash: "0123456789abcdef", FileName: "a.bin", Start: 2, End: 4}
	f := &Frame{Tag: TagOrder, Order: o}
	enc, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if *dec.Order != *o {
		t.Fatalf("round trip mismatch: got %+v want %+v", dec.Order, o)
	}
}

func TestOrderNothingNeeded(t *testing.T) {
	o := &OrderFrame{ChunkSize: 1024, HashAlg: MD5, FileHash: "0123456789abcdef0123456789abcdef", FileName: "x", Start: 0, End: 0}
	enc := EncodeOrderFrame(o)
	dec, err := DecodeOrderFrame(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Empty() {
		t.Fatalf("expected Empty() order")
	}
}

func TestStopRoundTrip(t *testing.T) {
	s := &StopFrame{FileHash: "0123456789abcdef"}
	f := &Frame{Tag: TagStop, Stop: s}
	enc, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if *dec.Stop != *s {
		t.Fatalf("round trip mismatch")
	}
}

func TestDataFrameRoundTrip(t *testing.T) {
	cases := []*DataFrame{
		{
			FileHash:   bytes.Repeat([]byte{0xAB}, 8),
			ChunkMax:   1,
			ChunkIndex: 1,
			Payload:    []byte{0x01, 0x02, 0x03},
		},
		{
			FileHash:   bytes.Repeat([]byte{0xCD}, 32),
			ChunkMax:   300,
			ChunkIndex: 299,
			ChunkHash:  bytes.Repeat([]byte{0xEF}, 8),
			Payload:    bytes.Repeat([]byte{0x42}, 4096),
		},
		{
			FileHash:   bytes.Repeat([]byte{0x11}, 64),
			ChunkMax:   70000,
			ChunkIndex: 70000,
			ChunkHash:  bytes.Repeat([]byte{0x22}, 64),
			Payload:    bytes.Repeat([]byte{0x33}, 4097),
		},
	}
	largePayload := &DataFrame{
		FileHash:   bytes.Repeat([]byte{0x01}, 8),
		ChunkMax:   1,
		ChunkIndex: 1,
		Payload:    make([]byte, 0x1000001), // forces the 4-byte chunk-length width
	}
	cases = append(cases, largePayload)
	for i, d := range cases {
		enc, err := EncodeDataFrame(d)
		if err != nil {
			t.Fatalf("case %d encode: %v", i, err)
		}
		dec, err := DecodeDataFrame(enc)
		if err != nil {
			t.Fatalf("case %d decode: %v", i, err)
		}
		if dec.ChunkMax != d.ChunkMax || dec.ChunkIndex != d.ChunkIndex {
			t.Fatalf("case %d index mismatch: got %+v want %+v", i, dec, d)
		}
		if !bytes.Equal(dec.FileHash, d.FileHash) || !bytes.Equal(dec.ChunkHash, d.ChunkHash) || !bytes.Equal(dec.Payload, d.Payload) {
			t.Fatalf("case %d byte mismatch", i)
		}
		if int(enc[0]) != len(enc)-len(d.Payload) {
			t.Fatalf("case %d header-length does not match encoded header size", i)
		}
	}
}

func TestDataFrameHeaderLengthMismatchDetected(t *testing.T) {
	d := &DataFrame{FileHash: bytes.Repeat([]byte{0x01}, 8), ChunkMax: 1, ChunkIndex: 1, Payload: []byte{0xAA}}
	enc, err := EncodeDataFrame(d)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := append([]byte(nil), enc...)
	corrupted[0]++ // lie about header-length
	if _, err := DecodeDataFrame(corrupted); err == nil {
		t.Fatalf("expected ReadHeaderError on corrupted header-length")
	}
}

func TestEncodeDecodeFullMessage(t *testing.T) {
	full, err := Encode(&Frame{Tag: TagData, Data: &DataFrame{
		FileHash:   bytes.Repeat([]byte{0x01}, 8),
		ChunkMax:   1,
		ChunkIndex: 1,
		Payload:    []byte{1, 2, 3},
	}})
	if err != nil {
		t.Fatal(err)
	}
	tag, err := PeekTag(full)
	if err != nil || tag != TagData {
		t.Fatalf("expected data tag, got %v err=%v", tag, err)
	}
}
