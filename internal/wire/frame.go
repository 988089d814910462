// Package wire implements the four control frames (offer, order, stop,
// data) spec §4.E defines, each carried as a single message over the
// channel beneath (ROD, wrapped in cipherstream). Every frame is self
// describing: the first byte is a tag, and the data frame additionally
// self-describes its own header width so both sides can recompute and
// verify it (spec: "a mismatch is ReadHeaderError").
package wire

import (
	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// Tag identifies which of the four control frames a message carries.
type Tag byte

const (
	TagData  Tag = 0x00
	TagOffer Tag = 0x01
	TagOrder Tag = 0x02
	TagStop  Tag = 0x03
)

// PeekTag reads the tag byte without consuming the rest of msg.
func PeekTag(msg []byte) (Tag, error) {
	if len(msg) == 0 {
		return 0, rerrors.New(rerrors.ConversionError, "empty frame")
	}
	return Tag(msg[0]), nil
}

// Frame is the decoded form of any one of the four wire messages. Exactly
// one of Offer, Order, Stop, Data is non-nil, matching the frame's Tag.
type Frame struct {
	Tag   Tag
	Offer *OfferFrame
	Order *OrderFrame
	Stop  *StopFrame
	Data  *DataFrame
}

// Decode dispatches on the leading tag byte to the frame-specific decoder.
func Decode(msg []byte) (*Frame, error) {
	tag, err := PeekTag(msg)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagData:
		df, err := DecodeDataFrame(msg[1:])
		if err != nil {
			return nil, err
		}
		return &Frame{Tag: tag, Data: df}, nil
	case TagOffer:
		of, err := DecodeOfferFrame(msg[1:])
		if err != nil {
			return nil, err
		}
		return &Frame{Tag: tag, Offer: of}, nil
	case TagOrder:
		or, err := DecodeOrderFrame(msg[1:])
		if err != nil {
			return nil, err
		}
		return &Frame{Tag: tag, Order: or}, nil
	case TagStop:
		st, err := DecodeStopFrame(msg[1:])
		if err != nil {
			return nil, err
		}
		return &Frame{Tag: tag, Stop: st}, nil
	default:
		return nil, rerrors.New(rerrors.ConversionError, "unknown frame tag")
	}
}

// Encode serializes f back into its single-message wire form.
func Encode(f *Frame) ([]byte, error) {
	switch f.Tag {
	case TagData:
		body, err := EncodeDataFrame(f.Data)
		if err != nil {
			return nil, err
		}
		return prepend(byte(TagData), body), nil
	case TagOffer:
		body := EncodeOfferFrame(f.Offer)
		return prepend(byte(TagOffer), body), nil
	case TagOrder:
		body := EncodeOrderFrame(f.Order)
		return prepend(byte(TagOrder), body), nil
	case TagStop:
		body := EncodeStopFrame(f.Stop)
		return prepend(byte(TagStop), body), nil
	default:
		return nil, rerrors.New(rerrors.ConversionError, "unknown frame tag")
	}
}

func prepend(tag byte, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = tag
	copy(out[1:], body)
	return out
}
