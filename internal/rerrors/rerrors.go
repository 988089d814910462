// Package rerrors defines the sentinel error kinds shared across the rdrop
// core packages (rendezvous, rod, cipherstream, wire, chunkengine, session).
//
// Every kind named in the design is a distinct sentinel so callers can branch
// on it with errors.Is, while still carrying a wrapped stack via
// github.com/pkg/errors for diagnostics.
package rerrors

import "github.com/pkg/errors"

// Kind identifies one of the error categories produced by the core.
type Kind string

const (
	TimedOut             Kind = "timed_out"
	StateChangeFailed    Kind = "state_change_failed"
	CommunicationFailed  Kind = "communication_failed"
	EncryptionFailed     Kind = "encryption_failed"
	ChannelFailed        Kind = "channel_failed"
	IllegalByteStream    Kind = "illegal_byte_stream"
	CannotConnectToSelf  Kind = "cannot_connect_to_self"
	UndefinedRole        Kind = "undefined_role"
	ReadHeaderError      Kind = "read_header_error"
	ConversionError      Kind = "conversion_error"
	RegexError           Kind = "regex_error"
	InputOutputError     Kind = "input_output_error"
	DataCorruption       Kind = "data_corruption"
)

// sentinel errors, one per Kind, so errors.Is works across wraps.
var (
	ErrTimedOut            = errors.New(string(TimedOut))
	ErrStateChangeFailed   = errors.New(string(StateChangeFailed))
	ErrCommunicationFailed = errors.New(string(CommunicationFailed))
	ErrEncryptionFailed    = errors.New(string(EncryptionFailed))
	ErrChannelFailed       = errors.New(string(ChannelFailed))
	ErrIllegalByteStream   = errors.New(string(IllegalByteStream))
	ErrCannotConnectToSelf = errors.New(string(CannotConnectToSelf))
	ErrUndefinedRole       = errors.New(string(UndefinedRole))
	ErrReadHeaderError     = errors.New(string(ReadHeaderError))
	ErrConversionError     = errors.New(string(ConversionError))
	ErrRegexError          = errors.New(string(RegexError))
	ErrInputOutputError    = errors.New(string(InputOutputError))
	ErrDataCorruption      = errors.New(string(DataCorruption))

	byKind = map[Kind]error{
		TimedOut:            ErrTimedOut,
		StateChangeFailed:   ErrStateChangeFailed,
		CommunicationFailed: ErrCommunicationFailed,
		EncryptionFailed:    ErrEncryptionFailed,
		ChannelFailed:       ErrChannelFailed,
		IllegalByteStream:   ErrIllegalByteStream,
		CannotConnectToSelf: ErrCannotConnectToSelf,
		UndefinedRole:       ErrUndefinedRole,
		ReadHeaderError:     ErrReadHeaderError,
		ConversionError:     ErrConversionError,
		RegexError:          ErrRegexError,
		InputOutputError:    ErrInputOutputError,
		DataCorruption:      ErrDataCorruption,
	}
)

// Wrap returns an error whose chain carries kind's sentinel, annotated with
// err's text and msg, the way client/main.go wraps dial/listen failures
// before logging them. err itself is kept only as text, so errors.Is
// against err or its own sentinels does not match the result.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	sentinel := byKind[kind]
	return errors.Wrap(errors.WithMessage(sentinel, err.Error()), msg)
}

// New creates a fresh error of kind with msg, no wrapped cause.
func New(kind Kind, msg string) error {
	return errors.WithMessage(byKind[kind], msg)
}

// Is reports whether err's chain carries kind's sentinel.
func Is(err error, kind Kind) bool {
	return errors.Is(err, byKind[kind])
}
