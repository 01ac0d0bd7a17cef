package xfer

import "fmt"

// Kind is the error taxonomy from the protocol's failure semantics.
// Handlers return a *CardError instead of panicking or exiting early;
// the top-level loop renders it to a single "error" card and resets
// the outbound buffer.
type Kind int

const (
	KindMalformedCard Kind = iota
	KindAuthFailure
	KindUnauthorized
	KindProjectMismatch
	KindHashMismatch
	KindSchemaOutOfDate
	KindTransportError
	KindDecompressFailed
	KindUnknownHashAlgorithm
	KindPartialUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindMalformedCard:
		return "malformed card"
	case KindAuthFailure:
		return "auth failure"
	case KindUnauthorized:
		return "unauthorized"
	case KindProjectMismatch:
		return "project mismatch"
	case KindHashMismatch:
		return "hash mismatch"
	case KindSchemaOutOfDate:
		return "schema out of date"
	case KindTransportError:
		return "transport error"
	case KindDecompressFailed:
		return "decompress failed"
	case KindUnknownHashAlgorithm:
		return "unknown hash algorithm"
	case KindPartialUnsupported:
		return "partial atom unsupported"
	default:
		return "unknown error"
	}
}

// CardError is the result type every ingest handler returns on failure.
// Card carries the verb that produced it so the wire "error" message
// can be formed without the caller re-deriving context.
type CardError struct {
	Kind Kind
	Card string
	Msg  string
}

func (e *CardError) Error() string {
	if e.Card == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Card, e.Msg)
}

func newErr(kind Kind, card, format string, args ...any) *CardError {
	return &CardError{Kind: kind, Card: card, Msg: fmt.Sprintf(format, args...)}
}

// wireMessage renders the error the way it is sent to the peer as a
// single "error" card, per §7/§4.3.
func (e *CardError) wireMessage() string {
	switch e.Kind {
	case KindMalformedCard:
		return "bad command: " + e.Msg
	case KindAuthFailure:
		return "login failed"
	case KindUnauthorized:
		return e.Msg
	case KindProjectMismatch:
		return "wrong project"
	case KindHashMismatch:
		return "wrong hash on received artifact: " + e.Msg
	case KindDecompressFailed:
		return "bad command: " + e.Msg
	default:
		return e.Msg
	}
}

// ignorable reports whether an error surfaced by the peer in an "error"
// card should be swallowed rather than aborting the session, per §4.3's
// "error" row and §7's documented ignorable cases.
func ignorable(msg string, firstRoundOfClone, optionalPush bool) bool {
	if firstRoundOfClone {
		return true
	}
	if optionalPush && msg == "not authorized to write" {
		return true
	}
	return false
}
