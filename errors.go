package chord

import "fmt"

// ErrorKind classifies the failures a handler or transport can hit. None
// of these cause the dispatch loop or stabilizer to abort; they are
// logged and the node keeps running.
type ErrorKind int

const (
	// ErrInvalidPayload covers decode failures and signature mismatches.
	ErrInvalidPayload ErrorKind = iota
	// ErrReplayDetected means a tx_id was already seen within the replay window.
	ErrReplayDetected
	// ErrUnknownPeer means the target peer has no transport and none could be derived.
	ErrUnknownPeer
	// ErrTransportFailure wraps a send/connect failure at the transport layer.
	ErrTransportFailure
	// ErrRingUnexpectedAction means a ring-state operation returned an action
	// the calling handler does not know how to interpret.
	ErrRingUnexpectedAction
	// ErrPendingTransportMissing means a ConnectNodeReport referenced a
	// transport_uuid with no matching pending entry.
	ErrPendingTransportMissing
	// ErrTimeout covers a bounded wait that elapsed before completion.
	ErrTimeout
	// ErrInternal is a catch-all for invariant violations.
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidPayload:
		return "InvalidPayload"
	case ErrReplayDetected:
		return "ReplayDetected"
	case ErrUnknownPeer:
		return "UnknownPeer"
	case ErrTransportFailure:
		return "TransportFailure"
	case ErrRingUnexpectedAction:
		return "RingUnexpectedAction"
	case ErrPendingTransportMissing:
		return "PendingTransportMissing"
	case ErrTimeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// Error is the concrete error type returned by the core. Handlers return
// it to the dispatch loop, which logs and continues; it never causes the
// background loop to abort.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// newError builds an *Error with a formatted message.
func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
