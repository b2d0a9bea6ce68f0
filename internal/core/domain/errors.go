package domain

import "errors"

// Bridge error taxonomy. Callers match with errors.Is; details are wrapped with %w.
var (
	// ErrInvalidOverlay is a caller error: the overlay violates a shape invariant. Never transmitted.
	ErrInvalidOverlay = errors.New("invalid overlay")
	// ErrInvalidRegion is a caller error: bad span or coordinate.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrSessionClosed is returned by any operation after dispose. Safe to ignore.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionTimedOut means the handshake did not complete within the policy bound.
	ErrSessionTimedOut = errors.New("session timed out")
	// ErrMalformedEvent marks an inbound payload that parsed but failed validation.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrChannel marks a transport-level serialization or deserialization failure.
	ErrChannel = errors.New("channel error")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidOverlay, "invalid_overlay"},
	{ErrInvalidRegion, "invalid_region"},
	{ErrSessionClosed, "session_closed"},
	{ErrSessionTimedOut, "session_timed_out"},
	{ErrMalformedEvent, "malformed_event"},
	{ErrChannel, "channel_error"},
}

// ErrorKind returns the taxonomy name of err, "" for nil and "internal" for anything else.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
