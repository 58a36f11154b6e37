package session

import "errors"

var (
	// ErrCaptureFailed wraps a display-capture acquisition failure. The
	// session never creates a room when capture is unavailable.
	ErrCaptureFailed = errors.New("capture source unavailable")

	// ErrIceTimeout means local ICE gathering timed out with zero candidates.
	ErrIceTimeout = errors.New("ice gathering timed out with no candidates")

	// ErrStreamTimeout means a viewer's first inbound track never arrived
	// within the configured track timeout.
	ErrStreamTimeout = errors.New("no media track arrived before the deadline")

	// ErrSessionClosed means the session was stopped before or during the
	// negotiation chain.
	ErrSessionClosed = errors.New("session closed")
)
