package peer

import "errors"

// Error kinds from spec.md §7. They are returned directly or wrapped with
// fmt.Errorf("%w: ...") for additional context; callers compare with
// errors.Is.
var (
	ErrInvalidArgument = errors.New("peer: invalid argument")
	ErrNotConnected    = errors.New("peer: not connected")
	ErrOutOfMemory     = errors.New("peer: out of memory")
	ErrAddressRequired = errors.New("peer: address required")
	ErrSocketError     = errors.New("peer: socket error")

	// ErrCancelled corresponds to a failed timer registration. The
	// rtimer.StdTimer implementation cannot fail, so this is currently
	// unreachable in this engine; it is kept so an alternate Timer
	// collaborator (§6) has somewhere to report that failure.
	ErrCancelled = errors.New("peer: cancelled")
)
