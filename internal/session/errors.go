package session

import "errors"

var (
	// ErrNotConnected is returned by operations that need a live
	// channel when the session is disconnected. It is raised before
	// any network effect.
	ErrNotConnected = errors.New("not connected to a DJ server")

	// ErrNoChannel is returned by Wait when no channel has ever been
	// established.
	ErrNoChannel = errors.New("no event channel exists to wait on")
)

// RemoteError carries a server-reported error message verbatim.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
