package mafather

import "errors"

var (
	// ErrSessionExpired is raised when the refresh credential is missing, invalid
	// or expired. The credential store has been cleared when it is seen.
	ErrSessionExpired = errors.New("mafather: session expired, sign in again")

	// ErrNotConnected is returned by Connector sends outside the connected state.
	ErrNotConnected = errors.New("mafather: chat stream not connected")

	// ErrNoSession is returned when a connect is attempted without a session id.
	ErrNoSession = errors.New("mafather: no chat session")

	// ErrHeartbeatTimeout marks a connection dropped for missing heartbeats.
	ErrHeartbeatTimeout = errors.New("mafather: heartbeat timeout")

	// ErrConnectorClosed is returned when Disconnect wins a race with an open.
	ErrConnectorClosed = errors.New("mafather: connector closed")
)

// IsUnauthorized reports whether err carries a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}
