package rotation

import "errors"

var (
	ErrAlreadyActive   = errors.New("rotation already active")
	ErrNotActive       = errors.New("rotation not active")
	ErrNoCredential    = errors.New("no session for user")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("rotation supervisor is shut down")

	errNoAvailableName = errors.New("no available name")
)

// FailureError carries a non-classified failure reported by the alias client.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string { return e.Message }
