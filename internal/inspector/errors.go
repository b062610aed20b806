package inspector

import "errors"

var (
	ErrServerNotRunning     = errors.New("inspector is not running")
	ErrServerAlreadyRunning = errors.New("inspector is already running")
	ErrUnknownObject        = errors.New("unknown object")
	ErrUnknownPeer          = errors.New("unknown peer")
	ErrInvalidBody          = errors.New("invalid request body")
)
