package device

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUserNotFound is returned when a user ID does not exist.
	ErrUserNotFound = errors.New("device: user not found")
)
