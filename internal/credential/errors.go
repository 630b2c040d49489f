package credential

import "errors"

// Sentinel errors. Callers match them with errors.Is; the API layer maps
// them to 404, 409, 400 and 500 respectively.
var (
	ErrNotFound   = errors.New("credential: not found")
	ErrConflict   = errors.New("credential: already exists")
	ErrValidation = errors.New("credential: invalid input")
	ErrStorage    = errors.New("credential: storage failure")

	// ErrNotifierUnavailable is returned by SendCredentials when no mailer
	// is configured.
	ErrNotifierUnavailable = errors.New("credential: credential mail is not configured")
)
