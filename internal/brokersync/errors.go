package brokersync

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrGenerate means the stored data cannot be rendered into broker
	// syntax. Nothing is written when it occurs.
	ErrGenerate = errors.New("brokersync: cannot generate broker configuration")

	ErrArtifactWrite = errors.New("brokersync: cannot write broker configuration")

	// ErrReload means the broker could not be told to re-read its files.
	// The files are already in place, so this never fails a sync.
	ErrReload = errors.New("brokersync: broker reload failed")

	// ErrReloadUnavailable is returned by reloaders that cannot signal
	// the broker in this deployment.
	ErrReloadUnavailable = errors.New("brokersync: broker reload not available")
)
