package registry

import "errors"

// Sentinel errors matching the pane-lifecycle taxonomy: every Registry and
// Pane operation returns one of these (wrapped with context) rather than an
// ad-hoc string, so daemon request handlers can map them to the matching
// wire-level error code without string matching.
var (
	ErrAlreadyExists  = errors.New("already_exists")
	ErrUnknownPane    = errors.New("unknown_pane")
	ErrSpawnFailed    = errors.New("spawn_failed")
	ErrPtyWriteFailed = errors.New("pty_write_failed")
	ErrInvalidDims    = errors.New("invalid_dimensions")
)
