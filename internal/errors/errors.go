package errors

import "errors"

// Remote store errors.
var (
	ErrTransientNetwork = errors.New("transient network failure")
	ErrAlreadyExists    = errors.New("remote entry already exists")
	ErrNotFound         = errors.New("remote entry not found")
	ErrAuthentication   = errors.New("authentication rejected by remote")
	ErrAPIResponse      = errors.New("unexpected API response")
)

// Local filesystem errors.
var (
	ErrLocalIO = errors.New("local I/O failure")
)

// State store errors.
var (
	ErrStateCorrupt = errors.New("sync state is unreadable")
	ErrStateLocked  = errors.New("sync state is locked by another process")
)

// Engine errors.
var (
	ErrCycleRunning = errors.New("sync cycle already running")
	ErrInFlight     = errors.New("path already in flight")
	ErrAuthBlocked  = errors.New("network calls blocked until credentials are refreshed")
)
