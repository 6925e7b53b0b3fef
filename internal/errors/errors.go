package errors

import "errors"

// Startup errors.
var (
	ErrConfig        = errors.New("configuration unusable")
	ErrUnknownTarget = errors.New("unrecognized remote target")
)

// Per-folder pipeline errors. None of these are fatal to the process.
var (
	ErrWatch             = errors.New("watching folder failed")
	ErrGuardUnresolvable = errors.New("cannot establish safe baseline")
	ErrSyncFailure       = errors.New("sync failed")
	ErrUserDenied        = errors.New("confirmation declined")
)

// Remote transport errors.
var (
	ErrMalformedCount = errors.New("malformed remote count response")
)
