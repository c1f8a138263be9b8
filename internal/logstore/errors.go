package logstore

import "errors"

// Failure categories. Only ErrSetup is ever returned to a caller as a hard
// error; the others are reported through the store's logger and the store
// keeps operating.
var (
	ErrSetup    = errors.New("log store setup failed")
	ErrNotReady = errors.New("log store is not set up")
	ErrClosed   = errors.New("log store is closed")
	ErrWrite    = errors.New("log write failed")
	ErrTrim     = errors.New("log trim failed")
	ErrRead     = errors.New("log read failed")
)
