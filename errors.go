package crashdump

import "errors"

var (
	ErrNilConfig          = errors.New("crashdump: nil config")
	ErrNotInitialized     = errors.New("crashdump: not initialized")
	ErrAlreadyInitialized = errors.New("crashdump: already initialized")
	ErrClosed             = errors.New("crashdump: reporter closed")
	ErrNotRegistered      = errors.New("crashdump: thread not registered")
	ErrSignalConflict     = errors.New("crashdump: sample signal is also a fatal signal")
	ErrLineTooLong        = errors.New("crashdump: formatted line too long")
)
