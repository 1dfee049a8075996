package domain

import "errors"

// ErrInvalidInput indicates a malformed URL, connection count, directory or filename
var ErrInvalidInput = errors.New("invalid input")

// ErrMetadata indicates the probe could not determine a usable content length
var ErrMetadata = errors.New("metadata unavailable")

// ErrThrottled indicates the server refused to continue the range right now (429/503 or early close)
var ErrThrottled = errors.New("transfer throttled by server")

// ErrCorrupt indicates a part file holds more bytes than its assigned range
var ErrCorrupt = errors.New("part file exceeds segment range")

// ErrTransfer wraps any other network or filesystem failure of a segment
var ErrTransfer = errors.New("segment transfer failed")

// ErrMerge wraps concatenation or rename failures of the final artifact
var ErrMerge = errors.New("merge failed")

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobFinished       = errors.New("job already finished")
)
