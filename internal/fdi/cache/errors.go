package cache

import "errors"

// Cache view errors.
var (
	// ErrTruncated is returned when the file is too small to hold the
	// header. A zero-length cache is the coherency controller's signal to
	// regenerate, never something to walk.
	ErrTruncated = errors.New("cache: truncated")

	// ErrCorrupt is returned when a header or record field points outside
	// the blob or regions overlap.
	ErrCorrupt = errors.New("cache: corrupt")
)
