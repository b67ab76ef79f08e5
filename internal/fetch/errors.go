package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrStallTimeout means no segment finished within the stall window.
	ErrStallTimeout = errors.New("fetch: no progress within stall window")
	// ErrInsufficientSegments means failed segments made the completion
	// threshold unreachable.
	ErrInsufficientSegments = errors.New("fetch: too many failed segments")
	// ErrCancelled is returned when the caller cancels the download.
	ErrCancelled = errors.New("fetch: cancelled")
)

// SegmentFetchError records a segment that failed every attempt.
type SegmentFetchError struct {
	Index    int
	URI      string
	Attempts int
	Err      error
}

func (e *SegmentFetchError) Error() string {
	return fmt.Sprintf("segment %d (%s) failed after %d attempts: %v", e.Index, e.URI, e.Attempts, e.Err)
}

func (e *SegmentFetchError) Unwrap() error { return e.Err }
