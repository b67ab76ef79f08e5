package session

import (
	"errors"
	"fmt"
)

// ErrUnknownLanguage marks a requested language absent from the playlist.
// It is logged and never retried.
var ErrUnknownLanguage = errors.New("session: unknown language")

// KeyResolutionError means the decryption key of a track could not be
// fetched or did not fit its method.
type KeyResolutionError struct {
	URI string
	Err error
}

func (e *KeyResolutionError) Error() string {
	return fmt.Sprintf("resolve key %s: %v", e.URI, e.Err)
}

func (e *KeyResolutionError) Unwrap() error { return e.Err }

// MuxingError carries the muxing tool's own output verbatim.
type MuxingError struct {
	Output string
	Err    error
}

func (e *MuxingError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("mux: %v", e.Err)
	}
	return fmt.Sprintf("mux: %v: %s", e.Err, e.Output)
}

func (e *MuxingError) Unwrap() error { return e.Err }
