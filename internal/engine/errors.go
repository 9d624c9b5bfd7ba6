package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports that the caller abandoned the download before it
	// finished.
	ErrCancelled = errors.New("download cancelled")

	// ErrUnexpectedRange reports a 416 from the server for a range the plan
	// considers valid.
	ErrUnexpectedRange = errors.New("server reported requested range not satisfiable")
)

// ProbeError reports a failed metadata probe. Status is set when the server
// answered with a non-success code, Err when the request itself failed.
type ProbeError struct {
	URL    string
	Status int
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("probing %s failed with status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("probing %s failed: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// ChunkError reports the terminal failure of one chunk, carrying the index so
// callers can tell which part of the file gave out.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// SizeError reports a verification failure between the probed length and the
// assembled artifact.
type SizeError struct {
	Path string
	Want int64
	Got  int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Path, e.Want, e.Got)
}

// HashError reports a digest mismatch on the assembled artifact.
type HashError struct {
	Path string
	Algo string
	Want string
	Got  string
}

func (e *HashError) Error() string {
	return fmt.Sprintf("%s mismatch for %s: expected %s, got %s", e.Algo, e.Path, e.Want, e.Got)
}
