package core

import (
	"errors"
	"fmt"
)

// ErrCorrupted is returned when a segment or WAL payload is malformed.
var ErrCorrupted = errors.New("data corrupted")

// IOError wraps a failure of the underlying file system.
type IOError struct {
	Op   string // e.g. "open", "write", "sync", "rename"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("io error during %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError returns nil when err is nil so call sites can wrap unconditionally.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// IsIOError checks if an error is an IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

type UnsupportedTypeError struct {
	Message string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type value: %s", e.Message)
}

func IsUnsupportedError(err error) bool {
	var unsupportedError *UnsupportedTypeError
	return errors.As(err, &unsupportedError)
}

// CorruptionError carries the location of a corrupted payload and matches ErrCorrupted.
type CorruptionError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s at %s offset %d: %s", ErrCorrupted, e.Path, e.Offset, e.Reason)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}
