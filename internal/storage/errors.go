package storage

import (
	"errors"
	"fmt"
)

var (
	ErrUnreachable       = errors.New("catalog backend unreachable")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("fingerprint already exists")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Error reports a transport or driver failure from a catalog or blob backend.
type Error struct {
	Backend string // "postgres", "sqlite", "qdrant", "minio", "fs"
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err. Sentinel errors from this package are
// returned unchanged so errors.Is keeps working without unwrapping.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrConflict, ErrDimensionMismatch, ErrInvalidArgument} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &Error{Backend: backend, Op: op, Err: err}
}
