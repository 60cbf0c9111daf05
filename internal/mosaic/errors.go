package mosaic

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a render failed. It is stored on the job record.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindLibraryEmpty ErrorKind = "library_empty"
	KindDecode       ErrorKind = "decode"
	KindInvalidGrid  ErrorKind = "invalid_grid"
	KindStorageWrite ErrorKind = "storage_write"
	KindCancelled    ErrorKind = "cancelled"
	KindInternal     ErrorKind = "internal"
)

var (
	// ErrLibraryEmpty is returned when no usable tile image was found.
	ErrLibraryEmpty = errors.New("tile library has no usable images")

	// ErrInvalidGrid is returned for non-positive grid configuration values.
	ErrInvalidGrid = errors.New("invalid grid configuration")

	// ErrCancelled is returned when cooperative cancellation was observed.
	ErrCancelled = errors.New("render cancelled")
)

// DecodeError reports an image file that could not be read or decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageWriteError reports a failed attempt to persist a rendered canvas.
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// Kind maps an error onto the failure taxonomy. Cancellation wins over every
// other kind because a cancelled render usually surfaces wrapped I/O errors.
func Kind(err error) ErrorKind {
	var decodeErr *DecodeError
	var storageErr *StorageWriteError

	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrLibraryEmpty):
		return KindLibraryEmpty
	case errors.Is(err, ErrInvalidGrid):
		return KindInvalidGrid
	case errors.As(err, &storageErr):
		return KindStorageWrite
	case errors.As(err, &decodeErr):
		return KindDecode
	default:
		return KindInternal
	}
}

// checkCancelled returns a wrapped ErrCancelled once ctx is done.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
