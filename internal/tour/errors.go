package tour

import (
	"fmt"

	"tourgraph/internal/storage"
)

// Not-found sentinels are shared with the storage layer so callers can use
// errors.Is regardless of which layer produced the failure.
var (
	ErrPanoramaNotFound = storage.ErrNodeNotFound
	ErrHotspotNotFound  = storage.ErrEdgeNotFound
)

// ValidationError reports client input that can never succeed as submitted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// UploadError wraps a terminal failure to store image bytes in the blob
// store. The graph was not touched when this is returned.
type UploadError struct {
	Err error
}

func (e UploadError) Error() string {
	return fmt.Sprintf("upload image: %v", e.Err)
}

func (e UploadError) Unwrap() error {
	return e.Err
}

// StorageError wraps a relational failure during an orchestrated operation.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error {
	return e.Err
}
