package docresolver

import (
	"context"
	"errors"

	"github.com/hanpama/docgraph/internal/docstore"
	"github.com/hanpama/docgraph/internal/executor"
)

// Extension codes reported with store failures.
const (
	CodeConnection = "CONNECTION_ERROR"
	CodeConflict   = "CONFLICT"
	CodeNotFound   = "NOT_FOUND"
)

// fieldError replaces a store error with a client-safe field error. The
// original stays reachable through Unwrap for logging.
func fieldError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var conflict *docstore.ConflictError
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return &executor.FieldError{Message: "not found", Extensions: map[string]any{"code": CodeNotFound}, Err: err}
	case errors.As(err, &conflict):
		ext := map[string]any{"code": CodeConflict}
		if conflict.Key != "" {
			ext["field"] = conflict.Key
		}
		return &executor.FieldError{Message: "conflict", Extensions: ext, Err: err}
	default:
		return &executor.FieldError{Message: "connection error", Extensions: map[string]any{"code": CodeConnection}, Err: err}
	}
}
