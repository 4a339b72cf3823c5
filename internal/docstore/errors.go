package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no document matched.
	ErrNotFound = errors.New("docstore: not found")
	// ErrConsumed reports a second iteration of a FetchMany sequence.
	ErrConsumed = errors.New("docstore: result already consumed")
	// ErrClosed reports use of a closed Store.
	ErrClosed = errors.New("docstore: closed")
)

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Collection string
	// Key names the violated unique field, when known.
	Key string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("docstore: conflict on %s.%s", e.Collection, e.Key)
	}
	return fmt.Sprintf("docstore: conflict in %s", e.Collection)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ConnectionError reports that the store could not be reached or did not
// answer, including pool acquisition timeouts.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("docstore: %s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// normalize keeps the boundary errors and converts anything else into a
// *ConnectionError.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		conflict *ConflictError
		conn     *ConnectionError
	)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConsumed):
		return err
	case errors.As(err, &conflict):
		return conflict
	case errors.As(err, &conn):
		return conn
	}
	return &ConnectionError{Op: op, Err: err}
}
