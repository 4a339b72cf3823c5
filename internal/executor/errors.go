package executor

import (
	"errors"
	"fmt"
	"strings"

	language "github.com/hanpama/docgraph/internal/language"
)

type (
	// SyntaxError reports malformed query text.
	SyntaxError = language.SyntaxError
	// ValidationError carries every violation of a schema-invalid document.
	ValidationError = language.ValidationError
)

// AmbiguousOperationError is returned when a document holds several
// operations and no operation name was given.
type AmbiguousOperationError struct {
	Operations []string
}

func (e *AmbiguousOperationError) Error() string {
	return fmt.Sprintf("Must provide operation name if query contains multiple operations (%s).", strings.Join(e.Operations, ", "))
}

// FieldError may be returned by resolvers to control the message and
// extensions of the located error reported for the field.
type FieldError struct {
	Message    string
	Extensions map[string]any
	Err        error
}

func (e *FieldError) Error() string { return e.Message }

func (e *FieldError) Unwrap() error { return e.Err }

// InternalError reports an unhandled fault (a panic) during execution.
// Its details are for logs only.
type InternalError struct {
	Value any
	Stack []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

var errInternalFault = errors.New("internal error")

func locatedError(err error, path Path, fields []*language.Field) GraphQLError {
	ge := GraphQLError{Message: err.Error(), Path: path}
	var fe *FieldError
	if errors.As(err, &fe) {
		ge.Message = fe.Message
		ge.Extensions = fe.Extensions
	}
	for _, f := range fields {
		if f.Position != nil {
			ge.Locations = append(ge.Locations, language.Location{Line: f.Position.Line, Column: f.Position.Column})
			break
		}
	}
	return ge
}
