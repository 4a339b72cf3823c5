package executor

import (
	"errors"

	language "github.com/hanpama/docgraph/internal/language"
)

type Path []PathElement

// PathElement is a response key (string) or list index (int).
type PathElement = any

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string              `json:"message"`
	Path       Path                `json:"path,omitempty"`
	Locations  []language.Location `json:"locations,omitempty"`
	Extensions map[string]any      `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// RequestErrors converts a request-level failure (syntax, validation,
// operation selection) into response errors.
func RequestErrors(err error) []GraphQLError {
	var (
		syntaxErr     *SyntaxError
		validationErr *ValidationError
	)
	switch {
	case errors.As(err, &syntaxErr):
		return []GraphQLError{{
			Message:   "Syntax Error: " + syntaxErr.Message,
			Locations: syntaxErr.Locations(),
		}}
	case errors.As(err, &validationErr):
		out := make([]GraphQLError, 0, len(validationErr.Violations))
		for _, v := range validationErr.Violations {
			ge := GraphQLError{Message: v.Message, Locations: v.Locations}
			if len(v.Path) > 0 {
				ge.Path = Path(v.Path)
			}
			out = append(out, ge)
		}
		return out
	default:
		return []GraphQLError{{Message: err.Error()}}
	}
}
