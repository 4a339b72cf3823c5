package schema

import (
	"fmt"
	"strings"
)

// SchemaError reports every problem found while registering type definitions
// and resolver bindings.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	if len(e.Problems) == 1 {
		return "schema: " + e.Problems[0]
	}
	return fmt.Sprintf("schema: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *SchemaError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// NotFoundError is returned by Lookup for an unknown type or field.
type NotFoundError struct {
	Type  string
	Field string
}

func (e *NotFoundError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: type %q not found", e.Type)
	}
	return fmt.Sprintf("schema: field %q not found on type %q", e.Field, e.Type)
}
