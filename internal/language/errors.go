package language

import (
	"fmt"
	"strings"
)

// Location is a 1-based position in the query text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SyntaxError reports malformed query text.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	if e.Line == 0 {
		return "syntax error: " + e.Message
	}
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// Locations returns the error position, if known.
func (e *SyntaxError) Locations() []Location {
	if e.Line == 0 {
		return nil
	}
	return []Location{{Line: e.Line, Column: e.Column}}
}

// Violation is a single validation rule failure.
type Violation struct {
	Message   string
	Rule      string
	Locations []Location
	Path      []any
}

// ValidationError carries every violation found in a document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
