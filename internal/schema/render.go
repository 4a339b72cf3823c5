package schema

import (
	"strings"

	"github.com/vektah/gqlparser/v2/formatter"
)

// Render prints the registered schema as SDL, built-in types and directives
// left out. Types and directives are ordered by name.
func Render(s *Schema) string {
	if s == nil || s.doc == nil {
		return ""
	}
	var b strings.Builder
	formatter.NewFormatter(&b).FormatSchema(s.doc)
	return strings.TrimLeft(b.String(), "\n")
}
