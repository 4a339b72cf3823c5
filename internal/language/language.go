package language

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
	_ "github.com/vektah/gqlparser/v2/validator/rules"
)

// ParseQuery parses an executable document. Malformed input yields *SyntaxError.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query.graphql", Input: source})
	if err != nil {
		return nil, syntaxError(err)
	}
	return doc, nil
}

// ParseSchema parses a type system document without validating it.
func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, syntaxError(err)
	}
	return doc, nil
}

// Validate checks the document against the schema and returns every
// violation found, or nil when the document is valid.
func Validate(schema *ast.Schema, doc *QueryDocument) error {
	list := validator.Validate(schema, doc)
	if len(list) == 0 {
		return nil
	}
	verr := &ValidationError{}
	for _, e := range list {
		verr.Violations = append(verr.Violations, violation(e))
	}
	return verr
}

// CoerceVariables validates raw variable values against the operation's
// variable definitions, applying defaults.
func CoerceVariables(schema *ast.Schema, op *OperationDefinition, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	vars, err := validator.VariableValues(schema, op, raw)
	if err != nil {
		var gerr *gqlerror.Error
		if errors.As(err, &gerr) {
			return nil, &ValidationError{Violations: []Violation{violation(gerr)}}
		}
		return nil, &ValidationError{Violations: []Violation{{Message: err.Error()}}}
	}
	verr := &ValidationError{}
	for _, def := range op.VariableDefinitions {
		v, ok := vars[def.Variable]
		if !ok {
			continue
		}
		if msg, path := checkInts(schema, def.Type, v, []any{"variable", def.Variable}); msg != "" {
			violation := Violation{Message: msg, Path: path}
			if def.Position != nil {
				violation.Locations = []Location{{Line: def.Position.Line, Column: def.Position.Column}}
			}
			verr.Violations = append(verr.Violations, violation)
		}
	}
	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return vars, nil
}

// checkInts finds an Int position holding a number that is not a 32-bit
// integer. JSON numbers arrive as float64 and pass the variable validator.
func checkInts(schema *ast.Schema, typ *ast.Type, v any, path []any) (string, []any) {
	if v == nil || typ == nil {
		return "", nil
	}
	if typ.Elem != nil {
		items, ok := v.([]any)
		if !ok {
			return checkInts(schema, typ.Elem, v, path)
		}
		for i, item := range items {
			if msg, p := checkInts(schema, typ.Elem, item, append(path[:len(path):len(path)], i)); msg != "" {
				return msg, p
			}
		}
		return "", nil
	}
	if typ.NamedType == "Int" {
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case float32:
			f = float64(n)
		case json.Number:
			parsed, err := n.Float64()
			if err != nil {
				return fmt.Sprintf("Int cannot represent %s", n), path
			}
			f = parsed
		default:
			return "", nil
		}
		if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return fmt.Sprintf("Int cannot represent non 32-bit integer value: %v", v), path
		}
		return "", nil
	}
	def := schema.Types[typ.NamedType]
	obj, ok := v.(map[string]any)
	if def == nil || def.Kind != ast.InputObject || !ok {
		return "", nil
	}
	for _, field := range def.Fields {
		if msg, p := checkInts(schema, field.Type, obj[field.Name], append(path[:len(path):len(path)], field.Name)); msg != "" {
			return msg, p
		}
	}
	return "", nil
}

func syntaxError(err error) error {
	var gerr *gqlerror.Error
	if !errors.As(err, &gerr) {
		return &SyntaxError{Message: err.Error()}
	}
	serr := &SyntaxError{Message: gerr.Message}
	if len(gerr.Locations) > 0 {
		serr.Line = gerr.Locations[0].Line
		serr.Column = gerr.Locations[0].Column
	}
	return serr
}

func violation(e *gqlerror.Error) Violation {
	v := Violation{Message: e.Message, Rule: e.Rule}
	for _, loc := range e.Locations {
		v.Locations = append(v.Locations, Location{Line: loc.Line, Column: loc.Column})
	}
	for _, p := range e.Path {
		switch el := p.(type) {
		case ast.PathName:
			v.Path = append(v.Path, string(el))
		case ast.PathIndex:
			v.Path = append(v.Path, int(el))
		}
	}
	return v
}
