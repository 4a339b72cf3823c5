package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// Bindings maps field coordinates ("Type.field") to resolvers.
type Bindings map[string]ResolveFunc

// Merge returns a new Bindings holding b overlaid with others, later entries winning.
func (b Bindings) Merge(others ...Bindings) Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Option customizes Register.
type Option func(*registerOptions)

type registerOptions struct {
	scalars       map[string]SerializeFunc
	typeResolvers map[string]TypeResolveFunc
}

// WithScalar sets the serializer of a custom scalar type.
func WithScalar(name string, serialize SerializeFunc) Option {
	return func(o *registerOptions) { o.scalars[name] = serialize }
}

// WithTypeResolver sets how values of an interface or union are mapped to object types.
func WithTypeResolver(name string, fn TypeResolveFunc) Option {
	return func(o *registerOptions) { o.typeResolvers[name] = fn }
}

// Register parses the type definitions, checks them, and binds resolvers.
// All problems are reported together in a *SchemaError.
func Register(typeDefs string, bindings Bindings, opts ...Option) (*Schema, error) {
	o := registerOptions{
		scalars:       map[string]SerializeFunc{},
		typeResolvers: map[string]TypeResolveFunc{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	sdl, perr := parser.ParseSchemas(validator.Prelude, &ast.Source{Name: "schema.graphql", Input: typeDefs})
	if perr != nil {
		return nil, &SchemaError{Problems: []string{gqlMessage(perr)}}
	}

	serr := &SchemaError{}
	checkDefinitions(sdl, serr)
	if len(serr.Problems) > 0 {
		return nil, serr
	}

	doc, verr := validator.ValidateSchemaDocument(sdl)
	if verr != nil {
		serr.add("%s", gqlMessage(verr))
		return nil, serr
	}
	if doc.Query == nil {
		serr.add("schema has no query type")
		return nil, serr
	}

	s := buildFromAST(doc)
	s.meta = metaFields()

	for name, serialize := range builtinScalars {
		if t := s.Types[name]; t != nil {
			t.Serialize = serialize
		}
	}
	for name, fn := range o.scalars {
		t := s.Types[name]
		if t == nil || t.Kind != TypeKindScalar {
			serr.add("scalar serializer for unknown scalar %q", name)
			continue
		}
		t.Serialize = fn
	}
	for name, fn := range o.typeResolvers {
		t := s.Types[name]
		if t == nil || !t.Kind.IsAbstract() {
			serr.add("type resolver for %q which is not an interface or union", name)
			continue
		}
		t.ResolveType = fn
	}

	coords := make([]string, 0, len(bindings))
	for coord := range bindings {
		coords = append(coords, coord)
	}
	sort.Strings(coords)
	for _, coord := range coords {
		if err := s.bind(coord, bindings[coord]); err != nil {
			serr.add("%v", err)
		}
	}
	if len(serr.Problems) > 0 {
		return nil, serr
	}
	return s, nil
}

func (s *Schema) bind(coord string, fn ResolveFunc) error {
	typeName, fieldName, ok := strings.Cut(coord, ".")
	if !ok || typeName == "" || fieldName == "" {
		return fmt.Errorf("binding %q is not of the form Type.field", coord)
	}
	if fn == nil {
		return fmt.Errorf("binding %q has no resolver", coord)
	}
	t := s.Types[typeName]
	if t == nil {
		return fmt.Errorf("binding %q references undefined type %q", coord, typeName)
	}
	if t.Kind != TypeKindObject {
		return fmt.Errorf("binding %q references %s type %q", coord, strings.ToLower(string(t.Kind)), typeName)
	}
	f := t.Field(fieldName)
	if f == nil && t.BuiltIn && strings.HasPrefix(typeName, "__") {
		// the introspection types follow the parser's prelude, which may
		// predate some fields
		return nil
	}
	if f == nil {
		return fmt.Errorf("binding %q references non-existent field %q", coord, fieldName)
	}
	f.Resolve = fn
	// introspection types are in-memory and never block
	f.Async = !strings.HasPrefix(typeName, "__")
	return nil
}

// checkDefinitions reports duplicate type names and references to undefined
// types across definitions and extensions.
func checkDefinitions(doc *ast.SchemaDocument, serr *SchemaError) {
	defined := make(map[string]int, len(doc.Definitions))
	for _, def := range doc.Definitions {
		defined[def.Name]++
	}
	for _, def := range doc.Definitions {
		if n := defined[def.Name]; n > 1 && !def.BuiltIn {
			serr.add("type %q is defined %d times", def.Name, n)
			defined[def.Name] = 1
		}
	}

	ref := func(where, name string) {
		if _, ok := defined[name]; !ok {
			serr.add("%s references undefined type %q", where, name)
		}
	}
	check := func(def *ast.Definition) {
		for _, iface := range def.Interfaces {
			ref(fmt.Sprintf("type %q", def.Name), iface)
		}
		for _, member := range def.Types {
			ref(fmt.Sprintf("union %q", def.Name), member)
		}
		for _, f := range def.Fields {
			where := fmt.Sprintf("field %s.%s", def.Name, f.Name)
			ref(where, namedType(f.Type))
			for _, arg := range f.Arguments {
				ref(where+"("+arg.Name+":)", namedType(arg.Type))
			}
		}
	}
	for _, def := range doc.Definitions {
		if !def.BuiltIn {
			check(def)
		}
	}
	for _, def := range doc.Extensions {
		if _, ok := defined[def.Name]; !ok {
			serr.add("extension of undefined type %q", def.Name)
			continue
		}
		check(def)
	}
	for _, dir := range doc.Directives {
		for _, arg := range dir.Arguments {
			ref(fmt.Sprintf("directive @%s(%s:)", dir.Name, arg.Name), namedType(arg.Type))
		}
	}
	for _, sd := range append(doc.Schema, doc.SchemaExtension...) {
		for _, op := range sd.OperationTypes {
			ref(fmt.Sprintf("schema %s", op.Operation), op.Type)
		}
	}
}

func namedType(t *ast.Type) string {
	for t.Elem != nil {
		t = t.Elem
	}
	return t.NamedType
}

func gqlMessage(err error) string {
	var gerr *gqlerror.Error
	if errors.As(err, &gerr) {
		if len(gerr.Locations) > 0 {
			return fmt.Sprintf("%d:%d: %s", gerr.Locations[0].Line, gerr.Locations[0].Column, gerr.Message)
		}
		return gerr.Message
	}
	return err.Error()
}

func metaFields() map[string]*Field {
	return map[string]*Field{
		"__schema": {
			Name:        "__schema",
			Description: "Access the current type schema of this server.",
			Type:        NonNullType(NamedType("__Schema")),
			Resolve: func(_ context.Context, p ResolveParams) (any, error) {
				return p.Info.Schema, nil
			},
		},
		"__type": {
			Name:        "__type",
			Description: "Request the type information of a single type.",
			Type:        NamedType("__Type"),
			Arguments: []*InputValue{
				{Name: "name", Type: NonNullType(NamedType("String"))},
			},
			Resolve: func(_ context.Context, p ResolveParams) (any, error) {
				name, _ := p.Args["name"].(string)
				if t, ok := p.Info.Schema.Types[name]; ok {
					return t, nil
				}
				return nil, nil
			},
		},
	}
}
