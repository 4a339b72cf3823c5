package schema

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
)

// Schema represents the complete GraphQL schema. It is immutable once
// returned by Register and safe for concurrent reads.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // All named types keyed by name
	Directives       map[string]*Directive
	Description      string

	meta map[string]*Field // __schema and __type, reachable from the query root only
	doc  *ast.Schema
}

// GetQueryType returns the root query type (may be nil if absent)
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent)
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent)
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// AST returns the validated gqlparser schema used for query validation.
func (s *Schema) AST() *ast.Schema { return s.doc }

// MetaField returns the introspection root field with the given name.
func (s *Schema) MetaField(name string) *Field { return s.meta[name] }

// Field returns the field definition on the named type, or nil.
// Introspection root fields are returned for the query type.
func (s *Schema) Field(typeName, fieldName string) *Field {
	if typeName == s.QueryType {
		if f, ok := s.meta[fieldName]; ok {
			return f
		}
	}
	t := s.Types[typeName]
	if t == nil {
		return nil
	}
	return t.Field(fieldName)
}

// Lookup returns the return type, argument list and bound resolver of a field.
func (s *Schema) Lookup(typeName, fieldName string) (*TypeRef, []*InputValue, ResolveFunc, error) {
	if _, ok := s.Types[typeName]; !ok {
		return nil, nil, nil, &NotFoundError{Type: typeName}
	}
	f := s.Field(typeName, fieldName)
	if f == nil {
		return nil, nil, nil, &NotFoundError{Type: typeName, Field: fieldName}
	}
	return f.Type, f.Arguments, f.Resolve, nil
}

// IsPossibleType reports whether the object type can be returned where the
// abstract (or identical) type is expected.
func (s *Schema) IsPossibleType(abstractName, objectName string) bool {
	if abstractName == objectName {
		return true
	}
	t := s.Types[abstractName]
	if t == nil {
		return false
	}
	for _, name := range t.PossibleTypes {
		if name == objectName {
			return true
		}
	}
	return false
}

// Type is a named GraphQL type (object, interface, union, scalar, enum, input)
type Type struct {
	Name           string
	Kind           TypeKind
	Description    string
	Fields         []*Field      // For OBJECT and INTERFACE
	Interfaces     []string      // For OBJECT and INTERFACE (implemented/extended)
	PossibleTypes  []string      // For INTERFACE and UNION
	EnumValues     []*EnumValue  // For ENUM
	InputFields    []*InputValue // For INPUT_OBJECT
	SpecifiedByURL *string
	OneOf          bool
	BuiltIn        bool

	// Serialize converts an internal value of a SCALAR into its wire form.
	Serialize SerializeFunc `json:"-"`
	// ResolveType names the concrete object type of a value of an INTERFACE or UNION.
	ResolveType TypeResolveFunc `json:"-"`

	fields map[string]*Field
}

// Field returns the named field, or nil.
func (t *Type) Field(name string) *Field {
	if t.fields != nil {
		return t.fields[name]
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// HasEnumValue reports whether name is one of the enum's values.
func (t *Type) HasEnumValue(name string) bool {
	for _, v := range t.EnumValues {
		if v.Name == name {
			return true
		}
	}
	return false
}

// Field represents a field on an object or interface
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	IsDeprecated      bool
	DeprecationReason string

	// Resolve is bound once during Register. Unbound fields use PropertyResolver.
	Resolve ResolveFunc `json:"-"`
	// Async marks fields whose resolver may block on I/O; siblings of such
	// fields are resolved concurrently during query execution.
	Async bool
}

// ResolveFunc produces the value of one field.
type ResolveFunc func(ctx context.Context, p ResolveParams) (any, error)

// SerializeFunc converts a resolved leaf value into its JSON representation.
type SerializeFunc func(value any) (any, error)

// TypeResolveFunc returns the object type name for a value of an abstract type.
type TypeResolveFunc func(value any) (string, error)

// ResolveParams is passed to every resolver.
type ResolveParams struct {
	Source any
	Args   map[string]any
	Info   ResolveInfo
}

// ResolveInfo describes the field being resolved.
type ResolveInfo struct {
	FieldName  string
	Alias      string
	ParentType *Type
	ReturnType *TypeRef
	Path       []any
	Schema     *Schema
}

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// IsAbstract reports whether the kind is INTERFACE or UNION.
func (k TypeKind) IsAbstract() bool { return k == TypeKindInterface || k == TypeKindUnion }

// IsLeaf reports whether the kind is SCALAR or ENUM.
func (k TypeKind) IsLeaf() bool { return k == TypeKindScalar || k == TypeKindEnum }

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

// String renders the reference in SDL notation, e.g. "[Post!]!".
func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	default:
		return t.Named
	}
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	// DefaultLiteral is DefaultValue in GraphQL syntax, as declared.
	DefaultLiteral    string
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
	BuiltIn      bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }
