package schema

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// buildFromAST converts a validated gqlparser schema into the registry model.
// Fields keep their declaration order; extensions are already merged.
func buildFromAST(doc *ast.Schema) *Schema {
	s := &Schema{
		Types:       make(map[string]*Type, len(doc.Types)),
		Directives:  make(map[string]*Directive, len(doc.Directives)),
		Description: doc.Description,
		doc:         doc,
	}
	if doc.Query != nil {
		s.QueryType = doc.Query.Name
	}
	if doc.Mutation != nil {
		s.MutationType = doc.Mutation.Name
	}
	if doc.Subscription != nil {
		s.SubscriptionType = doc.Subscription.Name
	}

	for name, def := range doc.Types {
		var t *Type
		switch def.Kind {
		case ast.Object:
			t = buildObject(def)
		case ast.Interface:
			t = buildInterface(def, doc.PossibleTypes[name])
		case ast.Enum:
			t = buildEnum(def)
		case ast.InputObject:
			t = buildInput(def)
		case ast.Union:
			t = buildUnion(def)
		case ast.Scalar:
			t = buildScalar(def)
		default:
			continue
		}
		t.BuiltIn = def.BuiltIn
		s.Types[name] = t
	}
	for name, dir := range doc.Directives {
		s.Directives[name] = buildDirective(dir)
	}
	return s
}

func newType(def *ast.Definition, kind TypeKind) *Type {
	return &Type{Name: def.Name, Kind: kind, Description: def.Description}
}

func buildObject(def *ast.Definition) *Type {
	t := newType(def, TypeKindObject)
	t.Interfaces = append(t.Interfaces, def.Interfaces...)
	buildFields(t, def.Fields)
	return t
}

func buildInterface(def *ast.Definition, possible []*ast.Definition) *Type {
	t := newType(def, TypeKindInterface)
	t.Interfaces = append(t.Interfaces, def.Interfaces...)
	for _, p := range possible {
		t.PossibleTypes = append(t.PossibleTypes, p.Name)
	}
	buildFields(t, def.Fields)
	return t
}

func buildFields(t *Type, defs ast.FieldList) {
	t.fields = make(map[string]*Field, len(defs))
	for _, fd := range defs {
		// introspection meta fields are served from Schema.meta
		if len(fd.Name) > 1 && fd.Name[:2] == "__" {
			continue
		}
		f := buildField(fd)
		t.Fields = append(t.Fields, f)
		t.fields[f.Name] = f
	}
}

func buildField(def *ast.FieldDefinition) *Field {
	f := &Field{
		Name:        def.Name,
		Description: def.Description,
		Type:        buildTypeRef(def.Type),
		Resolve:     PropertyResolver,
	}
	f.IsDeprecated, f.DeprecationReason = deprecation(def.Directives)
	for _, arg := range def.Arguments {
		f.Arguments = append(f.Arguments, buildArgument(arg))
	}
	return f
}

func buildEnum(def *ast.Definition) *Type {
	t := newType(def, TypeKindEnum)
	for _, v := range def.EnumValues {
		e := &EnumValue{Name: v.Name, Description: v.Description}
		e.IsDeprecated, e.DeprecationReason = deprecation(v.Directives)
		t.EnumValues = append(t.EnumValues, e)
	}
	return t
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return NonNullType(buildTypeRef(&inner))
	}
	if t.Elem != nil {
		return ListType(buildTypeRef(t.Elem))
	}
	return NamedType(t.NamedType)
}

func buildArgument(a *ast.ArgumentDefinition) *InputValue {
	in := &InputValue{
		Name:         a.Name,
		Description:  a.Description,
		Type:         buildTypeRef(a.Type),
		DefaultValue:   constValue(a.DefaultValue),
		DefaultLiteral: literal(a.DefaultValue),
	}
	in.IsDeprecated, in.DeprecationReason = deprecation(a.Directives)
	return in
}

func buildInput(def *ast.Definition) *Type {
	t := newType(def, TypeKindInputObject)
	t.OneOf = def.Directives.ForName("oneOf") != nil
	for _, fd := range def.Fields {
		in := &InputValue{
			Name:         fd.Name,
			Description:  fd.Description,
			Type:         buildTypeRef(fd.Type),
			DefaultValue:   constValue(fd.DefaultValue),
			DefaultLiteral: literal(fd.DefaultValue),
		}
		in.IsDeprecated, in.DeprecationReason = deprecation(fd.Directives)
		t.InputFields = append(t.InputFields, in)
	}
	return t
}

func buildUnion(def *ast.Definition) *Type {
	t := newType(def, TypeKindUnion)
	t.PossibleTypes = append(t.PossibleTypes, def.Types...)
	return t
}

func buildScalar(def *ast.Definition) *Type {
	t := newType(def, TypeKindScalar)
	if d := def.Directives.ForName("specifiedBy"); d != nil {
		if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
			url := arg.Value.Raw
			t.SpecifiedByURL = &url
		}
	}
	return t
}

func buildDirective(dir *ast.DirectiveDefinition) *Directive {
	d := &Directive{
		Name:         dir.Name,
		Description:  dir.Description,
		IsRepeatable: dir.IsRepeatable,
		BuiltIn:      dir.Position != nil && dir.Position.Src != nil && dir.Position.Src.BuiltIn,
	}
	for _, loc := range dir.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range dir.Arguments {
		d.Arguments = append(d.Arguments, buildArgument(arg))
	}
	return d
}

func deprecation(dirs ast.DirectiveList) (bool, string) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return false, ""
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return true, arg.Value.Raw
	}
	return true, "No longer supported"
}

func literal(v *ast.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func constValue(v *ast.Value) any {
	if v == nil {
		return nil
	}
	out, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return out
}
