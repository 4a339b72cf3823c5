// Package introspection resolves the __Schema, __Type and related
// introspection types over the registry model.
package introspection

import (
	"context"
	"sort"

	schema "github.com/hanpama/docgraph/internal/schema"
)

// Bindings returns resolvers for the fields of the introspection types.
// The __schema and __type root fields are provided by the schema itself.
func Bindings() schema.Bindings {
	b := schema.Bindings{}
	add := func(typeName string, fields map[string]func(source any, p schema.ResolveParams) any) {
		for name, fn := range fields {
			fn := fn
			b[typeName+"."+name] = func(_ context.Context, p schema.ResolveParams) (any, error) {
				return fn(p.Source, p), nil
			}
		}
	}

	add("__Schema", map[string]func(any, schema.ResolveParams) any{
		"description": func(src any, _ schema.ResolveParams) any { return optional(src.(*schema.Schema).Description) },
		"types":       func(src any, _ schema.ResolveParams) any { return resolveSchemaTypes(src.(*schema.Schema)) },
		"queryType":   func(src any, _ schema.ResolveParams) any { return src.(*schema.Schema).GetQueryType() },
		"mutationType": func(src any, _ schema.ResolveParams) any {
			return nilIfAbsent(src.(*schema.Schema).GetMutationType())
		},
		"subscriptionType": func(src any, _ schema.ResolveParams) any {
			return nilIfAbsent(src.(*schema.Schema).GetSubscriptionType())
		},
		"directives": func(src any, _ schema.ResolveParams) any { return resolveSchemaDirectives(src.(*schema.Schema)) },
	})

	typeField := func(field string) func(any, schema.ResolveParams) any {
		return func(src any, p schema.ResolveParams) any {
			switch t := src.(type) {
			case *schema.Type:
				return resolveTypeField(p.Info.Schema, t, field, p.Args)
			case *schema.TypeRef:
				return resolveTypeRefField(p.Info.Schema, t, field)
			}
			return nil
		}
	}
	typeFields := map[string]func(any, schema.ResolveParams) any{}
	for _, f := range []string{
		"kind", "name", "description", "specifiedByURL", "fields", "interfaces",
		"possibleTypes", "enumValues", "inputFields", "ofType", "isOneOf",
	} {
		typeFields[f] = typeField(f)
	}
	add("__Type", typeFields)

	add("__Field", map[string]func(any, schema.ResolveParams) any{
		"name":        func(src any, _ schema.ResolveParams) any { return src.(*schema.Field).Name },
		"description": func(src any, _ schema.ResolveParams) any { return optional(src.(*schema.Field).Description) },
		"args": func(src any, p schema.ResolveParams) any {
			return filterInputValues(src.(*schema.Field).Arguments, p.Args)
		},
		"type": func(src any, p schema.ResolveParams) any {
			return typeValue(p.Info.Schema, src.(*schema.Field).Type)
		},
		"isDeprecated": func(src any, _ schema.ResolveParams) any { return src.(*schema.Field).IsDeprecated },
		"deprecationReason": func(src any, _ schema.ResolveParams) any {
			f := src.(*schema.Field)
			return deprecationReason(f.IsDeprecated, f.DeprecationReason)
		},
	})

	add("__InputValue", map[string]func(any, schema.ResolveParams) any{
		"name":        func(src any, _ schema.ResolveParams) any { return src.(*schema.InputValue).Name },
		"description": func(src any, _ schema.ResolveParams) any { return optional(src.(*schema.InputValue).Description) },
		"type": func(src any, p schema.ResolveParams) any {
			return typeValue(p.Info.Schema, src.(*schema.InputValue).Type)
		},
		"defaultValue": func(src any, _ schema.ResolveParams) any {
			return resolveInputValueDefaultValue(src.(*schema.InputValue))
		},
		"isDeprecated": func(src any, _ schema.ResolveParams) any { return src.(*schema.InputValue).IsDeprecated },
		"deprecationReason": func(src any, _ schema.ResolveParams) any {
			a := src.(*schema.InputValue)
			return deprecationReason(a.IsDeprecated, a.DeprecationReason)
		},
	})

	add("__EnumValue", map[string]func(any, schema.ResolveParams) any{
		"name":         func(src any, _ schema.ResolveParams) any { return src.(*schema.EnumValue).Name },
		"description":  func(src any, _ schema.ResolveParams) any { return optional(src.(*schema.EnumValue).Description) },
		"isDeprecated": func(src any, _ schema.ResolveParams) any { return src.(*schema.EnumValue).IsDeprecated },
		"deprecationReason": func(src any, _ schema.ResolveParams) any {
			ev := src.(*schema.EnumValue)
			return deprecationReason(ev.IsDeprecated, ev.DeprecationReason)
		},
	})

	add("__Directive", map[string]func(any, schema.ResolveParams) any{
		"name":         func(src any, _ schema.ResolveParams) any { return src.(*schema.Directive).Name },
		"description":  func(src any, _ schema.ResolveParams) any { return optional(src.(*schema.Directive).Description) },
		"isRepeatable": func(src any, _ schema.ResolveParams) any { return src.(*schema.Directive).IsRepeatable },
		"locations":    func(src any, _ schema.ResolveParams) any { return src.(*schema.Directive).Locations },
		"args": func(src any, p schema.ResolveParams) any {
			return filterInputValues(src.(*schema.Directive).Arguments, p.Args)
		},
	})

	return b
}

// typeValue returns the named type itself for a named reference, and the
// wrapper otherwise.
func typeValue(sch *schema.Schema, tr *schema.TypeRef) any {
	if tr == nil {
		return nil
	}
	if tr.Kind == schema.TypeRefKindNamed {
		return nilIfAbsent(sch.Types[tr.Named])
	}
	return tr
}

func resolveSchemaTypes(sch *schema.Schema) []*schema.Type {
	out := make([]*schema.Type, 0, len(sch.Types))
	for _, t := range sch.Types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func resolveSchemaDirectives(sch *schema.Schema) []*schema.Directive {
	dirs := make([]*schema.Directive, 0, len(sch.Directives))
	for _, d := range sch.Directives {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return dirs
}

func resolveTypeField(sch *schema.Schema, t *schema.Type, field string, args map[string]any) any {
	switch field {
	case "kind":
		return string(t.Kind)
	case "name":
		return t.Name
	case "description":
		return optional(t.Description)
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil
		}
		return *t.SpecifiedByURL
	case "fields":
		return resolveTypeFields(t, args)
	case "interfaces":
		return resolveTypeInterfaces(sch, t)
	case "possibleTypes":
		return resolveTypePossibleTypes(sch, t)
	case "enumValues":
		return resolveTypeEnumValues(t, args)
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil
		}
		return filterInputValues(t.InputFields, args)
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil
		}
		return t.OneOf
	}
	// named types never expose ofType
	return nil
}

// resolveTypeRefField resolves LIST and NON_NULL wrappers; their remaining
// fields are null.
func resolveTypeRefField(sch *schema.Schema, tr *schema.TypeRef, field string) any {
	switch field {
	case "kind":
		return string(tr.Kind)
	case "ofType":
		return typeValue(sch, tr.OfType)
	}
	return nil
}

func resolveTypeFields(t *schema.Type, args map[string]any) []*schema.Field {
	if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
		return nil
	}
	includeDeprecated := boolArg(args, "includeDeprecated", false)
	out := []*schema.Field{}
	for _, f := range t.Fields {
		if !includeDeprecated && f.IsDeprecated {
			continue
		}
		out = append(out, f)
	}
	return out
}

func resolveTypeInterfaces(sch *schema.Schema, t *schema.Type) []*schema.Type {
	if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
		return nil
	}
	out := make([]*schema.Type, 0, len(t.Interfaces))
	for _, name := range t.Interfaces {
		if def := sch.Types[name]; def != nil {
			out = append(out, def)
		}
	}
	return out
}

func resolveTypePossibleTypes(sch *schema.Schema, t *schema.Type) []*schema.Type {
	if !t.Kind.IsAbstract() {
		return nil
	}
	pts := []*schema.Type{}
	for _, name := range t.PossibleTypes {
		if def := sch.Types[name]; def != nil {
			pts = append(pts, def)
		}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Name < pts[j].Name })
	return pts
}

func resolveTypeEnumValues(t *schema.Type, args map[string]any) []*schema.EnumValue {
	if t.Kind != schema.TypeKindEnum {
		return nil
	}
	includeDeprecated := boolArg(args, "includeDeprecated", false)
	out := []*schema.EnumValue{}
	for _, ev := range t.EnumValues {
		if !includeDeprecated && ev.IsDeprecated {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func filterInputValues(values []*schema.InputValue, args map[string]any) []*schema.InputValue {
	includeDeprecated := boolArg(args, "includeDeprecated", false)
	out := []*schema.InputValue{}
	for _, a := range values {
		if !includeDeprecated && a.IsDeprecated {
			continue
		}
		out = append(out, a)
	}
	return out
}

func resolveInputValueDefaultValue(a *schema.InputValue) any {
	if a.DefaultLiteral == "" {
		return nil
	}
	return a.DefaultLiteral
}

func deprecationReason(deprecated bool, reason string) any {
	if !deprecated {
		return nil
	}
	return reason
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nilIfAbsent keeps a missing type from becoming a typed nil.
func nilIfAbsent(t *schema.Type) any {
	if t == nil {
		return nil
	}
	return t
}

func boolArg(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}
