package schema

import (
	"context"
	"reflect"
	"strings"
)

// PropertyResolver is bound to every field without an explicit resolver.
// It reads the field from a map source (falling back from "id" to "_id")
// or from an exported struct field matched by json tag or name.
func PropertyResolver(_ context.Context, p ResolveParams) (any, error) {
	return Property(p.Source, p.Info.FieldName), nil
}

// Property reads a named property from a map or struct value.
func Property(source any, name string) any {
	switch src := source.(type) {
	case nil:
		return nil
	case map[string]any:
		return mapProperty(src, name)
	}
	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return mapProperty(m, name)
	case reflect.Struct:
		return structProperty(rv, name)
	}
	return nil
}

func mapProperty(m map[string]any, name string) any {
	if v, ok := m[name]; ok {
		return v
	}
	if name == "id" {
		return m["_id"]
	}
	return nil
}

func structProperty(rv reflect.Value, name string) any {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if tag == name || (tag == "" && strings.EqualFold(sf.Name, name)) {
			return rv.Field(i).Interface()
		}
	}
	return nil
}
