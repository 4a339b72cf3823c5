// Package docresolver binds schema fields to document store operations
// declared with directives in the type definitions:
//
//	type Query {
//	  book(id: ID!): Book @findOne(collection: "books")
//	  books(genre: String, limit: Int, offset: Int): [Book!]! @findMany(collection: "books", sort: "title")
//	}
//	type Author {
//	  books: [Book!]! @findMany(collection: "books", key: "authorId", from: "_id")
//	}
//	type Mutation {
//	  addBook(input: BookInput!): Book! @insertOne(collection: "books")
//	}
package docresolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanpama/docgraph/internal/docstore"
	"github.com/hanpama/docgraph/internal/introspection"
	language "github.com/hanpama/docgraph/internal/language"
	schema "github.com/hanpama/docgraph/internal/schema"
)

// Directives declares the binding directives. TypeDefs prepends it to a
// schema that uses them.
const Directives = `directive @findOne(collection: String!, key: String = "_id", from: String) on FIELD_DEFINITION
directive @findMany(collection: String!, key: String, from: String, sort: String, desc: Boolean = false) on FIELD_DEFINITION
directive @insertOne(collection: String!, input: String = "input") on FIELD_DEFINITION
directive @updateOne(collection: String!, input: String = "input") on FIELD_DEFINITION
directive @deleteOne(collection: String!) on FIELD_DEFINITION
`

// Arguments with these names page a @findMany field instead of filtering it.
const (
	limitArg  = "limit"
	offsetArg = "offset"
	filterArg = "filter"
)

// Options configure the generated resolvers.
type Options struct {
	// DefaultPageSize applies to @findMany fields queried without a limit.
	DefaultPageSize int
	// MaxPageSize caps the limit of @findMany fields.
	MaxPageSize int
}

type Option func(*Options)

func WithDefaultPageSize(n int) Option { return func(o *Options) { o.DefaultPageSize = n } }
func WithMaxPageSize(n int) Option     { return func(o *Options) { o.MaxPageSize = n } }

func defaultOptions() Options {
	return Options{DefaultPageSize: 20, MaxPageSize: 100}
}

// TypeDefs returns sdl with the binding directive definitions prepended.
func TypeDefs(sdl string) string {
	return Directives + "\n" + sdl
}

// Build registers sdl with resolvers for its directives, the introspection
// resolvers and extra, which may not bind a directive-bound field.
func Build(sdl string, store *docstore.Store, extra schema.Bindings, opts ...Option) (*schema.Schema, error) {
	b, err := Bind(sdl, store, extra, opts...)
	if err != nil {
		return nil, err
	}
	return schema.Register(TypeDefs(sdl), introspection.Bindings().Merge(b))
}

// BindError lists every misuse of the binding directives.
type BindError struct {
	Problems []string
}

func (e *BindError) Error() string {
	return "invalid store bindings:\n  " + strings.Join(e.Problems, "\n  ")
}

// Bind returns bindings for every directive-annotated field of sdl merged
// with extra. Resolvers reach the store through closures over store.
func Bind(sdl string, store *docstore.Store, extra schema.Bindings, opts ...Option) (schema.Bindings, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxPageSize > 0 && o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}

	doc, err := language.ParseSchema("schema.graphql", sdl)
	if err != nil {
		return nil, err
	}

	out := schema.Bindings{}
	berr := &BindError{}
	visit := func(def *language.Definition) {
		if def.Kind != language.Object {
			return
		}
		for _, f := range def.Fields {
			coord := def.Name + "." + f.Name
			var bound []string
			for _, d := range f.Directives {
				fn, ok, err := resolver(store, o, f, d)
				if err != nil {
					berr.Problems = append(berr.Problems, fmt.Sprintf("%s @%s: %v", coord, d.Name, err))
					continue
				}
				if !ok {
					continue
				}
				bound = append(bound, "@"+d.Name)
				out[coord] = fn
			}
			if len(bound) > 1 {
				berr.Problems = append(berr.Problems, fmt.Sprintf("%s has more than one store directive (%s)", coord, strings.Join(bound, ", ")))
			}
			if _, ok := extra[coord]; ok && len(bound) > 0 {
				berr.Problems = append(berr.Problems, fmt.Sprintf("%s is bound by %s and by an explicit resolver", coord, bound[0]))
			}
		}
	}
	for _, def := range doc.Definitions {
		visit(def)
	}
	for _, def := range doc.Extensions {
		visit(def)
	}
	if len(berr.Problems) > 0 {
		return nil, berr
	}
	return out.Merge(extra), nil
}

func resolver(store *docstore.Store, o Options, f *language.FieldDefinition, d *language.Directive) (schema.ResolveFunc, bool, error) {
	collection := argString(d, "collection", "")
	switch d.Name {
	case "findOne", "findMany", "insertOne", "updateOne", "deleteOne":
		if collection == "" {
			return nil, false, errors.New("collection is required")
		}
	default:
		return nil, false, nil
	}
	isList := f.Type.Elem != nil

	switch d.Name {
	case "findOne":
		if isList {
			return nil, false, errors.New("field must not return a list")
		}
		j := join{key: argString(d, "key", docstore.IDField), from: argString(d, "from", "")}
		return findOne(store, collection, j), true, nil

	case "findMany":
		if !isList {
			return nil, false, errors.New("field must return a list")
		}
		j := join{key: argString(d, "key", ""), from: argString(d, "from", "")}
		if j.from != "" && j.key == "" {
			return nil, false, errors.New("from requires key")
		}
		page := docstore.Page{Sort: argString(d, "sort", ""), Desc: argString(d, "desc", "false") == "true"}
		return findMany(store, o, collection, j, page), true, nil

	case "insertOne", "updateOne":
		input := argString(d, "input", "input")
		if f.Arguments.ForName(input) == nil {
			return nil, false, fmt.Errorf("field has no argument %q", input)
		}
		if d.Name == "insertOne" {
			return insertOne(store, collection, input), true, nil
		}
		if !hasSelector(f, input) {
			return nil, false, errNoSelector
		}
		return updateOne(store, collection, input), true, nil

	default:
		if !hasSelector(f) {
			return nil, false, errNoSelector
		}
		return deleteOne(store, collection), true, nil
	}
}

var errNoSelector = errors.New("field needs a non-null argument selecting the document")

// hasSelector reports whether f has a non-null argument outside exclude, so
// the write filter can never be empty.
func hasSelector(f *language.FieldDefinition, exclude ...string) bool {
next:
	for _, a := range f.Arguments {
		if a.Type == nil || !a.Type.NonNull {
			continue
		}
		for _, ex := range exclude {
			if a.Name == ex {
				continue next
			}
		}
		return true
	}
	return false
}

// join relates a nested field to its parent: filter[key] = parent[from].
type join struct {
	key  string
	from string
}

// apply adds the join condition to filter. It reports false when the parent
// has no value to join on.
func (j join) apply(filter docstore.Filter, source any) bool {
	if j.from == "" {
		return true
	}
	v := schema.Property(source, j.from)
	if v == nil {
		return false
	}
	filter[j.key] = v
	return true
}

func findOne(store *docstore.Store, collection string, j join) schema.ResolveFunc {
	return func(ctx context.Context, p schema.ResolveParams) (any, error) {
		filter := filterFromArgs(p.Args)
		if !j.apply(filter, p.Source) {
			return nil, nil
		}
		rec, err := store.FetchOne(ctx, collection, filter)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fieldError(err)
		}
		return map[string]any(rec), nil
	}
}

func findMany(store *docstore.Store, o Options, collection string, j join, sorting docstore.Page) schema.ResolveFunc {
	return func(ctx context.Context, p schema.ResolveParams) (any, error) {
		filter := filterFromArgs(p.Args, limitArg, offsetArg, filterArg)
		if m, ok := p.Args[filterArg].(map[string]any); ok {
			for k, v := range filterFromArgs(m) {
				filter[k] = v
			}
		}
		if !j.apply(filter, p.Source) {
			return []any{}, nil
		}

		page := sorting
		page.Limit = o.DefaultPageSize
		if n, ok := intArg(p.Args[limitArg]); ok && n > 0 {
			page.Limit = n
		}
		if o.MaxPageSize > 0 && (page.Limit <= 0 || page.Limit > o.MaxPageSize) {
			page.Limit = o.MaxPageSize
		}
		if n, ok := intArg(p.Args[offsetArg]); ok && n > 0 {
			page.Offset = n
		}

		out := []any{}
		for rec, err := range store.FetchMany(ctx, collection, filter, page) {
			if err != nil {
				return nil, fieldError(err)
			}
			out = append(out, map[string]any(rec))
		}
		return out, nil
	}
}

func insertOne(store *docstore.Store, collection, input string) schema.ResolveFunc {
	return func(ctx context.Context, p schema.ResolveParams) (any, error) {
		doc, _ := p.Args[input].(map[string]any)
		rec, err := store.Write(ctx, collection, docstore.Mutation{
			Kind: docstore.Insert,
			Doc:  docstore.Record(renameID(doc)),
		})
		if err != nil {
			return nil, fieldError(err)
		}
		return map[string]any(rec), nil
	}
}

func updateOne(store *docstore.Store, collection, input string) schema.ResolveFunc {
	return func(ctx context.Context, p schema.ResolveParams) (any, error) {
		set, _ := p.Args[input].(map[string]any)
		filter := filterFromArgs(p.Args, input)
		if len(filter) == 0 {
			return nil, fieldError(docstore.ErrNotFound)
		}
		rec, err := store.Write(ctx, collection, docstore.Mutation{
			Kind:   docstore.Update,
			Filter: filter,
			Doc:    docstore.Record(renameID(set)),
		})
		if err != nil {
			return nil, fieldError(err)
		}
		return map[string]any(rec), nil
	}
}

func deleteOne(store *docstore.Store, collection string) schema.ResolveFunc {
	return func(ctx context.Context, p schema.ResolveParams) (any, error) {
		filter := filterFromArgs(p.Args)
		if len(filter) == 0 {
			return nil, fieldError(docstore.ErrNotFound)
		}
		rec, err := store.Write(ctx, collection, docstore.Mutation{
			Kind:   docstore.Delete,
			Filter: filter,
		})
		if err != nil {
			return nil, fieldError(err)
		}
		return map[string]any(rec), nil
	}
}

// filterFromArgs builds an equality filter from field arguments, skipping
// the excluded names and null values. The argument "id" filters on _id.
func filterFromArgs(args map[string]any, exclude ...string) docstore.Filter {
	filter := docstore.Filter{}
next:
	for name, v := range args {
		if v == nil {
			continue
		}
		for _, ex := range exclude {
			if name == ex {
				continue next
			}
		}
		if name == "id" {
			name = docstore.IDField
		}
		filter[name] = v
	}
	return filter
}

// renameID stores an "id" input field as the document _id.
func renameID(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "id" {
			k = docstore.IDField
		}
		out[k] = v
	}
	return out
}

func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func argString(d *language.Directive, name, def string) string {
	a := d.Arguments.ForName(name)
	if a == nil || a.Value == nil || a.Value.Kind == language.NullValue {
		return def
	}
	return a.Value.Raw
}
