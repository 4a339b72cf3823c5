package docresolver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/docgraph/internal/docstore"
	"github.com/hanpama/docgraph/internal/docstore/badgerstore"
	"github.com/hanpama/docgraph/internal/executor"
	schema "github.com/hanpama/docgraph/internal/schema"
)

const librarySDL = `
type Query {
  book(id: ID!): Book @findOne(collection: "books")
  books(authorId: ID, limit: Int, offset: Int): [Book!]! @findMany(collection: "books", sort: "year")
  author(id: ID!): Author @findOne(collection: "authors")
}

type Mutation {
  addAuthor(input: AuthorInput!): Author! @insertOne(collection: "authors")
  renameBook(id: ID!, input: BookPatch!): Book @updateOne(collection: "books")
  removeBook(id: ID!): Book @deleteOne(collection: "books")
}

type Book {
  id: ID!
  title: String!
  year: Int
  author: Author @findOne(collection: "authors", from: "authorId")
}

type Author {
  id: ID!
  name: String!
  email: String
  books(limit: Int): [Book!]! @findMany(collection: "books", key: "authorId", from: "_id", sort: "year", desc: true)
}

input AuthorInput {
  id: ID
  name: String!
  email: String
}

input BookPatch {
  title: String
}
`

func seed(t *testing.T) *docstore.Store {
	t.Helper()
	d, err := badgerstore.Open(badgerstore.Options{Unique: map[string][]string{"authors": {"email"}}})
	require.NoError(t, err)
	s := docstore.New(d)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	ctx := context.Background()
	docs := map[string][]docstore.Record{
		"authors": {
			{"_id": "a1", "name": "Frank Herbert", "email": "frank@example.com"},
			{"_id": "a2", "name": "Jane Austen"},
		},
		"books": {
			{"_id": "b1", "title": "Dune", "year": 1965, "authorId": "a1"},
			{"_id": "b2", "title": "Dune Messiah", "year": 1969, "authorId": "a1"},
			{"_id": "b3", "title": "Emma", "year": 1815, "authorId": "a2"},
		},
	}
	for coll, recs := range docs {
		for _, r := range recs {
			_, err := s.Write(ctx, coll, docstore.Mutation{Kind: docstore.Insert, Doc: r})
			require.NoError(t, err)
		}
	}
	return s
}

func newExecutor(t *testing.T, store *docstore.Store, opts ...Option) *executor.Executor {
	t.Helper()
	s, err := Build(librarySDL, store, nil, opts...)
	require.NoError(t, err)
	exec, err := executor.New(s)
	require.NoError(t, err)
	t.Cleanup(exec.Close)
	return exec
}

func run(t *testing.T, exec *executor.Executor, query string, vars map[string]any) *executor.ExecutionResult {
	t.Helper()
	res, err := exec.Execute(context.Background(), executor.Request{Query: query, Variables: vars})
	require.NoError(t, err)
	for i := range res.Errors {
		res.Errors[i].Locations = nil
	}
	return res
}

func TestFind_Result(t *testing.T) {
	exec := newExecutor(t, seed(t))

	tests := []struct {
		name  string
		query string
		want  *executor.ExecutionResult
	}{
		{
			name:  "findOne by id with a joined parent",
			query: `{ book(id: "b1") { id title author { name } } }`,
			want: &executor.ExecutionResult{Data: map[string]any{
				"book": map[string]any{"id": "b1", "title": "Dune", "author": map[string]any{"name": "Frank Herbert"}},
			}},
		},
		{
			name:  "findOne missing is null",
			query: `{ book(id: "nope") { title } }`,
			want:  &executor.ExecutionResult{Data: map[string]any{"book": nil}},
		},
		{
			name:  "findMany sorted with filter and page",
			query: `{ books(authorId: "a1", limit: 1, offset: 1) { title } }`,
			want: &executor.ExecutionResult{Data: map[string]any{
				"books": []any{map[string]any{"title": "Dune Messiah"}},
			}},
		},
		{
			name:  "findMany joined on the parent id",
			query: `{ author(id: "a1") { name books { title year } } }`,
			want: &executor.ExecutionResult{Data: map[string]any{
				"author": map[string]any{"name": "Frank Herbert", "books": []any{
					map[string]any{"title": "Dune Messiah", "year": 1969},
					map[string]any{"title": "Dune", "year": 1965},
				}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, exec, tt.query, nil)
			// Pattern: Result comparison
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindMany_PageSize(t *testing.T) {
	exec := newExecutor(t, seed(t), WithDefaultPageSize(2), WithMaxPageSize(2))

	res := run(t, exec, `{ books { id } }`, nil)
	require.Len(t, res.Data.(map[string]any)["books"], 2)

	res = run(t, exec, `{ books(limit: 50) { id } }`, nil)
	require.Len(t, res.Data.(map[string]any)["books"], 2)
}

func TestWrites_Result(t *testing.T) {
	exec := newExecutor(t, seed(t))

	t.Run("insert", func(t *testing.T) {
		got := run(t, exec, `mutation($in: AuthorInput!) { addAuthor(input: $in) { id name } }`,
			map[string]any{"in": map[string]any{"id": "a3", "name": "James Joyce"}})
		want := &executor.ExecutionResult{Data: map[string]any{
			"addAuthor": map[string]any{"id": "a3", "name": "James Joyce"},
		}}
		// Pattern: Result comparison
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("result mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("insert conflict", func(t *testing.T) {
		got := run(t, exec, `mutation { addAuthor(input: {name: "Imposter", email: "frank@example.com"}) { id } }`, nil)
		want := &executor.ExecutionResult{Errors: []executor.GraphQLError{{
			Message:    "conflict",
			Path:       executor.Path{"addAuthor"},
			Extensions: map[string]any{"code": CodeConflict, "field": "email"},
		}}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("result mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("update", func(t *testing.T) {
		got := run(t, exec, `mutation { renameBook(id: "b3", input: {title: "Emma (1815)"}) { id title year } }`, nil)
		want := &executor.ExecutionResult{Data: map[string]any{
			"renameBook": map[string]any{"id": "b3", "title": "Emma (1815)", "year": 1815},
		}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("result mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("delete then delete again", func(t *testing.T) {
		got := run(t, exec, `mutation { first: removeBook(id: "b2") { title } second: removeBook(id: "b2") { title } }`, nil)
		want := &executor.ExecutionResult{
			Data: map[string]any{"first": map[string]any{"title": "Dune Messiah"}, "second": nil},
			Errors: []executor.GraphQLError{{
				Message:    "not found",
				Path:       executor.Path{"second"},
				Extensions: map[string]any{"code": CodeNotFound},
			}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("result mismatch (-want +got):\n%s", diff)
		}
	})
}

// downDriver fails every operation the way an unreachable backend does.
type downDriver struct{}

var errDown = errors.New("dial tcp 127.0.0.1:27017: connect: connection refused")

func (downDriver) Name() string { return "down" }
func (downDriver) FindOne(context.Context, string, docstore.Filter) (docstore.Record, error) {
	return nil, errDown
}
func (downDriver) Find(context.Context, string, docstore.Filter, docstore.Page) (docstore.Cursor, error) {
	return nil, errDown
}
func (downDriver) Insert(context.Context, string, docstore.Record) (docstore.Record, error) {
	return nil, errDown
}
func (downDriver) Update(context.Context, string, docstore.Filter, docstore.Record) (docstore.Record, error) {
	return nil, errDown
}
func (downDriver) Delete(context.Context, string, docstore.Filter) (docstore.Record, error) {
	return nil, errDown
}
func (downDriver) Ping(context.Context) error  { return errDown }
func (downDriver) Close(context.Context) error { return nil }

func TestUnreachableStore_Result(t *testing.T) {
	exec := newExecutor(t, docstore.New(downDriver{}))

	got := run(t, exec, `{ book(id: "b1") { title } books { title } }`, nil)
	want := &executor.ExecutionResult{
		Data: nil,
		Errors: []executor.GraphQLError{
			{Message: "connection error", Path: executor.Path{"book"}, Extensions: map[string]any{"code": CodeConnection}},
			{Message: "connection error", Path: executor.Path{"books"}, Extensions: map[string]any{"code": CodeConnection}},
		},
	}
	// books is non-null, so its failure nulls the whole data
	// Pattern: Result comparison
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	for _, e := range got.Errors {
		require.NotContains(t, e.Message, "refused")
	}
}

func TestBind_Errors(t *testing.T) {
	store := docstore.New(downDriver{})
	tests := []struct {
		name     string
		sdl      string
		extra    schema.Bindings
		problems []string
	}{
		{
			name:     "findMany on a single value",
			sdl:      `type Query { b: String @findMany(collection: "books") }`,
			problems: []string{"Query.b @findMany: field must return a list"},
		},
		{
			name:     "missing input argument",
			sdl:      `type Query { x: String } type Mutation { add(doc: String): String @insertOne(collection: "books") }`,
			problems: []string{`Mutation.add @insertOne: field has no argument "input"`},
		},
		{
			name:     "join without key",
			sdl:      `type Query { b: [String] @findMany(collection: "books", from: "x") }`,
			problems: []string{"Query.b @findMany: from requires key"},
		},
		{
			name:     "delete without a non-null selector",
			sdl:      `type Query { x: String } type Mutation { purge(id: ID): String @deleteOne(collection: "books") }`,
			problems: []string{"Mutation.purge @deleteOne: field needs a non-null argument selecting the document"},
		},
		{
			name:     "update selected only by its input",
			sdl:      `type Query { x: String } input P { t: String } type Mutation { touch(id: ID, input: P!): String @updateOne(collection: "books") }`,
			problems: []string{"Mutation.touch @updateOne: field needs a non-null argument selecting the document"},
		},
		{
			name: "bound twice",
			sdl:  `type Query { b(id: ID): String @findOne(collection: "books") }`,
			extra: schema.Bindings{"Query.b": func(context.Context, schema.ResolveParams) (any, error) {
				return nil, nil
			}},
			problems: []string{"Query.b is bound by @findOne and by an explicit resolver"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(tt.sdl, store, tt.extra)
			var berr *BindError
			require.ErrorAs(t, err, &berr)
			if diff := cmp.Diff(tt.problems, berr.Problems); diff != "" {
				t.Fatalf("problems mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_ExtraBindings(t *testing.T) {
	s, err := Build(`type Query { hello: String }`, docstore.New(downDriver{}), schema.Bindings{
		"Query.hello": func(context.Context, schema.ResolveParams) (any, error) { return "world", nil },
	})
	require.NoError(t, err)

	res, err := executor.Execute(context.Background(), s, executor.Request{Query: `{ hello __schema { queryType { name } } }`})
	require.NoError(t, err)
	want := &executor.ExecutionResult{Data: map[string]any{
		"hello":    "world",
		"__schema": map[string]any{"queryType": map[string]any{"name": "Query"}},
	}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestWrites_EmptySelectorTouchesNothing(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		resolve schema.ResolveFunc
		args    map[string]any
	}{
		{"delete with null id", deleteOne(store, "books"), map[string]any{"id": nil}},
		{"delete without args", deleteOne(store, "books"), nil},
		{"update with null id", updateOne(store, "books", "input"), map[string]any{"id": nil, "input": map[string]any{"title": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.resolve(ctx, schema.ResolveParams{Args: tt.args})
			require.Nil(t, got)
			var ferr *executor.FieldError
			require.ErrorAs(t, err, &ferr)
			require.Equal(t, CodeNotFound, ferr.Extensions["code"])

			recs, err := docstore.Collect(store.FetchMany(ctx, "books", nil, docstore.Page{}))
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for _, r := range recs {
				require.NotEqual(t, "x", r["title"])
			}
		})
	}
}
