package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	language "github.com/hanpama/docgraph/internal/language"
	schema "github.com/hanpama/docgraph/internal/schema"
	"github.com/stretchr/testify/require"
)

const failureSDL = `
type Query {
  a: String
  b: String
  thing: Thing
  things: [Thing!]
  loose: [Thing]
  required: String!
}

type Thing {
  x: String!
  y: String
  nested: Nested!
}

type Nested {
  z: String!
}
`

// Pattern: Result comparison
func TestErrors_NullableField_SiblingsContinue_Result(t *testing.T) {
	rec := &recorder{}
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.a": rec.value("Query.a", "A"),
		"Query.b": rec.fail("Query.b", "boom"),
	})

	got := mustExecute(t, s, `{ a b }`, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"a": "A", "b": nil},
		Errors: []GraphQLError{{Message: "boom", Path: Path{"b"}, Locations: []language.Location{{Line: 1, Column: 5}}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Result comparison
func TestErrors_NonNullPropagation_NearestNullableAncestor_Result(t *testing.T) {
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.a":     (&recorder{}).value("", "A"),
		"Query.thing": (&recorder{}).value("", map[string]any{"y": "Y", "nested": map[string]any{}}),
		"Thing.x":     (&recorder{}).fail("Thing.x", "x failed"),
	})

	t.Run("direct child", func(t *testing.T) {
		got := mustExecute(t, s, `{ a thing { y x } }`, nil)
		want := &ExecutionResult{
			Data:   map[string]any{"a": "A", "thing": nil},
			Errors: []GraphQLError{{Message: "x failed", Path: Path{"thing", "x"}}},
		}
		got.Errors = withoutLocations(got.Errors)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("through non-null object", func(t *testing.T) {
		got := mustExecute(t, s, `{ a thing { y nested { z } } }`, nil)
		want := &ExecutionResult{
			Data: map[string]any{"a": "A", "thing": nil},
			Errors: []GraphQLError{{
				Message: "Cannot return null for non-nullable field thing.nested.z.",
				Path:    Path{"thing", "nested", "z"},
			}},
		}
		got.Errors = withoutLocations(got.Errors)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})
}

// Pattern: Result comparison
func TestErrors_NonNullRoot_DataNull_Result(t *testing.T) {
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.a":        (&recorder{}).value("", "A"),
		"Query.required": (&recorder{}).value("", nil),
	})

	got := mustExecute(t, s, `{ a required }`, nil)

	want := &ExecutionResult{
		Data: nil,
		Errors: []GraphQLError{{
			Message: "Cannot return null for non-nullable field required.",
			Path:    Path{"required"},
		}},
	}
	got.Errors = withoutLocations(got.Errors)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Result comparison
func TestErrors_ListItems_Result(t *testing.T) {
	items := []any{
		map[string]any{"x": "1", "nested": map[string]any{"z": "z"}},
		map[string]any{"nested": map[string]any{"z": "z"}},
	}
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.things": (&recorder{}).value("", items),
		"Query.loose":  (&recorder{}).value("", items),
	})

	t.Run("non-null items null the list", func(t *testing.T) {
		got := mustExecute(t, s, `{ things { x } }`, nil)
		want := &ExecutionResult{
			Data: map[string]any{"things": nil},
			Errors: []GraphQLError{{
				Message: "Cannot return null for non-nullable field things[1].x.",
				Path:    Path{"things", 1, "x"},
			}},
		}
		got.Errors = withoutLocations(got.Errors)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nullable items null only the item", func(t *testing.T) {
		got := mustExecute(t, s, `{ loose { x } }`, nil)
		want := &ExecutionResult{
			Data: map[string]any{"loose": []any{map[string]any{"x": "1"}, nil}},
			Errors: []GraphQLError{{
				Message: "Cannot return null for non-nullable field loose[1].x.",
				Path:    Path{"loose", 1, "x"},
			}},
		}
		got.Errors = withoutLocations(got.Errors)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})
}

// Pattern: Result comparison
func TestErrors_DocumentOrder_Result(t *testing.T) {
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.a": (&recorder{}).fail("", "first"),
		"Query.b": (&recorder{}).fail("", "second"),
	})

	got := mustExecute(t, s, `{ b a }`, nil)

	want := []GraphQLError{
		{Message: "second", Path: Path{"b"}},
		{Message: "first", Path: Path{"a"}},
	}
	if diff := cmp.Diff(want, withoutLocations(got.Errors)); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Result comparison
func TestErrors_FieldErrorExtensions_Result(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.a": func(context.Context, schema.ResolveParams) (any, error) {
			return nil, &FieldError{Message: "connection error", Extensions: map[string]any{"code": "CONNECTION_ERROR"}, Err: cause}
		},
	})

	got := mustExecute(t, s, `{ a }`, nil)

	want := []GraphQLError{{
		Message:    "connection error",
		Path:       Path{"a"},
		Extensions: map[string]any{"code": "CONNECTION_ERROR"},
	}}
	if diff := cmp.Diff(want, withoutLocations(got.Errors)); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Result comparison
func TestErrors_LeafSerialization_Result(t *testing.T) {
	s := mustRegister(t, `
enum Color { RED }
type Query { n: Int, c: Color }`, schema.Bindings{
		"Query.n": (&recorder{}).value("", int64(1)<<40),
		"Query.c": (&recorder{}).value("", "BLUE"),
	})

	got := mustExecute(t, s, `{ n c }`, nil)

	want := &ExecutionResult{
		Data: map[string]any{"n": nil, "c": nil},
		Errors: []GraphQLError{
			{Message: "Int cannot represent non 32-bit signed integer value: 1099511627776", Path: Path{"n"}},
			{Message: `Enum "Color" cannot represent value: BLUE`, Path: Path{"c"}},
		},
	}
	got.Errors = withoutLocations(got.Errors)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Result comparison
func TestErrors_RequestLevel_Result(t *testing.T) {
	s := mustRegister(t, failureSDL, nil)
	exec, err := New(s)
	require.NoError(t, err)
	defer exec.Close()

	t.Run("syntax", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), Request{Query: "{ a "})
		require.NoError(t, err)
		require.Nil(t, res.Data)
		require.Len(t, res.Errors, 1)
		require.Contains(t, res.Errors[0].Message, "Syntax Error: ")
		require.NotEmpty(t, res.Errors[0].Locations)
	})

	t.Run("validation collects every violation", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), Request{Query: `{ missing thing nope }`})
		require.NoError(t, err)
		require.Nil(t, res.Data)
		require.GreaterOrEqual(t, len(res.Errors), 3)
	})

	t.Run("ambiguous operation", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), Request{Query: `query A { a } query B { b }`})
		require.NoError(t, err)
		want := &ExecutionResult{Errors: []GraphQLError{{
			Message: "Must provide operation name if query contains multiple operations (A, B).",
		}}}
		if diff := cmp.Diff(want, res); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown operation", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), Request{Query: `query A { a }`, OperationName: "B"})
		require.NoError(t, err)
		require.Equal(t, []GraphQLError{{Message: `Unknown operation named "B".`}}, res.Errors)
	})

	t.Run("missing variable", func(t *testing.T) {
		s := mustRegister(t, `type Query { echo(v: String!): String }`, nil)
		res := mustExecute(t, s, `query($v: String!) { echo(v: $v) }`, nil)
		require.Nil(t, res.Data)
		require.NotEmpty(t, res.Errors)
	})

	t.Run("fractional Int variable", func(t *testing.T) {
		var calls int
		s := mustRegister(t, `type Query { echo(n: Int!): Int }`, schema.Bindings{
			"Query.echo": func(_ context.Context, p schema.ResolveParams) (any, error) {
				calls++
				return p.Args["n"], nil
			},
		})
		res := mustExecute(t, s, `query($n: Int!) { echo(n: $n) }`, map[string]any{"n": 3.5})
		require.Nil(t, res.Data)
		require.Len(t, res.Errors, 1)
		require.Equal(t, Path{"variable", "n"}, res.Errors[0].Path)
		require.Zero(t, calls)
	})

	t.Run("no mutation type", func(t *testing.T) {
		s := mustRegister(t, `type Query { a: String }`, nil)
		exec, err := New(s)
		require.NoError(t, err)
		defer exec.Close()
		res, err := exec.Execute(context.Background(), Request{Query: `mutation { a }`})
		require.NoError(t, err)
		require.Nil(t, res.Data)
		require.NotEmpty(t, res.Errors)
	})
}

func TestErrors_PanicIsInternalError(t *testing.T) {
	s := mustRegister(t, failureSDL, schema.Bindings{
		"Query.a": (&recorder{}).value("", "A"),
		"Query.b": func(context.Context, schema.ResolveParams) (any, error) {
			panic("nil map write")
		},
	})
	exec, err := New(s)
	require.NoError(t, err)
	defer exec.Close()

	res, err := exec.Execute(context.Background(), Request{Query: `{ a b }`})
	require.Nil(t, res)

	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, "nil map write", ierr.Value)
	require.NotEmpty(t, ierr.Stack)
}

func TestErrors_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls []string
	s := mustRegister(t, `
type Query { a: String }
type Mutation { first: String, second: String }`, schema.Bindings{
		"Mutation.first": func(context.Context, schema.ResolveParams) (any, error) {
			calls = append(calls, "first")
			cancel()
			return "1", nil
		},
		"Mutation.second": func(context.Context, schema.ResolveParams) (any, error) {
			calls = append(calls, "second")
			return "2", nil
		},
	})
	exec, err := New(s)
	require.NoError(t, err)
	defer exec.Close()

	res, err := exec.Execute(ctx, Request{Query: `mutation { first second }`})
	require.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"first"}, calls)
}
