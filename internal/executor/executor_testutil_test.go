package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	schema "github.com/hanpama/docgraph/internal/schema"
	"github.com/stretchr/testify/require"
)

// Call is one recorded resolver invocation.
type Call struct {
	Coord  string
	Source any
	Args   map[string]any
}

// recorder builds resolvers that log their invocations.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(coord string, p schema.ResolveParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Coord: coord, Source: p.Source, Args: p.Args})
}

func (r *recorder) value(coord string, v any) schema.ResolveFunc {
	return func(_ context.Context, p schema.ResolveParams) (any, error) {
		r.record(coord, p)
		return v, nil
	}
}

func (r *recorder) fail(coord string, msg string) schema.ResolveFunc {
	return func(_ context.Context, p schema.ResolveParams) (any, error) {
		r.record(coord, p)
		return nil, errors.New(msg)
	}
}

func (r *recorder) getCalls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func mustRegister(t *testing.T, sdl string, bindings schema.Bindings, opts ...schema.Option) *schema.Schema {
	t.Helper()
	s, err := schema.Register(sdl, bindings, opts...)
	require.NoError(t, err)
	return s
}

func mustExecute(t *testing.T, s *schema.Schema, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	exec, err := New(s)
	require.NoError(t, err)
	t.Cleanup(exec.Close)
	res, err := exec.Execute(context.Background(), Request{Query: query, Variables: vars})
	require.NoError(t, err)
	return res
}

// withoutLocations strips locations so tests can focus on messages and paths.
func withoutLocations(errs []GraphQLError) []GraphQLError {
	out := make([]GraphQLError, len(errs))
	for i, e := range errs {
		e.Locations = nil
		out[i] = e
	}
	return out
}
