package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/docgraph/internal/eventbus"
	events "github.com/hanpama/docgraph/internal/events"
	reqid "github.com/hanpama/docgraph/internal/reqid"
)

func TestSpansFollowRequestNesting(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := Subscribe(tp.Tracer("test"))
	defer unsubscribe()

	ctx, _ := reqid.NewContext(context.Background())
	r := httptest.NewRequest("POST", "/graphql", nil)

	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	eventbus.Publish(ctx, events.GraphQLStart{OperationName: "Books", OperationType: "query"})
	eventbus.Publish(ctx, events.StoreStart{Op: 1, Backend: "badger", Operation: "fetch_many", Collection: "books"})
	eventbus.Publish(ctx, events.StoreStart{Op: 2, Backend: "badger", Operation: "fetch_one", Collection: "authors"})
	eventbus.Publish(ctx, events.StoreFinish{Op: 2, Err: errors.New("docstore: fetch_one: connection error: refused")})
	eventbus.Publish(ctx, events.StoreFinish{Op: 1})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationName: "Books", OperationType: "query", Errors: []error{errors.New("x")}})
	eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: 200})

	spans := rec.Ended()
	require.Len(t, spans, 4)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}

	httpSpan := byName["http.request"]
	gqlSpan := byName["graphql.operation"]
	require.NotNil(t, httpSpan)
	require.NotNil(t, gqlSpan)
	require.Equal(t, httpSpan.SpanContext().SpanID(), gqlSpan.Parent().SpanID())
	require.Equal(t, gqlSpan.SpanContext().SpanID(), byName["docstore.fetch_many"].Parent().SpanID())
	require.Equal(t, gqlSpan.SpanContext().SpanID(), byName["docstore.fetch_one"].Parent().SpanID())
	require.Equal(t, codes.Error, byName["docstore.fetch_one"].Status().Code)
	require.Equal(t, codes.Unset, byName["docstore.fetch_many"].Status().Code)
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
