package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hanpama/docgraph/internal/docstore"
)

func TestQuery(t *testing.T) {
	oid := primitive.NewObjectID()

	got := query(docstore.Filter{"_id": oid.Hex(), "title": "Dune"})
	want := bson.M{"_id": bson.M{"$in": bson.A{oid.Hex(), oid}}, "title": "Dune"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}

	got = query(docstore.Filter{"_id": "b1"})
	require.Equal(t, bson.M{"_id": "b1"}, got)
}

func TestRecord(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got := record(bson.M{
		"_id":    oid,
		"pages":  int32(412),
		"rating": 4.5,
		"tags":   bson.A{"classic", int32(1)},
		"meta":   bson.D{{Key: "at", Value: primitive.NewDateTimeFromTime(at)}},
	})
	want := docstore.Record{
		"_id":    oid.Hex(),
		"pages":  int64(412),
		"rating": 4.5,
		"tags":   []any{"classic", int64(1)},
		"meta":   map[string]any{"at": at},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateField(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{`E11000 duplicate key error collection: lib.authors index: unique_email dup key: { email: "x" }`, "email"},
		{`E11000 duplicate key error collection: lib.authors index: _id_ dup key: { _id: "a1" }`, "_id"},
		{`something else`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, duplicateField(errors.New(tt.msg)))
		})
	}
}

// TestIntegration runs against a real server when DOCGRAPH_TEST_MONGO_URI is set.
func TestIntegration(t *testing.T) {
	uri := os.Getenv("DOCGRAPH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DOCGRAPH_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "docgraph_test_" + uuid.NewString()[:8]

	d, err := Open(ctx, Options{URI: uri, Database: dbName, Unique: map[string][]string{"authors": {"email"}}})
	require.NoError(t, err)
	if err := d.Ping(ctx); err != nil {
		t.Skipf("mongo ping failed: %v", err)
	}
	s := docstore.New(d)
	t.Cleanup(func() {
		_ = d.db.Drop(ctx)
		_ = s.Close(ctx)
	})

	for i, title := range []string{"Dune", "Emma", "Ulysses"} {
		_, err := s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Insert, Doc: docstore.Record{
			"_id": fmt.Sprintf("b%d", i+1), "title": title, "year": 1900 + i,
		}})
		require.NoError(t, err)
	}

	rec, err := s.FetchOne(ctx, "books", docstore.Filter{"title": "Emma"})
	require.NoError(t, err)
	require.Equal(t, docstore.Record{"_id": "b2", "title": "Emma", "year": int64(1901)}, rec)

	recs, err := docstore.Collect(s.FetchMany(ctx, "books", nil, docstore.Page{Sort: "year", Desc: true, Limit: 2}))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "b3", recs[0].ID())

	_, err = s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Insert, Doc: docstore.Record{"_id": "a1", "email": "x@example.com"}})
	require.NoError(t, err)
	_, err = s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Insert, Doc: docstore.Record{"_id": "a2", "email": "x@example.com"}})
	var conflict *docstore.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "email", conflict.Key)

	rec, err = s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Update, Filter: docstore.Filter{"_id": "b1"}, Doc: docstore.Record{"title": "Dune Messiah"}})
	require.NoError(t, err)
	require.Equal(t, "Dune Messiah", rec["title"])

	_, err = s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Delete, Filter: docstore.Filter{"_id": "b1"}})
	require.NoError(t, err)
	_, err = s.FetchOne(ctx, "books", docstore.Filter{"_id": "b1"})
	require.ErrorIs(t, err, docstore.ErrNotFound)
}
