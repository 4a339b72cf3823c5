package badgerstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/docgraph/internal/docstore"
)

func openStore(t *testing.T) *docstore.Store {
	t.Helper()
	d, err := Open(Options{Unique: map[string][]string{"authors": {"email"}}})
	require.NoError(t, err)
	s := docstore.New(d)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestCRUD(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i, title := range []string{"Dune", "Emma", "Ulysses"} {
		_, err := s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Insert, Doc: docstore.Record{
			"_id": fmt.Sprintf("b%d", i+1), "title": title, "year": 1900 + i, "author": "a1",
		}})
		require.NoError(t, err)
	}

	rec, err := s.FetchOne(ctx, "books", docstore.Filter{"_id": "b2"})
	require.NoError(t, err)
	if diff := cmp.Diff(docstore.Record{"_id": "b2", "title": "Emma", "year": int64(1901), "author": "a1"}, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	rec, err = s.FetchOne(ctx, "books", docstore.Filter{"title": "Ulysses"})
	require.NoError(t, err)
	require.Equal(t, "b3", rec.ID())

	_, err = s.FetchOne(ctx, "books", docstore.Filter{"_id": "b2", "title": "Dune"})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	recs, err := docstore.Collect(s.FetchMany(ctx, "books", docstore.Filter{"author": "a1"}, docstore.Page{Sort: "year", Desc: true, Offset: 1}))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "b2", recs[0].ID())
	require.Equal(t, "b1", recs[1].ID())

	rec, err = s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Update, Filter: docstore.Filter{"_id": "b1"}, Doc: docstore.Record{"title": "Dune Messiah"}})
	require.NoError(t, err)
	require.Equal(t, "Dune Messiah", rec["title"])

	rec, err = s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Delete, Filter: docstore.Filter{"title": "Emma"}})
	require.NoError(t, err)
	require.Equal(t, "b2", rec.ID())

	_, err = s.Write(ctx, "books", docstore.Mutation{Kind: docstore.Update, Filter: docstore.Filter{"_id": "b2"}, Doc: docstore.Record{"title": "x"}})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	recs, err = docstore.Collect(s.FetchMany(ctx, "books", nil, docstore.Page{}))
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestUniqueFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	insert := func(id, email string) error {
		_, err := s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Insert, Doc: docstore.Record{"_id": id, "email": email}})
		return err
	}

	require.NoError(t, insert("a1", "frank@example.com"))

	var conflict *docstore.ConflictError
	require.ErrorAs(t, insert("a2", "frank@example.com"), &conflict)
	require.Equal(t, &docstore.ConflictError{Collection: "authors", Key: "email"}, conflict)

	require.ErrorAs(t, insert("a1", "other@example.com"), &conflict)
	require.Equal(t, "_id", conflict.Key)

	// changing the value frees the old one
	_, err := s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Update, Filter: docstore.Filter{"_id": "a1"}, Doc: docstore.Record{"email": "fh@example.com"}})
	require.NoError(t, err)
	require.NoError(t, insert("a2", "frank@example.com"))

	_, err = s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Update, Filter: docstore.Filter{"_id": "a1"}, Doc: docstore.Record{"email": "frank@example.com"}})
	require.ErrorAs(t, err, &conflict)

	// deleting frees the value as well
	_, err = s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Delete, Filter: docstore.Filter{"_id": "a2"}})
	require.NoError(t, err)
	require.NoError(t, insert("a3", "frank@example.com"))
}

func TestConcurrentUniqueInserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Write(ctx, "authors", docstore.Mutation{Kind: docstore.Insert, Doc: docstore.Record{
				"_id": fmt.Sprintf("a%d", i), "email": "same@example.com",
			}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, succeeded)
}

func TestPingAfterClose(t *testing.T) {
	d, err := Open(Options{})
	require.NoError(t, err)
	require.NoError(t, d.Ping(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	require.Error(t, d.Ping(context.Background()))
}
