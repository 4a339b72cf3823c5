package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/docgraph/internal/eventbus"
	events "github.com/hanpama/docgraph/internal/events"
)

// fakeDriver keeps records in memory. block, when set, stalls FindOne until
// it is closed.
type fakeDriver struct {
	mu      sync.Mutex
	records map[string][]Record
	block   chan struct{}
	err     error
}

func newFakeDriver(records map[string][]Record) *fakeDriver {
	return &fakeDriver{records: records}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) FindOne(ctx context.Context, collection string, filter Filter) (Record, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records[collection] {
		if filter.Matches(r) {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (d *fakeDriver) Find(_ context.Context, collection string, filter Filter, page Page) (Cursor, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Record
	for _, r := range d.records[collection] {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return NewSliceCursor(Paginate(out, page)), nil
}

func (d *fakeDriver) Insert(_ context.Context, collection string, doc Record) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records[collection] {
		if r.ID() == doc.ID() {
			return nil, &ConflictError{Collection: collection, Key: IDField}
		}
	}
	d.records[collection] = append(d.records[collection], doc)
	return doc, nil
}

func (d *fakeDriver) Update(_ context.Context, collection string, filter Filter, set Record) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records[collection] {
		if filter.Matches(r) {
			for k, v := range set {
				r[k] = v
			}
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (d *fakeDriver) Delete(_ context.Context, collection string, filter Filter) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs := d.records[collection]
	for i, r := range rs {
		if filter.Matches(r) {
			d.records[collection] = append(rs[:i:i], rs[i+1:]...)
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (d *fakeDriver) Ping(context.Context) error  { return d.err }
func (d *fakeDriver) Close(context.Context) error { return nil }

func books() map[string][]Record {
	return map[string][]Record{
		"books": {
			{"_id": "b1", "title": "Dune", "year": int64(1965)},
			{"_id": "b2", "title": "Emma", "year": int64(1815)},
			{"_id": "b3", "title": "Ulysses", "year": int64(1922)},
		},
	}
}

func TestFetchOne(t *testing.T) {
	s := New(newFakeDriver(books()))

	rec, err := s.FetchOne(context.Background(), "books", Filter{"year": 1815})
	require.NoError(t, err)
	require.Equal(t, "b2", rec.ID())

	_, err = s.FetchOne(context.Background(), "books", Filter{"_id": "nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchMany(t *testing.T) {
	s := New(newFakeDriver(books()))

	t.Run("sorted page", func(t *testing.T) {
		recs, err := Collect(s.FetchMany(context.Background(), "books", nil, Page{Sort: "year", Desc: true, Limit: 2}))
		require.NoError(t, err)
		var ids []string
		for _, r := range recs {
			ids = append(ids, r.ID())
		}
		if diff := cmp.Diff([]string{"b1", "b3"}, ids); diff != "" {
			t.Fatalf("ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("one-shot", func(t *testing.T) {
		seq := s.FetchMany(context.Background(), "books", nil, Page{})
		_, err := Collect(seq)
		require.NoError(t, err)
		_, err = Collect(seq)
		require.ErrorIs(t, err, ErrConsumed)
	})

	t.Run("early stop releases the slot", func(t *testing.T) {
		for rec, err := range s.FetchMany(context.Background(), "books", nil, Page{}) {
			require.NoError(t, err)
			require.Equal(t, "b1", rec.ID())
			break
		}
		require.Equal(t, int64(0), s.Stats().InUse)
	})

	t.Run("lazy", func(t *testing.T) {
		_ = s.FetchMany(context.Background(), "books", nil, Page{})
		require.Equal(t, int64(0), s.Stats().InUse)
	})
}

func TestWrite(t *testing.T) {
	s := New(newFakeDriver(books()))
	ctx := context.Background()

	rec, err := s.Write(ctx, "books", Mutation{Kind: Insert, Doc: Record{"title": "Middlemarch"}})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID())

	_, err = s.Write(ctx, "books", Mutation{Kind: Insert, Doc: Record{"_id": "b1"}})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "books", conflict.Collection)

	rec, err = s.Write(ctx, "books", Mutation{Kind: Update, Filter: Filter{"_id": "b2"}, Doc: Record{"_id": "zz", "year": int64(1816)}})
	require.NoError(t, err)
	require.Equal(t, Record{"_id": "b2", "title": "Emma", "year": int64(1816)}, rec)

	_, err = s.Write(ctx, "books", Mutation{Kind: Delete, Filter: Filter{"_id": "b3"}})
	require.NoError(t, err)
	_, err = s.Write(ctx, "books", Mutation{Kind: Delete, Filter: Filter{"_id": "b3"}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBackendErrorsBecomeConnectionErrors(t *testing.T) {
	d := newFakeDriver(books())
	d.err = errors.New("dial tcp 10.0.0.1:27017: connection refused")
	s := New(d)

	_, err := s.FetchOne(context.Background(), "books", Filter{})
	var conn *ConnectionError
	require.ErrorAs(t, err, &conn)
	require.Equal(t, "fetch_one", conn.Op)

	_, err = Collect(s.FetchMany(context.Background(), "books", nil, Page{}))
	require.ErrorAs(t, err, &conn)

	require.ErrorAs(t, s.Ping(context.Background()), &conn)
}

func TestPoolCeiling(t *testing.T) {
	d := newFakeDriver(books())
	d.block = make(chan struct{})
	s := New(d, WithMaxConns(1), WithAcquireTimeout(50*time.Millisecond))

	started := make(chan struct{})
	done := make(chan error)
	go func() {
		close(started)
		_, err := s.FetchOne(context.Background(), "books", Filter{})
		done <- err
	}()
	<-started
	require.Eventually(t, func() bool { return s.Stats().InUse == 1 }, time.Second, time.Millisecond)

	_, err := s.FetchOne(context.Background(), "books", Filter{})
	var conn *ConnectionError
	require.ErrorAs(t, err, &conn)
	require.Equal(t, int64(1), s.Stats().Timeouts)

	close(d.block)
	require.NoError(t, <-done)
	require.Equal(t, Stats{InUse: 0, Waiting: 0, MaxConns: 1, Timeouts: 1}, s.Stats())
}

func TestCanceledWhileWaiting(t *testing.T) {
	d := newFakeDriver(books())
	d.block = make(chan struct{})
	defer close(d.block)
	s := New(d, WithMaxConns(1), WithAcquireTimeout(time.Minute))

	go func() { _, _ = s.FetchOne(context.Background(), "books", Filter{}) }()
	require.Eventually(t, func() bool { return s.Stats().InUse == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.FetchOne(ctx, "books", Filter{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClosed(t *testing.T) {
	s := New(newFakeDriver(books()))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, err := s.FetchOne(context.Background(), "books", Filter{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestEvents(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)

	var (
		mu       sync.Mutex
		started  []events.StoreStart
		finished []events.StoreFinish
	)
	eventbus.Subscribe(func(_ context.Context, e events.StoreStart) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, e)
	})
	eventbus.Subscribe(func(_ context.Context, e events.StoreFinish) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e)
	})

	s := New(newFakeDriver(books()))
	_, _ = s.FetchOne(context.Background(), "books", Filter{"_id": "missing"})

	require.Len(t, started, 1)
	require.Len(t, finished, 1)
	require.Equal(t, started[0].Op, finished[0].Op)
	require.Equal(t, "fake", finished[0].Backend)
	require.Equal(t, "fetch_one", finished[0].Operation)
	require.ErrorIs(t, finished[0].Err, ErrNotFound)
}

func TestCompare(t *testing.T) {
	require.True(t, Equal(int64(3), 3.0))
	require.True(t, Equal([]any{"a", int64(1)}, []any{"a", 1}))
	require.False(t, Equal("1", 1))
	require.Negative(t, Compare(nil, 1))
	require.Negative(t, Compare(2, "a"))
	require.Positive(t, Compare("b", "a"))
	require.Zero(t, Compare(int64(2), 2.0))
	require.Negative(t, Compare(false, true))
}

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"_id":"x","n":3,"f":1.5,"nested":{"k":[1,2]}}`))
	require.NoError(t, err)
	want := Record{"_id": "x", "n": int64(3), "f": 1.5, "nested": map[string]any{"k": []any{int64(1), int64(2)}}}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}
