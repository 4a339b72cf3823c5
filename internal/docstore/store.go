// Package docstore is the data access layer: a bounded pool of operations
// over a document store Driver, with a small error taxonomy.
//
// Only ErrNotFound, ErrConsumed, *ConflictError and *ConnectionError leave
// this package; any other backend error is reported as a *ConnectionError.
package docstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	eventbus "github.com/hanpama/docgraph/internal/eventbus"
	events "github.com/hanpama/docgraph/internal/events"
)

// Options configures a Store.
//
// Defaults:
// - MaxConns:       16
// - AcquireTimeout: 2s
// - OpTimeout:      5s (used only if the context has no deadline)
type Options struct {
	MaxConns       int64
	AcquireTimeout time.Duration
	OpTimeout      time.Duration
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConns:       16,
		AcquireTimeout: 2 * time.Second,
		OpTimeout:      5 * time.Second,
	}
}

func WithMaxConns(n int64) Option                { return func(o *Options) { o.MaxConns = n } }
func WithAcquireTimeout(d time.Duration) Option { return func(o *Options) { o.AcquireTimeout = d } }
func WithOpTimeout(d time.Duration) Option      { return func(o *Options) { o.OpTimeout = d } }

// Store serves reads and writes against a Driver. At most MaxConns
// operations run at once; further callers wait up to AcquireTimeout.
type Store struct {
	driver Driver
	opts   *Options
	pool   *pool
	closed atomic.Bool
}

var opSeq atomic.Uint64

// New wraps d.
func New(d Driver, opts ...Option) *Store {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 1
	}
	return &Store{
		driver: d,
		opts:   o,
		pool:   newPool(o.MaxConns, o.AcquireTimeout),
	}
}

// Backend returns the driver name.
func (s *Store) Backend() string { return s.driver.Name() }

// Stats returns a snapshot of the pool.
func (s *Store) Stats() Stats { return s.pool.stats() }

// operation is one pooled call. finish releases the slot and reports it.
type operation struct {
	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time
	wait   time.Duration
	event  events.StoreStart
	done   func()
}

func (s *Store) begin(ctx context.Context, name, collection string) (*operation, error) {
	if s.closed.Load() {
		return nil, &ConnectionError{Op: name, Err: ErrClosed}
	}
	op := &operation{
		start: time.Now(),
		event: events.StoreStart{
			Op:         opSeq.Add(1),
			Backend:    s.driver.Name(),
			Operation:  name,
			Collection: collection,
		},
	}
	eventbus.Publish(ctx, op.event)

	release, wait, err := s.pool.acquire(ctx, name)
	op.wait = wait
	if err != nil {
		s.finish(ctx, op, err)
		return nil, err
	}
	op.done = release
	op.ctx, op.cancel = ctx, func() {}
	if _, ok := ctx.Deadline(); !ok && s.opts.OpTimeout > 0 {
		op.ctx, op.cancel = context.WithTimeout(ctx, s.opts.OpTimeout)
	}
	return op, nil
}

func (s *Store) finish(ctx context.Context, op *operation, err error) {
	if op.cancel != nil {
		op.cancel()
	}
	if op.done != nil {
		op.done()
	}
	eventbus.Publish(ctx, events.StoreFinish{
		Op:         op.event.Op,
		Backend:    op.event.Backend,
		Operation:  op.event.Operation,
		Collection: op.event.Collection,
		Err:        err,
		Wait:       op.wait,
		Duration:   time.Since(op.start),
	})
}

// FetchOne returns the first document matching filter, or ErrNotFound.
func (s *Store) FetchOne(ctx context.Context, collection string, filter Filter) (rec Record, err error) {
	op, err := s.begin(ctx, "fetch_one", collection)
	if err != nil {
		return nil, err
	}
	defer func() { s.finish(ctx, op, err) }()

	rec, err = s.driver.FindOne(op.ctx, collection, filter)
	return rec, normalize("fetch_one", err)
}

// FetchMany returns the documents matching filter, lazily. The sequence can
// be ranged over once; a second range yields ErrConsumed. A pooled slot is
// held from the first pull until the range stops.
func (s *Store) FetchMany(ctx context.Context, collection string, filter Filter, page Page) iter.Seq2[Record, error] {
	var used atomic.Bool
	return func(yield func(Record, error) bool) {
		if used.Swap(true) {
			yield(nil, ErrConsumed)
			return
		}
		op, err := s.begin(ctx, "fetch_many", collection)
		if err != nil {
			yield(nil, err)
			return
		}
		var ferr error
		defer func() { s.finish(ctx, op, ferr) }()

		cur, err := s.driver.Find(op.ctx, collection, filter, page)
		if err != nil {
			ferr = normalize("fetch_many", err)
			yield(nil, ferr)
			return
		}
		defer cur.Close(op.ctx)

		for {
			rec, err := cur.Next(op.ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				ferr = normalize("fetch_many", err)
				yield(nil, ferr)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Record, error]) ([]Record, error) {
	out := []Record{}
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Write applies one mutation and returns the inserted, updated or deleted
// document. Inserts without an _id get a random UUID.
func (s *Store) Write(ctx context.Context, collection string, m Mutation) (rec Record, err error) {
	name := m.Kind.String()
	op, err := s.begin(ctx, name, collection)
	if err != nil {
		return nil, err
	}
	defer func() { s.finish(ctx, op, err) }()

	switch m.Kind {
	case Insert:
		doc := make(Record, len(m.Doc)+1)
		for k, v := range m.Doc {
			doc[k] = v
		}
		if doc.ID() == "" {
			doc[IDField] = uuid.NewString()
		}
		rec, err = s.driver.Insert(op.ctx, collection, doc)
	case Update:
		set := make(Record, len(m.Doc))
		for k, v := range m.Doc {
			if k != IDField {
				set[k] = v
			}
		}
		rec, err = s.driver.Update(op.ctx, collection, m.Filter, set)
	case Delete:
		rec, err = s.driver.Delete(op.ctx, collection, m.Filter)
	default:
		return nil, &ConnectionError{Op: name, Err: errors.New("unknown mutation kind")}
	}
	return rec, normalize(name, err)
}

// Ping checks that the backend answers. It does not take a pool slot.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return &ConnectionError{Op: "ping", Err: ErrClosed}
	}
	return normalize("ping", s.driver.Ping(ctx))
}

// Close closes the driver. Operations in flight complete.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.driver.Close(ctx)
}
