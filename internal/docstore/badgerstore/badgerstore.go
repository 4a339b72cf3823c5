// Package badgerstore is an embedded docstore.Driver over Badger. Documents
// are JSON values keyed by collection and _id; unique fields are kept as
// index keys in the same transaction as the document.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/hanpama/docgraph/internal/docstore"
)

// Options configures the driver.
type Options struct {
	// Dir is the data directory. Empty keeps everything in memory.
	Dir string
	// Unique lists the unique fields per collection.
	Unique map[string][]string
	// Logger receives Badger's own log output. Nil discards it.
	Logger *zap.Logger
}

// Driver implements docstore.Driver.
type Driver struct {
	db     *badger.DB
	unique map[string][]string
}

var _ docstore.Driver = (*Driver)(nil)

const maxTxnRetries = 5

// Open opens (or creates) the database.
func Open(o Options) (*Driver, error) {
	bo := badger.DefaultOptions(o.Dir).WithLogger(nil)
	if o.Dir == "" {
		bo = bo.WithInMemory(true)
	}
	if o.Logger != nil {
		bo = bo.WithLogger(badgerLogger{o.Logger.Named("badger").Sugar()})
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", o.Dir, err)
	}
	return &Driver{db: db, unique: o.Unique}, nil
}

func (d *Driver) Name() string { return "badger" }

func docPrefix(collection string) []byte {
	return []byte("d\x00" + collection + "\x00")
}

func docKey(collection, id string) []byte {
	return append(docPrefix(collection), id...)
}

func uniqueKey(collection, field string, value any) ([]byte, bool) {
	if value == nil {
		return nil, false
	}
	v, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	return []byte("u\x00" + collection + "\x00" + field + "\x00" + string(v)), true
}

func (d *Driver) FindOne(ctx context.Context, collection string, filter docstore.Filter) (docstore.Record, error) {
	var found docstore.Record
	err := d.db.View(func(txn *badger.Txn) error {
		rec, _, err := d.first(ctx, txn, collection, filter)
		found = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (d *Driver) Find(ctx context.Context, collection string, filter docstore.Filter, page docstore.Page) (docstore.Cursor, error) {
	var out []docstore.Record
	err := d.db.View(func(txn *badger.Txn) error {
		return d.scan(ctx, txn, collection, func(rec docstore.Record) (bool, error) {
			if filter.Matches(rec) {
				out = append(out, rec)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docstore.NewSliceCursor(docstore.Paginate(out, page)), nil
}

func (d *Driver) Insert(ctx context.Context, collection string, doc docstore.Record) (docstore.Record, error) {
	err := d.update(ctx, func(txn *badger.Txn) error {
		key := docKey(collection, doc.ID())
		if _, err := txn.Get(key); err == nil {
			return &docstore.ConflictError{Collection: collection, Key: docstore.IDField}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := d.claimUnique(txn, collection, nil, doc); err != nil {
			return err
		}
		return d.put(txn, collection, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Driver) Update(ctx context.Context, collection string, filter docstore.Filter, set docstore.Record) (docstore.Record, error) {
	var updated docstore.Record
	err := d.update(ctx, func(txn *badger.Txn) error {
		old, _, err := d.first(ctx, txn, collection, filter)
		if err != nil {
			return err
		}
		next := make(docstore.Record, len(old)+len(set))
		for k, v := range old {
			next[k] = v
		}
		for k, v := range set {
			next[k] = v
		}
		if err := d.claimUnique(txn, collection, old, next); err != nil {
			return err
		}
		updated = next
		return d.put(txn, collection, next)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *Driver) Delete(ctx context.Context, collection string, filter docstore.Filter) (docstore.Record, error) {
	var deleted docstore.Record
	err := d.update(ctx, func(txn *badger.Txn) error {
		rec, key, err := d.first(ctx, txn, collection, filter)
		if err != nil {
			return err
		}
		for _, field := range d.unique[collection] {
			if uk, ok := uniqueKey(collection, field, rec[field]); ok {
				if err := txn.Delete(uk); err != nil {
					return err
				}
			}
		}
		deleted = rec
		return txn.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (d *Driver) Ping(context.Context) error {
	if d.db.IsClosed() {
		return errors.New("badgerstore: database closed")
	}
	return nil
}

func (d *Driver) Close(context.Context) error { return d.db.Close() }

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent transactions.
func (d *Driver) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (d *Driver) put(txn *badger.Txn, collection string, doc docstore.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("badgerstore: encode document: %w", err)
	}
	return txn.Set(docKey(collection, doc.ID()), data)
}

// claimUnique moves the unique index entries of a document from old (nil for
// an insert) to next, failing when another document holds a value.
func (d *Driver) claimUnique(txn *badger.Txn, collection string, old, next docstore.Record) error {
	id := next.ID()
	for _, field := range d.unique[collection] {
		if old != nil && docstore.Equal(old[field], next[field]) {
			continue
		}
		if uk, ok := uniqueKey(collection, field, next[field]); ok {
			item, err := txn.Get(uk)
			switch {
			case err == nil:
				owner, verr := item.ValueCopy(nil)
				if verr != nil {
					return verr
				}
				if string(owner) != id {
					return &docstore.ConflictError{Collection: collection, Key: field}
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			if err := txn.Set(uk, []byte(id)); err != nil {
				return err
			}
		}
		if old != nil {
			if uk, ok := uniqueKey(collection, field, old[field]); ok {
				if err := txn.Delete(uk); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// first returns the first document matching filter and its key.
func (d *Driver) first(ctx context.Context, txn *badger.Txn, collection string, filter docstore.Filter) (docstore.Record, []byte, error) {
	if id, ok := filter[docstore.IDField].(string); ok {
		key := docKey(collection, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil, docstore.ErrNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		rec, err := decode(item)
		if err != nil {
			return nil, nil, err
		}
		if !filter.Matches(rec) {
			return nil, nil, docstore.ErrNotFound
		}
		return rec, key, nil
	}

	var (
		found docstore.Record
		key   []byte
	)
	err := d.scan(ctx, txn, collection, func(rec docstore.Record) (bool, error) {
		if filter.Matches(rec) {
			found = rec
			key = docKey(collection, rec.ID())
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if found == nil {
		return nil, nil, docstore.ErrNotFound
	}
	return found, key, nil
}

// scan visits the documents of a collection in _id order until fn returns false.
func (d *Driver) scan(ctx context.Context, txn *badger.Txn, collection string, fn func(docstore.Record) (bool, error)) error {
	prefix := docPrefix(collection)
	opt := badger.DefaultIteratorOptions
	opt.Prefix = prefix
	itr := txn.NewIterator(opt)
	defer itr.Close()
	for itr.Seek(prefix); itr.ValidForPrefix(prefix); itr.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decode(itr.Item())
		if err != nil {
			return err
		}
		more, err := fn(rec)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func decode(item *badger.Item) (docstore.Record, error) {
	var rec docstore.Record
	err := item.Value(func(val []byte) error {
		var derr error
		rec, derr = docstore.DecodeRecord(bytes.Clone(val))
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: decode %q: %w", item.Key(), err)
	}
	return rec, nil
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct{ *zap.SugaredLogger }

func (l badgerLogger) Warningf(format string, args ...any) { l.Warnf(format, args...) }
