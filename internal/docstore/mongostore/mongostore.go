// Package mongostore is a docstore.Driver over MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hanpama/docgraph/internal/docstore"
)

const uniqueIndexPrefix = "unique_"

// Options configures the driver.
type Options struct {
	URI      string
	Database string
	MaxConns uint64
	// Unique lists the unique fields per collection.
	Unique map[string][]string
}

// Driver implements docstore.Driver.
type Driver struct {
	client *mongo.Client
	db     *mongo.Database
	unique map[string][]string

	// collections whose unique indexes exist
	ready sync.Map
}

var _ docstore.Driver = (*Driver)(nil)

// Open configures the client. The driver connects lazily, so a server that
// is down surfaces as connection errors on use.
func Open(ctx context.Context, o Options) (*Driver, error) {
	if o.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	co := options.Client().ApplyURI(o.URI).SetServerSelectionTimeout(5 * time.Second)
	if o.MaxConns > 0 {
		co.SetMaxPoolSize(o.MaxConns)
	}
	client, err := mongo.Connect(ctx, co)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	return &Driver{client: client, db: client.Database(o.Database), unique: o.Unique}, nil
}

func (d *Driver) Name() string { return "mongo" }

func (d *Driver) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	coll := d.db.Collection(name)
	if _, ok := d.ready.Load(name); ok {
		return coll, nil
	}
	if fields := d.unique[name]; len(fields) > 0 {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, f := range fields {
			models = append(models, mongo.IndexModel{
				Keys:    bson.D{{Key: f, Value: 1}},
				Options: options.Index().SetUnique(true).SetName(uniqueIndexPrefix + f),
			})
		}
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return nil, fmt.Errorf("mongostore: create indexes on %q: %w", name, err)
		}
	}
	d.ready.Store(name, struct{}{})
	return coll, nil
}

func (d *Driver) FindOne(ctx context.Context, collection string, filter docstore.Filter) (docstore.Record, error) {
	coll, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = coll.FindOne(ctx, query(filter), options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record(doc), nil
}

func (d *Driver) Find(ctx context.Context, collection string, filter docstore.Filter, page docstore.Page) (docstore.Cursor, error) {
	coll, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	fo := options.Find()
	sort := bson.D{}
	if page.Sort != "" && page.Sort != docstore.IDField {
		dir := 1
		if page.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: page.Sort, Value: dir})
	}
	idDir := 1
	if page.Sort == docstore.IDField && page.Desc {
		idDir = -1
	}
	fo.SetSort(append(sort, bson.E{Key: "_id", Value: idDir}))
	if page.Limit > 0 {
		fo.SetLimit(int64(page.Limit))
	}
	if page.Offset > 0 {
		fo.SetSkip(int64(page.Offset))
	}
	cur, err := coll.Find(ctx, query(filter), fo)
	if err != nil {
		return nil, err
	}
	return &cursor{cur: cur}, nil
}

type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) (docstore.Record, error) {
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		return nil, err
	}
	return record(doc), nil
}

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

func (d *Driver) Insert(ctx context.Context, collection string, doc docstore.Record) (docstore.Record, error) {
	coll, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if _, err := coll.InsertOne(ctx, bson.M(doc)); err != nil {
		return nil, conflict(collection, err)
	}
	return doc, nil
}

func (d *Driver) Update(ctx context.Context, collection string, filter docstore.Filter, set docstore.Record) (docstore.Record, error) {
	coll, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	var doc bson.M
	err = coll.FindOneAndUpdate(ctx, query(filter), bson.M{"$set": bson.M(set)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, conflict(collection, err)
	}
	return record(doc), nil
}

func (d *Driver) Delete(ctx context.Context, collection string, filter docstore.Filter) (docstore.Record, error) {
	coll, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = coll.FindOneAndDelete(ctx, query(filter), options.FindOneAndDelete().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record(doc), nil
}

func (d *Driver) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

func (d *Driver) Close(ctx context.Context) error { return d.client.Disconnect(ctx) }

// query turns an equality filter into a Mongo query. An _id given as a hex
// string also matches the ObjectID of the same value, so documents created
// outside the gateway stay addressable.
func query(filter docstore.Filter) bson.M {
	q := bson.M{}
	for k, v := range filter {
		q[k] = v
	}
	if id, ok := filter[docstore.IDField].(string); ok {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			q[docstore.IDField] = bson.M{"$in": bson.A{id, oid}}
		}
	}
	return q
}

// record converts a decoded BSON document to the docstore value model.
func record(doc bson.M) docstore.Record {
	out := make(docstore.Record, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch v := v.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.M:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = normalize(e)
		}
		return m
	case primitive.D:
		m := make(map[string]any, len(v))
		for _, e := range v {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.A:
		a := make([]any, len(v))
		for i, e := range v {
			a[i] = normalize(e)
		}
		return a
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Decimal128:
		return v.String()
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

func conflict(collection string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return &docstore.ConflictError{Collection: collection, Key: duplicateField(err), Err: err}
}

// duplicateField extracts the field behind a duplicate key error from the
// index name reported by the server.
func duplicateField(err error) string {
	msg := err.Error()
	i := strings.Index(msg, "index: ")
	if i < 0 {
		return ""
	}
	name, _, _ := strings.Cut(msg[i+len("index: "):], " ")
	if name == "_id_" {
		return docstore.IDField
	}
	return strings.TrimPrefix(name, uniqueIndexPrefix)
}
