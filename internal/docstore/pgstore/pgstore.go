// Package pgstore is a docstore.Driver over PostgreSQL. Each collection is a
// table of (id text primary key, doc jsonb); filters use jsonb containment.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanpama/docgraph/internal/docstore"
)

const uniqueViolation = "23505"

// Options configures the driver.
type Options struct {
	DSN      string
	MaxConns int32
	MinConns int32
	// Unique lists the unique fields per collection.
	Unique map[string][]string
}

// Driver implements docstore.Driver.
type Driver struct {
	pool   *pgxpool.Pool
	unique map[string][]string

	// collections whose table and indexes exist
	ready sync.Map
}

var _ docstore.Driver = (*Driver)(nil)

// Open creates the connection pool. It does not wait for the server, so a
// store that is down surfaces as connection errors on use.
func Open(ctx context.Context, o Options) (*Driver, error) {
	cfg, err := pgxpool.ParseConfig(o.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	return &Driver{pool: pool, unique: o.Unique}, nil
}

func (d *Driver) Name() string { return "postgres" }

func table(collection string) string {
	return pgx.Identifier{collection}.Sanitize()
}

// ensure creates the collection table and its unique indexes once.
func (d *Driver) ensure(ctx context.Context, collection string) error {
	if _, ok := d.ready.Load(collection); ok {
		return nil
	}
	t := table(collection)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, doc jsonb NOT NULL)`, t),
	}
	for _, field := range d.unique[collection] {
		index := pgx.Identifier{collection + "_" + field + "_key"}.Sanitize()
		stmts = append(stmts, fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((doc->>%s))`,
			index, t, quoteLiteral(field)))
	}
	for _, stmt := range stmts {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: prepare collection %q: %w", collection, err)
		}
	}
	d.ready.Store(collection, struct{}{})
	return nil
}

func (d *Driver) FindOne(ctx context.Context, collection string, filter docstore.Filter) (docstore.Record, error) {
	if err := d.ensure(ctx, collection); err != nil {
		return nil, err
	}
	cond, err := containment(filter)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = d.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE doc @> $1 ORDER BY id LIMIT 1`, table(collection)),
		cond,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return docstore.DecodeRecord(raw)
}

func (d *Driver) Find(ctx context.Context, collection string, filter docstore.Filter, page docstore.Page) (docstore.Cursor, error) {
	if err := d.ensure(ctx, collection); err != nil {
		return nil, err
	}
	cond, err := containment(filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE doc @> $1`, table(collection))
	args := []any{cond}
	if page.Sort != "" {
		dir := "ASC"
		if page.Desc {
			dir = "DESC"
		}
		args = append(args, page.Sort)
		query += fmt.Sprintf(` ORDER BY doc->$%d %s NULLS FIRST, id`, len(args), dir)
	} else {
		query += ` ORDER BY id`
	}
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &cursor{rows: rows}, nil
}

type cursor struct {
	rows pgx.Rows
}

func (c *cursor) Next(context.Context) (docstore.Record, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var raw []byte
	if err := c.rows.Scan(&raw); err != nil {
		return nil, err
	}
	return docstore.DecodeRecord(raw)
}

func (c *cursor) Close(context.Context) error {
	c.rows.Close()
	return c.rows.Err()
}

func (d *Driver) Insert(ctx context.Context, collection string, doc docstore.Record) (docstore.Record, error) {
	if err := d.ensure(ctx, collection); err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode document: %w", err)
	}
	var raw []byte
	err = d.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2) RETURNING doc`, table(collection)),
		doc.ID(), data,
	).Scan(&raw)
	if err != nil {
		return nil, conflict(collection, err)
	}
	return docstore.DecodeRecord(raw)
}

func (d *Driver) Update(ctx context.Context, collection string, filter docstore.Filter, set docstore.Record) (docstore.Record, error) {
	if err := d.ensure(ctx, collection); err != nil {
		return nil, err
	}
	cond, err := containment(filter)
	if err != nil {
		return nil, err
	}
	patch, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode update: %w", err)
	}
	t := table(collection)
	var raw []byte
	err = d.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %[1]s SET doc = doc || $2
WHERE id = (SELECT id FROM %[1]s WHERE doc @> $1 ORDER BY id LIMIT 1)
RETURNING doc`, t),
		cond, patch,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, conflict(collection, err)
	}
	return docstore.DecodeRecord(raw)
}

func (d *Driver) Delete(ctx context.Context, collection string, filter docstore.Filter) (docstore.Record, error) {
	if err := d.ensure(ctx, collection); err != nil {
		return nil, err
	}
	cond, err := containment(filter)
	if err != nil {
		return nil, err
	}
	t := table(collection)
	var raw []byte
	err = d.pool.QueryRow(ctx,
		fmt.Sprintf(`DELETE FROM %[1]s
WHERE id = (SELECT id FROM %[1]s WHERE doc @> $1 ORDER BY id LIMIT 1)
RETURNING doc`, t),
		cond,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return docstore.DecodeRecord(raw)
}

func (d *Driver) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *Driver) Close(context.Context) error {
	d.pool.Close()
	return nil
}

// containment encodes an equality filter as a jsonb document for @>.
// A null condition cannot be expressed by containment and matches nothing
// but explicit nulls.
func containment(filter docstore.Filter) ([]byte, error) {
	if filter == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode filter: %w", err)
	}
	return data, nil
}

func conflict(collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &docstore.ConflictError{Collection: collection, Key: constraintField(collection, pgErr.ConstraintName), Err: err}
	}
	return err
}

// constraintField maps the constraint names created by ensure back to fields.
func constraintField(collection, constraint string) string {
	if constraint == collection+"_pkey" {
		return docstore.IDField
	}
	if field, ok := strings.CutPrefix(constraint, collection+"_"); ok {
		if field, ok = strings.CutSuffix(field, "_key"); ok {
			return field
		}
	}
	return constraint
}

func quoteLiteral(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
