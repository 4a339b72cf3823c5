package docstore

import (
	"context"
	"io"
	"sort"
)

// Driver is a document store backend. Implementations are safe for
// concurrent use and report ErrNotFound, *ConflictError and
// *ConnectionError; other errors are treated as connection failures.
type Driver interface {
	// Name identifies the backend in events and logs.
	Name() string
	FindOne(ctx context.Context, collection string, filter Filter) (Record, error)
	Find(ctx context.Context, collection string, filter Filter, page Page) (Cursor, error)
	Insert(ctx context.Context, collection string, doc Record) (Record, error)
	// Update sets the fields of set on the first match and returns the result.
	Update(ctx context.Context, collection string, filter Filter, set Record) (Record, error)
	// Delete removes the first match and returns it.
	Delete(ctx context.Context, collection string, filter Filter) (Record, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Cursor streams the results of Find. Next returns io.EOF when exhausted.
type Cursor interface {
	Next(ctx context.Context) (Record, error)
	Close(ctx context.Context) error
}

type sliceCursor struct {
	records []Record
	pos     int
}

// NewSliceCursor returns a Cursor over records already in memory.
func NewSliceCursor(records []Record) Cursor { return &sliceCursor{records: records} }

func (c *sliceCursor) Next(context.Context) (Record, error) {
	if c.pos >= len(c.records) {
		return nil, io.EOF
	}
	r := c.records[c.pos]
	c.pos++
	return r, nil
}

func (c *sliceCursor) Close(context.Context) error {
	c.records = nil
	return nil
}

// Paginate sorts records by page.Sort and applies the offset and limit.
// Records without the sort field come first.
func Paginate(records []Record, page Page) []Record {
	if page.Sort != "" {
		sort.SliceStable(records, func(i, j int) bool {
			c := Compare(records[i][page.Sort], records[j][page.Sort])
			if page.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if page.Offset > 0 {
		if page.Offset >= len(records) {
			return nil
		}
		records = records[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(records) {
		records = records[:page.Limit]
	}
	return records
}
