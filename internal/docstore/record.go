package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// IDField is the field holding a document's identity.
const IDField = "_id"

// Record is one stored document. Nested documents are map[string]any and
// arrays []any; numbers are int64 or float64.
type Record map[string]any

// ID returns the document identity as a string.
func (r Record) ID() string {
	switch v := r[IDField].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Filter selects documents by equality on top-level fields.
type Filter map[string]any

// Matches reports whether r satisfies every condition of f.
func (f Filter) Matches(r Record) bool {
	for k, want := range f {
		got, ok := r[k]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !Equal(got, want) {
			return false
		}
	}
	return true
}

// Page bounds and orders a multi-document read. Zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
	Sort   string
	Desc   bool
}

// MutationKind is the kind of a write.
type MutationKind int

const (
	Insert MutationKind = iota + 1
	Update
	Delete
)

func (k MutationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("MutationKind(%d)", int(k))
}

// Mutation describes a single-document write. Insert uses Doc; Update sets
// the fields of Doc on the first document matching Filter; Delete removes
// the first document matching Filter.
type Mutation struct {
	Kind   MutationKind
	Filter Filter
	Doc    Record
}

// DecodeRecord decodes a JSON object, keeping integers as int64.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return Record(normalizeJSON(m).(map[string]any)), nil
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeJSON(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeJSON(e)
		}
		return x
	}
	return v
}

// Equal compares two field values. Numbers compare by value regardless of
// their Go type.
func Equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			if !Equal(v, y[k]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two field values: null < numbers < strings < booleans <
// anything else.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, _ := number(a)
		fb, _ := number(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		switch {
		case a == b:
			return 0
		case a == false:
			return -1
		}
		return 1
	}
	return 0
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := number(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case bool:
		return 3
	}
	return 4
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
