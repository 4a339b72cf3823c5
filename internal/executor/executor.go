package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/semaphore"

	language "github.com/hanpama/docgraph/internal/language"
	schema "github.com/hanpama/docgraph/internal/schema"
)

// Request is a single GraphQL request.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	RootValue     any
}

// Options configure an Executor.
type Options struct {
	// MaxParallelism bounds the goroutines resolving sibling fields and list
	// items across all requests. Zero resolves everything inline.
	MaxParallelism int64
	// CacheSize is the number of validated documents kept. Zero disables caching.
	CacheSize int64
}

// Option mutates Options.
type Option func(*Options)

// WithMaxParallelism sets Options.MaxParallelism.
func WithMaxParallelism(n int64) Option { return func(o *Options) { o.MaxParallelism = n } }

// WithCacheSize sets Options.CacheSize.
func WithCacheSize(n int64) Option { return func(o *Options) { o.CacheSize = n } }

func defaultOptions() Options {
	return Options{
		MaxParallelism: int64(16 * runtime.GOMAXPROCS(0)),
		CacheSize:      1000,
	}
}

type Executor struct {
	schema *schema.Schema
	cache  *ristretto.Cache[string, *language.QueryDocument]
	sem    *semaphore.Weighted
}

// New creates an executor for the schema.
func New(s *schema.Schema, opts ...Option) (*Executor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	e := &Executor{schema: s}
	if o.MaxParallelism > 0 {
		e.sem = semaphore.NewWeighted(o.MaxParallelism)
	}
	if o.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, *language.QueryDocument]{
			NumCounters: 10 * o.CacheSize,
			MaxCost:     o.CacheSize,
			BufferItems: 64,
			// each document costs 1, so MaxCost counts documents
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("document cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Execute runs one request against the schema without document caching.
func Execute(ctx context.Context, s *schema.Schema, req Request) (*ExecutionResult, error) {
	e, err := New(s, WithCacheSize(0))
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, req)
}

// Schema returns the schema the executor runs against.
func (e *Executor) Schema() *schema.Schema { return e.schema }

// Close releases the document cache.
func (e *Executor) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Execute parses, validates and executes the request.
//
// Request-level failures (syntax, validation, operation selection, variable
// coercion) are reported in the result with nil data. The returned error is
// non-nil only for an unhandled fault (*InternalError) or when ctx was
// canceled before execution finished.
func (e *Executor) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	p, err := e.Prepare(req.Query, req.OperationName)
	if err != nil {
		return &ExecutionResult{Errors: RequestErrors(err)}, nil
	}
	return e.ExecutePrepared(ctx, p, req.Variables, req.RootValue)
}

// ExecutePrepared executes an operation returned by Prepare.
func (e *Executor) ExecutePrepared(ctx context.Context, p *Prepared, variables map[string]any, rootValue any) (res *ExecutionResult, err error) {
	coerced, err := language.CoerceVariables(e.schema.AST(), p.Operation, variables)
	if err != nil {
		return &ExecutionResult{Errors: RequestErrors(err)}, nil
	}

	var (
		rootType *schema.Type
		parallel = true
	)
	switch p.Operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
		// top-level mutation fields run one after another in document order
		parallel = false
	case language.Subscription:
		return &ExecutionResult{Errors: []GraphQLError{{Message: "Subscriptions are not supported."}}}, nil
	}
	if rootType == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("Schema is not configured for %ss.", p.Operation.Operation)}}}, nil
	}

	state := &executionState{
		schema:         e.schema,
		document:       p.Document,
		variableValues: coerced,
		sem:            e.sem,
	}
	defer func() {
		if r := recover(); r != nil {
			state.recordPanic(r)
		}
		if state.fault != nil {
			res, err = nil, state.fault
		}
	}()

	fields := collectFields(state, rootType, p.Operation.SelectionSet)
	o := state.executeFields(ctx, rootType, rootValue, Path{}, fields, parallel)

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	return &ExecutionResult{Data: o.value, Errors: o.errors}, nil
}

// executionState holds the state of one request during execution.
// Results and errors flow back up as outcomes; the state itself is only
// written when a fault is recorded.
type executionState struct {
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any
	sem            *semaphore.Weighted

	mu    sync.Mutex
	fault *InternalError
}

// outcome is the completed value of one field, list item, or selection set
// together with the errors raised beneath it, in document order.
type outcome struct {
	value  any
	errors []GraphQLError
	// failed: value is null because an error was already recorded.
	failed bool
	// bubble: value is null in a non-null position; the enclosing nullable
	// position must become null.
	bubble bool
}

func (s *executionState) recordPanic(r any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault == nil {
		s.fault = &InternalError{Value: r, Stack: debug.Stack()}
	}
}

// fanOut calls fn for every index. When spawn allows and a parallelism slot
// is free the call runs on its own goroutine, otherwise inline.
func (s *executionState) fanOut(n int, spawn func(i int) bool, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if s.sem != nil && spawn(i) && s.sem.TryAcquire(1) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.sem.Release(1)
				defer func() {
					if r := recover(); r != nil {
						s.recordPanic(r)
					}
				}()
				fn(i)
			}()
			continue
		}
		fn(i)
	}
	wg.Wait()
}

// executeFields resolves a grouped selection set on one object value and
// merges the field outcomes in document order.
func (s *executionState) executeFields(ctx context.Context, objectType *schema.Type, source any, path Path, fields *collectedFieldMap, parallel bool) outcome {
	ordered := fields.orderedFields()
	defs := make([]*schema.Field, len(ordered))
	for i, cf := range ordered {
		defs[i] = s.schema.Field(objectType.Name, cf.Fields[0].Name)
	}

	outs := make([]outcome, len(ordered))
	s.fanOut(len(ordered),
		func(i int) bool { return parallel && defs[i] != nil && defs[i].Async },
		func(i int) { outs[i] = s.executeField(ctx, objectType, source, ordered[i], defs[i], path) },
	)

	data := make(map[string]any, len(ordered))
	var merged outcome
	for i, cf := range ordered {
		merged.errors = append(merged.errors, outs[i].errors...)
		if outs[i].bubble {
			merged.failed = true
		}
		data[cf.ResponseName] = outs[i].value
	}
	if !merged.failed {
		merged.value = data
	}
	return merged
}

func (s *executionState) executeField(ctx context.Context, objectType *schema.Type, source any, cf collectedField, fieldDef *schema.Field, parentPath Path) outcome {
	field := cf.Fields[0]
	path := appendPath(parentPath, cf.ResponseName)

	if field.Name == "__typename" {
		return outcome{value: objectType.Name}
	}
	if fieldDef == nil {
		err := fmt.Errorf("Cannot query field %q on type %q.", field.Name, objectType.Name)
		return outcome{errors: []GraphQLError{locatedError(err, path, cf.Fields)}, failed: true}
	}

	args, err := coerceArgumentValues(s.schema, fieldDef, field.Arguments, s.variableValues)
	if err != nil {
		return fieldFailure(fieldDef, locatedError(err, path, cf.Fields))
	}

	resolved, err := s.resolve(ctx, fieldDef.Resolve, schema.ResolveParams{
		Source: source,
		Args:   args,
		Info: schema.ResolveInfo{
			FieldName:  field.Name,
			Alias:      field.Alias,
			ParentType: objectType,
			ReturnType: fieldDef.Type,
			Path:       path,
			Schema:     s.schema,
		},
	})
	if err != nil {
		return fieldFailure(fieldDef, locatedError(err, path, cf.Fields))
	}
	return s.completeValue(ctx, fieldDef.Type, cf.Fields, resolved, path)
}

func fieldFailure(fieldDef *schema.Field, ge GraphQLError) outcome {
	return outcome{errors: []GraphQLError{ge}, failed: true, bubble: fieldDef.Type.IsNonNull()}
}

// resolve invokes a resolver. Cancellation is checked before the call and a
// panic is recorded as a fault of the whole request.
func (s *executionState) resolve(ctx context.Context, fn schema.ResolveFunc, p schema.ResolveParams) (v any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			s.recordPanic(r)
			v, err = nil, errInternalFault
		}
	}()
	if fn == nil {
		fn = schema.PropertyResolver
	}
	return fn(ctx, p)
}

// completeValue completes a value
func (s *executionState) completeValue(ctx context.Context, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path) outcome {
	if fieldType.IsNonNull() {
		o := s.completeValue(ctx, fieldType.OfType, fields, result, path)
		if o.value == nil {
			if !o.failed {
				err := fmt.Errorf("Cannot return null for non-nullable field %s.", pathToString(path))
				o.errors = append(o.errors, locatedError(err, path, fields))
			}
			o.failed, o.bubble = true, true
		}
		return o
	}

	if isNullish(result) {
		return outcome{}
	}

	if fieldType.Kind == schema.TypeRefKindList {
		return s.completeListValue(ctx, fieldType, fields, result, path)
	}

	typeObj := s.schema.Types[fieldType.Named]
	if typeObj == nil {
		return s.completionError(fmt.Errorf("Unknown type %q.", fieldType.Named), path, fields)
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		v, err := serializeLeaf(typeObj, result)
		if err != nil {
			return s.completionError(err, path, fields)
		}
		return outcome{value: v}
	case schema.TypeKindObject:
		return s.completeObjectValue(ctx, typeObj, fields, result, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return s.completeAbstractValue(ctx, typeObj, fields, result, path)
	default:
		return s.completionError(fmt.Errorf("Cannot complete value of unexpected type %s.", typeObj.Kind), path, fields)
	}
}

func (s *executionState) completionError(err error, path Path, fields []*language.Field) outcome {
	return outcome{errors: []GraphQLError{locatedError(err, path, fields)}, failed: true}
}

// completeListValue completes a list value
func (s *executionState) completeListValue(ctx context.Context, listType *schema.TypeRef, fields []*language.Field, result any, path Path) outcome {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return s.completionError(fmt.Errorf("Expected a list for field %s, got %T.", pathToString(path), result), path, fields)
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := listType.OfType
	composite := false
	if t := s.schema.Types[inner.GetNamedType()]; t != nil {
		composite = !t.Kind.IsLeaf()
	}

	outs := make([]outcome, len(items))
	s.fanOut(len(items),
		func(int) bool { return composite && len(items) > 1 },
		func(i int) { outs[i] = s.completeValue(ctx, inner, fields, items[i], appendPath(path, i)) },
	)

	completed := make([]any, len(items))
	var merged outcome
	for i := range outs {
		merged.errors = append(merged.errors, outs[i].errors...)
		if outs[i].bubble {
			merged.failed = true
		}
		completed[i] = outs[i].value
	}
	if !merged.failed {
		merged.value = completed
	}
	return merged
}

func (s *executionState) completeObjectValue(ctx context.Context, objectType *schema.Type, fields []*language.Field, result any, path Path) outcome {
	sub := collectSubfields(s, objectType, fields)
	return s.executeFields(ctx, objectType, result, path, sub, true)
}

func (s *executionState) completeAbstractValue(ctx context.Context, abstractType *schema.Type, fields []*language.Field, result any, path Path) outcome {
	typeName, err := resolveType(abstractType, result)
	if err != nil {
		return s.completionError(err, path, fields)
	}
	objectType := s.schema.Types[typeName]
	if objectType == nil || objectType.Kind != schema.TypeKindObject {
		return s.completionError(fmt.Errorf("Abstract type %q must resolve to an Object type at runtime for field %s. Got: %q.", abstractType.Name, pathToString(path), typeName), path, fields)
	}
	if !s.schema.IsPossibleType(abstractType.Name, typeName) {
		return s.completionError(fmt.Errorf("Runtime Object type %q is not a possible type for %q.", typeName, abstractType.Name), path, fields)
	}
	return s.completeObjectValue(ctx, objectType, fields, result, path)
}

// TypeNamer lets values report their concrete GraphQL object type.
type TypeNamer interface {
	TypeName() string
}

// resolveType picks the object type of a value of an abstract type: the
// type's own hook, a TypeNamer, a "__typename" property, or the single
// possible type.
func resolveType(abstractType *schema.Type, value any) (string, error) {
	if abstractType.ResolveType != nil {
		return abstractType.ResolveType(value)
	}
	if n, ok := value.(TypeNamer); ok {
		return n.TypeName(), nil
	}
	if name, ok := schema.Property(value, "__typename").(string); ok && name != "" {
		return name, nil
	}
	if len(abstractType.PossibleTypes) == 1 {
		return abstractType.PossibleTypes[0], nil
	}
	return "", fmt.Errorf("Abstract type %q must resolve to an Object type at runtime. Either the value must carry a __typename or the type must have a type resolver.", abstractType.Name)
}

func serializeLeaf(t *schema.Type, value any) (any, error) {
	if t.Kind == schema.TypeKindEnum {
		name, ok := value.(string)
		if !ok {
			if rv := reflect.ValueOf(value); rv.Kind() == reflect.String {
				name, ok = rv.String(), true
			} else if st, isStringer := value.(fmt.Stringer); isStringer {
				name, ok = st.String(), true
			}
		}
		if !ok || !t.HasEnumValue(name) {
			return nil, fmt.Errorf("Enum %q cannot represent value: %v", t.Name, value)
		}
		return name, nil
	}
	if t.Serialize == nil {
		return value, nil
	}
	return t.Serialize(value)
}

func pathToString(path Path) string {
	result := ""
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				result += "."
			}
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}
