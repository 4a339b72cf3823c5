// Package executor implements a depth-first GraphQL executor over a
// schema.Schema whose fields carry their resolvers.
//
// # Preparation
//
// Before execution, the executor:
//  1. Parses the query text (SyntaxError with line and column).
//  2. Validates the document against the schema, collecting every violation
//     (ValidationError). Validated documents are cached by query text.
//  3. Selects the operation by name, or the sole operation when unnamed
//     (AmbiguousOperationError when several exist).
//  4. Coerces variables against the operation's variable definitions.
//
// Any failure here aborts the request: the result has null data and only
// errors.
//
// # Execution Model
//
// Execution descends the selection tree depth-first. For each object value
// the selection set is grouped by response key (fields.go), each field's
// arguments are coerced (values.go) and its bound resolver is invoked with
// the parent value, the arguments and the request context.
//
// Fields marked schema.Field.Async (every field with an explicit binding)
// may block on I/O. For query operations, such siblings are resolved on
// separate goroutines, as are items of lists of composite values. The number
// of goroutines across all requests is bounded; when the bound is reached
// work continues inline on the caller's goroutine. The top-level fields of a
// mutation run one after another in document order; their subfields follow
// the query rules.
//
// # Value Completion
//
//   - Non-Null: complete the inner type; a null result records an error
//     (unless one was already recorded for it) and bubbles.
//   - Null: nil results (including typed nils) produce GraphQL null.
//   - List: complete each element with an index-aware path.
//   - Leaf: enums must name a declared value; scalars go through
//     schema.Type.Serialize.
//   - Abstract: the concrete type comes from schema.Type.ResolveType, a
//     TypeNamer, a "__typename" property, or the single possible type.
//   - Object: collect subfields and execute them.
//
// # Errors and Partial Success
//
// Every field produces an outcome holding its value and the errors raised
// beneath it; outcomes are merged bottom-up in document order, so the error
// list is deterministic regardless of scheduling. A failed nullable field
// becomes null while its siblings keep their values. A null in a non-null
// position bubbles to the nearest nullable ancestor, which becomes null; if
// there is none, data is null.
//
// A panic in a resolver is an internal fault: Execute returns an
// *InternalError and no result. A canceled context stops further resolver
// calls, and Execute returns the context error.
package executor
