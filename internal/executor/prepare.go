package executor

import (
	"fmt"

	language "github.com/hanpama/docgraph/internal/language"
)

// Prepared is a validated document with its selected operation. The
// document may be shared between requests and must not be modified.
type Prepared struct {
	Document  *language.QueryDocument
	Operation *language.OperationDefinition
}

// Prepare parses and validates the query text and selects the operation.
// It fails with *SyntaxError, *ValidationError or *AmbiguousOperationError.
func (e *Executor) Prepare(query, operationName string) (*Prepared, error) {
	doc, err := e.document(query)
	if err != nil {
		return nil, err
	}
	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}
	return &Prepared{Document: doc, Operation: op}, nil
}

func (e *Executor) document(query string) (*language.QueryDocument, error) {
	if e.cache != nil {
		if doc, ok := e.cache.Get(query); ok {
			return doc, nil
		}
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	if err := language.Validate(e.schema.AST(), doc); err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(query, doc, 1)
	}
	return doc, nil
}

func selectOperation(doc *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if operationName == "" {
		switch len(doc.Operations) {
		case 0:
			return nil, &ValidationError{Violations: []language.Violation{{Message: "Must provide an operation."}}}
		case 1:
			return doc.Operations[0], nil
		}
		names := make([]string, 0, len(doc.Operations))
		for _, op := range doc.Operations {
			names = append(names, op.Name)
		}
		return nil, &AmbiguousOperationError{Operations: names}
	}
	if op := doc.Operations.ForName(operationName); op != nil {
		return op, nil
	}
	return nil, &ValidationError{Violations: []language.Violation{{Message: fmt.Sprintf("Unknown operation named %q.", operationName)}}}
}
