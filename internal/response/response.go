// Package response encodes execution results as GraphQL response envelopes.
package response

import (
	"bytes"
	"encoding/json"
	"net/http"

	executor "github.com/hanpama/docgraph/internal/executor"
)

// InternalMessage is the only detail a client sees of an internal fault.
const InternalMessage = "Internal server error"

// Encode renders a result. data is always present, null when the result
// has none; errors is present only when there is at least one.
func Encode(res *executor.ExecutionResult) ([]byte, error) {
	return marshal(res, false)
}

// Write sends v, a result or a batch of results, with the given status.
func Write(w http.ResponseWriter, status int, v any, pretty bool) error {
	body, err := marshal(v, pretty)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// Internal returns the envelope sent with a 500 status.
func Internal() *executor.ExecutionResult {
	return Error(InternalMessage)
}

// Error returns an envelope with a single error and no data, for failures
// detected before execution.
func Error(message string) *executor.ExecutionResult {
	return &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: message}}}
}

func marshal(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// keep "<" and "&" in messages readable
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
