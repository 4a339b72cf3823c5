package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when a GraphQL HTTP request is received. The publish
// context carries the request id.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted once the response is written, or abandoned when the
// client went away. Operations counts the GraphQL operations executed, more
// than one for a batch.
type HTTPFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}
