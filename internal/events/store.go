package events

import "time"

// StoreStart is emitted before a document store operation.
// Op is unique per operation and pairs it with its StoreFinish.
type StoreStart struct {
	Op         uint64
	Backend    string
	Operation  string
	Collection string
}

// StoreFinish is emitted after a document store operation completes.
// Wait is the time spent waiting for a pooled connection.
type StoreFinish struct {
	Op         uint64
	Backend    string
	Operation  string
	Collection string
	Err        error
	Wait       time.Duration
	Duration   time.Duration
}
