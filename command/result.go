package command

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Result represents one delivered result: the single outcome of a one-shot
// command, or one document of a stream
type Result struct {
	// Documents holds the result documents in delivery order
	Documents []bson.Raw `json:"documents"`

	// Reply is the raw server reply of a one-shot command
	Reply bson.Raw `json:"reply,omitempty"`

	// Sequence is the 1-based position of a stream item
	Sequence int64 `json:"sequence,omitempty"`

	// Elapsed is the time since execution started
	Elapsed time.Duration `json:"elapsed"`

	// Matched is the number of documents matched by an update
	Matched int64 `json:"matched,omitempty"`

	// Modified is the number of documents changed by an update
	Modified int64 `json:"modified,omitempty"`

	// Upserted is the number of documents inserted by an upsert
	Upserted int64 `json:"upserted,omitempty"`

	// Deleted is the number of documents removed
	Deleted int64 `json:"deleted,omitempty"`

	// Inserted is the number of documents inserted
	Inserted int64 `json:"inserted,omitempty"`

	// Count is the result of a count command
	Count int64 `json:"count,omitempty"`

	// InsertedIDs lists the _id values of inserted documents in order
	InsertedIDs []interface{} `json:"inserted_ids,omitempty"`

	// UpsertedID is the _id of a document created by an upsert
	UpsertedID interface{} `json:"upserted_id,omitempty"`
}

// IsEmpty returns true if the result contains no documents
func (r *Result) IsEmpty() bool {
	return len(r.Documents) == 0
}

// First returns the first document or nil
func (r *Result) First() bson.Raw {
	if len(r.Documents) == 0 {
		return nil
	}
	return r.Documents[0]
}
