package connection

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrClosed is returned by connections and cursors used after Close
var ErrClosed = errors.New("connection closed")

// Namespace addresses a database and, optionally, a collection in it.
// An empty Collection addresses the whole database.
type Namespace struct {
	Database   string
	Collection string
}

// String returns the dotted namespace
func (n Namespace) String() string {
	if n.Collection == "" {
		return n.Database
	}
	return n.Database + "." + n.Collection
}

// WatchOptions configures a change stream
type WatchOptions struct {
	// FullDocument is one of "", "updateLookup", "whenAvailable", "required"
	FullDocument string

	// FullDocumentBeforeChange is one of "", "off", "whenAvailable", "required"
	FullDocumentBeforeChange string

	// ResumeAfter resumes after the event with this resume token
	ResumeAfter bson.Raw

	// StartAfter starts after the event with this resume token, even an invalidate
	StartAfter bson.Raw

	// StartAtOperationTime starts at the given cluster time
	StartAtOperationTime *primitive.Timestamp

	// BatchSize bounds the number of events per batch; zero leaves it to the server
	BatchSize int32

	// MaxAwaitTime bounds how long the server waits for new events per batch
	MaxAwaitTime time.Duration

	// ShowExpandedEvents asks for DDL events such as create and createIndexes
	ShowExpandedEvents bool
}

// Cursor iterates a server-side result set or change stream batch by batch
type Cursor interface {
	// NextBatch returns the next non-empty batch of documents. It returns
	// io.EOF once the cursor is exhausted. For change streams it blocks until
	// events arrive, the stream is invalidated or ctx is done.
	NextBatch(ctx context.Context) ([]bson.Raw, error)

	// Close releases the server-side cursor
	Close(ctx context.Context) error
}

// Connection is the database capability commands are executed against
type Connection interface {
	// RunCommand runs a command document on db and returns the raw reply.
	// Replies with ok: 0 are returned as errors.
	RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error)

	// OpenCursor runs a cursor producing command (find, aggregate,
	// listIndexes, listCollections) and returns a cursor over its results
	OpenCursor(ctx context.Context, db string, cmd bson.D) (Cursor, error)

	// Watch opens a change stream on a collection, or on a database when
	// ns.Collection is empty
	Watch(ctx context.Context, ns Namespace, pipeline bson.A, opts WatchOptions) (Cursor, error)

	// Close releases the connection
	Close(ctx context.Context) error
}
