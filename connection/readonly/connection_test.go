package readonly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/connection/memory"
)

func newInner(t *testing.T) *memory.Connection {
	t.Helper()
	inner := memory.New(nil)
	require.NoError(t, inner.Load("shop", "products",
		bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "Mouse"}},
		bson.D{{Key: "_id", Value: 2}, {Key: "name", Value: "Keyboard"}},
	))
	return inner
}

func TestConnection_RejectsWrites(t *testing.T) {
	conn := New(newInner(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		cmd     bson.D
		wantErr bool
	}{
		{"find", bson.D{{Key: "find", Value: "products"}}, false},
		{"count", bson.D{{Key: "count", Value: "products"}}, false},
		{"collStats", bson.D{{Key: "collStats", Value: "products"}}, false},
		{"insert", bson.D{{Key: "insert", Value: "products"}, {Key: "documents", Value: bson.A{bson.D{}}}}, true},
		{"update", bson.D{{Key: "update", Value: "products"}}, true},
		{"delete", bson.D{{Key: "delete", Value: "products"}}, true},
		{"findAndModify", bson.D{{Key: "findAndModify", Value: "products"}}, true},
		{"drop", bson.D{{Key: "drop", Value: "products"}}, true},
		{"createIndexes", bson.D{{Key: "createIndexes", Value: "products"}}, true},
		{"replSetReconfig", bson.D{{Key: "replSetReconfig", Value: bson.D{}}}, true},
		{"aggregate read", bson.D{{Key: "aggregate", Value: "products"}, {Key: "pipeline", Value: bson.A{}}, {Key: "cursor", Value: bson.D{}}}, false},
		{"aggregate out", bson.D{{Key: "aggregate", Value: "products"}, {Key: "pipeline", Value: bson.A{bson.D{{Key: "$out", Value: "copy"}}}}, {Key: "cursor", Value: bson.D{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conn.RunCommand(ctx, "shop", tt.cmd)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrReadOnly)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConnection_CursorAndWatch(t *testing.T) {
	conn := New(newInner(t))
	ctx := context.Background()

	cur, err := conn.OpenCursor(ctx, "shop", bson.D{{Key: "find", Value: "products"}})
	require.NoError(t, err)
	batch, err := cur.NextBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = conn.OpenCursor(ctx, "shop", bson.D{{Key: "aggregate", Value: "products"}, {Key: "pipeline", Value: bson.A{bson.D{{Key: "$merge", Value: "copy"}}}}})
	assert.ErrorIs(t, err, ErrReadOnly)

	stream, err := conn.Watch(ctx, connection.Namespace{Database: "shop", Collection: "products"}, nil, connection.WatchOptions{})
	require.NoError(t, err)
	assert.NoError(t, stream.Close(ctx))
}

func TestConnection_AllowList(t *testing.T) {
	inner := newInner(t)
	conn := New(inner, "create")

	_, err := conn.RunCommand(context.Background(), "shop", bson.D{{Key: "create", Value: "logs"}})
	assert.NoError(t, err)
	_, err = conn.RunCommand(context.Background(), "shop", bson.D{{Key: "drop", Value: "logs"}})
	assert.ErrorIs(t, err, ErrReadOnly)

	require.NoError(t, conn.Close(context.Background()))
	_, err = inner.RunCommand(context.Background(), "admin", bson.D{{Key: "ping", Value: 1}})
	assert.ErrorIs(t, err, connection.ErrClosed)
}
