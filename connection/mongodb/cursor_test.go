package mongodb

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// fakeSource replays batches of documents like a driver cursor
type fakeSource struct {
	batches [][]bson.Raw
	pos     int
	current bson.Raw
	err     error
	closed  bool
}

func (f *fakeSource) Next(ctx context.Context) bool {
	for len(f.batches) > 0 && f.pos >= len(f.batches[0]) {
		f.batches, f.pos = f.batches[1:], 0
	}
	if len(f.batches) == 0 {
		return false
	}
	f.current = f.batches[0][f.pos]
	f.pos++
	return true
}

func (f *fakeSource) RemainingBatchLength() int {
	if len(f.batches) == 0 {
		return 0
	}
	return len(f.batches[0]) - f.pos
}

func (f *fakeSource) Err() error { return f.err }

func (f *fakeSource) Close(context.Context) error {
	f.closed = true
	return nil
}

func rawDocs(t *testing.T, ids ...int) []bson.Raw {
	t.Helper()
	out := make([]bson.Raw, len(ids))
	for i, id := range ids {
		raw, err := bson.Marshal(bson.D{{Key: "_id", Value: id}})
		require.NoError(t, err)
		out[i] = raw
	}
	return out
}

func TestCursor_BatchBoundaries(t *testing.T) {
	src := &fakeSource{batches: [][]bson.Raw{rawDocs(t, 1, 2, 3), rawDocs(t, 4)}}
	cur := &cursor{src: src, current: func() bson.Raw { return src.current }}
	ctx := context.Background()

	batch, err := cur.NextBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	batch, err = cur.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, int32(4), batch[0].Lookup("_id").Int32())

	_, err = cur.NextBatch(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = cur.NextBatch(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, cur.Close(ctx))
	assert.True(t, src.closed)
}

func TestChangeStream_OneEventPerBatch(t *testing.T) {
	src := &fakeSource{batches: [][]bson.Raw{rawDocs(t, 1, 2)}}
	cs := &changeStream{src: src, current: func() bson.Raw { return src.current }}
	ctx := context.Background()

	for _, want := range []int32{1, 2} {
		batch, err := cs.NextBatch(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, want, batch[0].Lookup("_id").Int32())
	}
	_, err := cs.NextBatch(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChangeStream_Errors(t *testing.T) {
	t.Run("upstream error", func(t *testing.T) {
		boom := errors.New("resume token not found")
		cs := &changeStream{src: &fakeSource{err: boom}, current: func() bson.Raw { return nil }}
		_, err := cs.NextBatch(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cs := &changeStream{src: &fakeSource{}, current: func() bson.Raw { return nil }}
		_, err := cs.NextBatch(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed", func(t *testing.T) {
		src := &fakeSource{batches: [][]bson.Raw{rawDocs(t, 1)}}
		cs := &changeStream{src: src, current: func() bson.Raw { return src.current }}
		require.NoError(t, cs.Close(context.Background()))
		assert.True(t, src.closed)
		_, err := cs.NextBatch(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	})
}
