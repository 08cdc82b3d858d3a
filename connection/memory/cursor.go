package memory

import (
	"context"
	"io"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/connection"
)

// defaultBatchSize matches the server's first batch size
const defaultBatchSize = 101

// sliceCursor hands out a materialized result set in batches
type sliceCursor struct {
	conn      *Connection
	docs      []bson.Raw
	batchSize int
	pos       int
	closed    bool
}

func (c *sliceCursor) NextBatch(ctx context.Context) ([]bson.Raw, error) {
	if c.closed {
		return nil, connection.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.docs) {
		return nil, io.EOF
	}
	if c.pos > 0 {
		if err := c.conn.failure("getMore"); err != nil {
			return nil, err
		}
	}
	size := c.batchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	end := c.pos + size
	if end > len(c.docs) {
		end = len(c.docs)
	}
	batch := c.docs[c.pos:end]
	c.pos = end
	return batch, nil
}

func (c *sliceCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}
