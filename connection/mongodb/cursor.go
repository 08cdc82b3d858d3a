package mongodb

import (
	"context"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	_ source      = (*mongo.Cursor)(nil)
	_ eventSource = (*mongo.ChangeStream)(nil)
)

// source is the iteration surface of a *mongo.Cursor
type source interface {
	Next(ctx context.Context) bool
	RemainingBatchLength() int
	Err() error
	Close(ctx context.Context) error
}

// eventSource is the iteration surface of a *mongo.ChangeStream, which does
// not expose its batch boundaries
type eventSource interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

// cursor adapts a driver cursor to connection.Cursor, handing out the
// documents of one server batch at a time
type cursor struct {
	src     source
	current func() bson.Raw
	done    bool
}

func (c *cursor) NextBatch(ctx context.Context) ([]bson.Raw, error) {
	if c.done {
		return nil, io.EOF
	}
	if !c.src.Next(ctx) {
		return nil, c.end(ctx)
	}

	batch := []bson.Raw{clone(c.current())}
	for c.src.RemainingBatchLength() > 0 && c.src.Next(ctx) {
		batch = append(batch, clone(c.current()))
	}
	return batch, nil
}

func (c *cursor) end(ctx context.Context) error {
	if err := c.src.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.done = true
	return io.EOF
}

func (c *cursor) Close(ctx context.Context) error {
	c.done = true
	return c.src.Close(ctx)
}

// changeStream adapts a driver change stream to connection.Cursor. Every
// event is its own batch.
type changeStream struct {
	src     eventSource
	current func() bson.Raw
	done    bool
}

func (s *changeStream) NextBatch(ctx context.Context) ([]bson.Raw, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.src.Next(ctx) {
		if err := s.src.Err(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// an invalidate event closed the stream
		s.done = true
		return nil, io.EOF
	}
	return []bson.Raw{clone(s.current())}, nil
}

func (s *changeStream) Close(ctx context.Context) error {
	s.done = true
	return s.src.Close(ctx)
}

// clone copies a document out of the driver's reusable batch buffer
func clone(raw bson.Raw) bson.Raw {
	return append(bson.Raw(nil), raw...)
}
