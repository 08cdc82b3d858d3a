package readonly

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/connection"
)

// ErrReadOnly is returned for commands that would modify the deployment
var ErrReadOnly = errors.New("connection is read-only")

// writeCommands lists the server commands that modify data, metadata or the
// replica set configuration
var writeCommands = map[string]bool{
	"insert":           true,
	"update":           true,
	"delete":           true,
	"findAndModify":    true,
	"findandmodify":    true,
	"create":           true,
	"drop":             true,
	"dropDatabase":     true,
	"renameCollection": true,
	"createIndexes":    true,
	"dropIndexes":      true,
	"collMod":          true,
	"killOp":           true,
	"shutdown":         true,
	"replSetInitiate":  true,
	"replSetReconfig":  true,
	"replSetStepDown":  true,
	"replSetFreeze":    true,
	"replSetSyncFrom":  true,
}

// Connection wraps another connection and rejects write commands before they
// reach it. Commands in the allow list pass even when they write.
type Connection struct {
	inner   connection.Connection
	allowed map[string]bool
}

var _ connection.Connection = (*Connection)(nil)

// New wraps inner. allow names write commands that remain permitted.
func New(inner connection.Connection, allow ...string) *Connection {
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}
	return &Connection{inner: inner, allowed: allowed}
}

// RunCommand checks cmd and delegates to the wrapped connection
func (c *Connection) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	if err := c.check(cmd); err != nil {
		return nil, err
	}
	return c.inner.RunCommand(ctx, db, cmd)
}

// OpenCursor checks cmd and delegates to the wrapped connection
func (c *Connection) OpenCursor(ctx context.Context, db string, cmd bson.D) (connection.Cursor, error) {
	if err := c.check(cmd); err != nil {
		return nil, err
	}
	return c.inner.OpenCursor(ctx, db, cmd)
}

// Watch delegates to the wrapped connection; change streams only read
func (c *Connection) Watch(ctx context.Context, ns connection.Namespace, pipeline bson.A, opts connection.WatchOptions) (connection.Cursor, error) {
	return c.inner.Watch(ctx, ns, pipeline, opts)
}

// Close closes the wrapped connection
func (c *Connection) Close(ctx context.Context) error {
	if c.inner != nil {
		return c.inner.Close(ctx)
	}
	return nil
}

// check rejects write commands, including aggregations that end in an
// $out or $merge stage
func (c *Connection) check(cmd bson.D) error {
	if len(cmd) == 0 {
		return nil
	}
	name := cmd[0].Key
	if c.allowed[name] {
		return nil
	}
	if writeCommands[name] {
		return fmt.Errorf("%w: %s is not permitted", ErrReadOnly, name)
	}
	if name == "aggregate" {
		if stage := writingStage(cmd); stage != "" {
			return fmt.Errorf("%w: aggregate with %s is not permitted", ErrReadOnly, stage)
		}
	}
	return nil
}

func writingStage(cmd bson.D) string {
	for _, e := range cmd {
		if e.Key != "pipeline" {
			continue
		}
		stages, _ := e.Value.(bson.A)
		for _, s := range stages {
			stage, ok := s.(bson.D)
			if !ok || len(stage) == 0 {
				continue
			}
			if stage[0].Key == "$out" || stage[0].Key == "$merge" {
				return stage[0].Key
			}
		}
	}
	return ""
}
