package executor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/connection"
)

// failure converts a database error into a DatabaseFailure carrying the
// server's code and message verbatim. Other errors pass through unchanged.
func failure(cmd command.Command, err error) error {
	if err == nil || errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *command.DatabaseFailure
	if errors.As(err, &existing) {
		return err
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return &command.DatabaseFailure{
			Code:     ce.Code,
			CodeName: ce.Name,
			Message:  ce.Message,
			Labels:   ce.Labels,
			Command:  cmd,
			Err:      err,
		}
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return &command.DatabaseFailure{Message: se.Error(), Command: cmd, Err: err}
	}
	return err
}

// writeFailure inspects the reply of a write command for writeErrors and
// writeConcernError and reports the first one as a DatabaseFailure
func writeFailure(cmd command.Command, reply bson.Raw) error {
	if errs, ok := reply.Lookup("writeErrors").ArrayOK(); ok {
		values, _ := errs.Values()
		for _, v := range values {
			doc, ok := v.DocumentOK()
			if !ok {
				continue
			}
			return replyFailure(cmd, doc, bson.RawValue{})
		}
	}
	if wce, ok := reply.Lookup("writeConcernError").DocumentOK(); ok {
		return replyFailure(cmd, wce, reply.Lookup("errorLabels"))
	}
	return nil
}

func replyFailure(cmd command.Command, doc bson.Raw, labels bson.RawValue) error {
	// writeErrors entries carry no codeName
	codeName, _ := doc.Lookup("codeName").StringValueOK()
	message, _ := doc.Lookup("errmsg").StringValueOK()
	f := &command.DatabaseFailure{
		Code:     int32(integer(doc.Lookup("code"))),
		CodeName: codeName,
		Message:  message,
		Command:  cmd,
	}
	if arr, ok := labels.ArrayOK(); ok {
		values, _ := arr.Values()
		for _, v := range values {
			if s, ok := v.StringValueOK(); ok {
				f.Labels = append(f.Labels, s)
			}
		}
	}
	f.Err = mongo.CommandError{Code: f.Code, Name: f.CodeName, Message: f.Message, Labels: f.Labels}
	return f
}

// integer reads any numeric BSON value; other types read as zero
func integer(v bson.RawValue) int64 {
	if n, ok := v.Int32OK(); ok {
		return int64(n)
	}
	if n, ok := v.Int64OK(); ok {
		return n
	}
	if f, ok := v.DoubleOK(); ok {
		return int64(f)
	}
	return 0
}

// failureCursor converts the errors of a cursor into DatabaseFailures
type failureCursor struct {
	connection.Cursor
	cmd command.Command
}

func (c failureCursor) NextBatch(ctx context.Context) (batch []bson.Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			batch, err = nil, panicError(c.cmd, r)
		}
	}()
	batch, err = c.Cursor.NextBatch(ctx)
	return batch, failure(c.cmd, err)
}

// panicError reports a recovered panic as an execution failure
func panicError(cmd command.Command, r interface{}) error {
	return command.NewExecutionError(cmd.Verb().String(), fmt.Errorf("%w: %v", command.ErrExecutionFailed, r))
}
