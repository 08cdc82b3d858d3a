package mongodb

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hadi77ir/go-mongosh/connection"
)

// Options configures Dial
type Options struct {
	// URI is a mongodb:// or mongodb+srv:// connection string
	URI string

	// AppName is reported to the server in the handshake
	AppName string

	// ConnectTimeout bounds connecting and server selection; zero keeps the
	// driver defaults
	ConnectTimeout time.Duration
}

// Connection is the driver-backed implementation of connection.Connection
type Connection struct {
	client *mongo.Client
	owned  bool
}

var _ connection.Connection = (*Connection)(nil)

// Dial connects to the deployment and verifies it answers a ping
func Dial(ctx context.Context, opts Options) (*Connection, error) {
	if opts.URI == "" {
		return nil, errors.New("connection URI is empty")
	}

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.AppName != "" {
		clientOpts.SetAppName(opts.AppName)
	}
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
		clientOpts.SetServerSelectionTimeout(opts.ConnectTimeout)
	}
	if err := clientOpts.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid connection options for '%s'", redact(opts.URI))
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to '%s'", redact(opts.URI))
	}
	if err := client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrapf(err, "pinging '%s'", redact(opts.URI))
	}
	return &Connection{client: client, owned: true}, nil
}

// New wraps an already connected client. Close does not disconnect it.
func New(client *mongo.Client) *Connection {
	return &Connection{client: client}
}

// Client returns the underlying driver client
func (c *Connection) Client() *mongo.Client {
	return c.client
}

// RunCommand runs cmd on db
func (c *Connection) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	return c.client.Database(db).RunCommand(ctx, cmd).Raw()
}

// OpenCursor runs a cursor producing command on db
func (c *Connection) OpenCursor(ctx context.Context, db string, cmd bson.D) (connection.Cursor, error) {
	cur, err := c.client.Database(db).RunCommandCursor(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &cursor{src: cur, current: func() bson.Raw { return cur.Current }}, nil
}

// Watch opens a change stream on ns. An empty database watches the whole
// deployment.
func (c *Connection) Watch(ctx context.Context, ns connection.Namespace, pipeline bson.A, opts connection.WatchOptions) (connection.Cursor, error) {
	csOpts := options.ChangeStream()
	if opts.FullDocument != "" {
		csOpts.SetFullDocument(options.FullDocument(opts.FullDocument))
	}
	if opts.FullDocumentBeforeChange != "" {
		csOpts.SetFullDocumentBeforeChange(options.FullDocument(opts.FullDocumentBeforeChange))
	}
	if opts.ResumeAfter != nil {
		csOpts.SetResumeAfter(opts.ResumeAfter)
	}
	if opts.StartAfter != nil {
		csOpts.SetStartAfter(opts.StartAfter)
	}
	if opts.StartAtOperationTime != nil {
		csOpts.SetStartAtOperationTime(opts.StartAtOperationTime)
	}
	if opts.BatchSize > 0 {
		csOpts.SetBatchSize(opts.BatchSize)
	}
	if opts.MaxAwaitTime > 0 {
		csOpts.SetMaxAwaitTime(opts.MaxAwaitTime)
	}
	if opts.ShowExpandedEvents {
		csOpts.SetShowExpandedEvents(true)
	}
	if pipeline == nil {
		pipeline = bson.A{}
	}

	var (
		stream *mongo.ChangeStream
		err    error
	)
	switch {
	case ns.Database == "":
		stream, err = c.client.Watch(ctx, pipeline, csOpts)
	case ns.Collection == "":
		stream, err = c.client.Database(ns.Database).Watch(ctx, pipeline, csOpts)
	default:
		stream, err = c.client.Database(ns.Database).Collection(ns.Collection).Watch(ctx, pipeline, csOpts)
	}
	if err != nil {
		return nil, err
	}
	return &changeStream{src: stream, current: func() bson.Raw { return stream.Current }}, nil
}

// Close disconnects the client when it was created by Dial
func (c *Connection) Close(ctx context.Context) error {
	if !c.owned {
		return nil
	}
	return errors.Wrap(c.client.Disconnect(ctx), "disconnecting")
}

// redact removes the password from a connection string for messages
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
