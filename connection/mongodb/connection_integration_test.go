package mongodb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/connection"
)

func setupReplicaSet(t *testing.T) *Connection {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}
	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoC.Terminate(context.Background()) })

	host, err := mongoC.Host(ctx)
	require.NoError(t, err)
	port, err := mongoC.MappedPort(ctx, "27017")
	require.NoError(t, err)

	conn, err := Dial(ctx, Options{
		URI:            fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port()),
		AppName:        "mongosh-test",
		ConnectTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	_, err = conn.RunCommand(ctx, "admin", bson.D{{Key: "replSetInitiate", Value: bson.D{
		{Key: "_id", Value: "rs0"},
		{Key: "members", Value: bson.A{bson.D{{Key: "_id", Value: 0}, {Key: "host", Value: "localhost:27017"}}}},
	}}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reply, err := conn.RunCommand(ctx, "admin", bson.D{{Key: "hello", Value: 1}})
		if err != nil {
			return false
		}
		primary, _ := reply.Lookup("isWritablePrimary").BooleanOK()
		return primary
	}, 30*time.Second, 200*time.Millisecond)
	return conn
}

func TestConnection_Integration(t *testing.T) {
	conn := setupReplicaSet(t)
	ctx := context.Background()

	docs := bson.A{}
	for i := 0; i < 15; i++ {
		docs = append(docs, bson.D{{Key: "_id", Value: i}, {Key: "even", Value: i%2 == 0}})
	}
	reply, err := conn.RunCommand(ctx, "shop", bson.D{{Key: "insert", Value: "items"}, {Key: "documents", Value: docs}})
	require.NoError(t, err)
	assert.EqualValues(t, 15, reply.Lookup("n").Int32())

	t.Run("cursor batches", func(t *testing.T) {
		cur, err := conn.OpenCursor(ctx, "shop", bson.D{{Key: "find", Value: "items"}, {Key: "batchSize", Value: 4}})
		require.NoError(t, err)
		defer cur.Close(ctx)

		total := 0
		for {
			batch, err := cur.NextBatch(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			assert.LessOrEqual(t, len(batch), 4)
			total += len(batch)
		}
		assert.Equal(t, 15, total)
	})

	t.Run("command errors carry codes", func(t *testing.T) {
		_, err := conn.RunCommand(ctx, "shop", bson.D{{Key: "create", Value: "items"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NamespaceExists")
	})

	t.Run("change stream", func(t *testing.T) {
		stream, err := conn.Watch(ctx, connection.Namespace{Database: "shop", Collection: "items"}, nil, connection.WatchOptions{
			MaxAwaitTime: 200 * time.Millisecond,
		})
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = conn.RunCommand(ctx, "shop", bson.D{{Key: "insert", Value: "items"}, {Key: "documents", Value: bson.A{bson.D{{Key: "_id", Value: 100}}}}})
		require.NoError(t, err)

		var events []bson.Raw
		deadline, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		for len(events) == 0 {
			batch, err := stream.NextBatch(deadline)
			require.NoError(t, err)
			events = append(events, batch...)
		}
		assert.Equal(t, "insert", events[0].Lookup("operationType").StringValue())
		assert.EqualValues(t, 100, events[0].Lookup("documentKey", "_id").Int32())
	})
}
