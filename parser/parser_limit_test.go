package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadi77ir/go-mongosh/command"
)

func TestParser_CursorModifiers(t *testing.T) {
	orders := command.Namespace{Collection: "orders"}

	tests := []struct {
		name     string
		input    string
		expected command.Command
	}{
		{
			name:     "limit zero is unbounded",
			input:    "db.users.find().limit(0)",
			expected: command.Find{Namespace: users()},
		},
		{
			name:  "sort skip limit batchSize",
			input: "db.users.find({a: 1}).sort({a: -1}).skip(5).limit(10).batchSize(100)",
			expected: command.Find{
				Namespace: users(),
				Filter:    command.D(command.E("a", command.Int(1))),
				Sort:      command.D(command.E("a", command.Int(-1))),
				Skip:      5,
				Limit:     10,
				BatchSize: 100,
			},
		},
		{
			name:  "modifier order does not matter",
			input: "db.users.find({a: 1}).limit(10).batchSize(100).skip(5).sort({a: -1})",
			expected: command.Find{
				Namespace: users(),
				Filter:    command.D(command.E("a", command.Int(1))),
				Sort:      command.D(command.E("a", command.Int(-1))),
				Skip:      5,
				Limit:     10,
				BatchSize: 100,
			},
		},
		{
			name:  "project alias",
			input: "db.users.find().project({name: 1})",
			expected: command.Find{
				Namespace:  users(),
				Projection: command.D(command.E("name", command.Int(1))),
			},
		},
		{
			name:     "empty sort normalizes",
			input:    "db.users.find().sort({})",
			expected: command.Find{Namespace: users()},
		},
		{
			name:  "option modifiers keep their order",
			input: "db.users.find().maxTimeMS(500).hint({a: 1}).comment('slow one').allowDiskUse(true)",
			expected: command.Find{
				Namespace: users(),
				Options: command.D(
					command.E("maxTimeMS", command.Int(500)),
					command.E("hint", command.Doc(command.D(command.E("a", command.Int(1))))),
					command.E("comment", command.String("slow one")),
					command.E("allowDiskUse", command.Bool(true)),
				),
			},
		},
		{
			name:  "hint by name and collation",
			input: "db.users.find().hint('a_1').collation({locale: 'fr'}).noCursorTimeout(false)",
			expected: command.Find{
				Namespace: users(),
				Options: command.D(
					command.E("hint", command.String("a_1")),
					command.E("collation", command.Doc(command.D(command.E("locale", command.String("fr"))))),
					command.E("noCursorTimeout", command.Bool(false)),
				),
			},
		},
		{
			name:  "toArray and pretty are no-ops",
			input: "db.users.find().limit(2).toArray().pretty().pretty()",
			expected: command.Find{
				Namespace: users(),
				Limit:     2,
			},
		},
		{
			name:  "count",
			input: "db.users.find({active: true}).count()",
			expected: command.Count{
				Namespace: users(),
				Mode:      command.CountLegacy,
				Filter:    command.D(command.E("active", command.Bool(true))),
			},
		},
		{
			name:  "count ignores skip and limit by default",
			input: "db.users.find().skip(5).limit(10).count()",
			expected: command.Count{
				Namespace: users(),
				Mode:      command.CountLegacy,
			},
		},
		{
			name:  "count applying skip and limit",
			input: "db.users.find().skip(5).limit(10).count(true)",
			expected: command.Count{
				Namespace: users(),
				Mode:      command.CountLegacy,
				Options:   command.D(command.E("skip", command.Int(5)), command.E("limit", command.Int(10))),
			},
		},
		{
			name:  "count keeps find options",
			input: "db.users.find().hint('a_1').count()",
			expected: command.Count{
				Namespace: users(),
				Mode:      command.CountLegacy,
				Options:   command.D(command.E("hint", command.String("a_1"))),
			},
		},
		{
			name:  "aggregate modifiers",
			input: "db.orders.aggregate([{$match: {}}]).limit(5).batchSize(2).maxTimeMS(10).toArray()",
			expected: command.Aggregate{
				Namespace: orders,
				Pipeline:  []*command.Document{command.D(command.E("$match", command.Doc(command.D())))},
				Limit:     5,
				BatchSize: 2,
				Options:   command.D(command.E("maxTimeMS", command.Int(10))),
			},
		},
		{
			name:  "aggregate batchSize option and modifier limit",
			input: "db.orders.aggregate([], {batchSize: 7}).limit(1)",
			expected: command.Aggregate{
				Namespace: orders,
				Limit:     1,
				BatchSize: 7,
			},
		},
		{
			name:  "watch modifiers",
			input: "db.orders.watch().batchSize(5).limit(2)",
			expected: command.Watch{
				Namespace: orders,
				BatchSize: 5,
				Limit:     2,
			},
		},
		{
			name:  "trailing semicolon",
			input: "db.users.find().limit(3);",
			expected: command.Find{
				Namespace: users(),
				Limit:     3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestParser_FindOptionsDocument(t *testing.T) {
	cmd, err := Parse("db.users.find({}, null, {limit: 4, batchSize: 2, maxTimeMS: 100})")
	require.NoError(t, err)

	f, ok := cmd.(command.Find)
	require.True(t, ok)
	assert.Equal(t, int64(4), f.Limit)
	assert.Equal(t, int32(2), f.BatchSize)
	assert.Equal(t, command.D(command.E("maxTimeMS", command.Int(100))), f.Options)
	assert.Nil(t, f.Filter)
	assert.Nil(t, f.Projection)
}

func TestParser_FindOneKeepsLimitOption(t *testing.T) {
	cmd, err := Parse("db.users.findOne({}, {}, {skip: 1, limit: 3})")
	require.NoError(t, err)

	f, ok := cmd.(command.Find)
	require.True(t, ok)
	assert.True(t, f.One)
	assert.Equal(t, int64(1), f.Skip)
	assert.Zero(t, f.Limit)
	assert.Equal(t, command.D(command.E("limit", command.Int(3))), f.Options)
}
