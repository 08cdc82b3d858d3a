package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadi77ir/go-mongosh/command"
)

func TestParser_ParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		err      error
		offset   int
		contains string
	}{
		{
			name:   "closer in value position",
			input:  "db.users.find({age: )",
			err:    command.ErrUnbalanced,
			offset: 20,
		},
		{
			name:     "unknown collection method",
			input:    "db.foo.bar()",
			err:      command.ErrUnknownVerb,
			offset:   7,
			contains: `"bar"`,
		},
		{
			name:     "missing closer reports the opener",
			input:    "db.users.find({a: 1}",
			err:      command.ErrUnbalanced,
			offset:   13,
			contains: "unclosed '('",
		},
		{
			name:     "missing nested closer",
			input:    "db.users.find({a: [1, 2",
			err:      command.ErrUnbalanced,
			offset:   18,
			contains: "unclosed '['",
		},
		{
			name:   "mismatched closer",
			input:  "db.users.find({a: [1, 2})",
			err:    command.ErrUnbalanced,
			offset: 23,
		},
		{
			name:   "trailing tokens",
			input:  "db.users.find() db.users.find()",
			err:    command.ErrUnexpectedToken,
			offset: 16,
		},
		{
			name:   "second semicolon",
			input:  "db.users.find();;",
			err:    command.ErrUnexpectedToken,
			offset: 16,
		},
		{
			name:     "unknown root",
			input:    "users.find()",
			err:      command.ErrUnexpectedToken,
			offset:   0,
			contains: "'db' or 'rs'",
		},
		{
			name:     "collection without method",
			input:    "db.users",
			err:      command.ErrUnexpectedToken,
			offset:   8,
			contains: `expected '(' after "users"`,
		},
		{
			name:     "bare identifier value",
			input:    "db.users.find({a: foo})",
			err:      command.ErrUnexpectedToken,
			offset:   18,
			contains: `unknown identifier "foo"`,
		},
		{
			name:     "unsupported constructor",
			input:    "db.users.find({a: Code('x')})",
			err:      command.ErrUnknownVerb,
			offset:   18,
			contains: `"Code"`,
		},
		{
			name:     "duplicate key",
			input:    "db.users.find({a: 1, a: 2})",
			err:      command.ErrInvalidArgument,
			offset:   21,
			contains: `duplicate key "a"`,
		},
		{
			name:   "integer out of range",
			input:  "db.users.find({a: 99999999999999999999})",
			err:    command.ErrInvalidArgument,
			offset: 18,
		},
		{
			name:     "unknown modifier",
			input:    "db.users.find().frobnicate()",
			err:      command.ErrUnknownVerb,
			offset:   16,
			contains: `"frobnicate"`,
		},
		{
			name:     "unknown database method",
			input:    "db.bogus()",
			err:      command.ErrUnknownVerb,
			offset:   3,
			contains: "adminCommand",
		},
		{
			name:     "unknown replica set helper",
			input:    "rs.bogus()",
			err:      command.ErrUnknownVerb,
			offset:   3,
			contains: "stepDown",
		},
		{
			name:   "unterminated comment",
			input:  "db.users.find() /* unclosed",
			err:    command.ErrUnterminated,
			offset: 16,
		},
		{
			name:   "unterminated string",
			input:  "db.users.find({a: 'open})",
			err:    command.ErrUnterminated,
			offset: 18,
		},
		{
			name:   "empty input",
			input:  "  ",
			err:    command.ErrUnexpectedToken,
			offset: 2,
		},
		{
			name:   "missing colon",
			input:  "db.users.find({a 1})",
			err:    command.ErrUnexpectedToken,
			offset: 17,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.input)
			require.Error(t, err)
			assert.Nil(t, cmd)

			var perr *command.ParseError
			require.ErrorAs(t, err, &perr, "got %T: %v", err, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.offset, perr.Pos.Offset, err.Error())
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestParser_ErrorPosition(t *testing.T) {
	_, err := Parse("db.users.find({\n  age: \n)")
	require.Error(t, err)

	var perr *command.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Pos.Line)
	assert.Equal(t, 1, perr.Pos.Column)
	assert.Contains(t, err.Error(), "line 3, column 1")
}

func TestParser_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		method string
		err    error
	}{
		{"negative limit", "db.users.find().limit(-1)", "limit", command.ErrInvalidArgument},
		{"negative skip", "db.users.find().skip(-5)", "skip", command.ErrInvalidArgument},
		{"negative batch size", "db.users.find().batchSize(-1)", "batchSize", command.ErrInvalidArgument},
		{"repeated limit", "db.users.find().limit(1).limit(2)", "limit", command.ErrInvalidArgument},
		{"repeated projection alias", "db.users.find().project({a: 1}).projection({b: 1})", "projection", command.ErrInvalidArgument},
		{"limit as option and modifier", "db.users.find({}, null, {limit: 5}).limit(10)", "limit", command.ErrInvalidArgument},
		{"projection as argument and modifier", "db.users.find({}, {a: 1}).projection({b: 1})", "projection", command.ErrInvalidArgument},
		{"projection as option and modifier", "db.users.find({}, null, {projection: {a: 1}}).project({b: 1})", "project", command.ErrInvalidArgument},
		{"maxTimeMS as option and modifier", "db.orders.aggregate([], {maxTimeMS: 5}).maxTimeMS(10)", "maxTimeMS", command.ErrInvalidArgument},
		{"modifier on another verb", "db.users.drop().limit(1)", "limit", command.ErrInvalidArgument},
		{"skip on watch", "db.orders.watch().skip(1)", "skip", command.ErrInvalidArgument},
		{"modifier on findOne", "db.users.findOne().limit(1)", "limit", command.ErrInvalidArgument},
		{"modifier after count", "db.users.find().count().limit(1)", "limit", command.ErrInvalidArgument},
		{"limit needs an integer", "db.users.find().limit('ten')", "limit", command.ErrInvalidArgument},
		{"sort needs a document", "db.users.find().sort(1)", "sort", command.ErrInvalidArgument},
		{"filter must be a document", "db.users.find(5)", "find", command.ErrInvalidArgument},
		{"too many arguments", "db.users.find({}, {}, {}, {})", "find", command.ErrInvalidArgument},
		{"insertOne needs a document", "db.users.insertOne()", "insertOne", command.ErrInvalidArgument},
		{"insertMany needs documents", "db.users.insertMany([])", "insertMany", command.ErrInvalidArgument},
		{"insertMany of scalars", "db.users.insertMany([1, 2])", "insertMany", command.ErrInvalidArgument},
		{"empty index keys", "db.users.createIndex({})", "createIndex", command.ErrInvalidArgument},
		{"dropIndex needs an index", "db.users.dropIndex()", "dropIndex", command.ErrInvalidArgument},
		{"rename needs a string", "db.users.renameCollection(5)", "renameCollection", command.ErrInvalidArgument},
		{"stats scale must be positive", "db.users.stats(0)", "stats", command.ErrInvalidArgument},
		{"distinct needs a field", "db.users.distinct('')", "distinct", command.ErrInvalidArgument},
		{"bad fullDocument", "db.orders.watch([], {fullDocument: 'sometimes'})", "watch", command.ErrInvalidArgument},
		{"bad resume checkpoint", "db.orders.watch([], {resumeAfter: 'garbage'})", "watch", command.ErrInvalidCheckpoint},
		{"conflicting resume options", "db.orders.watch([], {resumeAfter: {_data: 'a'}, startAfter: {_data: 'b'}})", "watch", command.ErrInvalidArgument},
		{"bad object id", `db.users.find({_id: ObjectId("xyz")})`, "ObjectId", command.ErrInvalidArgument},
		{"NumberInt out of range", "db.users.find({n: NumberInt(3000000000)})", "NumberInt", command.ErrInvalidArgument},
		{"bad date", `db.users.find({d: ISODate("yesterday")})`, "ISODate", command.ErrInvalidArgument},
		{"bad uuid", `db.users.find({u: UUID("nope")})`, "UUID", command.ErrInvalidArgument},
		{"bad base64", `db.users.find({b: BinData(0, "***")})`, "BinData", command.ErrInvalidArgument},
		{"bad regexp flag", `db.users.find({r: RegExp("a", "q")})`, "RegExp", command.ErrInvalidArgument},
		{"MinKey takes no arguments", `db.users.find({m: MinKey(1)})`, "MinKey", command.ErrInvalidArgument},
		{"hideIndex needs an index", "db.users.hideIndex(5)", "hideIndex", command.ErrInvalidArgument},
		{"unhideIndex empty name", "db.users.unhideIndex('')", "unhideIndex", command.ErrInvalidArgument},
		{"hideIndex empty keys", "db.users.hideIndex({})", "hideIndex", command.ErrInvalidArgument},
		{"Boolean of garbage", "db.users.find({b: Boolean('maybe')})", "Boolean", command.ErrInvalidArgument},
		{"NumberDouble of garbage", "db.users.find({n: NumberDouble('ten')})", "NumberDouble", command.ErrInvalidArgument},
		{"String of document", "db.users.find({s: String({a: 1})})", "String", command.ErrInvalidArgument},
		{"Object of scalar", "db.users.find({o: Object(1)})", "Object", command.ErrInvalidArgument},
		{"w must not be negative", "db.users.insertOne({}, {w: -1})", "insertOne", command.ErrInvalidArgument},
		{"j must be a boolean", "db.users.deleteOne({}, {j: 'yes'})", "deleteOne", command.ErrInvalidArgument},
		{"getSiblingDB needs a name", "db.getSiblingDB().users.find()", "getSiblingDB", command.ErrInvalidArgument},
		{"runCommand needs a command", "db.runCommand({})", "runCommand", command.ErrInvalidArgument},
		{"rs.freeze needs seconds", "rs.freeze()", "freeze", command.ErrInvalidArgument},
		{"rs.add member needs host", "rs.add({priority: 0})", "add", command.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.input)
			require.Error(t, err)
			assert.Nil(t, cmd)

			var verr *command.ValidationError
			require.ErrorAs(t, err, &verr, "got %T: %v", err, err)
			assert.Equal(t, tt.method, verr.Method)
			assert.True(t, errors.Is(err, tt.err), err.Error())
			assert.Greater(t, verr.Pos.Line, 0)
		})
	}
}

func TestNeedsMore(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"db.users.find(", true},
		{"db.users.find({a: [1,", true},
		{"db.users.find({a: 1})", false},
		{"db.users.find()\n  .", true},
		{"db.users.find() /* still", true},
		{"db.users.find({a: 'unterminated", false},
		{"db.users.find())", false},
		{"db.users.find(]", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NeedsMore(tt.input))
		})
	}
}
