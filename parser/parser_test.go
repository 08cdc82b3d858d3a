package parser

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hadi77ir/go-mongosh/command"
)

func users() command.Namespace { return command.Namespace{Collection: "users"} }

func TestParser_CollectionMethods(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected command.Command
	}{
		{
			name:  "find with limit",
			input: `db.users.find({"age": {"$gt": 21}}).limit(10)`,
			expected: command.Find{
				Namespace: users(),
				Filter:    command.D(command.E("age", command.Doc(command.D(command.E("$gt", command.Int(21)))))),
				Limit:     10,
			},
		},
		{
			name:     "find without arguments",
			input:    "db.users.find()",
			expected: command.Find{Namespace: users()},
		},
		{
			name:     "empty filter normalizes",
			input:    "db.users.find({})",
			expected: command.Find{Namespace: users()},
		},
		{
			name:  "find with projection and lifted options",
			input: "db.users.find({a: 1}, {name: 1, _id: 0}, {limit: 5, skip: 2, sort: {name: -1}, hint: 'a_1'})",
			expected: command.Find{
				Namespace:  users(),
				Filter:     command.D(command.E("a", command.Int(1))),
				Projection: command.D(command.E("name", command.Int(1)), command.E("_id", command.Int(0))),
				Sort:       command.D(command.E("name", command.Int(-1))),
				Skip:       2,
				Limit:      5,
				Options:    command.D(command.E("hint", command.String("a_1"))),
			},
		},
		{
			name:  "findOne with sort option",
			input: "db.users.findOne({name: 'bob'}, null, {sort: {age: 1}})",
			expected: command.Find{
				Namespace: users(),
				Filter:    command.D(command.E("name", command.String("bob"))),
				Sort:      command.D(command.E("age", command.Int(1))),
				One:       true,
			},
		},
		{
			name:  "dotted collection name",
			input: "db.system.profile.find().limit(1)",
			expected: command.Find{
				Namespace: command.Namespace{Collection: "system.profile"},
				Limit:     1,
			},
		},
		{
			name:  "getCollection and getSiblingDB",
			input: `db.getSiblingDB("shop").getCollection("order-items").find()`,
			expected: command.Find{
				Namespace: command.Namespace{Database: "shop", Collection: "order-items"},
			},
		},
		{
			name:  "aggregate with options",
			input: "db.orders.aggregate([{$match: {status: 'A'}}, {$group: {_id: '$cust', total: {$sum: '$amount'}}}], {allowDiskUse: true, batchSize: 50})",
			expected: command.Aggregate{
				Namespace: command.Namespace{Collection: "orders"},
				Pipeline: []*command.Document{
					command.D(command.E("$match", command.Doc(command.D(command.E("status", command.String("A")))))),
					command.D(command.E("$group", command.Doc(command.D(command.E("_id", command.String("$cust")), command.E("total", command.Doc(command.D(command.E("$sum", command.String("$amount"))))))))),
				},
				BatchSize: 50,
				Options:   command.D(command.E("allowDiskUse", command.Bool(true))),
			},
		},
		{
			name:  "database aggregate",
			input: "db.aggregate([{$currentOp: {}}])",
			expected: command.Aggregate{
				Pipeline: []*command.Document{command.D(command.E("$currentOp", command.Doc(command.D())))},
			},
		},
		{
			name:  "insertOne",
			input: "db.users.insertOne({name: 'ann', age: 30})",
			expected: command.Insert{
				Namespace: users(),
				Documents: []*command.Document{command.D(command.E("name", command.String("ann")), command.E("age", command.Int(30)))},
			},
		},
		{
			name:  "insertMany unordered",
			input: "db.users.insertMany([{a: 1}, {a: 2}], {ordered: false})",
			expected: command.Insert{
				Namespace: users(),
				Documents: []*command.Document{command.D(command.E("a", command.Int(1))), command.D(command.E("a", command.Int(2)))},
				Many:      true,
				Options:   command.D(command.E("ordered", command.Bool(false))),
			},
		},
		{
			name:  "updateMany",
			input: "db.users.updateMany({age: {$lt: 18}}, {$set: {minor: true}}, {upsert: false})",
			expected: command.Update{
				Namespace: users(),
				Mode:      command.UpdateMany,
				Filter:    command.D(command.E("age", command.Doc(command.D(command.E("$lt", command.Int(18)))))),
				Update:    command.Doc(command.D(command.E("$set", command.Doc(command.D(command.E("minor", command.Bool(true))))))),
				Options:   command.D(command.E("upsert", command.Bool(false))),
			},
		},
		{
			name:  "updateOne with pipeline",
			input: "db.users.updateOne({}, [{$set: {n: 1}}])",
			expected: command.Update{
				Namespace: users(),
				Mode:      command.UpdateOne,
				Update:    command.Array(command.Doc(command.D(command.E("$set", command.Doc(command.D(command.E("n", command.Int(1)))))))),
			},
		},
		{
			name:  "replaceOne",
			input: "db.users.replaceOne({_id: 1}, {name: 'x'})",
			expected: command.Update{
				Namespace: users(),
				Mode:      command.ReplaceOne,
				Filter:    command.D(command.E("_id", command.Int(1))),
				Update:    command.Doc(command.D(command.E("name", command.String("x")))),
			},
		},
		{
			name:  "findOneAndUpdate returnNewDocument",
			input: "db.users.findOneAndUpdate({a: 1}, {$inc: {n: 1}}, {returnNewDocument: true})",
			expected: command.Update{
				Namespace: users(),
				Mode:      command.FindOneAndUpdate,
				Filter:    command.D(command.E("a", command.Int(1))),
				Update:    command.Doc(command.D(command.E("$inc", command.Doc(command.D(command.E("n", command.Int(1))))))),
				Options:   command.D(command.E("returnDocument", command.String("after"))),
			},
		},
		{
			name:  "deleteMany",
			input: "db.users.deleteMany({status: 'D'})",
			expected: command.Delete{
				Namespace: users(),
				Mode:      command.DeleteMany,
				Filter:    command.D(command.E("status", command.String("D"))),
			},
		},
		{
			name:     "findOneAndDelete",
			input:    "db.users.findOneAndDelete({})",
			expected: command.Delete{Namespace: users(), Mode: command.FindOneAndDelete},
		},
		{
			name:  "countDocuments",
			input: "db.users.countDocuments({active: true}, {limit: 100})",
			expected: command.Count{
				Namespace: users(),
				Mode:      command.CountDocuments,
				Filter:    command.D(command.E("active", command.Bool(true))),
				Options:   command.D(command.E("limit", command.Int(100))),
			},
		},
		{
			name:     "estimatedDocumentCount",
			input:    "db.users.estimatedDocumentCount()",
			expected: command.Count{Namespace: users(), Mode: command.EstimatedDocumentCount},
		},
		{
			name:  "distinct",
			input: "db.users.distinct('city', {country: 'NL'})",
			expected: command.Distinct{
				Namespace: users(),
				Key:       "city",
				Filter:    command.D(command.E("country", command.String("NL"))),
			},
		},
		{
			name:     "drop",
			input:    "db.users.drop()",
			expected: command.DropCollection{Namespace: users()},
		},
		{
			name:     "renameCollection",
			input:    "db.users.renameCollection('people', true)",
			expected: command.RenameCollection{Namespace: users(), To: "people", DropTarget: true},
		},
		{
			name:     "stats with scale document",
			input:    "db.users.stats({scale: 1024})",
			expected: command.CollStats{Namespace: users(), Scale: 1024},
		},
		{
			name:     "totalIndexSize",
			input:    "db.users.totalIndexSize()",
			expected: command.CollStats{Namespace: users(), Field: "totalIndexSize"},
		},
		{
			name:     "dataSize",
			input:    "db.users.dataSize()",
			expected: command.CollStats{Namespace: users(), Field: "size"},
		},
		{
			name:  "createIndex",
			input: "db.users.createIndex({email: 1}, {unique: true})",
			expected: command.CreateIndex{
				Namespace:    users(),
				Indexes:      []command.IndexModel{{Keys: command.D(command.E("email", command.Int(1))), Options: command.D(command.E("unique", command.Bool(true)))}},
				CommitQuorum: command.Null(),
			},
		},
		{
			name:  "createIndexes with commit quorum",
			input: "db.users.createIndexes([{a: 1}, {b: -1}], {}, 'majority')",
			expected: command.CreateIndex{
				Namespace:    users(),
				Indexes:      []command.IndexModel{{Keys: command.D(command.E("a", command.Int(1)))}, {Keys: command.D(command.E("b", command.Int(-1)))}},
				Many:         true,
				CommitQuorum: command.String("majority"),
			},
		},
		{
			name:     "dropIndex by name",
			input:    "db.users.dropIndex('email_1')",
			expected: command.DropIndex{Namespace: users(), Index: command.String("email_1")},
		},
		{
			name:     "dropIndexes all",
			input:    "db.users.dropIndexes()",
			expected: command.DropIndex{Namespace: users(), Index: command.String("*"), Many: true},
		},
		{
			name:     "getIndexes",
			input:    "db.users.getIndexes()",
			expected: command.ListIndexes{Namespace: users()},
		},
		{
			name:     "hideIndex by name",
			input:    "db.users.hideIndex('email_1')",
			expected: command.HideIndex{Namespace: users(), Index: command.String("email_1"), Hidden: true},
		},
		{
			name:     "unhideIndex by keys",
			input:    "db.users.unhideIndex({email: 1})",
			expected: command.HideIndex{Namespace: users(), Index: command.Doc(command.D(command.E("email", command.Int(1))))},
		},
		{
			name:  "insertOne folds write concern",
			input: "db.users.insertOne({a: 1}, {w: 'majority', j: true, wtimeout: 500})",
			expected: command.Insert{
				Namespace: users(),
				Documents: []*command.Document{command.D(command.E("a", command.Int(1)))},
				Options: command.D(command.E("writeConcern", command.Doc(command.D(
					command.E("w", command.String("majority")),
					command.E("j", command.Bool(true)),
					command.E("wtimeout", command.Int(500)),
				)))),
			},
		},
		{
			name:  "deleteMany folds wtimeoutMS",
			input: "db.users.deleteMany({}, {w: 2, wtimeoutMS: 100, comment: 'x'})",
			expected: command.Delete{
				Namespace: users(),
				Mode:      command.DeleteMany,
				Options: command.D(
					command.E("comment", command.String("x")),
					command.E("writeConcern", command.Doc(command.D(
						command.E("w", command.Int(2)),
						command.E("wtimeout", command.Int(100)),
					))),
				),
			},
		},
		{
			name:  "watch with options",
			input: "db.orders.watch([{$match: {operationType: 'insert'}}], {fullDocument: 'updateLookup', batchSize: 10}).limit(3)",
			expected: command.Watch{
				Namespace:    command.Namespace{Collection: "orders"},
				Pipeline:     []*command.Document{command.D(command.E("$match", command.Doc(command.D(command.E("operationType", command.String("insert"))))))},
				FullDocument: "updateLookup",
				BatchSize:    10,
				Limit:        3,
			},
		},
		{
			name:     "watch without arguments",
			input:    "db.orders.watch()",
			expected: command.Watch{Namespace: command.Namespace{Collection: "orders"}},
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

func TestParser_DatabaseMethods(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected command.Command
	}{
		{
			name:  "adminCommand",
			input: "db.adminCommand({listDatabases: 1})",
			expected: command.AdminCommand{
				Namespace:     command.Namespace{Database: "admin"},
				Helper:        "adminCommand",
				Args:          []command.Value{command.Doc(command.D(command.E("listDatabases", command.Int(1))))},
				Document:      command.D(command.E("listDatabases", command.Int(1))),
				FixedDatabase: true,
			},
		},
		{
			name:  "runCommand by name",
			input: "db.runCommand('ping')",
			expected: command.AdminCommand{
				Helper:   "runCommand",
				Args:     []command.Value{command.String("ping")},
				Document: command.D(command.E("ping", command.Int(1))),
			},
		},
		{
			name:  "createCollection",
			input: "db.getSiblingDB('app').createCollection('logs', {capped: true, size: 4096})",
			expected: command.CreateCollection{
				Namespace: command.Namespace{Database: "app", Collection: "logs"},
				Options:   command.D(command.E("capped", command.Bool(true)), command.E("size", command.Int(4096))),
			},
		},
		{
			name:     "database stats",
			input:    "db.stats()",
			expected: command.CollStats{},
		},
		{
			name:     "database watch",
			input:    "db.watch()",
			expected: command.Watch{},
		},
		{
			name:  "getCollectionNames",
			input: "db.getCollectionNames()",
			expected: command.AdminCommand{
				Helper:   "getCollectionNames",
				Document: command.D(command.E("listCollections", command.Int(1)), command.E("nameOnly", command.Bool(true))),
			},
		},
		{
			name:  "serverStatus with options",
			input: "db.serverStatus({repl: 0})",
			expected: command.AdminCommand{
				Helper:   "serverStatus",
				Args:     []command.Value{command.Doc(command.D(command.E("repl", command.Int(0))))},
				Document: command.D(command.E("serverStatus", command.Int(1)), command.E("repl", command.Int(0))),
			},
		},
		{
			name:  "buildInfo runs on admin",
			input: "db.version()",
			expected: command.AdminCommand{
				Namespace:     command.Namespace{Database: "admin"},
				Helper:        "version",
				Document:      command.D(command.E("buildInfo", command.Int(1))),
				FixedDatabase: true,
			},
		},
		{
			name:  "killOp",
			input: "db.killOp(1234)",
			expected: command.AdminCommand{
				Namespace:     command.Namespace{Database: "admin"},
				Helper:        "killOp",
				Args:          []command.Value{command.Int(1234)},
				Document:      command.D(command.E("killOp", command.Int(1)), command.E("op", command.Int(1234))),
				FixedDatabase: true,
			},
		},
		{
			name:  "dropDatabase",
			input: "db.getSiblingDB('old').dropDatabase()",
			expected: command.AdminCommand{
				Namespace: command.Namespace{Database: "old"},
				Helper:    "dropDatabase",
				Document:  command.D(command.E("dropDatabase", command.Int(1))),
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

func TestParser_ReplSetHelpers(t *testing.T) {
	admin := command.Namespace{Database: "admin"}
	tests := []struct {
		name     string
		input    string
		expected command.Command
	}{
		{
			name:     "status",
			input:    "rs.status()",
			expected: command.ReplSetCommand{Namespace: admin, Helper: "status", Document: command.D(command.E("replSetGetStatus", command.Int(1)))},
		},
		{
			name:     "conf",
			input:    "rs.conf()",
			expected: command.ReplSetCommand{Namespace: admin, Helper: "conf", Document: command.D(command.E("replSetGetConfig", command.Int(1)))},
		},
		{
			name:  "stepDown default",
			input: "rs.stepDown()",
			expected: command.ReplSetCommand{
				Namespace: admin,
				Helper:    "stepDown",
				Document:  command.D(command.E("replSetStepDown", command.Int(60))),
			},
		},
		{
			name:  "stepDown with catch up",
			input: "rs.stepDown(120, 30)",
			expected: command.ReplSetCommand{
				Namespace: admin,
				Helper:    "stepDown",
				Args:      []command.Value{command.Int(120), command.Int(30)},
				Document:  command.D(command.E("replSetStepDown", command.Int(120)), command.E("secondaryCatchUpPeriodSecs", command.Int(30))),
			},
		},
		{
			name:  "initiate without config",
			input: "rs.initiate()",
			expected: command.ReplSetCommand{
				Namespace: admin,
				Helper:    "initiate",
				Document:  command.D(command.E("replSetInitiate", command.Doc(command.D()))),
			},
		},
		{
			name:  "add host",
			input: "rs.add('db2:27017')",
			expected: command.ReplSetCommand{
				Namespace: admin,
				Helper:    "add",
				Args:      []command.Value{command.String("db2:27017")},
				Action:    command.ReplSetAddMember,
				Document:  command.D(command.E("host", command.String("db2:27017"))),
			},
		},
		{
			name:  "addArb",
			input: "rs.addArb('arb:27017')",
			expected: command.ReplSetCommand{
				Namespace: admin,
				Helper:    "addArb",
				Args:      []command.Value{command.String("arb:27017")},
				Action:    command.ReplSetAddMember,
				Document:  command.D(command.E("host", command.String("arb:27017"))),
				Arbiter:   true,
			},
		},
		{
			name:  "remove",
			input: "rs.remove('db2:27017')",
			expected: command.ReplSetCommand{
				Namespace: admin,
				Helper:    "remove",
				Args:      []command.Value{command.String("db2:27017")},
				Action:    command.ReplSetRemoveMember,
				Document:  command.D(command.E("host", command.String("db2:27017"))),
			},
		},
		{
			name:  "printReplicationInfo reads the oplog",
			input: "rs.printReplicationInfo()",
			expected: command.ReplSetCommand{
				Namespace: command.Namespace{Database: "local"},
				Helper:    "printReplicationInfo",
				Document:  command.D(command.E("collStats", command.String("oplog.rs"))),
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

func TestParser_Literals(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("507f1f77bcf86cd799439011")
	require.NoError(t, err)
	dec, err := primitive.ParseDecimal128("12.50")
	require.NoError(t, err)

	tests := []struct {
		name     string
		literal  string
		expected command.Value
	}{
		{"integer", "42", command.Int(42)},
		{"negative integer", "-7", command.Int(-7)},
		{"spaced negative", "- 7", command.Int(-7)},
		{"double", "2.5", command.Double(2.5)},
		{"exponent is double", "1e3", command.Double(1000)},
		{"trailing dot double", "3.", command.Double(3)},
		{"single quoted string", `'it\'s'`, command.String("it's")},
		{"true", "true", command.Bool(true)},
		{"null", "null", command.Null()},
		{"undefined", "undefined", command.Null()},
		{"infinity", "Infinity", command.Double(math.Inf(1))},
		{"negative infinity", "-Infinity", command.Double(math.Inf(-1))},
		{"regex literal", "/^a.c$/i", command.Regex("^a.c$", "i")},
		{"RegExp", "RegExp('a/b', 'm')", command.Regex("a/b", "m")},
		{"ObjectId", `ObjectId("507f1f77bcf86cd799439011")`, command.ObjectID(oid)},
		{"new ObjectId", `new ObjectId("507f1f77bcf86cd799439011")`, command.ObjectID(oid)},
		{"ISODate", `ISODate("2024-03-01T10:20:30.123Z")`, command.Date(time.Date(2024, 3, 1, 10, 20, 30, 123e6, time.UTC))},
		{"ISODate with offset", `ISODate("2024-03-01T12:00:00+02:00")`, command.Date(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))},
		{"ISODate date only", `ISODate("2024-03-01")`, command.Date(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))},
		{"Date epoch", "new Date(0)", command.Date(time.Unix(0, 0))},
		{"Date components", "new Date(2024, 0, 31, 8)", command.Date(time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC))},
		{"NumberInt", "NumberInt(5)", command.Int32(5)},
		{"NumberInt string", "NumberInt('-12')", command.Int32(-12)},
		{"NumberLong", `NumberLong("9007199254740993")`, command.Int64(9007199254740993)},
		{"NumberDecimal", `NumberDecimal("12.50")`, command.Decimal(dec)},
		{"Timestamp", "Timestamp(1700000000, 3)", command.Timestamp(1700000000, 3)},
		{"Timestamp document", "Timestamp({t: 1700000000, i: 3})", command.Timestamp(1700000000, 3)},
		{"UUID", `UUID("123e4567-e89b-12d3-a456-426614174000")`, command.Binary(4, []byte{
			0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00,
		})},
		{"BinData", `BinData(0, "AQID")`, command.Binary(0, []byte{1, 2, 3})},
		{"HexData", `HexData(5, "0a0b")`, command.Binary(5, []byte{0x0a, 0x0b})},
		{"NumberDouble", "NumberDouble('2.5')", command.Double(2.5)},
		{"NumberDouble default", "NumberDouble()", command.Double(0)},
		{"Number", "Number(3)", command.Double(3)},
		{"Boolean string", "Boolean('true')", command.Bool(true)},
		{"Boolean zero", "Boolean(0)", command.Bool(false)},
		{"String of integer", "String(5)", command.String("5")},
		{"String of double", "String(2.5)", command.String("2.5")},
		{"Array", "Array(1, 'a')", command.Array(command.Int(1), command.String("a"))},
		{"Object", "Object({a: 1})", command.Doc(command.D(command.E("a", command.Int(1))))},
		{"empty Object", "Object()", command.Doc(command.D())},
		{"MinKey", "MinKey()", command.MinKey()},
		{"MaxKey", "MaxKey()", command.MaxKey()},
		{"array with trailing comma", "[1, 'a',]", command.Array(command.Int(1), command.String("a"))},
		{"nested document keys", `{'a b': 1, "c": {d.e: 2}, 3: true,}`, command.Doc(command.D(
			command.E("a b", command.Int(1)),
			command.E("c", command.Doc(command.D(command.E("d.e", command.Int(2))))),
			command.E("3", command.Bool(true)),
		))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse("db.c.insertOne({v: " + tt.literal + "})")
			require.NoError(t, err)
			ins := cmd.(command.Insert)
			v, ok := ins.Documents[0].Get("v")
			require.True(t, ok)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestParser_NaN(t *testing.T) {
	cmd, err := Parse("db.c.insertOne({v: NaN})")
	require.NoError(t, err)
	v, _ := cmd.(command.Insert).Documents[0].Get("v")
	f, ok := v.AsFloat()
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestParser_GeneratedValues(t *testing.T) {
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	p, err := NewParser("db.c.insertOne({_id: ObjectId(), at: new Date(), key: UUID()})")
	require.NoError(t, err)
	p.now = func() time.Time { return fixed }

	cmd, err := p.Parse()
	require.NoError(t, err)
	assert.True(t, p.Volatile())

	doc := cmd.(command.Insert).Documents[0]
	id, _ := doc.Get("_id")
	assert.Equal(t, command.KindObjectID, id.Kind())
	at, _ := doc.Get("at")
	assert.Equal(t, command.Date(fixed), at)
	key, _ := doc.Get("key")
	bin, ok := key.AsBinary()
	require.True(t, ok)
	assert.Equal(t, byte(4), bin.Subtype)
	assert.Len(t, bin.Data, 16)

	p, err = NewParser("db.c.find({a: 1})")
	require.NoError(t, err)
	_, err = p.Parse()
	require.NoError(t, err)
	assert.False(t, p.Volatile())
}

func TestParser_Whitespace(t *testing.T) {
	inputs := []string{
		"db.users.find({a: 1}).limit(2);",
		"  db . users . find ( { a : 1 } ) . limit ( 2 )  ",
		"db.users\n  .find({a: 1}) // the filter\n  .limit(2)",
		"/* leading */ db.users.find({a: /* inline */ 1}).limit(2)",
	}
	expected := command.Find{Namespace: users(), Filter: command.D(command.E("a", command.Int(1))), Limit: 2}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			cmd, err := Parse(input)
			require.NoError(t, err)
			assert.Equal(t, expected, cmd)
		})
	}
}
