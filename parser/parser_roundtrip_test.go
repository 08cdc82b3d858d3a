package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Commands print as text that parses back to the same Command
func TestParser_RoundTrip(t *testing.T) {
	inputs := []string{
		"db.users.find()",
		"db.users.find({age: {$gte: 21, $lt: 65}}, {name: 1}).sort({name: 1}).skip(10).limit(5).batchSize(2)",
		"db.users.find({}, null, {maxTimeMS: 100, comment: 'x'})",
		"db.users.find({tags: {$in: ['a', 'b']}, 'a.b': null, \"weird key\": true})",
		"db.users.findOne({_id: ObjectId('507f1f77bcf86cd799439011')}, {a: 1}, {sort: {a: -1}, skip: 3})",
		"db.getSiblingDB('shop').getCollection('order-items').find({n: NumberLong('9007199254740993')})",
		"db.system.profile.find().limit(1)",
		"db.users.find({name: /^jo.*n$/i, path: RegExp('a/b', 'm')})",
		"db.users.find({at: ISODate('2024-03-01T10:20:30.123Z'), ts: Timestamp(1700000000, 7)})",
		"db.users.find({n: NumberInt(7), d: NumberDecimal('1.50'), f: 2.5, g: 3.0, i: -Infinity})",
		"db.users.find({u: UUID('123e4567-e89b-12d3-a456-426614174000'), b: BinData(0, 'AQID'), h: HexData(5, 'ff00')})",
		"db.users.find({lo: MinKey(), hi: MaxKey(), esc: 'line\\nbreak \"quoted\"'})",
		"db.users.find().count()",
		"db.users.find().skip(2).limit(4).count(true)",
		"db.orders.aggregate([{$match: {status: 'A'}}, {$group: {_id: '$cust'}}], {allowDiskUse: true}).batchSize(3).limit(9)",
		"db.orders.aggregate([])",
		"db.aggregate([{$currentOp: {}}])",
		"db.users.insertOne({name: 'ann'}, {writeConcern: {w: 'majority'}})",
		"db.users.insertMany([{a: 1}, {a: 2}], {ordered: false})",
		"db.users.updateOne({a: 1}, {$set: {b: 2}}, {upsert: true})",
		"db.users.updateMany({}, [{$set: {n: {$add: ['$n', 1]}}}])",
		"db.users.replaceOne({_id: 1}, {name: 'x'})",
		"db.users.findOneAndUpdate({a: 1}, {$inc: {n: 1}}, {returnNewDocument: true})",
		"db.users.findOneAndReplace({a: 1}, {a: 2})",
		"db.users.findAndModify({query: {a: 1}, update: {$set: {b: 1}}, new: true, fields: {b: 1}})",
		"db.users.findAndModify({query: {a: 1}, remove: true})",
		"db.users.deleteOne({a: 1})",
		"db.users.deleteMany({})",
		"db.users.findOneAndDelete({a: 1}, {sort: {a: 1}})",
		"db.users.countDocuments({a: 1}, {limit: 10})",
		"db.users.countDocuments()",
		"db.users.estimatedDocumentCount({maxTimeMS: 10})",
		"db.users.count({a: 1})",
		"db.users.distinct('city', {}, {collation: {locale: 'en'}})",
		"db.createCollection('logs', {capped: true, size: 4096})",
		"db.users.drop()",
		"db.users.renameCollection('people', true)",
		"db.users.stats(1024)",
		"db.users.stats()",
		"db.users.storageSize()",
		"db.stats()",
		"db.users.createIndex({email: 1}, {unique: true})",
		"db.users.ensureIndex({a: 1, b: -1})",
		"db.users.createIndexes([{a: 1}, {b: 'text'}], {}, 2)",
		"db.users.dropIndex({email: 1})",
		"db.users.dropIndexes(['a_1', 'b_1'])",
		"db.users.dropIndexes()",
		"db.users.getIndexSpecs()",
		"db.users.hideIndex('email_1')",
		"db.users.unhideIndex({a: 1})",
		"db.orders.watch([{$match: {operationType: 'insert'}}], {fullDocument: 'updateLookup', maxAwaitTimeMS: 500}).batchSize(5).limit(3)",
		"db.orders.watch([], {fullDocument: 'default'})",
		"db.watch()",
		"db.adminCommand({listDatabases: 1})",
		"db.getSiblingDB('app').runCommand('ping')",
		"db.getCollectionNames()",
		"db.currentOp(true)",
		"db.killOp(1234)",
		"db.version()",
		"db.dropDatabase({writeConcern: {w: 1}})",
		"rs.status()",
		"rs.initiate({_id: 'rs0', members: [{_id: 0, host: 'a:27017'}]})",
		"rs.stepDown(30, 10)",
		"rs.add({host: 'b:27017', priority: 0}, false)",
		"rs.addArb('c:27017')",
		"rs.remove('b:27017')",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := Parse(input)
			require.NoError(t, err)

			text := first.String()
			second, err := Parse(text)
			require.NoError(t, err, text)
			assert.Equal(t, first, second, text)
		})
	}
}
