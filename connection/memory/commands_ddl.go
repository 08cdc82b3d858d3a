package memory

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/connection"
)

const (
	pageSize       = 4096
	indexEntrySize = 32
)

func cmdCreate(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	if c.collection(db, name, false) != nil {
		return nil, commandError(codeNamespaceExists, "Collection %s.%s already exists.", db, name)
	}
	coll := c.collection(db, name, true)
	coll.options = append(bson.D{}, cmd[1:]...)
	c.record(&changeEvent{op: "create", ns: connection.Namespace{Database: db, Collection: name}})
	return bson.D{}, nil
}

func cmdDrop(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	coll := c.collection(db, name, false)
	if coll == nil {
		return bson.D{}, nil
	}
	c.dropCollection(db, name)
	return bson.D{
		{Key: "nIndexesWas", Value: int32(len(coll.indexes))},
		{Key: "ns", Value: db + "." + name},
	}, nil
}

func (c *Connection) dropCollection(db, name string) {
	delete(c.dbs[db].collections, name)
	c.record(&changeEvent{op: "drop", ns: connection.Namespace{Database: db, Collection: name}})
}

func splitNamespace(ns string) (connection.Namespace, bool) {
	i := strings.IndexByte(ns, '.')
	if i <= 0 || i == len(ns)-1 {
		return connection.Namespace{}, false
	}
	return connection.Namespace{Database: ns[:i], Collection: ns[i+1:]}, true
}

func cmdRenameCollection(c *Connection, db string, cmd bson.D) (bson.D, error) {
	if db != "admin" {
		return nil, commandError(codeUnauthorized, "renameCollection may only be run against the admin database.")
	}
	fromName, _ := cmd[0].Value.(string)
	toValue, _ := get(cmd, "to")
	toName, _ := toValue.(string)
	from, ok := splitNamespace(fromName)
	if !ok {
		return nil, commandError(codeInvalidNamespace, "Invalid source namespace: %s", fromName)
	}
	to, ok := splitNamespace(toName)
	if !ok {
		return nil, commandError(codeInvalidNamespace, "Invalid target namespace: %s", toName)
	}

	src := c.collection(from.Database, from.Collection, false)
	if src == nil {
		return nil, commandError(codeNamespaceNotFound, "Source collection %s does not exist", fromName)
	}
	if from == to {
		return nil, commandError(codeIllegalOperation, "Can't rename a collection to itself")
	}
	if c.collection(to.Database, to.Collection, false) != nil {
		if !boolOption(cmd, "dropTarget", false) {
			return nil, commandError(codeNamespaceExists, "target namespace exists")
		}
		c.dropCollection(to.Database, to.Collection)
	}

	delete(c.dbs[from.Database].collections, from.Collection)
	target := c.collection(to.Database, to.Collection, true)
	*target = *src
	c.record(&changeEvent{op: "rename", ns: from, to: to})
	return bson.D{}, nil
}

func cmdDropDatabase(c *Connection, db string, cmd bson.D) (bson.D, error) {
	d, ok := c.dbs[db]
	if !ok {
		return bson.D{}, nil
	}
	for _, name := range d.names() {
		c.dropCollection(db, name)
	}
	delete(c.dbs, db)
	c.record(&changeEvent{op: "dropDatabase", ns: connection.Namespace{Database: db}})
	return bson.D{{Key: "dropped", Value: db}}, nil
}

// stats are the storage figures of a collection, in bytes
type stats struct {
	count       int64
	size        int64
	storageSize int64
	indexSizes  bson.D
	indexSize   int64
}

func (coll *collection) stats(scale int64) stats {
	var s stats
	for _, d := range coll.docs {
		raw, err := bson.Marshal(d)
		if err == nil {
			s.size += int64(len(raw))
		}
	}
	s.count = int64(len(coll.docs))
	s.storageSize = (s.size + pageSize - 1) / pageSize * pageSize
	perIndex := int64(pageSize) + indexEntrySize*s.count
	for _, idx := range coll.indexes {
		s.indexSizes = append(s.indexSizes, bson.E{Key: idx.name, Value: perIndex / scale})
		s.indexSize += perIndex
	}
	s.size /= scale
	s.storageSize /= scale
	s.indexSize /= scale
	return s
}

func scaleOption(cmd bson.D) (int64, error) {
	scale := intOption(cmd, "scale")
	if _, ok := get(cmd, "scale"); !ok {
		return 1, nil
	}
	if scale < 1 {
		return 0, badValue("Scale factor must be a positive number")
	}
	return scale, nil
}

func cmdCollStats(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	scale, err := scaleOption(cmd)
	if err != nil {
		return nil, err
	}
	coll := c.collection(db, name, false)
	if coll == nil {
		if db != "local" || name != "oplog.rs" || c.opts.ReplicaSetName == "" {
			return nil, commandError(codeNamespaceNotFound, "Collection [%s.%s] not found.", db, name)
		}
		return c.oplogStats(scale), nil
	}

	s := coll.stats(scale)
	var avg int64
	if s.count > 0 {
		avg = s.size * scale / s.count
	}
	capped := boolOption(coll.options, "capped", false)
	reply := bson.D{
		{Key: "ns", Value: db + "." + name},
		{Key: "size", Value: s.size},
		{Key: "count", Value: s.count},
		{Key: "avgObjSize", Value: avg},
		{Key: "storageSize", Value: s.storageSize},
		{Key: "capped", Value: capped},
		{Key: "nindexes", Value: int32(len(coll.indexes))},
		{Key: "totalIndexSize", Value: s.indexSize},
		{Key: "totalSize", Value: s.storageSize + s.indexSize},
		{Key: "indexSizes", Value: s.indexSizes},
		{Key: "scaleFactor", Value: int32(scale)},
	}
	if capped {
		reply = append(reply,
			bson.E{Key: "max", Value: intOption(coll.options, "max")},
			bson.E{Key: "maxSize", Value: intOption(coll.options, "size") / scale},
		)
	}
	return reply, nil
}

// oplogStats reports the oplog of the emulated replica set, sized after the
// change log
func (c *Connection) oplogStats(scale int64) bson.D {
	const maxSize = 990 * 1024 * 1024
	size := int64(len(c.events)) * 128
	return bson.D{
		{Key: "ns", Value: "local.oplog.rs"},
		{Key: "size", Value: size / scale},
		{Key: "count", Value: int64(len(c.events))},
		{Key: "storageSize", Value: (size + pageSize - 1) / pageSize * pageSize / scale},
		{Key: "capped", Value: true},
		{Key: "max", Value: int64(0)},
		{Key: "maxSize", Value: int64(maxSize) / scale},
		{Key: "nindexes", Value: int32(0)},
		{Key: "totalIndexSize", Value: int64(0)},
		{Key: "indexSizes", Value: bson.D{}},
		{Key: "scaleFactor", Value: int32(scale)},
	}
}

func cmdDBStats(c *Connection, db string, cmd bson.D) (bson.D, error) {
	scale, err := scaleOption(cmd)
	if err != nil {
		return nil, err
	}
	var (
		collections, objects, indexes int64
		size, storage, indexSize      int64
	)
	if d, ok := c.dbs[db]; ok {
		for _, name := range d.names() {
			s := d.collections[name].stats(1)
			collections++
			objects += s.count
			size += s.size
			storage += s.storageSize
			indexes += int64(len(d.collections[name].indexes))
			indexSize += s.indexSize
		}
	}
	var avg float64
	if objects > 0 {
		avg = float64(size) / float64(objects)
	}
	return bson.D{
		{Key: "db", Value: db},
		{Key: "collections", Value: collections},
		{Key: "views", Value: int64(0)},
		{Key: "objects", Value: objects},
		{Key: "avgObjSize", Value: avg},
		{Key: "dataSize", Value: float64(size / scale)},
		{Key: "storageSize", Value: float64(storage / scale)},
		{Key: "indexes", Value: indexes},
		{Key: "indexSize", Value: float64(indexSize / scale)},
		{Key: "totalSize", Value: float64((storage + indexSize) / scale)},
		{Key: "scaleFactor", Value: float64(scale)},
	}, nil
}

func parseIndexSpec(v interface{}) (index, error) {
	spec, ok := v.(bson.D)
	if !ok {
		return index{}, commandError(codeTypeMismatch, "The field 'indexes' must be an array of objects")
	}
	keys, err := docOption(spec, "key")
	if err != nil {
		return index{}, err
	}
	if len(keys) == 0 {
		return index{}, commandError(codeCannotCreateIndex, "Index keys cannot be empty.")
	}
	nameValue, _ := get(spec, "name")
	name, ok := nameValue.(string)
	if !ok || name == "" {
		return index{}, commandError(codeFailedToParse, "Error in specification %s :: caused by :: The 'name' field is a required property of an index specification", describe(spec))
	}
	idx := index{name: name, keys: keys, unique: boolOption(spec, "unique", false)}
	for _, e := range spec {
		switch e.Key {
		case "key", "name", "unique", "v":
		default:
			idx.options = append(idx.options, e)
		}
	}
	return idx, nil
}

func (coll *collection) findIndex(match func(index) bool) int {
	for i, idx := range coll.indexes {
		if match(idx) {
			return i
		}
	}
	return -1
}

func cmdCreateIndexes(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	v, _ := get(cmd, "indexes")
	specs, ok := v.(bson.A)
	if !ok || len(specs) == 0 {
		return nil, badValue("Must specify at least one index to create")
	}
	parsed := make([]index, 0, len(specs))
	for _, s := range specs {
		idx, err := parseIndexSpec(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, idx)
	}

	created := c.collection(db, name, false) == nil
	coll := c.collection(db, name, true)
	before := len(coll.indexes)
	for _, idx := range parsed {
		if i := coll.findIndex(func(x index) bool { return x.name == idx.name }); i >= 0 {
			if !equal(coll.indexes[i].keys, idx.keys) {
				return nil, commandError(codeIndexKeySpecsConflict,
					"An existing index has the same name as the requested index. Requested index: %s, existing index: %s",
					describe(idx.keys), describe(coll.indexes[i].keys))
			}
			continue
		}
		if i := coll.findIndex(func(x index) bool { return equal(x.keys, idx.keys) }); i >= 0 {
			return nil, commandError(codeIndexOptionsConflict,
				"Index already exists with a different name: %s", coll.indexes[i].name)
		}
		if idx.unique {
			if err := coll.checkExistingUnique(db, name, idx); err != nil {
				return nil, err
			}
		}
		coll.indexes = append(coll.indexes, idx)
	}

	reply := bson.D{
		{Key: "numIndexesBefore", Value: int32(before)},
		{Key: "numIndexesAfter", Value: int32(len(coll.indexes))},
		{Key: "createdCollectionAutomatically", Value: created},
	}
	if before == len(coll.indexes) {
		reply = append(reply, bson.E{Key: "note", Value: "all indexes already exist"})
	}
	if created {
		c.record(&changeEvent{op: "create", ns: connection.Namespace{Database: db, Collection: name}})
	}
	return reply, nil
}

// checkExistingUnique reports a duplicate key error when the documents of
// coll already collide on the keys of idx
func (coll *collection) checkExistingUnique(db, name string, idx index) error {
	for i := range coll.docs {
		key := indexKey(coll.docs[i], idx.keys)
		for j := i + 1; j < len(coll.docs); j++ {
			if equal(indexKey(coll.docs[j], idx.keys), key) {
				return duplicateKey(db, name, idx, key)
			}
		}
	}
	return nil
}

func cmdDropIndexes(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	coll := c.collection(db, name, false)
	if coll == nil {
		return nil, commandError(codeNamespaceNotFound, "ns not found %s.%s", db, name)
	}
	was := int32(len(coll.indexes))

	target, _ := get(cmd, "index")
	var names []string
	switch t := target.(type) {
	case string:
		if t == "*" {
			kept := coll.indexes[:1]
			coll.indexes = append([]index{}, kept...)
			return bson.D{{Key: "nIndexesWas", Value: was}}, nil
		}
		names = []string{t}
	case bson.A:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, commandError(codeTypeMismatch, "dropIndexes %s.%s (%s) failed: index names must be strings", db, name, describe(t))
			}
			names = append(names, s)
		}
	case bson.D:
		i := coll.findIndex(func(x index) bool { return equal(x.keys, t) })
		if i < 0 {
			return nil, commandError(codeIndexNotFound, "can't find index with key: %s", describe(t))
		}
		names = []string{coll.indexes[i].name}
	default:
		return nil, commandError(codeTypeMismatch, "BSON field 'dropIndexes.index' is the wrong type '%s'", typeName(target))
	}

	for _, n := range names {
		if n == "_id_" {
			return nil, commandError(codeInvalidOptions, "cannot drop _id index")
		}
		if coll.findIndex(func(x index) bool { return x.name == n }) < 0 {
			return nil, commandError(codeIndexNotFound, "index not found with name [%s]", n)
		}
	}
	for _, n := range names {
		i := coll.findIndex(func(x index) bool { return x.name == n })
		coll.indexes = append(coll.indexes[:i], coll.indexes[i+1:]...)
	}
	return bson.D{{Key: "nIndexesWas", Value: was}}, nil
}

func (idx index) document() bson.D {
	d := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: idx.keys},
		{Key: "name", Value: idx.name},
	}
	if idx.unique && idx.name != "_id_" {
		d = append(d, bson.E{Key: "unique", Value: true})
	}
	if idx.hidden {
		d = append(d, bson.E{Key: "hidden", Value: true})
	}
	return append(d, idx.options...)
}

// cmdCollMod supports the index form of collMod, which hides or unhides an
// index by name or key pattern
func cmdCollMod(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	coll := c.collection(db, name, false)
	if coll == nil {
		return nil, commandError(codeNamespaceNotFound, "ns does not exist: %s.%s", db, name)
	}
	for _, e := range cmd[1:] {
		switch e.Key {
		case "index", "writeConcern", "comment", "$db":
		default:
			return nil, commandError(codeInvalidOptions, "unsupported collMod option: %s", e.Key)
		}
	}
	spec, err := docOption(cmd, "index")
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return bson.D{}, nil
	}

	i := -1
	if v, ok := get(spec, "name"); ok {
		n, _ := v.(string)
		i = coll.findIndex(func(x index) bool { return x.name == n })
		if i < 0 {
			return nil, commandError(codeIndexNotFound, "cannot find index %s for ns %s.%s", n, db, name)
		}
	} else if v, ok := get(spec, "keyPattern"); ok {
		keys, _ := v.(bson.D)
		i = coll.findIndex(func(x index) bool { return equal(x.keys, keys) })
		if i < 0 {
			return nil, commandError(codeIndexNotFound, "cannot find index %s for ns %s.%s", describe(keys), db, name)
		}
	} else {
		return nil, badValue("must specify either index name or key pattern for collMod")
	}

	v, ok := get(spec, "hidden")
	if !ok {
		return bson.D{}, nil
	}
	hidden, ok := v.(bool)
	if !ok {
		return nil, commandError(codeTypeMismatch, "BSON field 'collMod.index.hidden' is the wrong type '%s'", typeName(v))
	}
	if coll.indexes[i].name == "_id_" {
		return nil, badValue("can't hide _id index")
	}
	old := coll.indexes[i].hidden
	coll.indexes[i].hidden = hidden
	return bson.D{{Key: "hidden_old", Value: old}, {Key: "hidden_new", Value: hidden}}, nil
}

func cmdListIndexes(c *Connection, db string, cmd bson.D) (bson.D, error) {
	name, err := collectionName(db, cmd)
	if err != nil {
		return nil, err
	}
	coll := c.collection(db, name, false)
	if coll == nil {
		return nil, commandError(codeNamespaceNotFound, "ns does not exist: %s.%s", db, name)
	}
	docs := make([]bson.D, 0, len(coll.indexes))
	for _, idx := range coll.indexes {
		docs = append(docs, idx.document())
	}
	return cursorReply(fmt.Sprintf("%s.$cmd.listIndexes.%s", db, name), docs), nil
}

func cmdListCollections(c *Connection, db string, cmd bson.D) (bson.D, error) {
	filter, err := docOption(cmd, "filter")
	if err != nil {
		return nil, err
	}
	nameOnly := boolOption(cmd, "nameOnly", false)

	var docs []bson.D
	if d, ok := c.dbs[db]; ok {
		for _, name := range d.names() {
			doc := bson.D{{Key: "name", Value: name}, {Key: "type", Value: "collection"}}
			if !nameOnly {
				opts := d.collections[name].options
				if opts == nil {
					opts = bson.D{}
				}
				doc = append(doc,
					bson.E{Key: "options", Value: opts},
					bson.E{Key: "info", Value: bson.D{{Key: "readOnly", Value: false}}},
				)
			}
			ok, err := matches(doc, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				docs = append(docs, doc)
			}
		}
	}
	return cursorReply(db+".$cmd.listCollections", docs), nil
}
