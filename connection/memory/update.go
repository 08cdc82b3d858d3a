package memory

import (
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// isOperatorUpdate reports whether an update document uses update operators
func isOperatorUpdate(u bson.D) bool {
	return len(u) > 0 && strings.HasPrefix(u[0].Key, "$")
}

// modify transforms doc by an update operator document, a replacement
// document or a pipeline. insert marks the document created by an upsert,
// where $setOnInsert applies.
func modify(doc bson.D, update interface{}, insert bool, now time.Time) (bson.D, error) {
	var (
		out bson.D
		err error
	)
	switch u := update.(type) {
	case bson.A:
		out, err = applyPipelineUpdate(doc, u)
	case bson.D:
		if isOperatorUpdate(u) {
			out, err = applyUpdate(doc, u, insert, now)
		} else {
			out, err = replaceDocument(doc, u)
		}
	default:
		return nil, commandError(codeFailedToParse, "Update argument must be either an object or an array")
	}
	if err != nil {
		return nil, err
	}

	oldID, hadID := get(doc, "_id")
	newID, hasID := get(out, "_id")
	if hadID && (!hasID || !equal(oldID, newID)) {
		return nil, commandError(codeImmutableField, "Performing an update on the path '_id' would modify the immutable field '_id'")
	}
	return out, nil
}

func replaceDocument(doc, repl bson.D) (bson.D, error) {
	for _, e := range repl {
		if strings.HasPrefix(e.Key, "$") {
			return nil, badValue("replacement document must not contain update operators, found '%s'", e.Key)
		}
	}
	out := bson.D{}
	if id, ok := get(doc, "_id"); ok {
		out = append(out, bson.E{Key: "_id", Value: id})
	} else if id, ok := get(repl, "_id"); ok {
		out = append(out, bson.E{Key: "_id", Value: id})
	}
	for _, e := range repl {
		if e.Key == "_id" {
			if id, ok := get(out, "_id"); ok && !equal(id, e.Value) {
				return nil, commandError(codeImmutableField, "After applying the update, the (immutable) field '_id' was found to have been altered to _id: %s", describe(e.Value))
			}
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func applyPipelineUpdate(doc bson.D, pipeline bson.A) (bson.D, error) {
	for _, s := range pipeline {
		stage, ok := s.(bson.D)
		if !ok || len(stage) != 1 {
			return nil, commandError(codeFailedToParse, "Each element of the 'pipeline' array must be an object")
		}
		switch stage[0].Key {
		case "$set", "$addFields", "$unset", "$project", "$replaceRoot", "$replaceWith":
		default:
			return nil, commandError(codeInvalidOptions, "%s is not allowed to be used within an update", stage[0].Key)
		}
	}
	out, err := runPipeline([]bson.D{doc}, pipeline)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, commandError(codeInvalidOptions, "update pipeline must produce exactly one document")
	}
	return out[0], nil
}

func applyUpdate(doc, update bson.D, insert bool, now time.Time) (bson.D, error) {
	out := doc
	for _, op := range update {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return nil, commandError(codeFailedToParse, "Modifiers operate on fields but we found type %s instead. For example: {$mod: {<field>: ...}} not {%s: %s}",
				typeName(op.Value), op.Key, describe(op.Value))
		}
		for _, f := range fields {
			var err error
			switch op.Key {
			case "$set":
				out, err = setPath(out, splitPath(f.Key), f.Value)
			case "$setOnInsert":
				if insert {
					out, err = setPath(out, splitPath(f.Key), f.Value)
				}
			case "$unset":
				out = unsetPath(out, splitPath(f.Key))
			case "$inc", "$mul":
				out, err = applyArithmetic(out, op.Key, f)
			case "$min", "$max":
				cur, ok := getPath(out, f.Key)
				c := compare(f.Value, cur)
				if !ok || (op.Key == "$min" && c < 0) || (op.Key == "$max" && c > 0) {
					out, err = setPath(out, splitPath(f.Key), f.Value)
				}
			case "$rename":
				to, ok := f.Value.(string)
				if !ok || to == "" {
					return nil, badValue("The 'to' field for $rename must be a string: %s: %s", f.Key, describe(f.Value))
				}
				if v, ok := getPath(out, f.Key); ok {
					out = unsetPath(out, splitPath(f.Key))
					out, err = setPath(out, splitPath(to), v)
				}
			case "$currentDate":
				var v interface{} = primitive.NewDateTimeFromTime(now)
				if spec, ok := f.Value.(bson.D); ok {
					if t, _ := get(spec, "$type"); t == "timestamp" {
						v = primitive.Timestamp{T: uint32(now.Unix()), I: 1}
					}
				}
				out, err = setPath(out, splitPath(f.Key), v)
			case "$push", "$addToSet":
				out, err = applyPush(out, op.Key, f)
			case "$pull":
				out, err = applyPull(out, f)
			case "$pop":
				out, err = applyPop(out, f)
			default:
				return nil, commandError(codeFailedToParse, "Unknown modifier: %s. Expected a valid update modifier or pipeline-style update specified as an array", op.Key)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func applyArithmetic(doc bson.D, op string, f bson.E) (bson.D, error) {
	if _, ok := number(f.Value); !ok {
		return nil, commandError(codeTypeMismatch, "Cannot %s with non-numeric argument: {%s: %s}", strings.TrimPrefix(op, "$"), f.Key, describe(f.Value))
	}
	cur, ok := getPath(doc, f.Key)
	if !ok {
		if op == "$mul" {
			return setPath(doc, splitPath(f.Key), arith(zeroOf(f.Value), f.Value, op))
		}
		return setPath(doc, splitPath(f.Key), f.Value)
	}
	if _, ok := number(cur); !ok {
		return nil, commandError(codeTypeMismatch, "Cannot apply %s to a value of non-numeric type. {_id: %s} has the field '%s' of non-numeric type %s",
			op, idOf(doc), f.Key, typeName(cur))
	}
	return setPath(doc, splitPath(f.Key), arith(cur, f.Value, op))
}

func zeroOf(v interface{}) interface{} {
	switch v.(type) {
	case int32:
		return int32(0)
	case int64:
		return int64(0)
	}
	return float64(0)
}

// arith adds or multiplies keeping integer types when both operands are
// integers and the result fits
func arith(a, b interface{}, op string) interface{} {
	ai, aInt := a.(int32)
	bi, bInt := b.(int32)
	if aInt && bInt {
		r := combineInt(int64(ai), int64(bi), op)
		if r >= math.MinInt32 && r <= math.MaxInt32 {
			return int32(r)
		}
		return r
	}
	if x, ok := asInt64(a); ok {
		if y, ok := asInt64(b); ok {
			return combineInt(x, y, op)
		}
	}
	x, _ := number(a)
	y, _ := number(b)
	if op == "$mul" {
		return x * y
	}
	return x + y
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func combineInt(a, b int64, op string) int64 {
	if op == "$mul" {
		return a * b
	}
	return a + b
}

func applyPush(doc bson.D, op string, f bson.E) (bson.D, error) {
	items := bson.A{f.Value}
	if spec, ok := f.Value.(bson.D); ok {
		if each, ok := get(spec, "$each"); ok {
			arr, ok := each.(bson.A)
			if !ok {
				return nil, badValue("The argument to $each in %s must be an array but it was of type: %s", op, typeName(each))
			}
			items = arr
		}
	}

	var arr bson.A
	cur, ok := getPath(doc, f.Key)
	if ok {
		existing, isArr := cur.(bson.A)
		if !isArr {
			return nil, badValue("The field '%s' must be an array but is of type %s in document {_id: %s}", f.Key, typeName(cur), idOf(doc))
		}
		arr = append(arr, existing...)
	}
	for _, item := range items {
		if op == "$addToSet" && contains(arr, item) {
			continue
		}
		arr = append(arr, item)
	}
	if arr == nil {
		arr = bson.A{}
	}
	return setPath(doc, splitPath(f.Key), arr)
}

func contains(arr bson.A, v interface{}) bool {
	for _, item := range arr {
		if equal(item, v) {
			return true
		}
	}
	return false
}

func applyPull(doc bson.D, f bson.E) (bson.D, error) {
	cur, ok := getPath(doc, f.Key)
	if !ok {
		return doc, nil
	}
	arr, ok := cur.(bson.A)
	if !ok {
		return nil, badValue("Cannot apply $pull to a non-array value")
	}
	kept := bson.A{}
	for _, item := range arr {
		var (
			remove bool
			err    error
		)
		switch cond := f.Value.(type) {
		case bson.D:
			if _, ok := isOperatorDoc(cond); ok {
				remove, err = matchField([]interface{}{item}, cond)
			} else if d, ok := item.(bson.D); ok {
				remove, err = matches(d, cond)
			}
		case primitive.Regex:
			remove, err = matchRegex([]interface{}{item}, cond.Pattern, cond.Options)
		default:
			remove = equal(item, cond)
		}
		if err != nil {
			return nil, err
		}
		if !remove {
			kept = append(kept, item)
		}
	}
	return setPath(doc, splitPath(f.Key), kept)
}

func applyPop(doc bson.D, f bson.E) (bson.D, error) {
	dir, ok := integer(f.Value)
	if !ok || (dir != 1 && dir != -1) {
		return nil, commandError(codeFailedToParse, "$pop expects 1 or -1, found: %s", describe(f.Value))
	}
	cur, ok := getPath(doc, f.Key)
	if !ok {
		return doc, nil
	}
	arr, ok := cur.(bson.A)
	if !ok {
		return nil, commandError(codeTypeMismatch, "Path '%s' contains an element of non-array type '%s'", f.Key, typeName(cur))
	}
	if len(arr) == 0 {
		return doc, nil
	}
	if dir == 1 {
		arr = arr[:len(arr)-1]
	} else {
		arr = arr[1:]
	}
	return setPath(doc, splitPath(f.Key), append(bson.A{}, arr...))
}

// upsertSeed builds the document an upsert starts from: the equality
// conditions of the filter
func upsertSeed(filter bson.D) (bson.D, error) {
	out := bson.D{}
	var err error
	for _, e := range filter {
		switch {
		case e.Key == "$and":
			clauses, _ := e.Value.(bson.A)
			for _, c := range clauses {
				sub, ok := c.(bson.D)
				if !ok {
					continue
				}
				seed, err := upsertSeed(sub)
				if err != nil {
					return nil, err
				}
				for _, s := range seed {
					if out, err = setPath(out, splitPath(s.Key), s.Value); err != nil {
						return nil, err
					}
				}
			}
		case strings.HasPrefix(e.Key, "$"):
		default:
			if ops, ok := isOperatorDoc(e.Value); ok {
				if eq, ok := get(ops, "$eq"); ok {
					out, err = setPath(out, splitPath(e.Key), eq)
				}
			} else if _, isRegex := e.Value.(primitive.Regex); !isRegex {
				out, err = setPath(out, splitPath(e.Key), e.Value)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// withID returns doc with an _id as its first field, generating an
// ObjectID when absent
func withID(doc bson.D) bson.D {
	id, ok := get(doc, "_id")
	if !ok {
		id = primitive.NewObjectID()
	} else if len(doc) > 0 && doc[0].Key == "_id" {
		return doc
	}
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	for _, e := range doc {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}
	return out
}

func idOf(doc bson.D) string {
	id, _ := get(doc, "_id")
	return describe(id)
}

// diff describes a change of top-level fields the way update change events
// do
func diff(before, after bson.D) bson.D {
	updated := bson.D{}
	for _, e := range after {
		old, ok := get(before, e.Key)
		if !ok || !equal(old, e.Value) {
			updated = append(updated, e)
		}
	}
	removed := bson.A{}
	for _, e := range before {
		if _, ok := get(after, e.Key); !ok {
			removed = append(removed, e.Key)
		}
	}
	return bson.D{
		{Key: "updatedFields", Value: updated},
		{Key: "removedFields", Value: removed},
		{Key: "truncatedArrays", Value: bson.A{}},
	}
}
