package memory

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes the emulation reports
const (
	codeBadValue                  = 2
	codeFailedToParse             = 9
	codeUnauthorized              = 13
	codeTypeMismatch              = 14
	codeIllegalOperation          = 20
	codeInvalidLength             = 16
	codeAlreadyInitialized        = 23
	codeNamespaceNotFound         = 26
	codeIndexNotFound             = 27
	codePathNotViable             = 28
	codeNamespaceExists           = 48
	codeCommandNotFound           = 59
	codeImmutableField            = 66
	codeCannotCreateIndex         = 67
	codeInvalidOptions            = 72
	codeInvalidNamespace          = 73
	codeNoReplicationEnabled      = 76
	codeIndexOptionsConflict      = 85
	codeIndexKeySpecsConflict     = 86
	codeInvalidReplicaSetConfig   = 93
	codeNotSecondary              = 95
	codeNewConfigIncompatible     = 103
	codeInvalidPipelineOperator   = 168
	codeInvalidResumeToken        = 260
	codeExceededTimeLimit         = 262
	codeChangeStreamHistoryLost   = 286
	codeDuplicateKey              = 11000
	codeUnrecognizedPipelineStage = 40324
	codeChangeStreamNotSupported  = 40573
)

var codeNames = map[int32]string{
	codeBadValue:                  "BadValue",
	codeFailedToParse:             "FailedToParse",
	codeUnauthorized:              "Unauthorized",
	codeTypeMismatch:              "TypeMismatch",
	codeIllegalOperation:          "IllegalOperation",
	codeInvalidLength:             "InvalidLength",
	codeAlreadyInitialized:        "AlreadyInitialized",
	codeNamespaceNotFound:         "NamespaceNotFound",
	codeIndexNotFound:             "IndexNotFound",
	codePathNotViable:             "PathNotViable",
	codeNamespaceExists:           "NamespaceExists",
	codeCommandNotFound:           "CommandNotFound",
	codeImmutableField:            "ImmutableField",
	codeCannotCreateIndex:         "CannotCreateIndex",
	codeInvalidOptions:            "InvalidOptions",
	codeInvalidNamespace:          "InvalidNamespace",
	codeNoReplicationEnabled:      "NoReplicationEnabled",
	codeIndexOptionsConflict:      "IndexOptionsConflict",
	codeIndexKeySpecsConflict:     "IndexKeySpecsConflict",
	codeInvalidReplicaSetConfig:   "InvalidReplicaSetConfig",
	codeNotSecondary:              "NotSecondary",
	codeNewConfigIncompatible:     "NewReplicaSetConfigurationIncompatible",
	codeInvalidPipelineOperator:   "InvalidPipelineOperator",
	codeInvalidResumeToken:        "InvalidResumeToken",
	codeExceededTimeLimit:         "ExceededTimeLimit",
	codeChangeStreamHistoryLost:   "ChangeStreamHistoryLost",
	codeDuplicateKey:              "DuplicateKey",
	codeUnrecognizedPipelineStage: "Location40324",
	codeChangeStreamNotSupported:  "Location40573",
}

// commandError builds the error the driver returns for an ok: 0 reply
func commandError(code int32, format string, args ...interface{}) error {
	return mongo.CommandError{
		Code:    code,
		Name:    codeNames[code],
		Message: fmt.Sprintf(format, args...),
	}
}

func badValue(format string, args ...interface{}) error {
	return commandError(codeBadValue, format, args...)
}

// missing stands for an absent field in expression results
type missing struct{}

func get(doc bson.D, key string) (interface{}, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// setKey returns a copy of doc with key set, appended when absent
func setKey(doc bson.D, key string, v interface{}) bson.D {
	out := make(bson.D, len(doc), len(doc)+1)
	copy(out, doc)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = v
			return out
		}
	}
	return append(out, bson.E{Key: key, Value: v})
}

// removeKey returns a copy of doc without key
func removeKey(doc bson.D, key string) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key != key {
			out = append(out, e)
		}
	}
	return out
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// getPath follows a dotted path without fanning out over arrays. Numeric
// segments index into arrays.
func getPath(doc bson.D, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, p := range splitPath(path) {
		switch c := cur.(type) {
		case bson.D:
			v, ok := get(c, p)
			if !ok {
				return nil, false
			}
			cur = v
		case bson.A:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// lookup returns every value a dotted path reaches in v, fanning out over
// arrays of documents the way query predicates do
func lookup(v interface{}, parts []string) []interface{} {
	if len(parts) == 0 {
		return []interface{}{v}
	}
	switch t := v.(type) {
	case bson.D:
		child, ok := get(t, parts[0])
		if !ok {
			return nil
		}
		return lookup(child, parts[1:])
	case bson.A:
		if i, err := strconv.Atoi(parts[0]); err == nil && i >= 0 {
			if i < len(t) {
				return lookup(t[i], parts[1:])
			}
			return nil
		}
		var out []interface{}
		for _, item := range t {
			if d, ok := item.(bson.D); ok {
				out = append(out, lookup(d, parts)...)
			}
		}
		return out
	}
	return nil
}

// expand adds the elements of array values to the candidates
func expand(vals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
		if arr, ok := v.(bson.A); ok {
			out = append(out, arr...)
		}
	}
	return out
}

// setPath returns a copy of doc with the dotted path set to v, creating
// intermediate documents
func setPath(doc bson.D, parts []string, v interface{}) (bson.D, error) {
	key := parts[0]
	if len(parts) == 1 {
		return setKey(doc, key, v), nil
	}
	child, ok := get(doc, key)
	if !ok {
		nested, err := setPath(bson.D{}, parts[1:], v)
		if err != nil {
			return nil, err
		}
		return setKey(doc, key, nested), nil
	}
	switch c := child.(type) {
	case bson.D:
		nested, err := setPath(c, parts[1:], v)
		if err != nil {
			return nil, err
		}
		return setKey(doc, key, nested), nil
	case bson.A:
		arr, err := setArrayPath(c, parts[1:], v)
		if err != nil {
			return nil, err
		}
		return setKey(doc, key, arr), nil
	}
	return nil, commandError(codePathNotViable, "Cannot create field '%s' in element {%s: %s}", parts[1], key, describe(child))
}

func setArrayPath(arr bson.A, parts []string, v interface{}) (bson.A, error) {
	i, err := strconv.Atoi(parts[0])
	if err != nil || i < 0 {
		return nil, commandError(codePathNotViable, "Cannot create field '%s' in an array", parts[0])
	}
	out := make(bson.A, len(arr))
	copy(out, arr)
	for len(out) <= i {
		out = append(out, nil)
	}
	if len(parts) == 1 {
		out[i] = v
		return out, nil
	}
	switch c := out[i].(type) {
	case nil:
		nested, err := setPath(bson.D{}, parts[1:], v)
		if err != nil {
			return nil, err
		}
		out[i] = nested
	case bson.D:
		nested, err := setPath(c, parts[1:], v)
		if err != nil {
			return nil, err
		}
		out[i] = nested
	case bson.A:
		nested, err := setArrayPath(c, parts[1:], v)
		if err != nil {
			return nil, err
		}
		out[i] = nested
	default:
		return nil, commandError(codePathNotViable, "Cannot create field '%s' in element %s", parts[1], describe(c))
	}
	return out, nil
}

// unsetPath returns a copy of doc without the dotted path. Array elements
// are set to null rather than removed.
func unsetPath(doc bson.D, parts []string) bson.D {
	key := parts[0]
	if len(parts) == 1 {
		return removeKey(doc, key)
	}
	child, ok := get(doc, key)
	if !ok {
		return doc
	}
	switch c := child.(type) {
	case bson.D:
		return setKey(doc, key, unsetPath(c, parts[1:]))
	case bson.A:
		return setKey(doc, key, unsetArrayPath(c, parts[1:]))
	}
	return doc
}

func unsetArrayPath(arr bson.A, parts []string) bson.A {
	i, err := strconv.Atoi(parts[0])
	if err != nil || i < 0 || i >= len(arr) {
		return arr
	}
	out := make(bson.A, len(arr))
	copy(out, arr)
	if len(parts) == 1 {
		out[i] = nil
		return out
	}
	switch c := out[i].(type) {
	case bson.D:
		out[i] = unsetPath(c, parts[1:])
	case bson.A:
		out[i] = unsetArrayPath(c, parts[1:])
	}
	return out
}

// normalizeDoc converts any marshalable document into a bson.D whose nested
// values use the driver's default decoded types
func normalizeDoc(v interface{}) (bson.D, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toRaw(doc bson.D) (bson.Raw, error) {
	return bson.Marshal(doc)
}

// describe renders a value as Extended JSON for error messages
func describe(v interface{}) string {
	if d, ok := v.(bson.D); ok {
		if data, err := bson.MarshalExtJSON(d, false, false); err == nil {
			return string(data)
		}
	}
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(data)
	return strings.TrimSuffix(strings.TrimPrefix(s, `{"v":`), "}")
}

// number returns the numeric value of v
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// integer returns the value of an integral number
func integer(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

// truthy follows the server's boolean coercion for option values
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil, missing:
		return false
	case bool:
		return t
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

func boolOption(cmd bson.D, key string, def bool) bool {
	v, ok := get(cmd, key)
	if !ok {
		return def
	}
	return truthy(v)
}

func intOption(cmd bson.D, key string) int64 {
	v, ok := get(cmd, key)
	if !ok {
		return 0
	}
	n, _ := integer(v)
	return n
}

func docOption(cmd bson.D, key string) (bson.D, error) {
	v, ok := get(cmd, key)
	if !ok || v == nil {
		return nil, nil
	}
	d, ok := v.(bson.D)
	if !ok {
		return nil, commandError(codeTypeMismatch, "BSON field '%s' is the wrong type '%s', expected type 'object'", key, typeName(v))
	}
	return d, nil
}

// canonical order of BSON types for comparison
func rank(v interface{}) int {
	switch v.(type) {
	case primitive.MinKey:
		return 1
	case nil, primitive.Null, primitive.Undefined, missing:
		return 2
	case int32, int64, int, float64, primitive.Decimal128:
		return 3
	case string:
		return 4
	case bson.D:
		return 5
	case bson.A:
		return 6
	case primitive.Binary:
		return 7
	case primitive.ObjectID:
		return 8
	case bool:
		return 9
	case primitive.DateTime:
		return 10
	case primitive.Timestamp:
		return 11
	case primitive.Regex:
		return 12
	case primitive.MaxKey:
		return 100
	}
	return 50
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compare orders two values by the server's sort order
func compare(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case bson.D:
		y, _ := b.(bson.D)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := strings.Compare(x[i].Key, y[i].Key); c != 0 {
				return c
			}
			if c := compare(x[i].Value, y[i].Value); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(x)), int64(len(y)))
	case bson.A:
		y, _ := b.(bson.A)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(x)), int64(len(y)))
	case primitive.Binary:
		y, _ := b.(primitive.Binary)
		if c := cmpInt(int64(len(x.Data)), int64(len(y.Data))); c != 0 {
			return c
		}
		if c := cmpInt(int64(x.Subtype), int64(y.Subtype)); c != 0 {
			return c
		}
		return bytes.Compare(x.Data, y.Data)
	case primitive.ObjectID:
		y, _ := b.(primitive.ObjectID)
		return bytes.Compare(x[:], y[:])
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case primitive.DateTime:
		y, _ := b.(primitive.DateTime)
		return cmpInt(int64(x), int64(y))
	case primitive.Timestamp:
		y, _ := b.(primitive.Timestamp)
		return primitive.CompareTimestamp(x, y)
	case primitive.Regex:
		y, _ := b.(primitive.Regex)
		if c := strings.Compare(x.Pattern, y.Pattern); c != 0 {
			return c
		}
		return strings.Compare(x.Options, y.Options)
	}
	if ra == 3 {
		xi, xok := integer(a)
		yi, yok := integer(b)
		if xok && yok {
			return cmpInt(xi, yi)
		}
		fa, _ := number(a)
		fb, _ := number(b)
		switch {
		case math.IsNaN(fa) && math.IsNaN(fb):
			return 0
		case math.IsNaN(fa):
			return -1
		case math.IsNaN(fb):
			return 1
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}

func equal(a, b interface{}) bool {
	return rank(a) == rank(b) && compare(a, b) == 0
}

// typeCode returns the BSON type number of v
func typeCode(v interface{}) int32 {
	switch v.(type) {
	case float64:
		return 1
	case string:
		return 2
	case bson.D:
		return 3
	case bson.A:
		return 4
	case primitive.Binary:
		return 5
	case primitive.Undefined:
		return 6
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case primitive.DateTime:
		return 9
	case nil, primitive.Null:
		return 10
	case primitive.Regex:
		return 11
	case int32, int:
		return 16
	case primitive.Timestamp:
		return 17
	case int64:
		return 18
	case primitive.Decimal128:
		return 19
	case primitive.MinKey:
		return -1
	case primitive.MaxKey:
		return 127
	}
	return 0
}

var typeAliases = map[string]int32{
	"double":     1,
	"string":     2,
	"object":     3,
	"array":      4,
	"binData":    5,
	"undefined":  6,
	"objectId":   7,
	"bool":       8,
	"date":       9,
	"null":       10,
	"regex":      11,
	"javascript": 13,
	"int":        16,
	"timestamp":  17,
	"long":       18,
	"decimal":    19,
	"minKey":     -1,
	"maxKey":     127,
}

func typeName(v interface{}) string {
	code := typeCode(v)
	for name, c := range typeAliases {
		if c == code {
			return name
		}
	}
	return "unknown"
}
