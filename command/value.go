package command

import (
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind represents the type of a literal Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindInt32
	KindInt64
	KindDouble
	KindDecimal
	KindString
	KindArray
	KindDocument
	KindObjectID
	KindDate
	KindRegex
	KindTimestamp
	KindBinary
	KindMinKey
	KindMaxKey
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindDocument:
		return "document"
	case KindObjectID:
		return "objectId"
	case KindDate:
		return "date"
	case KindRegex:
		return "regex"
	case KindTimestamp:
		return "timestamp"
	case KindBinary:
		return "binData"
	case KindMinKey:
		return "minKey"
	case KindMaxKey:
		return "maxKey"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a literal argument value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	opts string
	arr  []Value
	doc  *Document
	oid  primitive.ObjectID
	dec  primitive.Decimal128
	t    time.Time
	ts   primitive.Timestamp
	bin  primitive.Binary
}

// Null returns the null value
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a plain integer literal
func Int(n int64) Value { return Value{kind: KindInt, i: n} }

// Int32 returns an explicit 32-bit integer (NumberInt)
func Int32(n int32) Value { return Value{kind: KindInt32, i: int64(n)} }

// Int64 returns an explicit 64-bit integer (NumberLong)
func Int64(n int64) Value { return Value{kind: KindInt64, i: n} }

// Double returns a floating point value
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// Decimal returns a 128-bit decimal value
func Decimal(d primitive.Decimal128) Value { return Value{kind: KindDecimal, dec: d} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an ordered array value
func Array(values ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), values...)}
}

// Doc returns a nested document value
func Doc(d *Document) Value {
	if d == nil {
		d = &Document{}
	}
	return Value{kind: KindDocument, doc: d}
}

// ObjectID returns an object id value
func ObjectID(oid primitive.ObjectID) Value { return Value{kind: KindObjectID, oid: oid} }

// Date returns a date value truncated to millisecond precision in UTC
func Date(t time.Time) Value {
	return Value{kind: KindDate, t: time.UnixMilli(t.UnixMilli()).UTC()}
}

// Regex returns a regular expression value
func Regex(pattern, options string) Value {
	return Value{kind: KindRegex, s: pattern, opts: options}
}

// Timestamp returns a BSON timestamp value
func Timestamp(t, i uint32) Value {
	return Value{kind: KindTimestamp, ts: primitive.Timestamp{T: t, I: i}}
}

// Binary returns a binary value of the given subtype
func Binary(subtype byte, data []byte) Value {
	return Value{kind: KindBinary, bin: primitive.Binary{Subtype: subtype, Data: append([]byte(nil), data...)}}
}

// MinKey returns the MinKey marker
func MinKey() Value { return Value{kind: KindMinKey} }

// MaxKey returns the MaxKey marker
func MaxKey() Value { return Value{kind: KindMaxKey} }

// Kind returns the kind of the value
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber reports whether the value is any numeric kind
func (v Value) IsNumber() bool {
	switch v.kind {
	case KindInt, KindInt32, KindInt64, KindDouble, KindDecimal:
		return true
	}
	return false
}

// AsBool returns the boolean payload
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt returns the integral payload of an integer kind, or of a double
// without a fractional part
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt, KindInt32, KindInt64:
		return v.i, true
	case KindDouble:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) && math.Abs(v.f) < 1<<63 {
			return int64(v.f), true
		}
	}
	return 0, false
}

// AsFloat returns the payload of any integer or double kind as float64
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt, KindInt32, KindInt64:
		return float64(v.i), true
	case KindDouble:
		return v.f, true
	}
	return 0, false
}

// AsString returns the string payload
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsDocument returns the nested document
func (v Value) AsDocument() (*Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// AsArray returns a copy of the array elements
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return append([]Value(nil), v.arr...), true
}

// AsObjectID returns the object id payload
func (v Value) AsObjectID() (primitive.ObjectID, bool) {
	if v.kind != KindObjectID {
		return primitive.NilObjectID, false
	}
	return v.oid, true
}

// AsTime returns the date payload
func (v Value) AsTime() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	return v.t, true
}

// AsRegex returns the pattern and options of a regex value
func (v Value) AsRegex() (string, string, bool) {
	if v.kind != KindRegex {
		return "", "", false
	}
	return v.s, v.opts, true
}

// AsTimestamp returns the timestamp payload
func (v Value) AsTimestamp() (primitive.Timestamp, bool) {
	if v.kind != KindTimestamp {
		return primitive.Timestamp{}, false
	}
	return v.ts, true
}

// AsBinary returns the binary payload
func (v Value) AsBinary() (primitive.Binary, bool) {
	if v.kind != KindBinary {
		return primitive.Binary{}, false
	}
	return v.bin, true
}

// AsDecimal returns the decimal payload
func (v Value) AsDecimal() (primitive.Decimal128, bool) {
	if v.kind != KindDecimal {
		return primitive.Decimal128{}, false
	}
	return v.dec, true
}

// Element is a single key/value pair of a Document
type Element struct {
	Key   string
	Value Value
}

// E builds an Element
func E(key string, value Value) Element {
	return Element{Key: key, Value: value}
}

// Document is an ordered set of unique keys. A nil *Document is an empty
// document for all read operations.
type Document struct {
	elems []Element
}

// NewDocument builds a document from elements, rejecting duplicate keys
func NewDocument(elems ...Element) (*Document, error) {
	seen := make(map[string]struct{}, len(elems))
	for _, e := range elems {
		if _, dup := seen[e.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidArgument, e.Key)
		}
		seen[e.Key] = struct{}{}
	}
	if len(elems) == 0 {
		return &Document{}, nil
	}
	return &Document{elems: append([]Element(nil), elems...)}, nil
}

// D builds a document and panics on duplicate keys. Intended for literals in
// code and tests.
func D(elems ...Element) *Document {
	d, err := NewDocument(elems...)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the number of keys
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.elems)
}

// IsEmpty reports whether the document has no keys
func (d *Document) IsEmpty() bool {
	return d.Len() == 0
}

// Keys returns the keys in order
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.elems))
	for i, e := range d.elems {
		keys[i] = e.Key
	}
	return keys
}

// Get returns the value stored under key
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for _, e := range d.elems {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether key is present
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Elements returns a copy of the elements in order
func (d *Document) Elements() []Element {
	if d == nil {
		return nil
	}
	return append([]Element(nil), d.elems...)
}

// Without returns a new document without the given keys
func (d *Document) Without(keys ...string) *Document {
	out := &Document{}
	if d == nil {
		return out
	}
	for _, e := range d.elems {
		drop := false
		for _, k := range keys {
			if e.Key == k {
				drop = true
				break
			}
		}
		if !drop {
			out.elems = append(out.elems, e)
		}
	}
	return out
}

// With returns a new document with key set to value, replacing an existing
// key in place or appending a new one
func (d *Document) With(key string, value Value) *Document {
	out := &Document{elems: d.Elements()}
	for i, e := range out.elems {
		if e.Key == key {
			out.elems[i].Value = value
			return out
		}
	}
	out.elems = append(out.elems, Element{Key: key, Value: value})
	return out
}
