package command

import (
	"math"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BSON converts the value to the driver's representation. Plain integer
// literals become int32 when they fit, int64 otherwise.
func (v Value) BSON() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		if v.i >= math.MinInt32 && v.i <= math.MaxInt32 {
			return int32(v.i)
		}
		return v.i
	case KindInt32:
		return int32(v.i)
	case KindInt64:
		return v.i
	case KindDouble:
		return v.f
	case KindDecimal:
		return v.dec
	case KindString:
		return v.s
	case KindArray:
		arr := make(bson.A, len(v.arr))
		for i, item := range v.arr {
			arr[i] = item.BSON()
		}
		return arr
	case KindDocument:
		return v.doc.BSON()
	case KindObjectID:
		return v.oid
	case KindDate:
		return primitive.NewDateTimeFromTime(v.t)
	case KindRegex:
		return primitive.Regex{Pattern: v.s, Options: sortedOptions(v.opts)}
	case KindTimestamp:
		return v.ts
	case KindBinary:
		return primitive.Binary{Subtype: v.bin.Subtype, Data: append([]byte(nil), v.bin.Data...)}
	case KindMinKey:
		return primitive.MinKey{}
	case KindMaxKey:
		return primitive.MaxKey{}
	}
	return nil
}

// BSON converts the document to an ordered bson.D. A nil document converts
// to an empty bson.D.
func (d *Document) BSON() bson.D {
	out := bson.D{}
	if d == nil {
		return out
	}
	for _, e := range d.elems {
		out = append(out, bson.E{Key: e.Key, Value: e.Value.BSON()})
	}
	return out
}

// PipelineBSON converts pipeline stages to a bson.A
func PipelineBSON(stages []*Document) bson.A {
	out := bson.A{}
	for _, s := range stages {
		out = append(out, s.BSON())
	}
	return out
}

// sortedOptions orders regex flags, which the server requires
func sortedOptions(opts string) string {
	flags := strings.Split(opts, "")
	sort.Strings(flags)
	return strings.Join(flags, "")
}
