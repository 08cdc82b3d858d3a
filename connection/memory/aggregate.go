package memory

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// runPipeline runs aggregation stages over docs
func runPipeline(docs []bson.D, pipeline bson.A) ([]bson.D, error) {
	for _, s := range pipeline {
		stage, ok := s.(bson.D)
		if !ok || len(stage) != 1 {
			return nil, commandError(codeFailedToParse, "A pipeline stage specification object must contain exactly one field.")
		}
		var err error
		if docs, err = runStage(docs, stage[0]); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func runStage(docs []bson.D, stage bson.E) ([]bson.D, error) {
	switch stage.Key {
	case "$match":
		filter, ok := stage.Value.(bson.D)
		if !ok {
			return nil, badValue("the match filter must be an expression in an object")
		}
		return filterDocs(docs, filter)
	case "$sort":
		spec, ok := stage.Value.(bson.D)
		if !ok || len(spec) == 0 {
			return nil, badValue("the $sort key specification must be an object")
		}
		out := append([]bson.D(nil), docs...)
		return out, sortDocs(out, spec)
	case "$skip", "$limit":
		n, ok := integer(stage.Value)
		if !ok || n < 0 || (stage.Key == "$limit" && n == 0) {
			return nil, badValue("invalid argument to %s stage: %s", stage.Key, describe(stage.Value))
		}
		if stage.Key == "$skip" {
			if n >= int64(len(docs)) {
				return nil, nil
			}
			return docs[n:], nil
		}
		if n < int64(len(docs)) {
			return docs[:n], nil
		}
		return docs, nil
	case "$project":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, badValue("$project specification must be an object")
		}
		return mapDocs(docs, func(d bson.D) (bson.D, error) { return project(d, spec) })
	case "$addFields", "$set":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, badValue("%s specification stage must be an object", stage.Key)
		}
		return mapDocs(docs, func(d bson.D) (bson.D, error) { return addFields(d, spec) })
	case "$unset":
		var paths []string
		switch v := stage.Value.(type) {
		case string:
			paths = []string{v}
		case bson.A:
			for _, p := range v {
				s, ok := p.(string)
				if !ok {
					return nil, badValue("$unset specification must be a string or an array containing only string values")
				}
				paths = append(paths, s)
			}
		default:
			return nil, badValue("$unset specification must be a string or an array")
		}
		return mapDocs(docs, func(d bson.D) (bson.D, error) {
			for _, p := range paths {
				d = unsetPath(d, splitPath(p))
			}
			return d, nil
		})
	case "$replaceRoot", "$replaceWith":
		expr := stage.Value
		if stage.Key == "$replaceRoot" {
			spec, ok := stage.Value.(bson.D)
			if !ok {
				return nil, badValue("expected an object as specification for $replaceRoot stage")
			}
			if expr, ok = get(spec, "newRoot"); !ok {
				return nil, badValue("no newRoot specified for the $replaceRoot stage")
			}
		}
		return mapDocs(docs, func(d bson.D) (bson.D, error) {
			v, err := evalExpr(d, expr)
			if err != nil {
				return nil, err
			}
			root, ok := v.(bson.D)
			if !ok {
				return nil, badValue("'newRoot' expression must evaluate to an object, but resulting value was: %s", describe(v))
			}
			return root, nil
		})
	case "$count":
		name, ok := stage.Value.(string)
		if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return nil, badValue("the count field must be a non-empty string without '$' or '.'")
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return []bson.D{{{Key: name, Value: int32(len(docs))}}}, nil
	case "$group":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, badValue("a group's fields must be specified in an object")
		}
		return group(docs, spec)
	case "$unwind":
		return unwind(docs, stage.Value)
	}
	return nil, commandError(codeUnrecognizedPipelineStage, "Unrecognized pipeline stage name: '%s'", stage.Key)
}

func filterDocs(docs []bson.D, filter bson.D) ([]bson.D, error) {
	var out []bson.D
	for _, d := range docs {
		ok, err := matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func mapDocs(docs []bson.D, fn func(bson.D) (bson.D, error)) ([]bson.D, error) {
	out := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		m, err := fn(d)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// sortDocs orders docs in place by a sort specification
func sortDocs(docs []bson.D, spec bson.D) error {
	dirs := make([]int, len(spec))
	for i, e := range spec {
		n, ok := integer(e.Value)
		if !ok || (n != 1 && n != -1) {
			return badValue("$sort key ordering must be 1 (for ascending) or -1 (for descending)")
		}
		dirs[i] = int(n)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for k, e := range spec {
			a, _ := getPath(docs[i], e.Key)
			b, _ := getPath(docs[j], e.Key)
			if c := compare(a, b) * dirs[k]; c != 0 {
				return c < 0
			}
		}
		return false
	})
	return nil
}

// project applies a projection in inclusion or exclusion mode
func project(doc bson.D, spec bson.D) (bson.D, error) {
	spec = flattenProjection("", spec)
	includeID := true
	inclusion, exclusion := false, false
	for _, e := range spec {
		if e.Key == "_id" {
			if _, isNum := number(e.Value); isNum || isBool(e.Value) {
				includeID = truthy(e.Value)
				continue
			}
		}
		if _, isNum := number(e.Value); isNum || isBool(e.Value) {
			if truthy(e.Value) {
				inclusion = true
			} else {
				exclusion = true
			}
			continue
		}
		inclusion = true
	}
	if inclusion && exclusion {
		return nil, commandError(31254, "Cannot do exclusion on a field in inclusion projection")
	}

	if !inclusion {
		out := doc
		for _, e := range spec {
			if e.Key == "_id" && includeID {
				continue
			}
			if !truthy(e.Value) {
				out = unsetPath(out, splitPath(e.Key))
			}
		}
		if !includeID {
			out = removeKey(out, "_id")
		}
		return out, nil
	}

	out := bson.D{}
	if id, ok := get(doc, "_id"); ok && includeID {
		out = append(out, bson.E{Key: "_id", Value: id})
	}
	for _, e := range spec {
		if e.Key == "_id" {
			if _, isNum := number(e.Value); isNum || isBool(e.Value) {
				continue
			}
		}
		var (
			v   interface{}
			ok  bool
			err error
		)
		if _, isNum := number(e.Value); isNum || isBool(e.Value) {
			v, ok = getPath(doc, e.Key)
		} else {
			v, err = evalExpr(doc, e.Value)
			if err != nil {
				return nil, err
			}
			ok = !isMissing(v)
		}
		if !ok {
			continue
		}
		if out, err = setPath(out, splitPath(e.Key), v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// flattenProjection turns nested projections such as {a: {b: 1}} into
// dotted paths, leaving expression objects untouched
func flattenProjection(prefix string, spec bson.D) bson.D {
	out := bson.D{}
	for _, e := range spec {
		key := e.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := e.Value.(bson.D); ok && len(nested) > 0 {
			if _, isOp := isOperatorDoc(nested); !isOp {
				out = append(out, flattenProjection(key, nested)...)
				continue
			}
		}
		out = append(out, bson.E{Key: key, Value: e.Value})
	}
	return out
}

func isBool(v interface{}) bool {
	_, ok := v.(bool)
	return ok
}

func addFields(doc bson.D, spec bson.D) (bson.D, error) {
	out := doc
	for _, e := range spec {
		v, err := evalExpr(doc, e.Value)
		if err != nil {
			return nil, err
		}
		if _, ok := v.(missing); ok {
			out = unsetPath(out, splitPath(e.Key))
			continue
		}
		if out, err = setPath(out, splitPath(e.Key), v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func unwind(docs []bson.D, spec interface{}) ([]bson.D, error) {
	var (
		path     string
		preserve bool
		index    string
	)
	switch s := spec.(type) {
	case string:
		path = s
	case bson.D:
		p, _ := get(s, "path")
		path, _ = p.(string)
		preserve = boolOption(s, "preserveNullAndEmptyArrays", false)
		if v, ok := get(s, "includeArrayIndex"); ok {
			index, _ = v.(string)
		}
	}
	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, badValue("path option to $unwind stage should be prefixed with a '$': %s", path)
	}
	path = path[1:]

	var out []bson.D
	for _, d := range docs {
		v, ok := getPath(d, path)
		arr, isArr := v.(bson.A)
		switch {
		case isArr && len(arr) > 0:
			for i, item := range arr {
				u, err := setPath(d, splitPath(path), item)
				if err != nil {
					return nil, err
				}
				if index != "" {
					u = setKey(u, index, int64(i))
				}
				out = append(out, u)
			}
		case ok && v != nil && !isArr:
			u := d
			if index != "" {
				u = setKey(u, index, nil)
			}
			out = append(out, u)
		case preserve:
			u := d
			if isArr {
				u = unsetPath(u, splitPath(path))
			}
			if index != "" {
				u = setKey(u, index, nil)
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// accumulator folds the values of one group field
type accumulator struct {
	op     string
	expr   interface{}
	sum    interface{}
	count  int64
	value  interface{}
	set    bool
	values bson.A
}

func (a *accumulator) add(doc bson.D) error {
	v, err := evalExpr(doc, a.expr)
	if err != nil {
		return err
	}
	_, isMissing := v.(missing)
	switch a.op {
	case "$sum", "$avg":
		if _, ok := number(v); ok {
			if a.sum == nil {
				a.sum = v
			} else {
				a.sum = arith(a.sum, v, "$inc")
			}
			a.count++
		}
	case "$min", "$max":
		if isMissing || v == nil {
			return nil
		}
		c := compare(v, a.value)
		if !a.set || (a.op == "$min" && c < 0) || (a.op == "$max" && c > 0) {
			a.value, a.set = v, true
		}
	case "$first":
		if !a.set {
			a.value, a.set = v, true
		}
	case "$last":
		a.value, a.set = v, true
	case "$push":
		if !isMissing {
			a.values = append(a.values, v)
		}
	case "$addToSet":
		if !isMissing && !contains(a.values, v) {
			a.values = append(a.values, v)
		}
	}
	return nil
}

func (a *accumulator) result() interface{} {
	switch a.op {
	case "$sum":
		if a.sum == nil {
			return int32(0)
		}
		return a.sum
	case "$avg":
		if a.count == 0 {
			return nil
		}
		total, _ := number(a.sum)
		return total / float64(a.count)
	case "$push", "$addToSet":
		if a.values == nil {
			return bson.A{}
		}
		return a.values
	}
	if _, ok := a.value.(missing); ok {
		return nil
	}
	return a.value
}

type groupState struct {
	id   interface{}
	accs []*accumulator
}

func group(docs []bson.D, spec bson.D) ([]bson.D, error) {
	idExpr, ok := get(spec, "_id")
	if !ok {
		return nil, commandError(15955, "a group specification must include an _id")
	}
	type field struct {
		name string
		op   string
		expr interface{}
	}
	var fields []field
	for _, e := range spec {
		if e.Key == "_id" {
			continue
		}
		acc, ok := e.Value.(bson.D)
		if !ok || len(acc) != 1 {
			return nil, commandError(40234, "The field '%s' must be an accumulator object", e.Key)
		}
		op, expr := acc[0].Key, acc[0].Value
		switch op {
		case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push", "$addToSet":
		case "$count":
			op, expr = "$sum", int32(1)
		default:
			return nil, commandError(15952, "unknown group operator '%s'", op)
		}
		fields = append(fields, field{name: e.Key, op: op, expr: expr})
	}

	var order []*groupState
	byKey := make(map[string]*groupState)
	for _, d := range docs {
		id, err := evalExpr(d, idExpr)
		if err != nil {
			return nil, err
		}
		if _, ok := id.(missing); ok {
			id = nil
		}
		key := describe(id)
		g, ok := byKey[key]
		if !ok {
			g = &groupState{id: id}
			for _, f := range fields {
				g.accs = append(g.accs, &accumulator{op: f.op, expr: f.expr})
			}
			byKey[key] = g
			order = append(order, g)
		}
		for _, a := range g.accs {
			if err := a.add(d); err != nil {
				return nil, err
			}
		}
	}

	out := make([]bson.D, 0, len(order))
	for _, g := range order {
		d := bson.D{{Key: "_id", Value: g.id}}
		for i, f := range fields {
			d = append(d, bson.E{Key: f.name, Value: g.accs[i].result()})
		}
		out = append(out, d)
	}
	return out, nil
}

// evalExpr evaluates an aggregation expression against doc. Field paths
// that resolve to nothing evaluate to missing.
func evalExpr(doc bson.D, expr interface{}) (interface{}, error) {
	switch e := expr.(type) {
	case string:
		switch {
		case e == "$$ROOT" || e == "$$CURRENT":
			return doc, nil
		case e == "$$REMOVE":
			return missing{}, nil
		case strings.HasPrefix(e, "$$ROOT.") || strings.HasPrefix(e, "$$CURRENT."):
			return fieldValue(doc, e[strings.Index(e, ".")+1:]), nil
		case strings.HasPrefix(e, "$$"):
			return nil, commandError(17276, "Use of undefined variable: %s", strings.TrimPrefix(e, "$$"))
		case strings.HasPrefix(e, "$"):
			return fieldValue(doc, e[1:]), nil
		}
		return e, nil
	case bson.A:
		out := make(bson.A, 0, len(e))
		for _, item := range e {
			v, err := evalExpr(doc, item)
			if err != nil {
				return nil, err
			}
			if _, ok := v.(missing); ok {
				v = nil
			}
			out = append(out, v)
		}
		return out, nil
	case bson.D:
		if len(e) == 1 && strings.HasPrefix(e[0].Key, "$") {
			return evalOperator(doc, e[0].Key, e[0].Value)
		}
		out := bson.D{}
		for _, f := range e {
			v, err := evalExpr(doc, f.Value)
			if err != nil {
				return nil, err
			}
			if _, ok := v.(missing); ok {
				continue
			}
			out = append(out, bson.E{Key: f.Key, Value: v})
		}
		return out, nil
	}
	return expr, nil
}

// fieldValue resolves a field path in expression context, collecting the
// values of arrays of documents
func fieldValue(v interface{}, path string) interface{} {
	cur := v
	for _, p := range splitPath(path) {
		switch c := cur.(type) {
		case bson.D:
			next, ok := get(c, p)
			if !ok {
				return missing{}
			}
			cur = next
		case bson.A:
			out := bson.A{}
			for _, item := range c {
				if r := fieldValue(item, p); !isMissing(r) {
					out = append(out, r)
				}
			}
			cur = out
		default:
			return missing{}
		}
	}
	return cur
}

func isMissing(v interface{}) bool {
	_, ok := v.(missing)
	return ok
}

func evalArgs(doc bson.D, op string, arg interface{}) ([]interface{}, error) {
	var raw []interface{}
	if arr, ok := arg.(bson.A); ok {
		raw = arr
	} else {
		raw = []interface{}{arg}
	}
	out := make([]interface{}, len(raw))
	for i, a := range raw {
		v, err := evalExpr(doc, a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalOperator(doc bson.D, op string, arg interface{}) (interface{}, error) {
	if op == "$literal" {
		return arg, nil
	}
	args, err := evalArgs(doc, op, arg)
	if err != nil {
		return nil, err
	}
	switch op {
	case "$add", "$multiply":
		var acc interface{} = int32(0)
		if op == "$multiply" {
			acc = int32(1)
		}
		for _, a := range args {
			if a == nil || isMissing(a) {
				return nil, nil
			}
			if _, ok := number(a); !ok {
				return nil, commandError(codeTypeMismatch, "%s only supports numeric types, not %s", op, typeName(a))
			}
			if op == "$add" {
				acc = arith(acc, a, "$inc")
			} else {
				acc = arith(acc, a, "$mul")
			}
		}
		return acc, nil
	case "$subtract", "$divide", "$mod":
		if len(args) != 2 {
			return nil, commandError(16020, "Expression %s takes exactly 2 arguments. %d were passed in.", op, len(args))
		}
		if args[0] == nil || args[1] == nil || isMissing(args[0]) || isMissing(args[1]) {
			return nil, nil
		}
		x, ok1 := number(args[0])
		y, ok2 := number(args[1])
		if !ok1 || !ok2 {
			return nil, commandError(codeTypeMismatch, "%s only supports numeric types", op)
		}
		switch op {
		case "$subtract":
			return arith(args[0], negate(args[1]), "$inc"), nil
		case "$divide":
			if y == 0 {
				return nil, badValue("can't $divide by zero")
			}
			return x / y, nil
		}
		if y == 0 {
			return nil, badValue("can't $mod by zero")
		}
		if xi, ok := asInt64(args[0]); ok {
			if yi, ok := asInt64(args[1]); ok {
				return arith(xi%yi, int64(0), "$inc"), nil
			}
		}
		return math.Mod(x, y), nil
	case "$concat":
		var sb strings.Builder
		for _, a := range args {
			if a == nil || isMissing(a) {
				return nil, nil
			}
			s, ok := a.(string)
			if !ok {
				return nil, commandError(16702, "$concat only supports strings, not %s", typeName(a))
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	case "$toUpper", "$toLower":
		if len(args) != 1 {
			return nil, commandError(16020, "Expression %s takes exactly 1 arguments. %d were passed in.", op, len(args))
		}
		s := stringify(args[0])
		if op == "$toUpper" {
			return strings.ToUpper(s), nil
		}
		return strings.ToLower(s), nil
	case "$toString":
		if len(args) != 1 || args[0] == nil || isMissing(args[0]) {
			return nil, nil
		}
		return stringify(args[0]), nil
	case "$ifNull":
		for _, a := range args {
			if a != nil && !isMissing(a) {
				return a, nil
			}
		}
		return nil, nil
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$cmp":
		if len(args) != 2 {
			return nil, commandError(16020, "Expression %s takes exactly 2 arguments. %d were passed in.", op, len(args))
		}
		c := compare(args[0], args[1])
		switch op {
		case "$eq":
			return c == 0, nil
		case "$ne":
			return c != 0, nil
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		case "$lte":
			return c <= 0, nil
		}
		return int32(c), nil
	case "$and":
		for _, a := range args {
			if !truthy(a) {
				return false, nil
			}
		}
		return true, nil
	case "$or":
		for _, a := range args {
			if truthy(a) {
				return true, nil
			}
		}
		return false, nil
	case "$not":
		if len(args) != 1 {
			return nil, commandError(16020, "Expression $not takes exactly 1 arguments. %d were passed in.", len(args))
		}
		return !truthy(args[0]), nil
	case "$cond":
		return evalCond(doc, arg)
	case "$size":
		if len(args) != 1 {
			return nil, commandError(16020, "Expression $size takes exactly 1 arguments. %d were passed in.", len(args))
		}
		arr, ok := args[0].(bson.A)
		if !ok {
			return nil, commandError(17124, "The argument to $size must be an array. Type of argument was: %s", typeName(args[0]))
		}
		return int32(len(arr)), nil
	case "$arrayElemAt":
		if len(args) != 2 {
			return nil, commandError(16020, "Expression $arrayElemAt takes exactly 2 arguments. %d were passed in.", len(args))
		}
		arr, ok := args[0].(bson.A)
		i, ok2 := integer(args[1])
		if !ok || !ok2 {
			return nil, commandError(28689, "$arrayElemAt's first argument must be an array and its second a number")
		}
		if i < 0 {
			i += int64(len(arr))
		}
		if i < 0 || i >= int64(len(arr)) {
			return missing{}, nil
		}
		return arr[i], nil
	}
	return nil, commandError(codeInvalidPipelineOperator, "Unrecognized expression '%s'", op)
}

func evalCond(doc bson.D, arg interface{}) (interface{}, error) {
	var branches [3]interface{}
	switch c := arg.(type) {
	case bson.A:
		if len(c) != 3 {
			return nil, commandError(16020, "Expression $cond takes exactly 3 arguments. %d were passed in.", len(c))
		}
		copy(branches[:], c)
	case bson.D:
		for i, key := range []string{"if", "then", "else"} {
			v, ok := get(c, key)
			if !ok {
				return nil, commandError(17080, "Missing '%s' parameter to $cond", key)
			}
			branches[i] = v
		}
	default:
		return nil, commandError(16020, "Expression $cond takes exactly 3 arguments")
	}
	cond, err := evalExpr(doc, branches[0])
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return evalExpr(doc, branches[1])
	}
	return evalExpr(doc, branches[2])
}

func negate(v interface{}) interface{} {
	switch n := v.(type) {
	case int32:
		if n == math.MinInt32 {
			return -int64(n)
		}
		return -n
	case int64:
		return -n
	}
	f, _ := number(v)
	return -f
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil, missing:
		return ""
	case string:
		return t
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return describe(v)
}
