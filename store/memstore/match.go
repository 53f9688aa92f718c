// store/memstore/match.go
package memstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalize round-trips v through BSON so stored documents and filters use
// the same value types the real server would hand back.
func normalize(v interface{}) (bson.D, error) {
	if v == nil {
		return bson.D{}, nil
	}
	b, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	var d bson.D
	if err := bson.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	return d, nil
}

func normalizePipeline(pipeline interface{}) ([]bson.D, error) {
	wrapped, err := normalize(bson.D{{Key: "p", Value: pipeline}})
	if err != nil {
		return nil, err
	}
	arr, ok := wrapped[0].Value.(bson.A)
	if !ok {
		return nil, fmt.Errorf("memstore: pipeline must be an array")
	}
	stages := make([]bson.D, 0, len(arr))
	for _, s := range arr {
		d, ok := s.(bson.D)
		if !ok || len(d) != 1 {
			return nil, fmt.Errorf("memstore: malformed pipeline stage %v", s)
		}
		stages = append(stages, d)
	}
	return stages, nil
}

func clone(d bson.D) bson.D {
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		return clone(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}

// lookup resolves a dotted path through nested documents.
func lookup(d bson.D, path string) (interface{}, bool) {
	head, rest, nested := strings.Cut(path, ".")
	for _, e := range d {
		if e.Key != head {
			continue
		}
		if !nested {
			return e.Value, true
		}
		sub, ok := e.Value.(bson.D)
		if !ok {
			return nil, false
		}
		return lookup(sub, rest)
	}
	return nil, false
}

func set(d bson.D, key string, v interface{}) bson.D {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = v
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: v})
}

func unset(d bson.D, key string) bson.D {
	for i := range d {
		if d[i].Key == key {
			return append(d[:i], d[i+1:]...)
		}
	}
	return d
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func equal(a, b interface{}) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case bson.D:
		y, ok := b.(bson.D)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i].Key != y[i].Key || !equal(x[i].Value, y[i].Value) {
				return false
			}
		}
		return true
	case bson.A:
		y, ok := b.(bson.A)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers, strings and dates. ok is false for values of
// different or unordered kinds.
func compare(a, b interface{}) (c int, ok bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		return cmp3(x < y, x > y), true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case primitive.DateTime:
		y, ok := b.(primitive.DateTime)
		if !ok {
			return 0, false
		}
		return cmp3(x < y, x > y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func matches(d, filter bson.D) (bool, error) {
	for _, cond := range filter {
		if strings.HasPrefix(cond.Key, "$") {
			return false, fmt.Errorf("%w: filter operator %s", errNotSupported, cond.Key)
		}
		v, present := lookup(d, cond.Key)
		ok, err := matchValue(v, present, cond.Value)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchValue(v interface{}, present bool, want interface{}) (bool, error) {
	ops, isOps := want.(bson.D)
	if !isOps || len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
		return present && equal(v, want) || !present && want == nil, nil
	}
	for _, op := range ops {
		var ok bool
		switch op.Key {
		case "$eq":
			ok = equal(v, op.Value)
		case "$ne":
			ok = !equal(v, op.Value)
		case "$in":
			arr, isArr := op.Value.(bson.A)
			if !isArr {
				return false, fmt.Errorf("memstore: $in needs an array")
			}
			for _, x := range arr {
				if equal(v, x) {
					ok = true
					break
				}
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false, nil
			}
			c, comparable := compare(v, op.Value)
			if !comparable {
				return false, nil
			}
			ok = op.Key == "$gt" && c > 0 || op.Key == "$gte" && c >= 0 ||
				op.Key == "$lt" && c < 0 || op.Key == "$lte" && c <= 0
		default:
			return false, fmt.Errorf("%w: query operator %s", errNotSupported, op.Key)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// applyUpdate returns a modified copy of d.
func applyUpdate(d, update bson.D) (bson.D, error) {
	if len(update) == 0 {
		return nil, fmt.Errorf("memstore: update document must not be empty")
	}
	next := clone(d)
	for _, op := range update {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memstore: update operator %s needs a document", op.Key)
		}
		switch op.Key {
		case "$set":
			for _, f := range fields {
				if strings.Contains(f.Key, ".") {
					return nil, fmt.Errorf("%w: dotted $set path %s", errNotSupported, f.Key)
				}
				if f.Key == "_id" {
					if old, _ := lookup(d, "_id"); !equal(old, f.Value) {
						return nil, fmt.Errorf("memstore: performing an update on the path '_id' would modify the immutable field '_id'")
					}
				}
				next = set(next, f.Key, cloneValue(f.Value))
			}
		case "$unset":
			for _, f := range fields {
				if f.Key == "_id" {
					return nil, fmt.Errorf("memstore: cannot unset '_id'")
				}
				next = unset(next, f.Key)
			}
		default:
			if !strings.HasPrefix(op.Key, "$") {
				return nil, fmt.Errorf("memstore: update document requires atomic operators")
			}
			return nil, fmt.Errorf("%w: update operator %s", errNotSupported, op.Key)
		}
	}
	return next, nil
}

func runStage(docs []bson.D, stage bson.D) ([]bson.D, error) {
	name := stage[0].Key
	spec, ok := stage[0].Value.(bson.D)
	if !ok {
		return nil, fmt.Errorf("memstore: %s needs a document", name)
	}
	switch name {
	case "$match":
		out := docs[:0:0]
		for _, d := range docs {
			ok, err := matches(d, spec)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, d)
			}
		}
		return out, nil
	case "$bucket":
		return bucket(docs, spec)
	}
	return nil, fmt.Errorf("%w: pipeline stage %s", errNotSupported, name)
}

// bucket implements $bucket with $sum and $push accumulators.
func bucket(docs []bson.D, spec bson.D) ([]bson.D, error) {
	groupBy, _ := lookup(spec, "groupBy")
	expr, ok := groupBy.(string)
	if !ok || !strings.HasPrefix(expr, "$") {
		return nil, fmt.Errorf("%w: $bucket groupBy must be a field path", errNotSupported)
	}
	rawBounds, _ := lookup(spec, "boundaries")
	bounds, ok := rawBounds.(bson.A)
	if !ok || len(bounds) < 2 {
		return nil, fmt.Errorf("memstore: $bucket needs at least two boundaries")
	}
	def, hasDefault := lookup(spec, "default")

	output := bson.D{{Key: "count", Value: bson.D{{Key: "$sum", Value: int32(1)}}}}
	if o, ok := lookup(spec, "output"); ok {
		if output, ok = o.(bson.D); !ok {
			return nil, fmt.Errorf("memstore: $bucket output must be a document")
		}
	}
	for _, acc := range output {
		op, ok := acc.Value.(bson.D)
		if !ok || len(op) != 1 || (op[0].Key != "$sum" && op[0].Key != "$push") {
			return nil, fmt.Errorf("%w: $bucket accumulator for %s", errNotSupported, acc.Key)
		}
	}

	type group struct {
		id     interface{}
		sums   []float64
		pushed []bson.A
		seen   bool
	}
	groups := make([]*group, len(bounds)) // last slot is the default bucket
	for i := range groups {
		groups[i] = &group{sums: make([]float64, len(output)), pushed: make([]bson.A, len(output))}
		if i < len(bounds)-1 {
			groups[i].id = bounds[i]
		} else {
			groups[i].id = def
		}
	}

	for _, d := range docs {
		v, _ := lookup(d, strings.TrimPrefix(expr, "$"))
		slot := -1
		for i := 0; i < len(bounds)-1; i++ {
			lo, ok1 := compare(v, bounds[i])
			hi, ok2 := compare(v, bounds[i+1])
			if ok1 && ok2 && lo >= 0 && hi < 0 {
				slot = i
				break
			}
		}
		if slot < 0 {
			if !hasDefault {
				return nil, fmt.Errorf("memstore: $bucket value %v falls outside boundaries and no default is set", v)
			}
			slot = len(bounds) - 1
		}
		g := groups[slot]
		g.seen = true
		for i, acc := range output {
			op := acc.Value.(bson.D)[0]
			val := evaluate(d, op.Value)
			if op.Key == "$push" {
				g.pushed[i] = append(g.pushed[i], val)
				continue
			}
			n, _ := number(val)
			g.sums[i] += n
		}
	}

	var out []bson.D
	for _, g := range groups {
		if !g.seen {
			continue
		}
		d := bson.D{{Key: "_id", Value: g.id}}
		for i, acc := range output {
			if acc.Value.(bson.D)[0].Key == "$push" {
				d = append(d, bson.E{Key: acc.Key, Value: g.pushed[i]})
				continue
			}
			d = append(d, bson.E{Key: acc.Key, Value: sumValue(g.sums[i])})
		}
		out = append(out, d)
	}
	return out, nil
}

// evaluate resolves an accumulator expression against d: "$field" paths
// are looked up, documents are evaluated field by field, anything else is
// a literal.
func evaluate(d bson.D, expr interface{}) interface{} {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			v, _ := lookup(d, e[1:])
			return v
		}
	case bson.D:
		out := make(bson.D, 0, len(e))
		for _, f := range e {
			out = append(out, bson.E{Key: f.Key, Value: evaluate(d, f.Value)})
		}
		return out
	}
	return expr
}

func sumValue(f float64) interface{} {
	if f == float64(int32(f)) {
		return int32(f)
	}
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}
