package chronodb

import (
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Source is the read-only view of a store that a Filter evaluates against.
type Source interface {
	Get(id string) *Entity
	FindAll() []*Entity
	AllIDs() []string
}

// Filter is an evaluatable query expression. Evaluation returns the
// matching id set and never errors; semantic mismatches simply fail to
// match.
type Filter interface {
	Evaluate(ix *IndexManager, src Source) map[string]struct{}
}

// ValueExpr is the right-hand side of a comparison or a standalone value
// expression: a literal, a field reference, or arithmetic over both. It is
// evaluated against the fields of the entity under consideration and holds
// no reference to a parser or store.
type ValueExpr interface {
	Eval(fields map[string]any) any
}

// Literal is a constant value expression
type Literal struct {
	Value any
}

func (l *Literal) Eval(map[string]any) any { return l.Value }

// FieldRef reads a dotted path from the entity under evaluation
type FieldRef struct {
	Path string
}

func (f *FieldRef) Eval(fields map[string]any) any { return resolvePath(fields, f.Path) }

// Binary applies an arithmetic operator to two value expressions. If either
// operand is a number both are coerced to float64 (nil becomes 0, strings
// are parsed). Adding two non-numbers concatenates their string forms;
// other operators on non-numeric pairs yield nil.
type Binary struct {
	Left  ValueExpr
	Op    string
	Right ValueExpr
}

func (b *Binary) Eval(fields map[string]any) any {
	lv := b.Left.Eval(fields)
	rv := b.Right.Eval(fields)
	if isNumber(lv) || isNumber(rv) {
		dl := cast.ToFloat64(lv)
		dr := cast.ToFloat64(rv)
		switch b.Op {
		case "+":
			return dl + dr
		case "-":
			return dl - dr
		case "*":
			return dl * dr
		case "/":
			return dl / dr
		}
		return nil
	}
	if b.Op == "+" {
		return cast.ToString(lv) + cast.ToString(rv)
	}
	return nil
}

type andExpr struct {
	left, right Filter
}

func (a *andExpr) Evaluate(ix *IndexManager, src Source) map[string]struct{} {
	result := a.left.Evaluate(ix, src)
	other := a.right.Evaluate(ix, src)
	for id := range result {
		if _, ok := other[id]; !ok {
			delete(result, id)
		}
	}
	return result
}

type orExpr struct {
	left, right Filter
}

func (o *orExpr) Evaluate(ix *IndexManager, src Source) map[string]struct{} {
	result := o.left.Evaluate(ix, src)
	collect(result, o.right.Evaluate(ix, src))
	return result
}

type notExpr struct {
	inner Filter
}

func (n *notExpr) Evaluate(ix *IndexManager, src Source) map[string]struct{} {
	result := allIDSet(src)
	for id := range n.inner.Evaluate(ix, src) {
		delete(result, id)
	}
	return result
}

// noneExpr matches nothing; it is what an empty json filter desugars to
type noneExpr struct{}

func (noneExpr) Evaluate(*IndexManager, Source) map[string]struct{} {
	return map[string]struct{}{}
}

// compareExpr is a single comparison of a dotted field path against a value
// expression. When the right-hand side is a pure literal of an
// index-capable kind the comparison delegates to the index manager;
// otherwise it scans every live entity and applies the comparison rules.
type compareExpr struct {
	path  string
	op    string
	value ValueExpr
}

func (c *compareExpr) Evaluate(ix *IndexManager, src Source) map[string]struct{} {
	if lit, ok := c.value.(*Literal); ok {
		if result, ok := c.evaluateIndexed(ix, src, lit.Value); ok {
			return result
		}
	}
	result := map[string]struct{}{}
	for _, e := range src.FindAll() {
		left := e.Get(c.path)
		right := c.value.Eval(e.Fields)
		if compareValues(left, c.op, right) {
			result[e.ID] = struct{}{}
		}
	}
	return result
}

func (c *compareExpr) evaluateIndexed(ix *IndexManager, src Source, value any) (map[string]struct{}, bool) {
	switch c.op {
	case "contains":
		if needle, ok := value.(string); ok {
			return ix.SearchContains(c.path, needle), true
		}
		return nil, false
	case "like":
		if pattern, ok := value.(string); ok {
			return ix.SearchLike(c.path, pattern), true
		}
		return nil, false
	}
	if _, ok := normalizeKey(value); !ok {
		return nil, false
	}
	switch c.op {
	case "==", "=":
		return ix.SearchEquals(c.path, value), true
	case "!=":
		result := allIDSet(src)
		for id := range ix.SearchEquals(c.path, value) {
			delete(result, id)
		}
		return result, true
	case ">":
		return ix.SearchGreaterThan(c.path, value), true
	case ">=":
		return ix.SearchGreaterOrEquals(c.path, value), true
	case "<":
		return ix.SearchLessThan(c.path, value), true
	case "<=":
		return ix.SearchLessOrEquals(c.path, value), true
	}
	return nil, false
}

func allIDSet(src Source) map[string]struct{} {
	return lo.SliceToMap(src.AllIDs(), func(id string) (string, struct{}) {
		return id, struct{}{}
	})
}
