package filter

import (
	"fmt"
	"strings"

	"github.com/hupe1980/tilecache/model"
)

// Filter selects records.
// Implementations must be safe for concurrent use.
type Filter interface {
	Evaluate(r model.Record) bool
}

// Operator is a comparison operator for property filters.
type Operator uint8

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterEqual
	OpLessThan
	OpLessEqual
	OpIn
	OpContains
)

func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessEqual:
		return "<="
	case OpIn:
		return "in"
	case OpContains:
		return "contains"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

type includeFilter struct{}

func (includeFilter) Evaluate(model.Record) bool { return true }
func (includeFilter) String() string             { return "INCLUDE" }

type excludeFilter struct{}

func (excludeFilter) Evaluate(model.Record) bool { return false }
func (excludeFilter) String() string             { return "EXCLUDE" }

var (
	// Include matches every record.
	Include Filter = includeFilter{}
	// Exclude matches nothing.
	Exclude Filter = excludeFilter{}
)

// BBoxFilter matches records whose envelope intersects Envelope.
type BBoxFilter struct {
	Envelope model.Envelope
}

// BBox returns a bounding-box filter.
func BBox(env model.Envelope) *BBoxFilter {
	return &BBoxFilter{Envelope: env}
}

func (f *BBoxFilter) Evaluate(r model.Record) bool {
	return f.Envelope.Intersects(r.Envelope)
}

func (f *BBoxFilter) String() string {
	return "BBOX(" + f.Envelope.String() + ")"
}

// AndFilter matches records accepted by all children.
type AndFilter struct {
	Filters []Filter
}

// And combines filters conjunctively.
func And(filters ...Filter) *AndFilter {
	return &AndFilter{Filters: filters}
}

func (f *AndFilter) Evaluate(r model.Record) bool {
	for _, c := range f.Filters {
		if !c.Evaluate(r) {
			return false
		}
	}
	return true
}

// OrFilter matches records accepted by any child.
type OrFilter struct {
	Filters []Filter
}

// Or combines filters disjunctively.
func Or(filters ...Filter) *OrFilter {
	return &OrFilter{Filters: filters}
}

func (f *OrFilter) Evaluate(r model.Record) bool {
	for _, c := range f.Filters {
		if c.Evaluate(r) {
			return true
		}
	}
	return false
}

// NotFilter negates its child.
type NotFilter struct {
	Filter Filter
}

// Not negates f.
func Not(f Filter) *NotFilter {
	return &NotFilter{Filter: f}
}

func (f *NotFilter) Evaluate(r model.Record) bool {
	return !f.Filter.Evaluate(r)
}

// PropertyFilter compares a record attribute against a constant.
type PropertyFilter struct {
	Key      string
	Operator Operator
	Value    any
}

// Compare returns a property filter.
func Compare(key string, op Operator, value any) *PropertyFilter {
	return &PropertyFilter{Key: key, Operator: op, Value: value}
}

// Eq matches key == value.
func Eq(key string, value any) *PropertyFilter { return Compare(key, OpEqual, value) }

// Neq matches key != value.
func Neq(key string, value any) *PropertyFilter { return Compare(key, OpNotEqual, value) }

// Gt matches key > value.
func Gt(key string, value any) *PropertyFilter { return Compare(key, OpGreaterThan, value) }

// Gte matches key >= value.
func Gte(key string, value any) *PropertyFilter { return Compare(key, OpGreaterEqual, value) }

// Lt matches key < value.
func Lt(key string, value any) *PropertyFilter { return Compare(key, OpLessThan, value) }

// Lte matches key <= value.
func Lte(key string, value any) *PropertyFilter { return Compare(key, OpLessEqual, value) }

// In matches when the attribute equals one of values.
func In(key string, values ...any) *PropertyFilter { return Compare(key, OpIn, values) }

// Contains matches string attributes containing the substring.
func Contains(key, substr string) *PropertyFilter { return Compare(key, OpContains, substr) }

func (f *PropertyFilter) Evaluate(r model.Record) bool {
	value, exists := r.Attributes[f.Key]
	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return equalValues(value, f.Value)
	case OpNotEqual:
		return !equalValues(value, f.Value)
	case OpGreaterThan:
		c, ok := CompareValues(value, f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := CompareValues(value, f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := CompareValues(value, f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := CompareValues(value, f.Value)
		return ok && c <= 0
	case OpIn:
		items, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if equalValues(value, item) {
				return true
			}
		}
		return false
	case OpContains:
		s, ok1 := value.(string)
		sub, ok2 := f.Value.(string)
		return ok1 && ok2 && strings.Contains(s, sub)
	default:
		return false
	}
}

func (f *PropertyFilter) String() string {
	return fmt.Sprintf("%s %s %v", f.Key, f.Operator, f.Value)
}

// FuncFilter adapts a function to Filter. It never decomposes.
type FuncFilter func(r model.Record) bool

// Func wraps fn as a filter.
func Func(fn func(r model.Record) bool) FuncFilter { return FuncFilter(fn) }

func (f FuncFilter) Evaluate(r model.Record) bool { return f(r) }
