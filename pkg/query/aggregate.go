package query

import "strings"

// Aggregation operations.
const (
	Count = "count"
	Sum   = "sum"
	Max   = "max"
	Min   = "min"
	Avg   = "avg"
)

// Date-part operations usable in a function group-by.
const (
	Month  = "month"
	Day    = "dayOfMonth"
	Year   = "year"
	Hour   = "hour"
	Minute = "minute"
	Second = "second"
)

// AggregateClause computes one aggregate over a field.
type AggregateClause struct {
	Operation string `json:"operation"`
	Field     string `json:"field"`
	Name      string `json:"name"`
}

// DefaultAggregateName is the output name used when none is supplied.
func DefaultAggregateName(operation, field string) string {
	return operation + "(" + field + ")"
}

// GroupByKind distinguishes field-based from function-based grouping.
type GroupByKind string

const (
	GroupBySingle   GroupByKind = "single"
	GroupByFunction GroupByKind = "function"
)

// GroupByClause is a tagged union. Single clauses use Field and PrettyField,
// function clauses use Operation, Field and Name.
type GroupByClause struct {
	Kind        GroupByKind
	Field       string
	PrettyField string
	Operation   string
	Name        string
}

// GroupByFieldClause groups by a field. Dots in the display name are rendered
// as arrows.
func GroupByFieldClause(field, prettyField string) GroupByClause {
	return GroupByClause{
		Kind:        GroupBySingle,
		Field:       field,
		PrettyField: strings.ReplaceAll(prettyField, ".", "->"),
	}
}

// GroupByFunctionClause groups by the result of a function such as Month.
func GroupByFunctionClause(operation, field, name string) GroupByClause {
	return GroupByClause{Kind: GroupByFunction, Operation: operation, Field: field, Name: name}
}

func (g GroupByClause) MarshalJSON() ([]byte, error) {
	if g.Kind == GroupByFunction {
		return marshalTyped(string(g.Kind), struct {
			Operation string `json:"operation"`
			Field     string `json:"field"`
			Name      string `json:"name"`
		}{g.Operation, g.Field, g.Name})
	}
	return marshalTyped(string(GroupBySingle), struct {
		Field       string `json:"field"`
		PrettyField string `json:"prettyField"`
	}{g.Field, g.PrettyField})
}

func (g GroupByClause) groupBy() GroupByClause { return g }

// GroupByTarget is anything GroupBy accepts: a Field, a Column or a
// GroupByClause.
type GroupByTarget interface {
	groupBy() GroupByClause
}

// Field groups by a field, using its own name for display.
type Field string

func (f Field) groupBy() GroupByClause { return GroupByFieldClause(string(f), string(f)) }

// Column groups by a field with a distinct display name.
type Column struct {
	ColumnName string
	PrettyName string
}

func (c Column) groupBy() GroupByClause { return GroupByFieldClause(c.ColumnName, c.PrettyName) }

// Fields converts plain names into group-by targets.
func Fields(names ...string) []GroupByTarget {
	out := make([]GroupByTarget, len(names))
	for i, n := range names {
		out[i] = Field(n)
	}
	return out
}
