// Package query builds queries and filters for the remote data service.
//
// A Query is a mutable accumulator: every method mutates the receiver and
// returns it so calls can be chained. Nothing is validated client side; the
// service rejects malformed queries at execution time.
package query

import (
	"fmt"
	"net/url"
	"strings"
)

// Query is one query against one table.
type Query struct {
	SelectClause             SelectClause      `json:"selectClause"`
	WhereClause              Predicate         `json:"whereClause,omitempty"`
	IsDistinct               bool              `json:"isDistinct"`
	AggregateClauses         []AggregateClause `json:"aggregateClauses"`
	GroupByClauses           []GroupByClause   `json:"groupByClauses"`
	OrderByClauses           []OrderByClause   `json:"orderByClauses"`
	LimitClause              *LimitClause      `json:"limitClause,omitempty"`
	OffsetClause             *OffsetClause     `json:"offsetClause,omitempty"`
	AggregateArraysByElement bool              `json:"aggregateArraysByElement"`
	Transforms               []Transform       `json:"transforms,omitempty"`

	opts filterOptions
}

// New returns an empty query selecting all fields.
func New() *Query {
	return &Query{
		SelectClause:     SelectClause{FieldClauses: []FieldClause{}},
		AggregateClauses: []AggregateClause{},
		GroupByClauses:   []GroupByClause{},
		OrderByClauses:   []OrderByClause{},
	}
}

// SelectFrom sets the target table. The last call wins.
func (q *Query) SelectFrom(databaseName, tableName string) *Query {
	q.SelectClause.DatabaseName = databaseName
	q.SelectClause.TableName = tableName
	return q
}

// SelectField appends one field to the selection.
func (q *Query) SelectField(databaseName, tableName, fieldName string) *Query {
	q.SelectClause.FieldClauses = append(q.SelectClause.FieldClauses, FieldClause{
		DatabaseName: databaseName,
		TableName:    tableName,
		FieldName:    fieldName,
	})
	return q
}

// SelectAllFields clears the field list.
func (q *Query) SelectAllFields() *Query {
	q.SelectClause.FieldClauses = []FieldClause{}
	return q
}

// WithFields replaces the field list with fields of the current target table.
func (q *Query) WithFields(fields ...string) *Query {
	q.SelectClause.FieldClauses = make([]FieldClause, 0, len(fields))
	for _, f := range fields {
		q.SelectField(q.SelectClause.DatabaseName, q.SelectClause.TableName, f)
	}
	return q
}

// Where replaces the predicate.
func (q *Query) Where(p Predicate) *Query {
	q.WhereClause = p
	return q
}

// WhereField replaces the predicate with a single comparison.
func (q *Query) WhereField(lhs, operator string, rhs any) *Query {
	return q.Where(Where(lhs, operator, rhs))
}

// GroupBy replaces all group-by clauses. A single logical grouping may span
// several fields and functions, so clauses from earlier calls are dropped.
func (q *Query) GroupBy(targets ...GroupByTarget) *Query {
	q.GroupByClauses = make([]GroupByClause, 0, len(targets))
	for _, t := range targets {
		q.GroupByClauses = append(q.GroupByClauses, t.groupBy())
	}
	return q
}

// Aggregate appends an aggregate. An empty name defaults to "op(field)".
func (q *Query) Aggregate(operation, field, name string) *Query {
	if name == "" {
		name = DefaultAggregateName(operation, field)
	}
	q.AggregateClauses = append(q.AggregateClauses, AggregateClause{
		Operation: operation,
		Field:     field,
		Name:      name,
	})
	return q
}

// Distinct marks the query as returning distinct records.
func (q *Query) Distinct() *Query {
	q.IsDistinct = true
	return q
}

// Limit sets the limit clause.
func (q *Query) Limit(n int) *Query {
	q.LimitClause = &LimitClause{Limit: n}
	return q
}

// Offset sets the offset clause.
func (q *Query) Offset(n int) *Query {
	q.OffsetClause = &OffsetClause{Offset: n}
	return q
}

// SortKey is one field and direction passed to OrderBy.
type SortKey struct {
	Field string
	Order SortOrder
}

func Asc(field string) SortKey  { return SortKey{Field: field, Order: Ascending} }
func Desc(field string) SortKey { return SortKey{Field: field, Order: Descending} }

// OrderBy replaces all order-by clauses. Clauses are bound to the current
// target table.
func (q *Query) OrderBy(keys ...SortKey) *Query {
	q.OrderByClauses = make([]OrderByClause, 0, len(keys))
	for _, k := range keys {
		q.OrderByClauses = append(q.OrderByClauses, OrderByClause{
			Database: q.SelectClause.DatabaseName,
			Table:    q.SelectClause.TableName,
			Field:    k.Field,
			Order:    k.Order,
		})
	}
	return q
}

// OrderByPairs is OrderBy over a flat list of alternating field and order
// values, e.g. ("a", Ascending, "b", Descending). A trailing field without an
// order is ignored.
func (q *Query) OrderByPairs(pairs ...any) *Query {
	keys := make([]SortKey, 0, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		keys = append(keys, SortKey{Field: fieldName(pairs[i-1]), Order: sortOrder(pairs[i])})
	}
	return q.OrderBy(keys...)
}

func fieldName(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func sortOrder(v any) SortOrder {
	switch o := v.(type) {
	case SortOrder:
		return o
	case int:
		return SortOrder(o)
	case int64:
		return SortOrder(o)
	case float64:
		return SortOrder(o)
	}
	return 0
}

// Transform replaces the list of server-side result transforms.
func (q *Query) Transform(transforms ...Transform) *Query {
	q.Transforms = append([]Transform(nil), transforms...)
	return q
}

// IgnoreFilters excludes filters from this query. Without ids every filter is
// ignored, otherwise only the named ones.
func (q *Query) IgnoreFilters(filterIDs ...string) *Query {
	q.opts.ignore(filterIDs)
	return q
}

// SelectionOnly restricts results to selected records.
func (q *Query) SelectionOnly() *Query {
	q.opts.selectionOnly = true
	return q
}

// EnableAggregateArraysByElement aggregates array fields per element.
func (q *Query) EnableAggregateArraysByElement() *Query {
	q.AggregateArraysByElement = true
	return q
}

func (q *Query) WithinDistance(locationField string, center LatLon, distance float64, unit string) *Query {
	return q.Where(WithinDistance(locationField, center, distance, unit))
}

func (q *Query) GeoIntersection(locationField string, points []LatLon, geometryType string) *Query {
	return q.Where(GeoIntersection(locationField, points, geometryType))
}

func (q *Query) GeoWithin(locationField string, points []LatLon) *Query {
	return q.Where(GeoWithin(locationField, points))
}

// Params returns the filter options that travel in the URL query string.
func (q *Query) Params() url.Values { return q.opts.values() }

// String renders the query for logs. It is not a wire format.
func (q *Query) String() string {
	var parts []string

	sel := "SELECT"
	if q.IsDistinct {
		sel += " DISTINCT"
	}
	if len(q.SelectClause.FieldClauses) == 0 {
		sel += " *"
	} else {
		fields := make([]string, len(q.SelectClause.FieldClauses))
		for i, f := range q.SelectClause.FieldClauses {
			fields[i] = f.String()
		}
		sel += " " + strings.Join(fields, ", ")
	}
	parts = append(parts, sel)
	parts = append(parts, "FROM "+q.SelectClause.DatabaseName+"."+q.SelectClause.TableName)

	if q.WhereClause != nil {
		parts = append(parts, "WHERE "+q.WhereClause.String())
	}
	if len(q.GroupByClauses) > 0 {
		groups := make([]string, len(q.GroupByClauses))
		for i, g := range q.GroupByClauses {
			if g.Kind == GroupByFunction {
				groups[i] = g.Operation + "(" + g.Field + ")"
			} else {
				groups[i] = g.Field
			}
		}
		parts = append(parts, "GROUP_BY "+strings.Join(groups, ", "))
	}
	if len(q.AggregateClauses) > 0 {
		aggs := make([]string, len(q.AggregateClauses))
		for i, a := range q.AggregateClauses {
			aggs[i] = a.Operation + " ON " + a.Field + " (NAMED " + a.Name + ")"
		}
		parts = append(parts, "AGGREGATE "+strings.Join(aggs, ", "))
	}
	if len(q.OrderByClauses) > 0 {
		orders := make([]string, len(q.OrderByClauses))
		for i, o := range q.OrderByClauses {
			orders[i] = fmt.Sprintf("%s (%d)", o.Field, o.Order)
		}
		parts = append(parts, "ORDER_BY "+strings.Join(orders, ", "))
	}
	if q.LimitClause != nil {
		parts = append(parts, fmt.Sprintf("LIMIT %d", q.LimitClause.Limit))
	}
	if q.OffsetClause != nil {
		parts = append(parts, fmt.Sprintf("OFFSET %d", q.OffsetClause.Offset))
	}
	return strings.Join(parts, " ")
}
