package query

import (
	"fmt"
	"strings"
)

// Predicate is a where-clause tree node. Implementations are plain values
// that serialize to the JSON shape the query service expects.
type Predicate interface {
	fmt.Stringer
	// PredicateType is the serialized "type" discriminator.
	PredicateType() string
}

// WhereClause is a single comparison. The operator is forwarded verbatim.
type WhereClause struct {
	LHS      string `json:"lhs"`
	Operator string `json:"operator"`
	RHS      any    `json:"rhs"`
}

// Where builds a single comparison predicate.
func Where(lhs, operator string, rhs any) WhereClause {
	return WhereClause{LHS: lhs, Operator: operator, RHS: rhs}
}

func (w WhereClause) PredicateType() string { return "where" }

func (w WhereClause) String() string {
	return fmt.Sprintf("%s %s %v", w.LHS, w.Operator, w.RHS)
}

func (w WhereClause) MarshalJSON() ([]byte, error) {
	type plain WhereClause
	return marshalTyped(w.PredicateType(), plain(w))
}

// BooleanKind is the combinator of a CompoundWhereClause.
type BooleanKind string

const (
	KindAnd BooleanKind = "and"
	KindOr  BooleanKind = "or"
)

// CompoundWhereClause combines operands with AND or OR. Operands may themselves
// be compound, forming a tree.
type CompoundWhereClause struct {
	Kind     BooleanKind
	Operands []Predicate
}

// And combines the clauses with AND. And(a, b) and And(list...) are equivalent.
func And(clauses ...Predicate) CompoundWhereClause {
	return CompoundWhereClause{Kind: KindAnd, Operands: copyPredicates(clauses)}
}

// Or combines the clauses with OR.
func Or(clauses ...Predicate) CompoundWhereClause {
	return CompoundWhereClause{Kind: KindOr, Operands: copyPredicates(clauses)}
}

func (c CompoundWhereClause) PredicateType() string { return string(c.Kind) }

func (c CompoundWhereClause) String() string {
	parts := make([]string, len(c.Operands))
	for i, op := range c.Operands {
		parts[i] = op.String()
	}
	return strings.ToUpper(string(c.Kind)) + " (" + strings.Join(parts, ", ") + ")"
}

func (c CompoundWhereClause) MarshalJSON() ([]byte, error) {
	operands := c.Operands
	if operands == nil {
		operands = []Predicate{}
	}
	return marshalTyped(c.PredicateType(), struct {
		WhereClauses []Predicate `json:"whereClauses"`
	}{operands})
}

func copyPredicates(in []Predicate) []Predicate {
	out := make([]Predicate, len(in))
	copy(out, in)
	return out
}

// FieldClause is a fully qualified field reference.
type FieldClause struct {
	DatabaseName string `json:"databaseName"`
	TableName    string `json:"tableName"`
	FieldName    string `json:"fieldName"`
}

func (f FieldClause) String() string {
	return f.DatabaseName + "." + f.TableName + "." + f.FieldName
}

// SelectClause names the target table. No fields means all fields.
type SelectClause struct {
	DatabaseName string        `json:"databaseName"`
	TableName    string        `json:"tableName"`
	FieldClauses []FieldClause `json:"fieldClauses"`
}

// SortOrder is the direction of an OrderByClause.
type SortOrder int

const (
	Ascending  SortOrder = 1
	Descending SortOrder = -1
)

// OrderByClause sorts results by one field.
type OrderByClause struct {
	Database string    `json:"database"`
	Table    string    `json:"table"`
	Field    string    `json:"field"`
	Order    SortOrder `json:"order"`
}

// LimitClause caps the number of returned records.
type LimitClause struct {
	Limit int `json:"limit"`
}

// OffsetClause skips records.
type OffsetClause struct {
	Offset int `json:"offset"`
}
