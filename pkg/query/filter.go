package query

// Filter is the selection criteria for one table, used when registering
// filters and selections with the service.
type Filter struct {
	FilterName   string    `json:"filterName,omitempty"`
	DatabaseName string    `json:"databaseName"`
	TableName    string    `json:"tableName"`
	WhereClause  Predicate `json:"whereClause"`
}

// NewFilter returns an empty filter.
func NewFilter() *Filter {
	return &Filter{}
}

// Name sets the display name of the filter.
func (f *Filter) Name(name string) *Filter {
	f.FilterName = name
	return f
}

// SelectFrom sets the target table.
func (f *Filter) SelectFrom(databaseName, tableName string) *Filter {
	f.DatabaseName = databaseName
	f.TableName = tableName
	return f
}

// Where replaces the predicate.
func (f *Filter) Where(p Predicate) *Filter {
	f.WhereClause = p
	return f
}

// WhereField replaces the predicate with a single comparison.
func (f *Filter) WhereField(lhs, operator string, rhs any) *Filter {
	return f.Where(Where(lhs, operator, rhs))
}

func (f *Filter) WithinDistance(locationField string, center LatLon, distance float64, unit string) *Filter {
	return f.Where(WithinDistance(locationField, center, distance, unit))
}

func (f *Filter) GeoIntersection(locationField string, points []LatLon, geometryType string) *Filter {
	return f.Where(GeoIntersection(locationField, points, geometryType))
}

func (f *Filter) GeoWithin(locationField string, points []LatLon) *Filter {
	return f.Where(GeoWithin(locationField, points))
}
