package query

// FieldPrettyName maps a field to its column header in an export.
type FieldPrettyName struct {
	Query  string `json:"query"`
	Name   string `json:"name"`
	Pretty string `json:"pretty"`
}

// ExportQuery requests a file export of a query's results.
type ExportQuery struct {
	HostName                 string            `json:"hostName"`
	DataStoreType            string            `json:"dataStoreType"`
	FileName                 string            `json:"fileName"`
	Query                    *Query            `json:"query"`
	FieldNamePrettyNamePairs []FieldPrettyName `json:"fieldNamePrettyNamePairs"`
	FileType                 string            `json:"fileType,omitempty"`
}

// NewExportQuery starts an export with an empty query.
func NewExportQuery(hostName, dataStoreType, fileName string, pairs []FieldPrettyName) *ExportQuery {
	return &ExportQuery{
		HostName:                 hostName,
		DataStoreType:            dataStoreType,
		FileName:                 fileName,
		Query:                    New(),
		FieldNamePrettyNamePairs: pairs,
	}
}

// ImportQuery loads data from a source into a table.
type ImportQuery struct {
	HostName      string `json:"hostName"`
	DataStoreType string `json:"dataStoreType"`
	Database      string `json:"database"`
	Table         string `json:"table"`
	Source        string `json:"source"`
	Params        any    `json:"params,omitempty"`
}

// WithParams sets source-specific import parameters.
func (q *ImportQuery) WithParams(params any) *ImportQuery {
	q.Params = params
	return q
}

// MutateQuery updates the fields of one record identified by id.
type MutateQuery struct {
	DatastoreHost    string         `json:"datastoreHost"`
	DatastoreType    string         `json:"datastoreType"`
	DatabaseName     string         `json:"databaseName"`
	TableName        string         `json:"tableName"`
	IDFieldName      string         `json:"idFieldName"`
	DataID           string         `json:"dataId"`
	FieldsWithValues map[string]any `json:"fieldsWithValues"`
}

// Upload describes a file upload target.
type Upload struct {
	Database string `json:"database"`
	Table    string `json:"table"`
	Source   string `json:"source"`
	Params   any    `json:"params,omitempty"`
}
