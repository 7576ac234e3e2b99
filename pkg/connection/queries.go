package connection

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tinytelemetry/dashwire/pkg/query"
	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

const queryService = "queryservice"

// ExecuteQuery runs q. Filter options set on q travel as query-string
// parameters.
func (c *Connection) ExecuteQuery(ctx context.Context, q *query.Query, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	u := c.urls.URL(queryService, service.Path("query", host, dbType), q.Params())
	return c.postJSON(ctx, u, q, success, failure)
}

// ExecuteQueryGroup runs every query of g in one request.
func (c *Connection) ExecuteQueryGroup(ctx context.Context, g *query.QueryGroup, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	u := c.urls.URL(queryService, service.Path("querygroup", host, dbType), g.Params())
	return c.postJSON(ctx, u, g, success, failure)
}

// ExecuteArrayCountQuery returns sorted key/count pairs of an array field. A
// zero limit leaves the server default; a nil where applies no predicate.
func (c *Connection) ExecuteArrayCountQuery(ctx context.Context, databaseName, tableName, fieldName string, limit int, where query.Predicate, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	var params url.Values
	if limit > 0 {
		params = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	u := c.urls.URL(queryService+"/arraycounts", service.Path(url.PathEscape(host), dbType, databaseName, tableName, fieldName), params)
	return c.postJSON(ctx, u, where, success, failure)
}

// DatabaseNames lists the databases of the connected host.
func (c *Connection) DatabaseNames(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	return c.get(ctx, c.urls.URL(queryService, service.Path("databasenames", host, dbType), nil), success, failure)
}

func (c *Connection) TableNames(ctx context.Context, databaseName string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	return c.get(ctx, c.urls.URL(queryService, service.Path("tablenames", host, dbType, databaseName), nil), success, failure)
}

func (c *Connection) FieldNames(ctx context.Context, databaseName, tableName string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	return c.get(ctx, c.urls.URL(queryService, service.Path("fields", host, dbType, databaseName, tableName), nil), success, failure)
}

// TableNamesAndFieldNames maps every table of databaseName to its fields.
func (c *Connection) TableNamesAndFieldNames(ctx context.Context, databaseName string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	return c.get(ctx, c.urls.URL(queryService, service.Path("tablesandfields", host, dbType, databaseName), nil), success, failure)
}

func (c *Connection) FieldTypes(ctx context.Context, databaseName, tableName string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	return c.get(ctx, c.urls.URL(queryService, service.Path("fields/types", host, dbType, databaseName, tableName), nil), success, failure)
}

// FieldTypesForGroup fetches field types for several tables, keyed by
// database name.
func (c *Connection) FieldTypesForGroup(ctx context.Context, databaseToTables map[string][]string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(Target{})
	return c.postJSON(ctx, c.urls.URL(queryService, service.Path("fields/types", host, dbType), nil), databaseToTables, success, failure)
}

// FilterState returns the filters currently registered for a table.
func (c *Connection) FilterState(ctx context.Context, databaseName, tableName string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.get(ctx, c.urls.URL("filterservice", service.Path("filters", databaseName, tableName), nil), success, failure)
}

func (c *Connection) TranslationCache(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.get(ctx, c.urls.URL("translationservice", "getcache", nil), success, failure)
}

func (c *Connection) SetTranslationCache(ctx context.Context, cache any, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.postJSON(ctx, c.urls.URL("translationservice", "setcache", nil), cache, success, failure)
}
