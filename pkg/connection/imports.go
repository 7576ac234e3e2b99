package connection

import (
	"context"
	"net/url"

	"github.com/tinytelemetry/dashwire/pkg/query"
	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

const importService = "importservice"

// ExecuteExport requests an export of e. fileType selects the export
// endpoint, e.g. "csv".
func (c *Connection) ExecuteExport(ctx context.Context, e *query.ExportQuery, fileType string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.postJSON(ctx, c.urls.URL("exportservice", url.PathEscape(fileType), nil), e, success, failure)
}

func (c *Connection) ExecuteImport(ctx context.Context, q *query.ImportQuery, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.postJSON(ctx, c.urls.URL(importService, "", nil), q, success, failure)
}

// ExecuteMutateByID updates the fields of one record.
func (c *Connection) ExecuteMutateByID(ctx context.Context, q *query.MutateQuery, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.postJSON(ctx, c.urls.URL("mutateservice", "byid", nil), q, success, failure)
}

// UploadFile sends raw file contents for import.
func (c *Connection) UploadFile(ctx context.Context, data []byte, t Target, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(t)
	u := c.urls.URL(importService, service.Path("upload", host, dbType), nil)
	return c.client.PostBinary(ctx, u, data, transport.Options{Success: success, Error: failure})
}

// CheckTypeGuesses polls the type-guessing job jobID.
func (c *Connection) CheckTypeGuesses(ctx context.Context, jobID string, t Target, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(t)
	return c.get(ctx, c.urls.URL(importService, service.Path("guesses", host, dbType, jobID), nil), success, failure)
}

// LoadFileIntoDB starts converting the uploaded records of jobID using the
// field types and date format in data.
func (c *Connection) LoadFileIntoDB(ctx context.Context, data any, jobID string, t Target, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(t)
	return c.postJSON(ctx, c.urls.URL(importService, service.Path("convert", host, dbType, jobID), nil), data, success, failure)
}

func (c *Connection) CheckImportProgress(ctx context.Context, jobID string, t Target, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(t)
	return c.get(ctx, c.urls.URL(importService, service.Path("progress", host, dbType, jobID), nil), success, failure)
}

// RemoveDataset drops the dataset named data owned by user.
func (c *Connection) RemoveDataset(ctx context.Context, user, data string, t Target, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	host, dbType := c.target(t)
	params := url.Values{"user": {user}, "data": {data}}
	return c.get(ctx, c.urls.URL(importService, service.Path("drop", host, dbType), params), success, failure)
}
