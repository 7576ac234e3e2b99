package connection

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

const stateService = "stateservice"

// StateRef identifies a saved state either by name or by its dashboard and
// filter state ids. Name takes precedence.
type StateRef struct {
	Name             string
	DashboardStateID string
	FilterStateID    string
}

func (r StateRef) values() url.Values {
	v := url.Values{}
	if r.Name != "" {
		v.Set("stateName", r.Name)
		return v
	}
	if r.DashboardStateID != "" {
		v.Set("dashboardStateId", r.DashboardStateID)
	}
	if r.FilterStateID != "" {
		v.Set("filterStateId", r.FilterStateID)
	}
	return v
}

// SaveState stores state, typically {"dashboard": ..., "dataset": ...}. A
// non-empty name is sent as the stateName parameter.
func (c *Connection) SaveState(ctx context.Context, name string, state any, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	var params url.Values
	if name != "" {
		params = url.Values{"stateName": {name}}
	}
	return c.postJSON(ctx, c.urls.URL(stateService, "savestate", params), state, success, failure)
}

func (c *Connection) LoadState(ctx context.Context, ref StateRef, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.get(ctx, c.urls.URL(stateService, "loadstate", ref.values()), success, failure)
}

func (c *Connection) DeleteState(ctx context.Context, name string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	u := c.urls.URL(stateService, service.Path("deletestate", name), nil)
	return c.client.Delete(ctx, u, jsonOpts(success, failure))
}

// ListStates pages through saved states.
func (c *Connection) ListStates(ctx context.Context, limit, offset int, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	params := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	return c.get(ctx, c.urls.URL(stateService, "liststates", params), success, failure)
}

func (c *Connection) AllStateNames(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.get(ctx, c.urls.URL(stateService, "allstatesnames", nil), success, failure)
}

// StateName looks up the name of the state saved under the given ids.
func (c *Connection) StateName(ctx context.Context, dashboardStateID, filterStateID string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	params := url.Values{
		"dashboardStateId": {dashboardStateID},
		"filterStateId":    {filterStateID},
	}
	return c.get(ctx, c.urls.URL(stateService, "statename", params), success, failure)
}
