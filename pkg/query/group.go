package query

import "net/url"

// filterOptions are sent as query-string parameters rather than in the body.
type filterOptions struct {
	ignoreAll     bool
	ignoredIDs    []string
	selectionOnly bool
}

func (o *filterOptions) ignore(ids []string) {
	if len(ids) == 0 {
		o.ignoreAll = true
		return
	}
	o.ignoredIDs = append([]string(nil), ids...)
}

func (o filterOptions) values() url.Values {
	v := url.Values{}
	if o.ignoreAll {
		v.Set("ignoreFilters", "true")
	} else {
		for _, id := range o.ignoredIDs {
			v.Add("ignoredFilterIds", id)
		}
	}
	if o.selectionOnly {
		v.Set("selectionOnly", "true")
	}
	return v
}

// Transform names a server-side result transform and its parameters.
type Transform struct {
	TransformName string `json:"transformName"`
	Params        any    `json:"params,omitempty"`
}

// NewTransform returns a transform without parameters.
func NewTransform(name string) Transform {
	return Transform{TransformName: name}
}

// WithParams returns a copy of t carrying params.
func (t Transform) WithParams(params any) Transform {
	t.Params = params
	return t
}

// QueryGroup executes several queries in one request.
type QueryGroup struct {
	Queries []*Query `json:"queries"`

	opts filterOptions
}

// NewGroup returns an empty group.
func NewGroup() *QueryGroup {
	return &QueryGroup{Queries: []*Query{}}
}

func (g *QueryGroup) AddQuery(q *Query) *QueryGroup {
	g.Queries = append(g.Queries, q)
	return g
}

// IgnoreFilters behaves like Query.IgnoreFilters for the whole group.
func (g *QueryGroup) IgnoreFilters(filterIDs ...string) *QueryGroup {
	g.opts.ignore(filterIDs)
	return g
}

func (g *QueryGroup) SelectionOnly() *QueryGroup {
	g.opts.selectionOnly = true
	return g
}

func (g *QueryGroup) Params() url.Values { return g.opts.values() }
