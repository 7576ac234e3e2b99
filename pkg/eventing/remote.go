package eventing

import (
	"context"
	"sync"

	"github.com/tinytelemetry/dashwire/pkg/query"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

const (
	filterService    = "filterservice"
	selectionService = "selectionservice"
)

// filterKey is the request body of add and replace calls.
type filterKey struct {
	ID     string        `json:"id"`
	Filter *query.Filter `json:"filter"`
}

// FilterPair is one item of a bulk add or replace.
type FilterPair struct {
	ID     string
	Filter *query.Filter
}

// BulkSuccessFunc receives the accumulated per-item results of a bulk
// operation, in completion order.
type BulkSuccessFunc func(results []any)

// BulkErrorFunc is called when no item of a bulk operation succeeded. errs
// holds the per-item failures and is empty for an empty input.
type BulkErrorFunc func(errs []*transport.Error)

// channelCallback runs success and then publishes the result on channel.
func (m *Messenger) channelCallback(channel string, success transport.SuccessFunc) transport.SuccessFunc {
	return func(result any) {
		if success != nil {
			success(result)
		}
		if result == nil {
			result = map[string]any{}
		}
		m.Publish(channel, result)
	}
}

func (m *Messenger) postKey(ctx context.Context, svc, name string, key filterKey, opts transport.Options) (*transport.Request, error) {
	if m.client == nil {
		return nil, ErrNoService
	}
	return m.client.PostJSON(ctx, m.urls.URL(svc, name, nil), key, opts), nil
}

func (m *Messenger) postID(ctx context.Context, svc, name, id string, opts transport.Options) (*transport.Request, error) {
	if m.client == nil {
		return nil, ErrNoService
	}
	opts.Data = id
	opts.ContentType = "text/plain"
	opts.ResponseType = transport.ResponseJSON
	return m.client.Post(ctx, m.urls.URL(svc, name, nil), opts), nil
}

func (m *Messenger) postEmpty(ctx context.Context, svc, name string, opts transport.Options) (*transport.Request, error) {
	if m.client == nil {
		return nil, ErrNoService
	}
	opts.ResponseType = transport.ResponseJSON
	return m.client.Post(ctx, m.urls.URL(svc, name, nil), opts), nil
}

// AddFilter registers filter under id and, on success, publishes the
// response on FiltersChanged.
func (m *Messenger) AddFilter(ctx context.Context, id string, filter *query.Filter, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postKey(ctx, filterService, "addfilter", filterKey{id, filter}, transport.Options{
		Success: m.channelCallback(FiltersChanged, success),
		Error:   failure,
	})
}

func (m *Messenger) RemoveFilter(ctx context.Context, id string, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postID(ctx, filterService, "removefilter", id, transport.Options{
		Success: m.channelCallback(FiltersChanged, success),
		Error:   failure,
	})
}

func (m *Messenger) ReplaceFilter(ctx context.Context, id string, filter *query.Filter, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postKey(ctx, filterService, "replacefilter", filterKey{id, filter}, transport.Options{
		Success: m.channelCallback(FiltersChanged, success),
		Error:   failure,
	})
}

func (m *Messenger) ClearFilters(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postEmpty(ctx, filterService, "clearfilters", transport.Options{
		Success: m.channelCallback(FiltersChanged, success),
		Error:   failure,
	})
}

// ClearFiltersSilently clears all filters without publishing FiltersChanged.
func (m *Messenger) ClearFiltersSilently(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postEmpty(ctx, filterService, "clearfilters", transport.Options{
		Success: success,
		Error:   failure,
	})
}

func (m *Messenger) AddSelection(ctx context.Context, id string, filter *query.Filter, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postKey(ctx, selectionService, "addselection", filterKey{id, filter}, transport.Options{
		Success: m.channelCallback(SelectionChanged, success),
		Error:   failure,
	})
}

func (m *Messenger) RemoveSelection(ctx context.Context, id string, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postID(ctx, selectionService, "removeselection", id, transport.Options{
		Success: m.channelCallback(SelectionChanged, success),
		Error:   failure,
	})
}

func (m *Messenger) ReplaceSelection(ctx context.Context, id string, filter *query.Filter, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postKey(ctx, selectionService, "replaceselection", filterKey{id, filter}, transport.Options{
		Success: m.channelCallback(SelectionChanged, success),
		Error:   failure,
	})
}

func (m *Messenger) ClearSelection(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	return m.postEmpty(ctx, selectionService, "clearselection", transport.Options{
		Success: m.channelCallback(SelectionChanged, success),
		Error:   failure,
	})
}

// bulk tracks completion of n concurrent requests.
type bulk struct {
	mu        sync.Mutex
	remaining int
	successes []any
	failures  []*transport.Error
	done      func(successes []any, failures []*transport.Error)
}

func newBulk(n int, done func([]any, []*transport.Error)) *bulk {
	return &bulk{remaining: n, successes: []any{}, done: done}
}

func (b *bulk) succeeded(v any) { b.complete(func() { b.successes = append(b.successes, v) }) }

func (b *bulk) failed(e *transport.Error) { b.complete(func() { b.failures = append(b.failures, e) }) }

func (b *bulk) complete(record func()) {
	b.mu.Lock()
	record()
	b.remaining--
	last := b.remaining == 0
	b.mu.Unlock()
	if last {
		b.done(b.successes, b.failures)
	}
}

// finish resolves a bulk operation on channel: any success publishes the
// accumulated results, zero successes reports failure.
func (m *Messenger) finish(channel string, success BulkSuccessFunc, failure BulkErrorFunc) func([]any, []*transport.Error) {
	return func(results []any, errs []*transport.Error) {
		if len(results) == 0 {
			if failure != nil {
				failure(errs)
			}
			return
		}
		if success != nil {
			success(results)
		}
		m.Publish(channel, results)
	}
}

func field(result any, name string) any {
	if obj, ok := result.(map[string]any); ok {
		return obj[name]
	}
	return nil
}

// AddFilters adds every pair concurrently. Once all requests have completed
// success receives the added filters if at least one succeeded and
// FiltersChanged is published once; otherwise failure is called once.
func (m *Messenger) AddFilters(ctx context.Context, pairs []FilterPair, success BulkSuccessFunc, failure BulkErrorFunc) ([]*transport.Request, error) {
	if m.client == nil {
		return nil, ErrNoService
	}
	if len(pairs) == 0 {
		if failure != nil {
			failure(nil)
		}
		return nil, nil
	}
	b := newBulk(len(pairs), m.finish(FiltersChanged, success, failure))
	reqs := make([]*transport.Request, 0, len(pairs))
	for _, p := range pairs {
		req, _ := m.postKey(ctx, filterService, "addfilter", filterKey{p.ID, p.Filter}, transport.Options{
			Success: func(result any) { b.succeeded(field(result, "addedFilter")) },
			Error:   b.failed,
		})
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// RemoveFilters is the bulk form of RemoveFilter. Results are the removed
// filters.
func (m *Messenger) RemoveFilters(ctx context.Context, ids []string, success BulkSuccessFunc, failure BulkErrorFunc) ([]*transport.Request, error) {
	if m.client == nil {
		return nil, ErrNoService
	}
	if len(ids) == 0 {
		if failure != nil {
			failure(nil)
		}
		return nil, nil
	}
	b := newBulk(len(ids), m.finish(FiltersChanged, success, failure))
	reqs := make([]*transport.Request, 0, len(ids))
	for _, id := range ids {
		req, _ := m.postID(ctx, filterService, "removefilter", id, transport.Options{
			Success: func(result any) { b.succeeded(field(result, "removedFilter")) },
			Error:   b.failed,
		})
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// ReplaceFilters is the bulk form of ReplaceFilter. Each result is a map with
// "added" and "removed" entries.
func (m *Messenger) ReplaceFilters(ctx context.Context, pairs []FilterPair, success BulkSuccessFunc, failure BulkErrorFunc) ([]*transport.Request, error) {
	if m.client == nil {
		return nil, ErrNoService
	}
	if len(pairs) == 0 {
		if failure != nil {
			failure(nil)
		}
		return nil, nil
	}
	b := newBulk(len(pairs), m.finish(FiltersChanged, success, failure))
	reqs := make([]*transport.Request, 0, len(pairs))
	for _, p := range pairs {
		req, _ := m.postKey(ctx, filterService, "replacefilter", filterKey{p.ID, p.Filter}, transport.Options{
			Success: func(result any) {
				b.succeeded(map[string]any{
					"added":   field(result, "addedFilter"),
					"removed": field(result, "removedFilter"),
				})
			},
			Error: b.failed,
		})
		reqs = append(reqs, req)
	}
	return reqs, nil
}
