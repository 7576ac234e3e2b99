package eventing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/dashwire/pkg/query"
	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeFilterService answers filter and selection calls. Ids starting with
// "bad" fail with 500.
type fakeFilterService struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeFilterService) record(c *gin.Context) {
	f.mu.Lock()
	f.calls = append(f.calls, c.FullPath())
	f.mu.Unlock()
}

func (f *fakeFilterService) handler() http.Handler {
	r := gin.New()
	keyed := func(resp func(key gin.H) gin.H) gin.HandlerFunc {
		return func(c *gin.Context) {
			f.record(c)
			var key gin.H
			if err := c.ShouldBindJSON(&key); err != nil {
				c.String(http.StatusBadRequest, err.Error())
				return
			}
			if id, _ := key["id"].(string); strings.HasPrefix(id, "bad") {
				c.String(http.StatusInternalServerError, "rejected")
				return
			}
			c.JSON(http.StatusOK, resp(key))
		}
	}
	byID := func(c *gin.Context) {
		f.record(c)
		body, _ := io.ReadAll(c.Request.Body)
		if c.ContentType() != "text/plain" {
			c.String(http.StatusUnsupportedMediaType, "want text/plain")
			return
		}
		id := string(body)
		if strings.HasPrefix(id, "bad") {
			c.String(http.StatusInternalServerError, "rejected")
			return
		}
		c.JSON(http.StatusOK, gin.H{"removedFilter": gin.H{"id": id}})
	}
	clearAll := func(c *gin.Context) {
		f.record(c)
		c.Status(http.StatusOK)
	}

	fs := r.Group("/neon/services/filterservice")
	fs.POST("/addfilter", keyed(func(k gin.H) gin.H { return gin.H{"addedFilter": k["filter"]} }))
	fs.POST("/replacefilter", keyed(func(k gin.H) gin.H {
		return gin.H{"addedFilter": k["filter"], "removedFilter": gin.H{"id": k["id"]}}
	}))
	fs.POST("/removefilter", byID)
	fs.POST("/clearfilters", clearAll)

	ss := r.Group("/neon/services/selectionservice")
	ss.POST("/addselection", keyed(func(k gin.H) gin.H { return gin.H{"addedFilter": k["filter"]} }))
	ss.POST("/replaceselection", keyed(func(k gin.H) gin.H { return gin.H{"addedFilter": k["filter"]} }))
	ss.POST("/removeselection", byID)
	ss.POST("/clearselection", clearAll)
	return r
}

type fixture struct {
	bus      *LocalBus
	sender   *Messenger
	observer *Messenger
	svc      *fakeFilterService

	mu       sync.Mutex
	observed map[string][]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &fakeFilterService{}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	client := transport.New()
	urls := service.New(srv.URL + "/neon")
	bus := NewLocalBus()

	f := &fixture{
		bus:      bus,
		sender:   NewMessenger(bus, WithService(client, urls)),
		observer: NewMessenger(bus),
		svc:      svc,
		observed: map[string][]any{},
	}
	f.observer.Events(Callbacks{
		SelectionChanged: f.observe(SelectionChanged),
		FiltersChanged:   f.observe(FiltersChanged),
	})
	// The sender must never see its own notifications.
	f.sender.Subscribe(FiltersChanged, func(any) { t.Error("sender received its own FiltersChanged") })
	f.sender.Subscribe(SelectionChanged, func(any) { t.Error("sender received its own SelectionChanged") })
	return f
}

func (f *fixture) observe(channel string) Handler {
	return func(msg any) {
		f.mu.Lock()
		f.observed[channel] = append(f.observed[channel], msg)
		f.mu.Unlock()
	}
}

func (f *fixture) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observed[channel])
}

func filter() *query.Filter {
	return query.NewFilter().SelectFrom("db", "t").WhereField("a", "=", 1)
}

func waitAll(t *testing.T, reqs []*transport.Request) {
	t.Helper()
	for _, r := range reqs {
		select {
		case <-r.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("request did not complete")
		}
	}
}

func TestAddFilter_PublishesAfterSuccess(t *testing.T) {
	f := newFixture(t)

	var order []string
	req, err := f.sender.AddFilter(context.Background(), "f1", filter(),
		func(result any) {
			order = append(order, "success")
			if f.count(FiltersChanged) != 0 {
				t.Error("published before success callback ran")
			}
		},
		func(e *transport.Error) { t.Errorf("unexpected error: %v", e) })
	if err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	waitAll(t, []*transport.Request{req})

	if len(order) != 1 {
		t.Fatalf("success ran %d times", len(order))
	}
	if n := f.count(FiltersChanged); n != 1 {
		t.Fatalf("FiltersChanged observed %d times, want 1", n)
	}
	msg := f.observed[FiltersChanged][0].(map[string]any)
	if _, ok := msg["addedFilter"]; !ok {
		t.Fatalf("published message = %v, want server response", msg)
	}
}

func TestAddFilter_ErrorDoesNotPublish(t *testing.T) {
	f := newFixture(t)

	var got *transport.Error
	req, _ := f.sender.AddFilter(context.Background(), "bad-1", filter(),
		func(any) { t.Error("success called") },
		func(e *transport.Error) { got = e })
	waitAll(t, []*transport.Request{req})

	if got == nil || got.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %v, want 500", got)
	}
	if n := f.count(FiltersChanged); n != 0 {
		t.Fatalf("FiltersChanged observed %d times after failure", n)
	}
}

func TestClearFilters_EmptyResponsePublishesEmptyObject(t *testing.T) {
	f := newFixture(t)

	req, _ := f.sender.ClearFilters(context.Background(), nil, nil)
	waitAll(t, []*transport.Request{req})

	if n := f.count(FiltersChanged); n != 1 {
		t.Fatalf("FiltersChanged observed %d times, want 1", n)
	}
	if msg, ok := f.observed[FiltersChanged][0].(map[string]any); !ok || len(msg) != 0 {
		t.Fatalf("message = %#v, want empty object", f.observed[FiltersChanged][0])
	}
}

func TestClearFiltersSilently_DoesNotPublish(t *testing.T) {
	f := newFixture(t)

	var called bool
	req, _ := f.sender.ClearFiltersSilently(context.Background(), func(any) { called = true }, nil)
	waitAll(t, []*transport.Request{req})

	if !called {
		t.Fatal("success not called")
	}
	if n := f.count(FiltersChanged); n != 0 {
		t.Fatalf("FiltersChanged observed %d times, want 0", n)
	}
}

func TestRemoveFilter_SendsPlainTextID(t *testing.T) {
	f := newFixture(t)

	var result any
	req, _ := f.sender.RemoveFilter(context.Background(), "f1", func(r any) { result = r },
		func(e *transport.Error) { t.Errorf("unexpected error: %v", e) })
	waitAll(t, []*transport.Request{req})

	removed := field(result, "removedFilter").(map[string]any)
	if removed["id"] != "f1" {
		t.Fatalf("removedFilter = %v", removed)
	}
}

func TestSelectionMethods_PublishSelectionChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var reqs []*transport.Request
	add := func(r *transport.Request, err error) {
		if err != nil {
			t.Fatalf("selection call: %v", err)
		}
		reqs = append(reqs, r)
	}
	add(f.sender.AddSelection(ctx, "s1", filter(), nil, nil))
	add(f.sender.ReplaceSelection(ctx, "s1", filter(), nil, nil))
	add(f.sender.RemoveSelection(ctx, "s1", nil, nil))
	add(f.sender.ClearSelection(ctx, nil, nil))
	waitAll(t, reqs)

	if n := f.count(SelectionChanged); n != 4 {
		t.Fatalf("SelectionChanged observed %d times, want 4", n)
	}
	if n := f.count(FiltersChanged); n != 0 {
		t.Fatalf("FiltersChanged observed %d times, want 0", n)
	}
}

func TestAddFilters_BulkOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		ids         []string
		wantSuccess int
		wantResults int
		wantError   int
	}{
		{"all succeed", []string{"f1", "f2"}, 1, 2, 0},
		{"all fail", []string{"bad-1", "bad-2"}, 0, 0, 1},
		{"partial", []string{"f1", "bad-2"}, 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			var (
				mu        sync.Mutex
				successes int
				errCalls  int
				results   []any
				errs      []*transport.Error
			)
			pairs := make([]FilterPair, len(tt.ids))
			for i, id := range tt.ids {
				pairs[i] = FilterPair{ID: id, Filter: filter()}
			}
			reqs, err := f.sender.AddFilters(context.Background(), pairs,
				func(r []any) {
					mu.Lock()
					successes++
					results = r
					mu.Unlock()
				},
				func(e []*transport.Error) {
					mu.Lock()
					errCalls++
					errs = e
					mu.Unlock()
				})
			if err != nil {
				t.Fatalf("AddFilters: %v", err)
			}
			waitAll(t, reqs)

			mu.Lock()
			defer mu.Unlock()
			if successes != tt.wantSuccess || errCalls != tt.wantError {
				t.Fatalf("success=%d error=%d, want %d and %d", successes, errCalls, tt.wantSuccess, tt.wantError)
			}
			if len(results) != tt.wantResults {
				t.Fatalf("results = %v, want %d entries", results, tt.wantResults)
			}
			if tt.wantError == 1 && len(errs) != len(tt.ids) {
				t.Fatalf("errs = %d, want %d", len(errs), len(tt.ids))
			}
			if n := f.count(FiltersChanged); n != tt.wantSuccess {
				t.Fatalf("FiltersChanged observed %d times, want %d", n, tt.wantSuccess)
			}
		})
	}
}

func TestReplaceFilters_ResultShape(t *testing.T) {
	f := newFixture(t)

	var results []any
	reqs, _ := f.sender.ReplaceFilters(context.Background(), []FilterPair{{ID: "f1", Filter: filter()}},
		func(r []any) { results = r }, nil)
	waitAll(t, reqs)

	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	entry := results[0].(map[string]any)
	if entry["added"] == nil || entry["removed"] == nil {
		t.Fatalf("entry = %v, want added and removed", entry)
	}
}

func TestRemoveFilters_CollectsRemoved(t *testing.T) {
	f := newFixture(t)

	var results []any
	reqs, _ := f.sender.RemoveFilters(context.Background(), []string{"a", "b", "bad-c"},
		func(r []any) { results = r }, nil)
	waitAll(t, reqs)

	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", results)
	}
}

func TestBulk_EmptyInputFailsImmediately(t *testing.T) {
	f := newFixture(t)

	var called int
	reqs, err := f.sender.AddFilters(context.Background(), nil,
		func([]any) { t.Error("success called") },
		func(errs []*transport.Error) {
			called++
			if len(errs) != 0 {
				t.Errorf("errs = %v, want none", errs)
			}
		})
	if err != nil || reqs != nil {
		t.Fatalf("got %v, %v", reqs, err)
	}
	if called != 1 {
		t.Fatalf("error callback called %d times, want 1", called)
	}
}

func TestRemoteMethods_RequireService(t *testing.T) {
	m := NewMessenger(NewLocalBus())
	if _, err := m.AddFilter(context.Background(), "f", filter(), nil, nil); !errors.Is(err, ErrNoService) {
		t.Fatalf("AddFilter err = %v, want ErrNoService", err)
	}
	if _, err := m.RemoveFilters(context.Background(), []string{"f"}, nil, nil); !errors.Is(err, ErrNoService) {
		t.Fatalf("RemoveFilters err = %v, want ErrNoService", err)
	}
}
