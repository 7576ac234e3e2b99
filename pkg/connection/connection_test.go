package connection

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/dashwire/pkg/eventing"
	"github.com/tinytelemetry/dashwire/pkg/query"
	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recorded struct {
	method      string
	path        string
	query       string
	contentType string
	body        string
}

// recorder answers every request with {"ok": true} and remembers the last one.
type recorder struct {
	mu   sync.Mutex
	last recorded
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	rec.last = recorded{
		method:      r.Method,
		path:        r.URL.EscapedPath(),
		query:       r.URL.RawQuery,
		contentType: r.Header.Get("Content-Type"),
		body:        string(body),
	}
	rec.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"ok":true}`)
}

func (rec *recorder) get() recorded {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.last
}

func newTestConnection(t *testing.T, h http.Handler) (*Connection, *eventing.LocalBus) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	bus := eventing.NewLocalBus()
	conn := New(transport.New(), service.New(srv.URL+"/neon"), eventing.NewMessenger(bus))
	t.Cleanup(conn.Close)
	return conn, bus
}

func wait(t *testing.T, r *transport.Request) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
}

func TestEndpoints(t *testing.T) {
	rec := &recorder{}
	conn, _ := newTestConnection(t, rec)
	conn.Connect(Mongo, "db host:27017", false)
	ctx := context.Background()

	q := query.New().SelectFrom("db", "t").IgnoreFilters("f1").SelectionOnly()

	tests := []struct {
		name   string
		call   func() *transport.Request
		method string
		path   string
		query  string
	}{
		{"query", func() *transport.Request { return conn.ExecuteQuery(ctx, q, nil, nil) },
			http.MethodPost, "/neon/services/queryservice/query/db%20host:27017/mongo", "ignoredFilterIds=f1&selectionOnly=true"},
		{"query group", func() *transport.Request {
			return conn.ExecuteQueryGroup(ctx, query.NewGroup().AddQuery(q).IgnoreFilters(), nil, nil)
		}, http.MethodPost, "/neon/services/queryservice/querygroup/db%20host:27017/mongo", "ignoreFilters=true"},
		{"array counts", func() *transport.Request {
			return conn.ExecuteArrayCountQuery(ctx, "db", "t", "tags", 25, nil, nil, nil)
		}, http.MethodPost, "/neon/services/queryservice/arraycounts/db%20host:27017/mongo/db/t/tags", "limit=25"},
		{"database names", func() *transport.Request { return conn.DatabaseNames(ctx, nil, nil) },
			http.MethodGet, "/neon/services/queryservice/databasenames/db%20host:27017/mongo", ""},
		{"table names", func() *transport.Request { return conn.TableNames(ctx, "db", nil, nil) },
			http.MethodGet, "/neon/services/queryservice/tablenames/db%20host:27017/mongo/db", ""},
		{"field types", func() *transport.Request { return conn.FieldTypes(ctx, "db", "t", nil, nil) },
			http.MethodGet, "/neon/services/queryservice/fields/types/db%20host:27017/mongo/db/t", ""},
		{"filter state", func() *transport.Request { return conn.FilterState(ctx, "db", "a/b", nil, nil) },
			http.MethodGet, "/neon/services/filterservice/filters/db/a%2Fb", ""},
		{"export", func() *transport.Request {
			return conn.ExecuteExport(ctx, query.NewExportQuery("h", Mongo, "out", nil), "csv", nil, nil)
		}, http.MethodPost, "/neon/services/exportservice/csv", ""},
		{"mutate", func() *transport.Request { return conn.ExecuteMutateByID(ctx, &query.MutateQuery{}, nil, nil) },
			http.MethodPost, "/neon/services/mutateservice/byid", ""},
		{"upload override", func() *transport.Request {
			return conn.UploadFile(ctx, []byte("a,b\n1,2\n"), Target{Host: "other"}, nil, nil)
		}, http.MethodPost, "/neon/services/importservice/upload/other/mongo", ""},
		{"drop", func() *transport.Request { return conn.RemoveDataset(ctx, "ann", "sales", Target{}, nil, nil) },
			http.MethodGet, "/neon/services/importservice/drop/db%20host:27017/mongo", "data=sales&user=ann"},
		{"list states", func() *transport.Request { return conn.ListStates(ctx, 10, 20, nil, nil) },
			http.MethodGet, "/neon/services/stateservice/liststates", "limit=10&offset=20"},
		{"load state by ids", func() *transport.Request {
			return conn.LoadState(ctx, StateRef{DashboardStateID: "d", FilterStateID: "f"}, nil, nil)
		}, http.MethodGet, "/neon/services/stateservice/loadstate", "dashboardStateId=d&filterStateId=f"},
		{"load state by name", func() *transport.Request {
			return conn.LoadState(ctx, StateRef{Name: "s", DashboardStateID: "d"}, nil, nil)
		}, http.MethodGet, "/neon/services/stateservice/loadstate", "stateName=s"},
		{"delete state", func() *transport.Request { return conn.DeleteState(ctx, "old", nil, nil) },
			http.MethodDelete, "/neon/services/stateservice/deletestate/old", ""},
		{"translation cache", func() *transport.Request { return conn.TranslationCache(ctx, nil, nil) },
			http.MethodGet, "/neon/services/translationservice/getcache", ""},
	}
	for _, tt := range tests {
		wait(t, tt.call())
		got := rec.get()
		if got.method != tt.method || got.path != tt.path || got.query != tt.query {
			t.Errorf("%s: got %s %s?%s, want %s %s?%s", tt.name, got.method, got.path, got.query, tt.method, tt.path, tt.query)
		}
	}
}

func TestExecuteQuery_SendsQueryBody(t *testing.T) {
	rec := &recorder{}
	conn, _ := newTestConnection(t, rec)
	conn.Connect(Elasticsearch, "es", false)

	var result any
	wait(t, conn.ExecuteQuery(context.Background(), query.New().SelectFrom("db", "t").Limit(3),
		func(r any) { result = r }, nil))

	got := rec.get()
	if got.contentType != "application/json" {
		t.Errorf("content type = %q", got.contentType)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(got.body), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["limitClause"].(map[string]any)["limit"] != float64(3) {
		t.Errorf("limitClause = %v", body["limitClause"])
	}
	if result.(map[string]any)["ok"] != true {
		t.Errorf("result = %v", result)
	}
}

func TestSaveState_NameIsQueryParameter(t *testing.T) {
	rec := &recorder{}
	conn, _ := newTestConnection(t, rec)

	wait(t, conn.SaveState(context.Background(), "mine", map[string]any{"dashboard": []int{1}}, nil, nil))

	got := rec.get()
	if got.query != "stateName=mine" {
		t.Errorf("query = %q", got.query)
	}
	if got.body != `{"dashboard":[1]}` {
		t.Errorf("body = %q", got.body)
	}
}

func TestConnect_PublishesConnectToHost(t *testing.T) {
	conn, bus := newTestConnection(t, &recorder{})
	observer := eventing.NewMessenger(bus)

	var got any
	observer.Subscribe(eventing.ConnectToHost, func(m any) { got = m })
	conn.Connect(Spark, "spark:10000", false)

	want := map[string]any{"host": "spark:10000", "type": Spark}
	m, ok := got.(map[string]any)
	if !ok || m["host"] != want["host"] || m["type"] != want["type"] {
		t.Fatalf("ConnectToHost message = %v, want %v", got, want)
	}
	if conn.Host() != "spark:10000" || conn.DatabaseType() != Spark {
		t.Fatalf("connection = %s/%s", conn.Host(), conn.DatabaseType())
	}
}

func TestDatasetUpdates_Republished(t *testing.T) {
	r := gin.New()
	r.GET("/neon/services/dataset/listen", func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.SSEvent("message", "dataset-1")
		c.Writer.Flush()
		<-c.Request.Context().Done()
	})
	conn, bus := newTestConnection(t, r)
	observer := eventing.NewMessenger(bus)

	got := make(chan any, 1)
	observer.Subscribe(eventing.DatasetUpdated, func(m any) {
		select {
		case got <- m:
		default:
		}
	})

	conn.Connect(Mongo, "h", true)
	conn.ListenForDatasetUpdates()

	select {
	case m := <-got:
		if m.(map[string]any)["message"] != "dataset-1" {
			t.Fatalf("DatasetUpdated = %v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no DatasetUpdated message")
	}

	done := make(chan struct{})
	go func() {
		conn.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the listener")
	}
}
