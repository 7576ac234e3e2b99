package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinytelemetry/dashwire/internal/metrics"
	"github.com/tinytelemetry/dashwire/pkg/eventing"
	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
	"github.com/tinytelemetry/dashwire/pkg/sse"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *eventing.LocalBus, http.Handler) {
	t.Helper()
	bus := eventing.NewLocalBus()
	srv := NewServer(cfg, bus, socketrpc.NewServer("", bus))
	srv.startTime = time.Now()
	t.Cleanup(func() { srv.Stop() })
	return srv, bus, srv.Handler()
}

// capture subscribes to channel on the bus and collects deliveries.
func capture(bus *eventing.LocalBus, channel, owner string) <-chan socketrpc.Delivery {
	ch := make(chan socketrpc.Delivery, 8)
	bus.Subscribe(channel, func(m any) {
		if d, ok := m.(socketrpc.Delivery); ok {
			ch <- d
		}
	}, owner)
	return ch
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("nothing received")
	}
	var zero T
	return zero
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, _, r := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Gin returns 405 for method not allowed when a route exists but not for this method
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestChannelsEndpoint(t *testing.T) {
	_, bus, r := newTestServer(t, Config{})
	bus.Subscribe("filters", func(any) {}, "a")
	bus.Subscribe("filters", func(any) {}, "b")
	bus.Subscribe("selection", func(any) {}, "a")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/channels", nil))

	want := `{"channels":[{"channel":"filters","subscribers":2},{"channel":"selection","subscribers":1}]}`
	if w.Body.String() != want {
		t.Fatalf("got %s, want %s", w.Body.String(), want)
	}
}

func TestPublishEndpoint(t *testing.T) {
	_, bus, r := newTestServer(t, Config{})
	got := capture(bus, "filters", "observer")

	req := httptest.NewRequest(http.MethodPost, "/api/channels/filters", bytes.NewBufferString(`{"id":"f1"}`))
	req.Header.Set(SenderHeader, "script")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	d := receive(t, got)
	if d.Sender != "script" || string(d.Message) != `{"id":"f1"}` {
		t.Fatalf("got %+v", d)
	}
}

func TestPublishEndpoint_Bodies(t *testing.T) {
	_, bus, r := newTestServer(t, Config{})
	got := capture(bus, "c", "observer")

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"empty body publishes null", "", http.StatusAccepted, "null"},
		{"scalar", "42", http.StatusAccepted, "42"},
		{"not json", "{oops", http.StatusBadRequest, ""},
		{"too large", `"` + strings.Repeat("x", maxMessageBytes) + `"`, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/channels/c", strings.NewReader(tt.body)))
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.want == "" {
				return
			}
			d := receive(t, got)
			if string(d.Message) != tt.want {
				t.Fatalf("message = %s, want %s", d.Message, tt.want)
			}
			if d.Sender == "" {
				t.Fatal("anonymous publish has no sender")
			}
		})
	}
}

func TestPublishEndpoint_RateLimited(t *testing.T) {
	m := metrics.New()
	_, _, r := newTestServer(t, Config{PublishRate: 0.001, PublishBurst: 2, Metrics: m})

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/channels/c", strings.NewReader("1")))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("got %v, want [202 202 429]", codes)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 1 {
		t.Fatalf("rate limited = %v, want 1", got)
	}
}

func TestStreamEndpoint(t *testing.T) {
	srv, bus, r := newTestServer(t, Config{})
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/channels/filters/stream?sender=me")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	if bus.SubscriberCount("filters") != 1 {
		t.Fatalf("subscribers = %d, want 1", bus.SubscriberCount("filters"))
	}

	srv.pub.Publish("filters", "me", json.RawMessage(`"own"`))
	srv.pub.Publish("filters", "peer", json.RawMessage(`{"id":"f1"}`))

	events := make(chan sse.Event, 1)
	go func() {
		ev, err := sse.NewReader(resp.Body).Next()
		if err == nil {
			events <- ev
		}
	}()
	ev := receive(t, events)
	if ev.Event != "message" {
		t.Fatalf("event = %q, want message", ev.Event)
	}
	var got streamEvent
	if err := json.Unmarshal([]byte(ev.Data), &got); err != nil {
		t.Fatalf("data %q: %v", ev.Data, err)
	}
	if got.Sender != "peer" || got.Channel != "filters" || string(got.Payload) != `{"id":"f1"}` {
		t.Fatalf("got %+v", got)
	}

	resp.Body.Close()
	waitFor(t, func() bool { return bus.SubscriberCount("filters") == 0 })
}

func TestWebsocketEndpoint(t *testing.T) {
	m := metrics.New()
	_, bus, r := newTestServer(t, Config{Metrics: m})
	ts := httptest.NewServer(r)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?sender=tab-1"
	wc, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer wc.Close()
	wc.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := wc.WriteJSON(wsFrame{Op: "subscribe", Channel: "selection"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bus.SubscriberCount("selection") == 1 })

	t.Run("receives", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/channels/selection", strings.NewReader(`["r1"]`))
		req.Header.Set(SenderHeader, "other")
		r.ServeHTTP(w, req)

		var ev streamEvent
		if err := wc.ReadJSON(&ev); err != nil {
			t.Fatal(err)
		}
		if ev.Sender != "other" || string(ev.Payload) != `["r1"]` {
			t.Fatalf("got %+v", ev)
		}
	})

	t.Run("publishes", func(t *testing.T) {
		got := capture(bus, "filters", "observer")
		if err := wc.WriteJSON(wsFrame{Op: "publish", Channel: "filters", Message: json.RawMessage(`{"id":"f2"}`)}); err != nil {
			t.Fatal(err)
		}
		d := receive(t, got)
		if d.Sender != "tab-1" || string(d.Message) != `{"id":"f2"}` {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("unknown op", func(t *testing.T) {
		if err := wc.WriteJSON(wsFrame{Op: "shout", Channel: "filters"}); err != nil {
			t.Fatal(err)
		}
		var ev streamEvent
		if err := wc.ReadJSON(&ev); err != nil {
			t.Fatal(err)
		}
		if ev.Error != "unknown op shout" {
			t.Fatalf("got %+v", ev)
		}
	})

	if got := testutil.ToFloat64(m.Peers.WithLabelValues(metrics.SurfaceWebsocket)); got != 1 {
		t.Errorf("websocket peers = %v, want 1", got)
	}

	wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, func() bool { return bus.SubscriberCount("selection") == 0 })
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, Config{Metrics: metrics.New()})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	want := `dashwire_relay_http_requests_total{method="GET",path="/api/health",status="200"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics missing %q", want)
	}
}
