// Package connection executes queries and metadata requests against one
// host and database type of the remote data service.
package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tinytelemetry/dashwire/pkg/eventing"
	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/sse"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

// Database types understood by the service.
const (
	Mongo         = "mongo"
	Spark         = "sparksql"
	Elasticsearch = "elasticsearch"
)

// Target overrides the connection's host and database type for a single
// import call. Empty fields fall back to the connection's values.
type Target struct {
	Host         string
	DatabaseType string
}

// Connection holds the current host and database type. Requests issued
// before Connect use empty values.
type Connection struct {
	client    *transport.Client
	urls      service.URLs
	messenger *eventing.Messenger
	logger    *slog.Logger
	listener  sse.Subscriber

	mu           sync.Mutex
	host         string
	databaseType string
	stopListen   context.CancelFunc
	listenDone   chan struct{}
}

// Option configures a Connection.
type Option func(*Connection)

func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithStreamClient sets the HTTP client used for the dataset-update stream.
// It must not carry a request timeout.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Connection) { c.listener.HTTP = hc }
}

// WithUpdateRetry sets the initial reconnect delay of the dataset-update
// stream.
func WithUpdateRetry(d time.Duration) Option {
	return func(c *Connection) { c.listener.Retry = d }
}

// New returns a Connection. messenger publishes ConnectToHost and
// DatasetUpdated notifications.
func New(client *transport.Client, urls service.URLs, messenger *eventing.Messenger, opts ...Option) *Connection {
	c := &Connection{
		client:    client,
		urls:      urls,
		messenger: messenger,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.listener.Logger = c.logger
	return c
}

// Connect sets the host and database type and publishes ConnectToHost with
// {"host", "type"}. With listenForUpdates it also starts the dataset-update
// listener.
func (c *Connection) Connect(databaseType, host string, listenForUpdates bool) {
	c.mu.Lock()
	c.host = host
	c.databaseType = databaseType
	c.mu.Unlock()

	c.messenger.Publish(eventing.ConnectToHost, map[string]any{
		"host": host,
		"type": databaseType,
	})
	if listenForUpdates {
		c.ListenForDatasetUpdates()
	}
}

func (c *Connection) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

func (c *Connection) DatabaseType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.databaseType
}

func (c *Connection) target(t Target) (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	host, dbType := c.host, c.databaseType
	if t.Host != "" {
		host = t.Host
	}
	if t.DatabaseType != "" {
		dbType = t.DatabaseType
	}
	return host, dbType
}

// ListenForDatasetUpdates subscribes to the service's dataset-update stream
// and republishes every message event as DatasetUpdated {"message": data}.
// It is a no-op while a listener is running.
func (c *Connection) ListenForDatasetUpdates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopListen != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopListen = cancel
	c.listenDone = done

	url := c.urls.URL("dataset", "listen", nil)
	go func() {
		defer close(done)
		c.listener.Run(ctx, url, func(ev sse.Event) {
			if ev.Event != "message" {
				return
			}
			c.messenger.Publish(eventing.DatasetUpdated, map[string]any{"message": ev.Data})
		})
	}()
	c.logger.Debug("connection: listening for dataset updates", "url", url)
}

// Close stops the dataset-update listener, if any, and waits for it to exit.
func (c *Connection) Close() {
	c.mu.Lock()
	stop, done := c.stopListen, c.listenDone
	c.stopListen, c.listenDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

func jsonOpts(success transport.SuccessFunc, failure transport.ErrorFunc) transport.Options {
	return transport.Options{
		ResponseType: transport.ResponseJSON,
		Success:      success,
		Error:        failure,
	}
}

func (c *Connection) get(ctx context.Context, url string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.client.Get(ctx, url, jsonOpts(success, failure))
}

func (c *Connection) postJSON(ctx context.Context, url string, body any, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return c.client.PostJSON(ctx, url, body, jsonOpts(success, failure))
}
