// Package transport is the asynchronous HTTP request primitive used by the
// messenger and connection layers.
//
// Every request runs on its own goroutine and reports back through exactly
// one of its Success or Error callbacks. Callbacks from all requests issued by
// one Client are serialized, so callers observe them one at a time in arrival
// order, never concurrently.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrAborted is matched by errors.Is for requests cancelled through Abort.
var ErrAborted = errors.New("transport: request aborted")

// Status texts reported in Error.StatusText.
const (
	StatusAbort       = "abort"
	StatusTimeout     = "timeout"
	StatusError       = "error"
	StatusParserError = "parsererror"
)

// ResponseType selects how a response body is decoded before it reaches the
// Success callback.
type ResponseType string

const (
	// ResponseAuto decodes by the response Content-Type.
	ResponseAuto ResponseType = ""
	ResponseJSON ResponseType = "json"
	ResponseText ResponseType = "text"
)

// SuccessFunc receives the decoded response: a JSON value for JSON responses,
// a string for text, []byte otherwise. An empty body yields nil.
type SuccessFunc func(result any)

// ErrorFunc receives the failure of a request.
type ErrorFunc func(err *Error)

// Error describes a failed request.
type Error struct {
	StatusCode int
	StatusText string
	Message    string
	Body       []byte
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s (%d): %s", e.StatusText, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport: %s: %s", e.StatusText, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrAborted && e.StatusText == StatusAbort
}

// Options configure a single request.
type Options struct {
	// Data is sent as the request body. Supported types are []byte, string
	// and io.Reader; callers serialize JSON themselves or use PostJSON.
	Data         any
	ContentType  string
	ResponseType ResponseType
	Success      SuccessFunc
	Error        ErrorFunc
}

// Client issues requests. The zero value is not usable; call New.
type Client struct {
	http    *http.Client
	logger  *slog.Logger
	timeout time.Duration

	// cbMu serializes callbacks across requests.
	cbMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds every request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:   http.DefaultClient,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request is the handle of an in-flight request.
type Request struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	aborted bool
}

// Abort cancels the request. If it has not completed yet its Error callback
// fires with StatusText "abort". Calling Abort after completion has no effect.
func (r *Request) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()
	r.cancel()
}

func (r *Request) wasAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Done is closed once the request's callback has returned.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the request's callback has returned.
func (r *Request) Wait() { <-r.done }

// Request starts an asynchronous request and returns its handle immediately.
func (c *Client) Request(ctx context.Context, method, url string, opts Options) *Request {
	stopTimer := func() {}
	if c.timeout > 0 {
		ctx, stopTimer = context.WithTimeout(ctx, c.timeout)
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Request{
		cancel: func() { cancel(); stopTimer() },
		done:   make(chan struct{}),
	}
	go c.run(ctx, r, method, url, opts)
	return r
}

func (c *Client) Get(ctx context.Context, url string, opts Options) *Request {
	return c.Request(ctx, http.MethodGet, url, opts)
}

func (c *Client) Post(ctx context.Context, url string, opts Options) *Request {
	return c.Request(ctx, http.MethodPost, url, opts)
}

func (c *Client) Delete(ctx context.Context, url string, opts Options) *Request {
	return c.Request(ctx, http.MethodDelete, url, opts)
}

// PostJSON encodes v as the request body and expects a JSON response.
func (c *Client) PostJSON(ctx context.Context, url string, v any, opts Options) *Request {
	data, err := json.Marshal(v)
	if err != nil {
		return c.failed(&Error{StatusText: StatusError, Message: fmt.Sprintf("encode body: %v", err)}, opts)
	}
	opts.Data = data
	opts.ContentType = "application/json"
	opts.ResponseType = ResponseJSON
	return c.Post(ctx, url, opts)
}

// PostBinary sends raw bytes.
func (c *Client) PostBinary(ctx context.Context, url string, data []byte, opts Options) *Request {
	opts.Data = data
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	return c.Post(ctx, url, opts)
}

// failed returns a handle for a request that could not be started.
func (c *Client) failed(e *Error, opts Options) *Request {
	r := &Request{cancel: func() {}, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		c.deliverError(opts, e)
	}()
	return r
}

func (c *Client) run(ctx context.Context, r *Request, method, url string, opts Options) {
	defer close(r.done)
	defer r.cancel()

	body, size, err := requestBody(opts.Data)
	if err != nil {
		c.deliverError(opts, &Error{StatusText: StatusError, Message: err.Error()})
		return
	}

	c.logger.Debug("transport: request", "method", method, "url", url, "bytes", size)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		c.deliverError(opts, &Error{StatusText: StatusError, Message: err.Error()})
		return
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.ResponseType == ResponseJSON {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.deliverError(opts, c.classify(ctx, r, err))
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.deliverError(opts, c.classify(ctx, r, err))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.deliverError(opts, &Error{
			StatusCode: resp.StatusCode,
			StatusText: StatusError,
			Message:    http.StatusText(resp.StatusCode),
			Body:       data,
		})
		return
	}

	result, err := decode(data, opts.ResponseType, resp.Header.Get("Content-Type"))
	if err != nil {
		c.deliverError(opts, &Error{
			StatusCode: resp.StatusCode,
			StatusText: StatusParserError,
			Message:    err.Error(),
			Body:       data,
		})
		return
	}

	if r.wasAborted() {
		c.deliverError(opts, &Error{StatusText: StatusAbort, Message: "request aborted"})
		return
	}
	c.deliverSuccess(opts, result)
}

func (c *Client) classify(ctx context.Context, r *Request, err error) *Error {
	switch {
	case r.wasAborted():
		return &Error{StatusText: StatusAbort, Message: "request aborted"}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{StatusText: StatusTimeout, Message: err.Error()}
	default:
		return &Error{StatusText: StatusError, Message: err.Error()}
	}
}

func (c *Client) deliverSuccess(opts Options, result any) {
	if opts.Success == nil {
		return
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	opts.Success(result)
}

func (c *Client) deliverError(opts Options, e *Error) {
	if opts.Error == nil {
		c.logger.Debug("transport: unhandled request error", "status", e.StatusText, "code", e.StatusCode, "error", e.Message)
		return
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	opts.Error(e)
}

func requestBody(data any) (io.Reader, int, error) {
	switch d := data.(type) {
	case nil:
		return nil, 0, nil
	case []byte:
		return bytes.NewReader(d), len(d), nil
	case string:
		return strings.NewReader(d), len(d), nil
	case io.Reader:
		return d, -1, nil
	default:
		return nil, 0, fmt.Errorf("unsupported body type %T", data)
	}
}

func decode(data []byte, rt ResponseType, contentType string) (any, error) {
	if rt == ResponseAuto {
		rt = guessType(contentType)
	}
	switch rt {
	case ResponseJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case ResponseText:
		return string(data), nil
	default:
		if len(data) == 0 {
			return nil, nil
		}
		return data, nil
	}
}

func guessType(contentType string) ResponseType {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "bytes"
	}
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return ResponseJSON
	case strings.HasPrefix(mt, "text/"):
		return ResponseText
	}
	return "bytes"
}
