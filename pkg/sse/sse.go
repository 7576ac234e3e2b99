// Package sse reads server-sent event streams and keeps a subscription alive
// across disconnects.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRetry is the reconnect delay used until the server sends a retry
// field.
const DefaultRetry = 3 * time.Second

// Event is one dispatched server-sent event. Event defaults to "message".
type Event struct {
	ID    string
	Event string
	Data  string
	Retry time.Duration
}

// Reader parses events from a stream.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: s}
}

// Next returns the next event. It returns io.EOF when the stream ends; a
// partially received event at end of stream is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if !hasData {
				// Blank line with no data resets the event per the
				// event-stream rules, but keeps any retry hint.
				retry := ev.Retry
				ev = Event{Retry: retry}
				if retry > 0 {
					return ev, nil
				}
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Event == "" {
				ev.Event = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch name {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Subscriber holds a long-lived subscription to one stream URL.
type Subscriber struct {
	HTTP   *http.Client
	Logger *slog.Logger
	// Retry is the initial reconnect delay; DefaultRetry when zero.
	Retry time.Duration
}

// Run connects to url and calls handle for every dispatched event until ctx
// is cancelled. Disconnects and connection failures are retried after the
// current retry delay, which the server may change with a retry field. Run
// returns ctx.Err().
func (s *Subscriber) Run(ctx context.Context, url string, handle func(Event)) error {
	hc := s.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := s.Retry
	if retry <= 0 {
		retry = DefaultRetry
	}

	for {
		err := s.stream(ctx, hc, url, func(ev Event) {
			if ev.Retry > 0 {
				retry = ev.Retry
			}
			if ev.Data != "" || ev.Event != "" {
				handle(ev)
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("sse: stream ended, reconnecting", "url", url, "retry", retry, "error", err)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Subscriber) stream(ctx context.Context, hc *http.Client, url string, handle func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("sse: new request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("sse: connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse: unexpected status %d", resp.StatusCode)
	}

	r := NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sse: read: %w", err)
		}
		handle(ev)
	}
}
