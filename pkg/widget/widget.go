// Package widget persists per-widget state and reads service properties.
package widget

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

// Service wraps the widget, property and info endpoints.
type Service struct {
	client *transport.Client
	urls   service.URLs
	// hostInstance is appended to instance-id qualifiers when running under a
	// host bus, so the same widget in two processes gets distinct ids.
	hostInstance string
}

// Option configures a Service.
type Option func(*Service)

// WithHostInstance sets the host instance id appended to qualifiers.
func WithHostInstance(id string) Option {
	return func(s *Service) { s.hostInstance = id }
}

func New(client *transport.Client, urls service.URLs, opts ...Option) *Service {
	s := &Service{client: client, urls: urls}
	for _, o := range opts {
		o(s)
	}
	return s
}

type savedState struct {
	InstanceID string `json:"instanceId"`
	State      string `json:"state"`
}

// SaveState stores state for instanceID. The state is JSON encoded and sent
// as a string.
func (s *Service) SaveState(ctx context.Context, instanceID string, state any, success transport.SuccessFunc, failure transport.ErrorFunc) (*transport.Request, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	body := savedState{InstanceID: instanceID, State: string(data)}
	return s.client.PostJSON(ctx, s.urls.URL("widgetservice", "savestate", nil), body, transport.Options{
		Success: success,
		Error:   failure,
	}), nil
}

// RestoreState fetches the saved state of id. success runs only when a
// non-empty state exists; errors are ignored since a missing state is
// reported as one.
func (s *Service) RestoreState(ctx context.Context, id string, success transport.SuccessFunc) *transport.Request {
	return s.client.Get(ctx, s.urls.URL("widgetservice", service.Path("restorestate", id), nil), transport.Options{
		ResponseType: transport.ResponseJSON,
		Success: func(result any) {
			if empty(result) || success == nil {
				return
			}
			success(result)
		},
		Error: func(*transport.Error) {},
	})
}

// InstanceID requests an id for this session. Repeated calls with the same
// qualifier return the same id; an empty qualifier yields the session id.
// success is not called for an empty id.
func (s *Service) InstanceID(ctx context.Context, qualifier string, success func(id string)) *transport.Request {
	var params url.Values
	if qualifier != "" {
		params = url.Values{"qualifier": {qualifier + s.hostInstance}}
	}
	return s.client.Get(ctx, s.urls.URL("widgetservice", "instanceid", params), transport.Options{
		ResponseType: transport.ResponseText,
		Success: func(result any) {
			id, _ := result.(string)
			if id == "" || success == nil {
				return
			}
			success(id)
		},
		Error: func(*transport.Error) {},
	})
}

// PropertyKeys lists all property keys.
func (s *Service) PropertyKeys(ctx context.Context, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return s.client.Get(ctx, s.urls.URL("propertyservice", "*", nil), jsonOpts(success, failure))
}

func (s *Service) Property(ctx context.Context, key string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return s.client.Get(ctx, s.urls.URL("propertyservice", url.PathEscape(key), nil), jsonOpts(success, failure))
}

// SetProperty stores value as plain text under key.
func (s *Service) SetProperty(ctx context.Context, key, value string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	opts := jsonOpts(success, failure)
	opts.Data = value
	opts.ContentType = "text/plain"
	return s.client.Post(ctx, s.urls.URL("propertyservice", url.PathEscape(key), nil), opts)
}

func (s *Service) RemoveProperty(ctx context.Context, key string, success transport.SuccessFunc, failure transport.ErrorFunc) *transport.Request {
	return s.client.Delete(ctx, s.urls.URL("propertyservice", url.PathEscape(key), nil), jsonOpts(success, failure))
}

// Version returns the service version as text.
func (s *Service) Version(ctx context.Context, success func(version string), failure transport.ErrorFunc) *transport.Request {
	return s.client.Get(ctx, s.urls.URL("infoservice", "version", nil), transport.Options{
		ResponseType: transport.ResponseText,
		Success: func(result any) {
			v, _ := result.(string)
			if success != nil {
				success(v)
			}
		},
		Error: failure,
	})
}

func jsonOpts(success transport.SuccessFunc, failure transport.ErrorFunc) transport.Options {
	return transport.Options{
		ResponseType: transport.ResponseJSON,
		Success:      success,
		Error:        failure,
	}
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	}
	return false
}
