package eventing

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/transport"
)

// ErrNoService is returned by remote methods of a Messenger built without
// WithService.
var ErrNoService = errors.New("eventing: messenger has no service transport")

// Messenger is a widget's view of the shared bus. It stamps its own id on
// everything it publishes and tracks the channels it has subscribed to.
type Messenger struct {
	id     string
	bus    EventTransport
	client *transport.Client
	urls   service.URLs
	logger *slog.Logger

	mu       sync.Mutex
	channels []string
}

// MessengerOption configures a Messenger.
type MessengerOption func(*Messenger)

// WithService enables the filter and selection methods.
func WithService(client *transport.Client, urls service.URLs) MessengerOption {
	return func(m *Messenger) {
		m.client = client
		m.urls = urls
	}
}

func WithLogger(l *slog.Logger) MessengerOption {
	return func(m *Messenger) { m.logger = l }
}

// NewMessenger returns a Messenger with a fresh random id on bus.
func NewMessenger(bus EventTransport, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		id:     uuid.NewString(),
		bus:    bus,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ID returns the sender id of this Messenger.
func (m *Messenger) ID() string { return m.id }

// Publish sends message to every other subscriber of channel.
func (m *Messenger) Publish(channel string, message any) {
	m.bus.Publish(channel, message, m.id)
}

// Subscribe registers handler for messages on channel published by others.
// Subscribing twice registers two handlers; the channel is tracked once.
func (m *Messenger) Subscribe(channel string, handler Handler) *Subscription {
	sub := m.bus.Subscribe(channel, handler, m.id)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch == channel {
			return sub
		}
	}
	m.channels = append(m.channels, channel)
	return sub
}

// Unsubscribe removes this Messenger's handlers on channel.
func (m *Messenger) Unsubscribe(channel string) {
	m.bus.Unsubscribe(channel, m.id)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ch := range m.channels {
		if ch == channel {
			m.channels = append(m.channels[:i], m.channels[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes this Messenger's handlers on every tracked channel.
func (m *Messenger) UnsubscribeAll() {
	for _, ch := range m.Channels() {
		m.Unsubscribe(ch)
	}
}

// Channels returns a copy of the tracked channel list.
func (m *Messenger) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.channels))
	copy(out, m.channels)
	return out
}

// Callbacks bind the well-known channels. Nil entries are subscribed but never
// invoked.
type Callbacks struct {
	SelectionChanged Handler
	FiltersChanged   Handler
	ConnectToHost    Handler
	DatasetUpdated   Handler
}

func (c Callbacks) bindings() []struct {
	channel string
	handler Handler
} {
	return []struct {
		channel string
		handler Handler
	}{
		{SelectionChanged, c.SelectionChanged},
		{FiltersChanged, c.FiltersChanged},
		{ConnectToHost, c.ConnectToHost},
		{DatasetUpdated, c.DatasetUpdated},
	}
}

// Events subscribes to all four well-known channels.
func (m *Messenger) Events(cb Callbacks) {
	for _, b := range cb.bindings() {
		h := b.handler
		m.Subscribe(b.channel, func(message any) {
			if h != nil {
				h(message)
			}
		})
	}
}

// RemoveEvents unsubscribes from the four well-known channels.
func (m *Messenger) RemoveEvents() {
	for _, b := range (Callbacks{}).bindings() {
		m.Unsubscribe(b.channel)
	}
}
