package eventing

import (
	"log/slog"
	"sync"
)

// HostEventing is the native publish/subscribe facility of a hosting
// environment. It holds at most one subscription per channel for the whole
// process: Subscribe replaces any previous callback on the channel and
// Unsubscribe drops it.
type HostEventing interface {
	// InstanceID identifies this process to the host. Messages the host
	// delivers carry the publisher's instance id as sender.
	InstanceID() string
	Publish(channel string, message any) error
	Subscribe(channel string, fn func(sender string, message any)) error
	Unsubscribe(channel string) error
}

// HostBus adapts a HostEventing to EventTransport.
//
// Because the host keeps one callback per channel, subscribing again to a
// channel composes the new handler after the existing ones. Suppression is by
// host instance id, so messages published from this process are never
// delivered back to it, whichever Messenger published them. Unsubscribe and
// Remove both drop every handler on the channel.
type HostBus struct {
	host   HostEventing
	logger *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]*Subscription
}

// NewHostBus wraps host. A nil logger selects slog.Default().
func NewHostBus(host HostEventing, logger *slog.Logger) *HostBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostBus{
		host:     host,
		logger:   logger,
		handlers: make(map[string][]*Subscription),
	}
}

// Publish forwards to the host. senderID is not transmitted; the host stamps
// its own instance id.
func (b *HostBus) Publish(channel string, message any, senderID string) {
	if err := b.host.Publish(channel, message); err != nil {
		b.logger.Warn("eventing: host publish failed", "channel", channel, "error", err)
	}
}

func (b *HostBus) Subscribe(channel string, handler Handler, senderID string) *Subscription {
	b.mu.Lock()
	b.nextID++
	s := &Subscription{id: b.nextID, channel: channel, owner: senderID, handler: handler}
	b.handlers[channel] = append(b.handlers[channel], s)
	composed := make([]*Subscription, len(b.handlers[channel]))
	copy(composed, b.handlers[channel])
	b.mu.Unlock()

	self := b.host.InstanceID()
	err := b.host.Subscribe(channel, func(sender string, message any) {
		if sender == self {
			return
		}
		for _, s := range composed {
			s.handler(message)
		}
	})
	if err != nil {
		b.logger.Warn("eventing: host subscribe failed", "channel", channel, "error", err)
	}
	return s
}

func (b *HostBus) Unsubscribe(channel, senderID string) {
	b.mu.Lock()
	delete(b.handlers, channel)
	b.mu.Unlock()

	if err := b.host.Unsubscribe(channel); err != nil {
		b.logger.Warn("eventing: host unsubscribe failed", "channel", channel, "error", err)
	}
}

func (b *HostBus) Remove(sub *Subscription) {
	if sub == nil {
		return
	}
	b.Unsubscribe(sub.channel, sub.owner)
}
