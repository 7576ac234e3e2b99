package eventing

import (
	"sort"
	"sync"
)

// LocalBus is an in-process EventTransport with ordinary fan-out: every
// subscription on a channel fires, in subscription order.
type LocalBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]*Subscription
}

// NewLocalBus returns an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]*Subscription)}
}

// Publish delivers message to all subscribers on channel not owned by
// senderID. Handlers run outside the lock, so they may subscribe or
// unsubscribe; such changes take effect from the next Publish.
func (b *LocalBus) Publish(channel string, message any, senderID string) {
	b.mu.RLock()
	snapshot := make([]*Subscription, len(b.subs[channel]))
	copy(snapshot, b.subs[channel])
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.owner == senderID {
			continue
		}
		s.handler(message)
	}
}

func (b *LocalBus) Subscribe(channel string, handler Handler, senderID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{id: b.nextID, channel: channel, owner: senderID, handler: handler}
	b.subs[channel] = append(b.subs[channel], s)
	return s
}

func (b *LocalBus) Unsubscribe(channel, senderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter(channel, func(s *Subscription) bool { return s.owner != senderID })
}

func (b *LocalBus) Remove(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter(sub.channel, func(s *Subscription) bool { return s.id != sub.id })
}

// filter keeps the subscriptions on channel for which keep returns true.
// Callers hold b.mu. A fresh slice is built so snapshots taken by Publish are
// never mutated.
func (b *LocalBus) filter(channel string, keep func(*Subscription) bool) {
	cur := b.subs[channel]
	next := make([]*Subscription, 0, len(cur))
	for _, s := range cur {
		if keep(s) {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.subs, channel)
		return
	}
	b.subs[channel] = next
}

// Channels returns the channels with at least one subscription, sorted.
func (b *LocalBus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for ch := range b.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// SubscriberCount returns the number of subscriptions on channel.
func (b *LocalBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
