package eventing

import (
	"errors"
	"reflect"
	"testing"
)

// fakeHost keeps one callback per channel, like a native host bus.
type fakeHost struct {
	id        string
	callbacks map[string]func(sender string, message any)
	published []string
	failAll   bool
}

func newFakeHost(id string) *fakeHost {
	return &fakeHost{id: id, callbacks: map[string]func(string, any){}}
}

func (h *fakeHost) InstanceID() string { return h.id }

func (h *fakeHost) Publish(channel string, message any) error {
	if h.failAll {
		return errors.New("host down")
	}
	h.published = append(h.published, channel)
	return nil
}

func (h *fakeHost) Subscribe(channel string, fn func(string, any)) error {
	h.callbacks[channel] = fn
	return nil
}

func (h *fakeHost) Unsubscribe(channel string) error {
	delete(h.callbacks, channel)
	return nil
}

func (h *fakeHost) deliver(channel, sender string, message any) {
	if fn := h.callbacks[channel]; fn != nil {
		fn(sender, message)
	}
}

func TestHostBus_ComposesHandlers(t *testing.T) {
	host := newFakeHost("me")
	bus := NewHostBus(host, nil)

	var got []string
	bus.Subscribe("x", func(any) { got = append(got, "old") }, "m1")
	bus.Subscribe("x", func(any) { got = append(got, "new") }, "m2")

	host.deliver("x", "other", 1)

	if !reflect.DeepEqual(got, []string{"old", "new"}) {
		t.Fatalf("handlers ran %v, want [old new]", got)
	}
}

func TestHostBus_SuppressesOwnInstance(t *testing.T) {
	host := newFakeHost("me")
	bus := NewHostBus(host, nil)

	var calls int
	bus.Subscribe("x", func(any) { calls++ }, "m1")

	host.deliver("x", "me", 1)
	if calls != 0 {
		t.Fatalf("own message delivered %d times", calls)
	}
	host.deliver("x", "peer", 1)
	if calls != 1 {
		t.Fatalf("peer message delivered %d times, want 1", calls)
	}
}

func TestHostBus_UnsubscribeDropsChannel(t *testing.T) {
	host := newFakeHost("me")
	bus := NewHostBus(host, nil)

	var calls int
	sub := bus.Subscribe("x", func(any) { calls++ }, "m1")
	bus.Remove(sub)

	host.deliver("x", "peer", 1)
	if calls != 0 {
		t.Fatalf("delivered after Remove: %d", calls)
	}

	// A later subscription starts a fresh composition.
	bus.Subscribe("x", func(any) { calls += 10 }, "m1")
	host.deliver("x", "peer", 1)
	if calls != 10 {
		t.Fatalf("calls = %d, want 10", calls)
	}
}

func TestHostBus_PublishErrorIsSwallowed(t *testing.T) {
	host := newFakeHost("me")
	host.failAll = true
	bus := NewHostBus(host, nil)

	bus.Publish("x", "msg", "m1")

	if len(host.published) != 0 {
		t.Fatalf("published = %v", host.published)
	}
}

func TestMessenger_OverHostBus(t *testing.T) {
	host := newFakeHost("me")
	m := NewMessenger(NewHostBus(host, nil))

	var got any
	m.Events(Callbacks{FiltersChanged: func(msg any) { got = msg }})
	host.deliver(FiltersChanged, "peer", "f")

	if got != "f" {
		t.Fatalf("got %v, want f", got)
	}
	m.RemoveEvents()
	if len(host.callbacks) != 0 {
		t.Fatalf("host still has %d callbacks", len(host.callbacks))
	}
}
