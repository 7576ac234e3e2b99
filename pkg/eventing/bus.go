// Package eventing coordinates dashboard widgets over named channels.
//
// Each widget owns one Messenger. All Messengers of an application share one
// EventTransport, constructed once at startup and passed to NewMessenger. A
// Messenger never receives the messages it publishes itself.
package eventing

// Well-known application channels.
const (
	SelectionChanged = "selection_changed"
	FiltersChanged   = "filters_changed"
	ConnectToHost    = "connect_to_host"
	DatasetUpdated   = "dataset_updated"
)

// Handler receives a published message.
type Handler func(message any)

// Subscription is the handle returned by EventTransport.Subscribe.
type Subscription struct {
	id      uint64
	channel string
	owner   string
	handler Handler
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string { return s.channel }

// Owner returns the sender id the subscription was registered with.
func (s *Subscription) Owner() string { return s.owner }

// EventTransport is a named-channel publish/subscribe bus.
//
// Publish delivers synchronously: every eligible handler has returned before
// Publish returns. A handler is skipped when its subscription's owner equals
// the sender id of the publish.
type EventTransport interface {
	Publish(channel string, message any, senderID string)
	Subscribe(channel string, handler Handler, senderID string) *Subscription
	// Unsubscribe removes every subscription on channel owned by senderID.
	Unsubscribe(channel, senderID string)
	// Remove removes exactly one subscription regardless of owner.
	Remove(sub *Subscription)
}
