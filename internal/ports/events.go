// Package ports defines the interfaces shared between the runtime's
// domain services and its infrastructure adapters.
package ports

import "time"

// EventType identifies the kind of runtime event.
type EventType string

// Event types published by the runtime.
const (
	EventPluginRegistered    EventType = "plugin-registered"
	EventPluginUnregistered  EventType = "plugin-unregistered"
	EventBundleRegistered    EventType = "bundle-registered"
	EventBundleUnregistered  EventType = "bundle-unregistered"
	EventStatusUpdated       EventType = "plugin-status-updated"
	EventPluginLoaded        EventType = "plugin-loaded"
	EventPluginUnloaded      EventType = "plugin-unloaded"
	EventOperationStarted    EventType = "operation-started"
	EventOperationCompleted  EventType = "operation-completed"
	EventOperationFailed     EventType = "operation-failed"
	EventViolationWarn       EventType = "violation-warn"
	EventViolationThrottle   EventType = "violation-throttle"
	EventViolationTerminate  EventType = "violation-terminate"
	EventMonitorTick         EventType = "monitor-tick"
	EventPluginAutoDisabled  EventType = "plugin-auto-disabled"
	EventExecutionCompleted  EventType = "execution-completed"
	EventExecutionFailed     EventType = "execution-failed"
)

// Event is an immutable record of something that happened inside the
// runtime. Data carries event-specific payload values; consumers must
// treat it as read-only.
type Event struct {
	ID       string
	Type     EventType
	PluginID string
	Time     time.Time
	Data     map[string]interface{}
}

// Publisher is the producer side of the event stream. Publish must not
// block: implementations deliver on bounded buffers and account for
// dropped events rather than stalling a mutation path.
type Publisher interface {
	Publish(event Event)
}

// Subscription is the consumer side of the event stream.
type Subscription interface {
	// Events returns the channel events are delivered on. The channel is
	// closed when the subscription is cancelled or the bus shuts down.
	Events() <-chan Event

	// Dropped reports how many events were discarded because this
	// subscriber's buffer was full.
	Dropped() uint64

	// Cancel stops delivery and releases the subscription.
	Cancel()
}

// NopPublisher discards all events. Used as the default so domain
// services never need a nil check before publishing.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(Event) {}

// Ensure NopPublisher implements Publisher.
var _ Publisher = NopPublisher{}
