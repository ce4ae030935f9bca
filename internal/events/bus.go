package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Each subscriber receives events
// on its own goroutine in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its concrete type.
// Usage: bus.Publish(JobEndedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case JobStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case JobLogLineEvent:
		event.Publish(b.dispatcher, e)
	case JobEndedEvent:
		event.Publish(b.dispatcher, e)
	case AutoStartDecisionEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type in its signature and
// returns an unsubscribe function. Unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e JobLogLineEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(JobStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(JobLogLineEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(JobEndedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(AutoStartDecisionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
