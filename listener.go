package appcontext

import (
	"context"
	"slices"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Listener is notified of events published on a context.
// Listeners run synchronously on the publishing goroutine.
type Listener interface {
	// OnEvent handles one event. Returning an error aborts delivery of this
	// event to the remaining listeners and is returned to the publisher.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ListenerID returns a unique identifier for this listener.
	// A listener reachable both directly and by component name is invoked
	// once per event.
	ListenerID() string
}

// EventTypeFilter restricts a listener to some event types. An event matches
// when its type or its payload type hint is listed.
type EventTypeFilter interface {
	EventTypes() []string
}

// FunctionalListener provides a simple way to create listeners using functions.
type FunctionalListener struct {
	id         string
	handler    func(ctx context.Context, event cloudevents.Event) error
	eventTypes []string
}

// NewListener creates a listener calling handler. When eventTypes are given
// only those event types are delivered.
func NewListener(id string, handler func(ctx context.Context, event cloudevents.Event) error, eventTypes ...string) *FunctionalListener {
	return &FunctionalListener{
		id:         id,
		handler:    handler,
		eventTypes: eventTypes,
	}
}

// OnEvent implements the Listener interface by calling the handler function.
func (f *FunctionalListener) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ListenerID implements the Listener interface by returning the listener ID.
func (f *FunctionalListener) ListenerID() string {
	return f.id
}

// EventTypes implements EventTypeFilter; nil means every event
func (f *FunctionalListener) EventTypes() []string {
	return f.eventTypes
}

// supportsEvent reports whether listener wants an event with the given type
// and hint
func supportsEvent(listener Listener, eventType, hint string) bool {
	filter, ok := listener.(EventTypeFilter)
	if !ok {
		return true
	}
	types := filter.EventTypes()
	if len(types) == 0 {
		return true
	}
	return slices.Contains(types, eventType) || slices.Contains(types, hint)
}
