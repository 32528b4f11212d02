package appcontext

import (
	"context"
	"slices"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

type bufferedEvent struct {
	event cloudevents.Event
	hint  string
}

// eventBuffer holds events published during refresh before the event bus
// is wired
type eventBuffer struct {
	events []bufferedEvent
}

// Publish dispatches event to the listeners of this context and then
// forwards it to the parent. During refresh, events are buffered until the
// listeners are registered.
func (c *Context) Publish(ctx context.Context, event cloudevents.Event) error {
	return c.publish(ctx, event, typeHint(event))
}

// PublishPayload publishes payload, wrapping it into a CloudEvent unless it
// already is one. The payload's Go type serves as type hint.
func (c *Context) PublishPayload(ctx context.Context, payload any) error {
	switch ev := payload.(type) {
	case cloudevents.Event:
		return c.Publish(ctx, ev)
	case *cloudevents.Event:
		if ev != nil {
			return c.Publish(ctx, *ev)
		}
	}
	return c.publish(ctx, NewPayloadEvent(c.eventSource(), payload), payloadTypeName(payload))
}

// PublishEvent implements EventSink for child contexts
func (c *Context) PublishEvent(ctx context.Context, event cloudevents.Event, hint string) error {
	return c.publish(ctx, event, hint)
}

func (c *Context) publish(ctx context.Context, event cloudevents.Event, hint string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if hint == "" {
		hint = typeHint(event)
	}

	c.bufferMu.Lock()
	if c.earlyEvents != nil {
		c.earlyEvents.events = append(c.earlyEvents.events, bufferedEvent{event: event, hint: hint})
		c.bufferMu.Unlock()
		c.logger.Debug("Buffered early event", "eventType", event.Type())
	} else {
		c.bufferMu.Unlock()
		bus, err := c.eventBus()
		if err != nil {
			return err
		}
		if err := bus.Multicast(ctx, event, hint); err != nil {
			return err
		}
	}

	if parent := c.Parent(); parent != nil {
		return parent.PublishEvent(ctx, event, hint)
	}
	return nil
}

// drainEarlyEvents dispatches buffered events in publication order and
// discards the buffer, so later events are dispatched immediately
func (c *Context) drainEarlyEvents(ctx context.Context, bus Multicaster) error {
	c.bufferMu.Lock()
	buffer := c.earlyEvents
	c.earlyEvents = nil
	c.bufferMu.Unlock()

	if buffer == nil {
		return nil
	}
	for _, be := range buffer.events {
		if err := bus.Multicast(ctx, be.event, be.hint); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) allocateEarlyEvents() {
	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	c.earlyEvents = &eventBuffer{}
}

func (c *Context) discardEarlyEvents() {
	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	c.earlyEvents = nil
}

// AddListener adds a listener that is not looked up from the registry. It
// is attached to the event bus right away when one is wired.
func (c *Context) AddListener(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	c.servicesMu.RLock()
	bus := c.multicaster
	c.servicesMu.RUnlock()
	if bus != nil {
		bus.AddListener(l)
	}

	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := l.ListenerID()
	c.listeners = slices.DeleteFunc(c.listeners, func(x Listener) bool { return x.ListenerID() == id })
	c.listeners = append(c.listeners, l)
	return nil
}

// RemoveListener detaches a listener added with AddListener
func (c *Context) RemoveListener(l Listener) {
	if l == nil {
		return
	}
	c.servicesMu.RLock()
	bus := c.multicaster
	c.servicesMu.RUnlock()
	if bus != nil {
		bus.RemoveListener(l)
	}
	c.removeStaticListener(l)
}

func (c *Context) removeStaticListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := l.ListenerID()
	c.listeners = slices.DeleteFunc(c.listeners, func(x Listener) bool { return x.ListenerID() == id })
}

// Listeners returns the directly added listeners
func (c *Context) Listeners() []Listener {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	return slices.Clone(c.listeners)
}

// resetListenersToBaseline records the listener baseline on the first
// refresh and restores it on every later one
func (c *Context) resetListenersToBaseline() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if !c.baselineTaken {
		c.earlyListeners = slices.Clone(c.listeners)
		c.baselineTaken = true
		return
	}
	c.listeners = slices.Clone(c.earlyListeners)
}

// restoreListenerBaseline drops listeners added since the baseline was taken
func (c *Context) restoreListenerBaseline() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.baselineTaken {
		c.listeners = slices.Clone(c.earlyListeners)
	}
}
