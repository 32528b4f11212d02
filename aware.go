package appcontext

import (
	"context"
	"reflect"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/registry"
)

// EventPublisher publishes events on a context
type EventPublisher interface {
	Publish(ctx context.Context, event cloudevents.Event) error
	PublishPayload(ctx context.Context, payload any) error
}

// ContextAware components receive the owning context before Init
type ContextAware interface {
	SetContext(c *Context)
}

// EnvironmentAware components receive the context environment before Init
type EnvironmentAware interface {
	SetEnvironment(env *environment.Environment)
}

// EventPublisherAware components receive an event publisher before Init
type EventPublisherAware interface {
	SetEventPublisher(publisher EventPublisher)
}

// MessageSourceAware components receive a message source before Init
type MessageSourceAware interface {
	SetMessageSource(messages MessageSource)
}

var awareTypes = []reflect.Type{
	registry.TypeOf[ContextAware](),
	registry.TypeOf[EnvironmentAware](),
	registry.TypeOf[EventPublisherAware](),
	registry.TypeOf[MessageSourceAware](),
}

// awareHook hands context collaborators to components implementing the
// aware interfaces
type awareHook struct {
	c *Context
}

func (h *awareHook) BeforeInit(_ string, instance any) (any, error) {
	if a, ok := instance.(EnvironmentAware); ok {
		a.SetEnvironment(h.c.Environment())
	}
	if a, ok := instance.(EventPublisherAware); ok {
		a.SetEventPublisher(h.c)
	}
	if a, ok := instance.(MessageSourceAware); ok {
		a.SetMessageSource(h.c)
	}
	if a, ok := instance.(ContextAware); ok {
		a.SetContext(h.c)
	}
	return nil, nil
}

func (h *awareHook) AfterInit(string, any) (any, error) {
	return nil, nil
}

// listenerDetector registers created Listener components with the context
// and removes them again when they are destroyed
type listenerDetector struct {
	c *Context
}

func (d *listenerDetector) BeforeInit(string, any) (any, error) {
	return nil, nil
}

func (d *listenerDetector) AfterInit(name string, instance any) (any, error) {
	if l, ok := instance.(Listener); ok {
		d.c.logger.Debug("Detected listener component", "component", name, "listener", l.ListenerID())
		d.c.AddListener(l)
	}
	return nil, nil
}

func (d *listenerDetector) BeforeDestroy(name string, instance any) error {
	l, ok := instance.(Listener)
	if !ok {
		return nil
	}
	if bus, err := d.c.eventBus(); err == nil {
		bus.RemoveListener(l)
		bus.RemoveListenerName(name)
	}
	d.c.removeStaticListener(l)
	return nil
}
