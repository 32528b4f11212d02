package appcontext

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/appcontext/internal/logging"
)

// Event bus errors
var (
	ErrListenerFailed     = errors.New("event listener failed")
	ErrListenerResolution = errors.New("failed to resolve event listener")
)

// Multicaster dispatches events to registered listeners. A component named
// "eventMulticaster" implementing it replaces the default.
type Multicaster interface {
	AddListener(listener Listener)
	AddListenerName(name string)
	RemoveListener(listener Listener)
	RemoveListenerName(name string)
	RemoveAllListeners()
	Multicast(ctx context.Context, event cloudevents.Event, typeHint string) error
}

// ComponentLookup resolves listener components by name at dispatch time
type ComponentLookup interface {
	Resolve(name string) (any, error)
}

// creationTracker is implemented by registries that can tell whether a
// component is currently being created
type creationTracker interface {
	IsInCreation(name string) bool
}

// SimpleMulticaster delivers every event synchronously on the publishing
// goroutine: directly added listeners first, then listeners registered by
// component name. The first listener error stops delivery of that event.
type SimpleMulticaster struct {
	mu        sync.RWMutex
	listeners []Listener
	names     []string
	lookup    ComponentLookup
	logger    Logger
}

// NewSimpleMulticaster creates a multicaster resolving named listeners via lookup
func NewSimpleMulticaster(lookup ComponentLookup, logger Logger) *SimpleMulticaster {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &SimpleMulticaster{lookup: lookup, logger: logger}
}

// AddListener appends listener; a listener with the same ID is replaced and
// moved to the end
func (m *SimpleMulticaster) AddListener(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := listener.ListenerID()
	m.listeners = slices.DeleteFunc(m.listeners, func(l Listener) bool { return l.ListenerID() == id })
	m.listeners = append(m.listeners, listener)
}

// AddListenerName registers a listener component resolved at dispatch time
func (m *SimpleMulticaster) AddListenerName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.names, name) {
		m.names = append(m.names, name)
	}
}

// RemoveListener removes the listener with the same ID
func (m *SimpleMulticaster) RemoveListener(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := listener.ListenerID()
	m.listeners = slices.DeleteFunc(m.listeners, func(l Listener) bool { return l.ListenerID() == id })
}

// RemoveListenerName removes a named listener
func (m *SimpleMulticaster) RemoveListenerName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = slices.DeleteFunc(m.names, func(n string) bool { return n == name })
}

// RemoveAllListeners drops every listener and listener name
func (m *SimpleMulticaster) RemoveAllListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = nil
	m.names = nil
}

// Multicast delivers event to every interested listener in order
func (m *SimpleMulticaster) Multicast(ctx context.Context, event cloudevents.Event, hint string) error {
	if hint == "" {
		hint = typeHint(event)
	}

	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	names := slices.Clone(m.names)
	m.mu.RUnlock()

	seen := make(map[string]bool, len(listeners)+len(names))
	for _, listener := range listeners {
		if err := m.deliver(ctx, listener, event, hint, seen); err != nil {
			return err
		}
	}

	if m.lookup == nil {
		return nil
	}
	tracker, _ := m.lookup.(creationTracker)
	for _, name := range names {
		if tracker != nil && tracker.IsInCreation(name) {
			m.logger.Debug("Skipping listener still being created", "listener", name, "eventType", event.Type())
			continue
		}
		instance, err := m.lookup.Resolve(name)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrListenerResolution, name, err)
		}
		listener, ok := instance.(Listener)
		if !ok {
			continue
		}
		if err := m.deliver(ctx, listener, event, hint, seen); err != nil {
			return err
		}
	}
	return nil
}

func (m *SimpleMulticaster) deliver(ctx context.Context, listener Listener, event cloudevents.Event, hint string, seen map[string]bool) error {
	id := listener.ListenerID()
	if seen[id] {
		return nil
	}
	seen[id] = true

	if !supportsEvent(listener, event.Type(), hint) {
		return nil
	}
	if err := listener.OnEvent(ctx, event); err != nil {
		return fmt.Errorf("%w: %s handling %s: %w", ErrListenerFailed, id, event.Type(), err)
	}
	return nil
}

// Listeners returns the IDs of directly added listeners followed by the
// registered listener names
func (m *SimpleMulticaster) Listeners() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.listeners)+len(m.names))
	for _, l := range m.listeners {
		ids = append(ids, l.ListenerID())
	}
	return append(ids, m.names...)
}
