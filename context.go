// Package appcontext drives the refresh and close protocol of a managed
// component container.
//
// A Context owns a component registry handed out by a provisioner. Refresh
// runs registry hooks, installs instance hooks, wires the message source, the
// event bus and the lifecycle processor, creates every eager component and
// finally starts lifecycle components and publishes a ContextRefreshed event.
// Close reverses this in a best-effort manner.
//
// Basic usage:
//
//	prov := registry.NewGenericProvisioner()
//	prov.Registry().RegisterDefinition(registry.NewDefinition("server", newServer))
//	ctx, err := appcontext.New(appcontext.WithProvisioner(prov))
//	if err != nil { ... }
//	if err := ctx.Refresh(); err != nil { ... }
//	defer ctx.Close()
package appcontext

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/internal/logging"
	"github.com/GoCodeAlone/appcontext/lifecycle"
	"github.com/GoCodeAlone/appcontext/registry"
)

// Well-known component names
const (
	MessageSourceName        = "messageSource"
	EventMulticasterName     = "eventMulticaster"
	LifecycleProcessorName   = "lifecycleProcessor"
	EnvironmentName          = "environment"
	SystemPropertiesName     = "systemProperties"
	SystemEnvironmentName    = "systemEnvironment"
	EnvironmentWatcherName   = "environmentWatcher"
	defaultIDPrefix          = "appcontext-"
	defaultEventSourcePrefix = "appcontext/"
)

// EventSink receives events forwarded from child contexts. Any context
// variant can be a parent by implementing it.
type EventSink interface {
	PublishEvent(ctx context.Context, event cloudevents.Event, typeHint string) error
}

// Parent is a context that child contexts attach to. The child merges the
// parent's environment and forwards its events to it.
type Parent interface {
	EventSink
	Environment() *environment.Environment
}

// Context is the lifecycle orchestrator of a component registry.
type Context struct {
	idMu        sync.RWMutex
	id          string
	displayName string
	parent      Parent

	logger      Logger
	env         *environment.Environment
	provisioner registry.Provisioner

	initializers       []Initializer
	registryStrategies []RegistryStrategy
	refreshStrategies  []RefreshStrategy
	closeStrategies    []CloseStrategy
	phaseTimeout       time.Duration
	watchEnvironment   bool
	startup            StartupRecorder

	hooksMu       sync.RWMutex
	registryHooks []RegistryHook

	// monitor serializes Refresh, Close and the shutdown hook
	monitor     sync.Mutex
	active      atomic.Bool
	closed      atomic.Bool
	startupDate atomic.Int64

	listenersMu    sync.RWMutex
	listeners      []Listener
	earlyListeners []Listener
	baselineTaken  bool

	bufferMu    sync.Mutex
	earlyEvents *eventBuffer

	servicesMu  sync.RWMutex
	registry    registry.ComponentRegistry
	multicaster Multicaster
	processor   lifecycle.Processor
	messages    MessageSource

	aware    *awareHook
	detector *listenerDetector

	shutdownMu   sync.Mutex
	shutdownHook *shutdownHook
	closedCh     chan struct{}
}

// New creates a context configured by opts. Without WithProvisioner the
// context uses a fresh registry.GenericProvisioner and without
// WithEnvironment the standard environment.
func New(opts ...Option) (*Context, error) {
	c := &Context{
		id:           defaultIDPrefix + uuid.NewString(),
		logger:       logging.Nop{},
		phaseTimeout: lifecycle.DefaultPhaseTimeout,
		closedCh:     make(chan struct{}),
	}
	c.aware = &awareHook{c: c}
	c.detector = &listenerDetector{c: c}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply context option: %w", err)
		}
	}

	if c.env == nil {
		c.env = environment.NewStandard()
	}
	if c.provisioner == nil {
		c.provisioner = registry.NewGenericProvisioner()
	}
	if c.parent != nil {
		c.env.Merge(c.parent.Environment())
	}
	return c, nil
}

// ID returns the unique context id
func (c *Context) ID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

// SetID changes the id; only allowed before the first refresh
func (c *Context) SetID(id string) error {
	if c.StartupDate() != (time.Time{}) {
		return ErrAlreadyRefreshed
	}
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.id = id
	return nil
}

// DisplayName returns the human readable name, defaulting to the id
func (c *Context) DisplayName() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	if c.displayName == "" {
		return c.id
	}
	return c.displayName
}

// SetDisplayName changes the display name; only allowed before the first refresh
func (c *Context) SetDisplayName(name string) error {
	if c.StartupDate() != (time.Time{}) {
		return ErrAlreadyRefreshed
	}
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.displayName = name
	return nil
}

// Parent returns the parent context, or nil
func (c *Context) Parent() Parent {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.parent
}

// SetParent attaches the context to parent and merges the parent environment.
// The parent is referenced only; the child never closes it.
func (c *Context) SetParent(parent Parent) {
	c.idMu.Lock()
	c.parent = parent
	c.idMu.Unlock()

	if parent != nil {
		c.env.Merge(parent.Environment())
	}
}

// Environment returns the context environment
func (c *Context) Environment() *environment.Environment {
	return c.env
}

// Logger returns the context logger
func (c *Context) Logger() Logger {
	return c.logger
}

// AddRegistryHook appends a hook run on every refresh after the hooks found
// in the registry
func (c *Context) AddRegistryHook(hook RegistryHook) error {
	if hook == nil {
		return ErrNilHook
	}
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.registryHooks = append(c.registryHooks, hook)
	return nil
}

// RegistryHooks returns the programmatically added hooks
func (c *Context) RegistryHooks() []RegistryHook {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return slices.Clone(c.registryHooks)
}

// Registry returns the registry of the running cycle
func (c *Context) Registry() (registry.ComponentRegistry, error) {
	if err := c.assertActive(); err != nil {
		return nil, err
	}
	return c.currentRegistry()
}

func (c *Context) currentRegistry() (registry.ComponentRegistry, error) {
	c.servicesMu.RLock()
	defer c.servicesMu.RUnlock()
	if c.registry == nil {
		return nil, &IllegalStateError{ContextID: c.DisplayName(), Reason: ErrContextNotRefreshed}
	}
	return c.registry, nil
}

// Component returns the component registered under name
func (c *Context) Component(name string) (any, error) {
	if err := c.assertActive(); err != nil {
		return nil, err
	}
	reg, err := c.currentRegistry()
	if err != nil {
		return nil, err
	}
	return reg.Resolve(name)
}

// ComponentByType returns the single component of type t
func (c *Context) ComponentByType(t reflect.Type) (any, error) {
	if err := c.assertActive(); err != nil {
		return nil, err
	}
	reg, err := c.currentRegistry()
	if err != nil {
		return nil, err
	}
	return reg.ResolveByType(t)
}

// ComponentNamesOfType lists the names of components of type t without
// creating lazy components
func (c *Context) ComponentNamesOfType(t reflect.Type) ([]string, error) {
	if err := c.assertActive(); err != nil {
		return nil, err
	}
	reg, err := c.currentRegistry()
	if err != nil {
		return nil, err
	}
	return reg.NamesOfType(t, false), nil
}

// ContainsComponent reports whether name is registered
func (c *Context) ContainsComponent(name string) (bool, error) {
	if err := c.assertActive(); err != nil {
		return false, err
	}
	reg, err := c.currentRegistry()
	if err != nil {
		return false, err
	}
	return reg.ContainsLocal(name), nil
}

// ComponentNames returns the definition names of the registry in
// registration order, when the registry exposes them
func (c *Context) ComponentNames() ([]string, error) {
	if err := c.assertActive(); err != nil {
		return nil, err
	}
	reg, err := c.currentRegistry()
	if err != nil {
		return nil, err
	}
	if defReg, ok := reg.(registry.DefinitionRegistry); ok {
		return defReg.DefinitionNames(), nil
	}
	return reg.NamesOfType(registry.TypeOf[any](), false), nil
}

// Message resolves a message through the context message source
func (c *Context) Message(code string, args []any, locale string) (string, error) {
	if err := c.assertActive(); err != nil {
		return "", err
	}
	messages, err := c.messageSource()
	if err != nil {
		return "", err
	}
	return messages.Message(code, args, locale)
}

// GetComponent resolves name from c and asserts its type
func GetComponent[T any](c *Context, name string) (T, error) {
	var zero T
	instance, err := c.Component(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, not %v", ErrInvalidComponentType, name, instance, registry.TypeOf[T]())
	}
	return typed, nil
}

// GetComponentByType resolves the single component of type T from c
func GetComponentByType[T any](c *Context) (T, error) {
	var zero T
	instance, err := c.ComponentByType(registry.TypeOf[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T is not %v", ErrInvalidComponentType, instance, registry.TypeOf[T]())
	}
	return typed, nil
}

func (c *Context) eventBus() (Multicaster, error) {
	c.servicesMu.RLock()
	defer c.servicesMu.RUnlock()
	if c.multicaster == nil {
		return nil, &IllegalStateError{ContextID: c.DisplayName(), Reason: ErrEventBusNotInitialized}
	}
	return c.multicaster, nil
}

func (c *Context) lifecycleProcessor() (lifecycle.Processor, error) {
	c.servicesMu.RLock()
	defer c.servicesMu.RUnlock()
	if c.processor == nil {
		return nil, &IllegalStateError{ContextID: c.DisplayName(), Reason: ErrLifecycleNotInitialized}
	}
	return c.processor, nil
}

func (c *Context) messageSource() (MessageSource, error) {
	c.servicesMu.RLock()
	defer c.servicesMu.RUnlock()
	if c.messages == nil {
		return nil, &IllegalStateError{ContextID: c.DisplayName(), Reason: ErrMessageSourceNotInitialized}
	}
	return c.messages, nil
}

func (c *Context) eventSource() string {
	return defaultEventSourcePrefix + c.ID()
}

func (c *Context) contextEvent(eventType string) cloudevents.Event {
	return NewCloudEvent(eventType, c.eventSource(), ContextEventData{
		ContextID:   c.ID(),
		DisplayName: c.DisplayName(),
		Timestamp:   time.Now(),
	}, nil)
}

func (c *Context) String() string {
	return fmt.Sprintf("%s, started on %s", c.DisplayName(), c.StartupDate().Format(time.RFC3339))
}
