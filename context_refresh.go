package appcontext

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/lifecycle"
	"github.com/GoCodeAlone/appcontext/registry"
)

var listenerType = registry.TypeOf[Listener]()

// metadataCacheClearer is implemented by registries caching type metadata
type metadataCacheClearer interface {
	ClearMetadataCache()
}

type refreshStage struct {
	name string
	run  func(ctx context.Context) error
}

// Refresh loads or reloads the registry and brings every eager component up.
// On failure, components created so far are destroyed, the context stays
// inactive and the returned *InitializationError names the failed stage.
//
// Refresh and Close share a non-reentrant monitor. Calls from other
// goroutines block until the running refresh returns. Calling Refresh or
// Close from a callback running on the refreshing goroutine deadlocks.
func (c *Context) Refresh() error {
	c.monitor.Lock()
	defer c.monitor.Unlock()

	ctx := context.Background()
	c.logger.Info("Refreshing context", "id", c.ID(), "displayName", c.DisplayName())
	defer c.resetCommonCaches()

	var reg registry.ComponentRegistry
	stages := []refreshStage{
		{StagePrepare, func(context.Context) error { return c.prepareRefresh() }},
		{StageProvision, func(ctx context.Context) error {
			var err error
			reg, err = c.provision(ctx)
			return err
		}},
		{StagePrepareRegistry, func(context.Context) error { return c.prepareRegistry(reg) }},
		{StageRegistryHooks, func(context.Context) error { return c.invokeRegistryHooks(reg) }},
		{StageInstanceHooks, func(context.Context) error { return c.registerInstanceHooks(reg) }},
		{StageMessageSource, func(context.Context) error { return c.initMessageSource(reg) }},
		{StageEventBus, func(context.Context) error { return c.initEventBus(reg) }},
		{StageOnRefresh, func(context.Context) error { return c.runRefreshStrategies() }},
		{StageRegisterListeners, func(ctx context.Context) error { return c.registerListeners(ctx, reg) }},
		{StageInstantiate, func(context.Context) error {
			reg.Freeze()
			return reg.PreInstantiate()
		}},
		{StageFinish, func(ctx context.Context) error { return c.finishRefresh(ctx, reg) }},
	}

	for _, stage := range stages {
		c.logger.Debug("Running refresh stage", "stage", stage.name)
		started := time.Now()
		err := stage.run(ctx)
		if c.startup != nil {
			c.startup.RecordStep(StartupStep{Name: stage.name, Start: started, Duration: time.Since(started), Err: err})
		}
		if err != nil {
			c.logger.Warn("Context initialization failed, cancelling refresh attempt",
				"stage", stage.name, "error", err)
			c.cancelRefresh(ctx, reg)
			return &InitializationError{Stage: stage.name, Err: err}
		}
	}

	c.logger.Info("Context refreshed", "id", c.ID(), "startupDate", c.StartupDate().Format(time.RFC3339Nano))
	return nil
}

func (c *Context) prepareRefresh() error {
	c.startupDate.Store(time.Now().UnixNano())
	c.closed.Store(false)
	c.active.Store(true)

	c.shutdownMu.Lock()
	select {
	case <-c.closedCh:
		c.closedCh = make(chan struct{})
	default:
	}
	c.shutdownMu.Unlock()

	for _, initializer := range c.initializers {
		if err := initializer.InitPropertySources(c.env); err != nil {
			return fmt.Errorf("initializing property sources: %w", err)
		}
	}
	if err := c.env.ValidateRequiredProperties(); err != nil {
		return err
	}

	c.resetListenersToBaseline()
	c.allocateEarlyEvents()
	return nil
}

// provision obtains the registry of this cycle. Lifecycle components of a
// still active previous cycle are stopped and its components destroyed
// first.
func (c *Context) provision(ctx context.Context) (registry.ComponentRegistry, error) {
	if previous, err := c.lifecycleProcessor(); err == nil {
		c.logger.Debug("Stopping lifecycle components of the previous refresh")
		if err := previous.OnClose(ctx); err != nil {
			c.logger.Warn("Failed to stop lifecycle components of the previous refresh", "error", err)
		}
	}
	c.servicesMu.RLock()
	previousReg := c.registry
	c.servicesMu.RUnlock()
	if previousReg != nil {
		c.logger.Debug("Destroying components of the previous refresh")
		if err := previousReg.DestroyAll(); err != nil {
			c.logger.Warn("Failed to destroy components of the previous refresh", "error", err)
		}
	}

	reg, err := c.provisioner.Provision()
	if err != nil {
		return nil, err
	}
	c.servicesMu.Lock()
	c.registry = reg
	c.processor = nil
	c.servicesMu.Unlock()
	return reg, nil
}

// prepareRegistry installs the context collaborators into a freshly
// provisioned registry
func (c *Context) prepareRegistry(reg registry.ComponentRegistry) error {
	reg.RegisterResolvableDependency(registry.TypeOf[*Context](), c)
	reg.RegisterResolvableDependency(registry.TypeOf[EventPublisher](), c)
	reg.RegisterResolvableDependency(registry.TypeOf[registry.ComponentRegistry](), reg)
	reg.RegisterResolvableDependency(registry.TypeOf[*environment.Environment](), c.env)
	for _, t := range awareTypes {
		reg.IgnoreAutowireFor(t)
	}

	reg.AddInstanceHook(c.aware)
	reg.AddInstanceHook(c.detector)
	reg.SetValueResolver(c.env.ResolveRequiredPlaceholders)

	singletons := []struct {
		name     string
		instance func() any
	}{
		{EnvironmentName, func() any { return c.env }},
		{SystemPropertiesName, func() any { return c.systemSource(environment.SystemPropertiesSourceName, environment.SystemProperties) }},
		{SystemEnvironmentName, func() any { return c.systemSource(environment.SystemEnvironmentSourceName, environment.SystemEnvironment) }},
	}
	for _, s := range singletons {
		if reg.ContainsLocal(s.name) {
			continue
		}
		if err := reg.RegisterSingleton(s.name, s.instance()); err != nil {
			return err
		}
	}

	for _, strategy := range c.registryStrategies {
		if err := strategy.PostProcessRegistry(c, reg); err != nil {
			return err
		}
	}

	if c.watchEnvironment && !reg.ContainsLocal(EnvironmentWatcherName) {
		watcher := environment.NewWatcher(c.env, c.publishEnvironmentChange, environment.WithWatcherLogger(c.logger))
		if err := reg.RegisterSingleton(EnvironmentWatcherName, watcher); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) systemSource(name string, fallback func() *environment.MapSource) environment.PropertySource {
	if source, ok := c.env.Source(name); ok {
		return source
	}
	return fallback()
}

func (c *Context) publishEnvironmentChange(ctx context.Context, change environment.Change) {
	event := NewCloudEvent(EventTypeEnvironmentChanged, c.eventSource(), EnvironmentChangedData{
		Source: change.Source,
		Path:   change.Path,
		Keys:   change.Keys,
	}, nil)
	if err := c.Publish(ctx, event); err != nil {
		c.logger.Error("Failed to publish environment change", "source", change.Source, "error", err)
	}
}

// initMessageSource uses the "messageSource" component when present and a
// delegating source to the parent otherwise
func (c *Context) initMessageSource(reg registry.ComponentRegistry) error {
	parent := c.parentMessageSource()

	var messages MessageSource
	if reg.ContainsLocal(MessageSourceName) {
		instance, err := reg.Resolve(MessageSourceName)
		if err != nil {
			return err
		}
		ms, ok := instance.(MessageSource)
		if !ok {
			return fmt.Errorf("%w: %s is %T", ErrInvalidComponentType, MessageSourceName, instance)
		}
		if h, ok := ms.(HierarchicalMessageSource); ok && parent != nil && h.ParentMessageSource() == nil {
			h.SetParentMessageSource(parent)
		}
		messages = ms
		c.logger.Debug("Using message source component", "type", fmt.Sprintf("%T", ms))
	} else {
		delegating := &DelegatingMessageSource{}
		delegating.SetParentMessageSource(parent)
		if err := reg.RegisterSingleton(MessageSourceName, delegating); err != nil {
			return err
		}
		messages = delegating
		c.logger.Debug("No message source component, using delegating message source")
	}

	c.servicesMu.Lock()
	c.messages = messages
	c.servicesMu.Unlock()
	return nil
}

func (c *Context) parentMessageSource() MessageSource {
	if ms, ok := c.Parent().(MessageSource); ok {
		return ms
	}
	return nil
}

// initEventBus uses the "eventMulticaster" component when present and a
// SimpleMulticaster otherwise
func (c *Context) initEventBus(reg registry.ComponentRegistry) error {
	var bus Multicaster
	if reg.ContainsLocal(EventMulticasterName) {
		instance, err := reg.Resolve(EventMulticasterName)
		if err != nil {
			return err
		}
		m, ok := instance.(Multicaster)
		if !ok {
			return fmt.Errorf("%w: %s is %T", ErrInvalidComponentType, EventMulticasterName, instance)
		}
		bus = m
		c.logger.Debug("Using event multicaster component", "type", fmt.Sprintf("%T", m))
	} else {
		simple := NewSimpleMulticaster(reg, c.logger)
		if err := reg.RegisterSingleton(EventMulticasterName, simple); err != nil {
			return err
		}
		bus = simple
		c.logger.Debug("No event multicaster component, using simple multicaster")
	}

	c.servicesMu.Lock()
	c.multicaster = bus
	c.servicesMu.Unlock()
	return nil
}

func (c *Context) runRefreshStrategies() error {
	for _, strategy := range c.refreshStrategies {
		if err := strategy.OnRefresh(c); err != nil {
			return err
		}
	}
	return nil
}

// registerListeners attaches static and named listeners to the bus and
// dispatches the events published so far
func (c *Context) registerListeners(ctx context.Context, reg registry.ComponentRegistry) error {
	bus, err := c.eventBus()
	if err != nil {
		return err
	}
	for _, l := range c.Listeners() {
		bus.AddListener(l)
	}
	for _, name := range reg.NamesOfType(listenerType, false) {
		bus.AddListenerName(name)
	}
	return c.drainEarlyEvents(ctx, bus)
}

func (c *Context) finishRefresh(ctx context.Context, reg registry.ComponentRegistry) error {
	if cc, ok := reg.(metadataCacheClearer); ok {
		cc.ClearMetadataCache()
	}

	var processor lifecycle.Processor
	if reg.ContainsLocal(LifecycleProcessorName) {
		instance, err := reg.Resolve(LifecycleProcessorName)
		if err != nil {
			return err
		}
		p, ok := instance.(lifecycle.Processor)
		if !ok {
			return fmt.Errorf("%w: %s is %T", ErrInvalidComponentType, LifecycleProcessorName, instance)
		}
		processor = p
	} else {
		processor = lifecycle.NewProcessor(reg,
			lifecycle.WithPhaseTimeout(c.phaseTimeout),
			lifecycle.WithLogger(c.logger),
		)
		if err := reg.RegisterSingleton(LifecycleProcessorName, processor); err != nil {
			return err
		}
	}

	c.servicesMu.Lock()
	c.processor = processor
	c.servicesMu.Unlock()

	if err := processor.OnRefresh(ctx); err != nil {
		return err
	}
	return c.Publish(ctx, c.contextEvent(EventTypeContextRefreshed))
}

// cancelRefresh undoes a failed refresh: running lifecycle components are
// stopped, created components destroyed and the context marked inactive
func (c *Context) cancelRefresh(ctx context.Context, reg registry.ComponentRegistry) {
	if processor, err := c.lifecycleProcessor(); err == nil {
		if err := processor.Stop(ctx); err != nil {
			c.logger.Warn("Failed to stop lifecycle components after failed refresh", "error", err)
		}
	}
	if reg == nil {
		c.servicesMu.RLock()
		reg = c.registry
		c.servicesMu.RUnlock()
	}
	if reg != nil {
		if err := reg.DestroyAll(); err != nil {
			c.logger.Warn("Failed to destroy components after failed refresh", "error", err)
		}
	}

	c.active.Store(false)
	c.discardEarlyEvents()

	c.servicesMu.Lock()
	c.registry = nil
	c.multicaster = nil
	c.processor = nil
	c.messages = nil
	c.servicesMu.Unlock()
}

func (c *Context) resetCommonCaches() {
	c.servicesMu.RLock()
	reg := c.registry
	c.servicesMu.RUnlock()
	if cc, ok := reg.(metadataCacheClearer); ok {
		cc.ClearMetadataCache()
	}
}
