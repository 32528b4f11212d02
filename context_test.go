package appcontext

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/registry"
)

var errBoom = errors.New("boom")

// eventLog records what happened, in order, across components and listeners
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

func (l *eventLog) count(entry string) int {
	n := 0
	for _, e := range l.all() {
		if e == entry {
			n++
		}
	}
	return n
}

type phasedComponent struct {
	name     string
	phase    int
	manual   bool
	startErr error
	log      *eventLog

	mu      sync.Mutex
	running bool
}

func (p *phasedComponent) Start(context.Context) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	p.log.add("start:" + p.name)
	return nil
}

func (p *phasedComponent) Stop(context.Context) error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.log.add("stop:" + p.name)
	return nil
}

func (p *phasedComponent) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *phasedComponent) Phase() int          { return p.phase }
func (p *phasedComponent) IsAutoStartup() bool { return !p.manual }

type recordingListener struct {
	id  string
	log *eventLog
}

func (l *recordingListener) OnEvent(_ context.Context, event cloudevents.Event) error {
	l.log.add("event:" + event.Type())
	return nil
}

func (l *recordingListener) ListenerID() string { return l.id }

type settings struct {
	value string
}

func recordTo(log *eventLog, prefix string, eventTypes ...string) *FunctionalListener {
	return NewListener(prefix, func(_ context.Context, event cloudevents.Event) error {
		log.add(prefix + ":" + event.Type())
		return nil
	}, eventTypes...)
}

func testEvent(eventType string) cloudevents.Event {
	return NewCloudEvent(eventType, "test", nil, nil)
}

func listenerIDs(listeners []Listener) []string {
	ids := make([]string, 0, len(listeners))
	for _, l := range listeners {
		ids = append(ids, l.ListenerID())
	}
	return ids
}

func TestContext_AccessorsBeforeRefresh(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, StateInactive, c.State())
	assert.True(t, c.StartupDate().IsZero())

	_, err = c.Component("anything")
	require.ErrorIs(t, err, ErrContextNotRefreshed)
	require.ErrorIs(t, err, ErrIllegalState)

	_, err = c.Message("code", nil, "")
	require.ErrorIs(t, err, ErrContextNotRefreshed)

	_, err = c.Registry()
	require.ErrorIs(t, err, ErrContextNotRefreshed)

	err = c.Publish(context.Background(), testEvent("test.custom"))
	require.ErrorIs(t, err, ErrEventBusNotInitialized)

	require.ErrorIs(t, c.Start(), ErrLifecycleNotInitialized)
	assert.False(t, c.IsRunning())
}

func TestContext_AccessorsAfterClose(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	require.NoError(t, c.Close())

	assert.Equal(t, StateClosed, c.State())

	_, err = c.Component(EnvironmentName)
	require.ErrorIs(t, err, ErrContextClosed)
	require.ErrorIs(t, err, ErrIllegalState)

	var stateErr *IllegalStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, c.DisplayName(), stateErr.ContextID)

	_, err = c.ContainsComponent(EnvironmentName)
	require.ErrorIs(t, err, ErrContextClosed)
}

func TestContext_RefreshRegistersStandardComponents(t *testing.T) {
	c, err := New(WithID("main"), WithDisplayName("Main context"))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	defer c.Close()

	assert.Equal(t, StateActive, c.State())
	assert.False(t, c.StartupDate().IsZero())
	assert.Contains(t, c.String(), "Main context")

	for _, name := range []string{
		EnvironmentName, SystemPropertiesName, SystemEnvironmentName,
		MessageSourceName, EventMulticasterName, LifecycleProcessorName,
	} {
		found, err := c.ContainsComponent(name)
		require.NoError(t, err)
		assert.True(t, found, name)
	}

	env, err := GetComponent[*environment.Environment](c, EnvironmentName)
	require.NoError(t, err)
	assert.Same(t, c.Environment(), env)

	_, err = GetComponent[*settings](c, EnvironmentName)
	require.ErrorIs(t, err, ErrInvalidComponentType)

	require.ErrorIs(t, c.SetID("other"), ErrAlreadyRefreshed)
	assert.Equal(t, "main", c.ID())
}

func TestContext_RefreshAndCloseOrder(t *testing.T) {
	log := &eventLog{}
	prov := registry.NewGenericProvisioner()
	reg := prov.Registry()

	var resolved string
	svc := registry.NewDefinition("svc", func(r registry.Resolver) (*settings, error) {
		resolved, _ = r.Property("y")
		return &settings{value: resolved}, nil
	}).WithProperty("x", "${greeting:hi}")
	require.NoError(t, reg.RegisterDefinition(svc))
	require.NoError(t, reg.RegisterDefinition(registry.NewDefinition("listener", func(registry.Resolver) (*recordingListener, error) {
		return &recordingListener{id: "L", log: log}, nil
	})))
	require.NoError(t, reg.RegisterDefinition(registry.NewDefinition("p1", func(registry.Resolver) (*phasedComponent, error) {
		return &phasedComponent{name: "p1", phase: 1, log: log}, nil
	})))
	require.NoError(t, reg.RegisterDefinition(registry.NewDefinition("p0", func(registry.Resolver) (*phasedComponent, error) {
		return &phasedComponent{name: "p0", phase: 0, log: log}, nil
	})))

	rename := RegistryHookFunc(func(reg registry.ComponentRegistry) error {
		def, err := reg.(registry.DefinitionRegistry).Definition("svc")
		if err != nil {
			return err
		}
		def.RenameProperty("x", "y")
		return nil
	})

	c, err := New(WithProvisioner(prov), WithRegistryHook(rename))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())

	assert.Equal(t, "hi", resolved)
	assert.Equal(t, []string{
		"start:p0",
		"start:p1",
		"event:" + EventTypeContextRefreshed,
	}, log.all())
	assert.True(t, c.IsRunning())

	require.NoError(t, c.Close())
	assert.Equal(t, []string{
		"start:p0",
		"start:p1",
		"event:" + EventTypeContextRefreshed,
		"event:" + EventTypeContextClosed,
		"stop:p1",
		"stop:p0",
	}, log.all())
	assert.False(t, c.IsRunning())
}

func TestContext_EarlyEventsDeliveredOnceInOrder(t *testing.T) {
	log := &eventLog{}
	publishEarly := RefreshFunc(func(c *Context) error {
		if err := c.Publish(context.Background(), testEvent("test.early.one")); err != nil {
			return err
		}
		return c.Publish(context.Background(), testEvent("test.early.two"))
	})

	c, err := New(WithListener(recordTo(log, "rec")), WithRefreshStrategy(publishEarly))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	defer c.Close()

	require.NoError(t, c.Publish(context.Background(), testEvent("test.late")))

	assert.Equal(t, []string{
		"rec:test.early.one",
		"rec:test.early.two",
		"rec:" + EventTypeContextRefreshed,
		"rec:test.late",
	}, log.all())
}

func TestContext_PublishPayload(t *testing.T) {
	var got []settings
	listener := NewListener("payloads", func(_ context.Context, event cloudevents.Event) error {
		var s settings
		if err := event.DataAs(&s); err != nil {
			return err
		}
		got = append(got, s)
		return nil
	}, "*appcontext.settings")

	c, err := New(WithListener(listener))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	defer c.Close()

	require.NoError(t, c.PublishPayload(context.Background(), &settings{}))
	require.NoError(t, c.PublishPayload(context.Background(), "ignored"))
	assert.Len(t, got, 1)
}

func TestContext_ListenerErrorFailsPublish(t *testing.T) {
	failing := NewListener("failing", func(context.Context, cloudevents.Event) error {
		return errBoom
	}, "test.custom")

	c, err := New(WithListener(failing))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	defer c.Close()

	err = c.Publish(context.Background(), testEvent("test.custom"))
	require.ErrorIs(t, err, ErrListenerFailed)
	require.ErrorIs(t, err, errBoom)
}

func TestContext_FailedRefreshRollsBack(t *testing.T) {
	log := &eventLog{}
	prov := registry.NewGenericProvisioner()
	reg := prov.Registry()

	res := registry.NewDefinition("resource", func(registry.Resolver) (*settings, error) {
		return &settings{}, nil
	})
	res.DestroyFunc = func(any) error {
		log.add("destroy:resource")
		return nil
	}
	require.NoError(t, reg.RegisterDefinition(res))
	require.NoError(t, reg.RegisterDefinition(registry.NewDefinition("broken", func(registry.Resolver) (*phasedComponent, error) {
		return &phasedComponent{name: "broken", startErr: errBoom, log: log}, nil
	})))

	c, err := New(WithProvisioner(prov), WithListener(recordTo(log, "rec")))
	require.NoError(t, err)

	err = c.Refresh()
	require.Error(t, err)
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageFinish, initErr.Stage)
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, []string{"destroy:resource"}, log.all())
	assert.False(t, c.IsActive())
	assert.False(t, c.IsClosed())
	assert.Equal(t, StateInactive, c.State())

	require.NoError(t, c.Close())
	assert.False(t, c.IsClosed())

	err = c.Publish(context.Background(), testEvent("test.custom"))
	require.ErrorIs(t, err, ErrEventBusNotInitialized)
}

func TestContext_RefreshRetryAfterFailedHook(t *testing.T) {
	attempts := 0
	flaky := RegistryHookFunc(func(registry.ComponentRegistry) error {
		attempts++
		if attempts == 1 {
			return errBoom
		}
		return nil
	})

	c, err := New(WithProvisioner(registry.NewRefreshableProvisioner()), WithRegistryHook(flaky))
	require.NoError(t, err)

	err = c.Refresh()
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageRegistryHooks, initErr.Stage)
	require.ErrorIs(t, err, ErrRegistryHookFailed)
	require.ErrorIs(t, err, errBoom)
	assert.False(t, c.IsActive())
	assert.False(t, c.IsClosed())

	require.NoError(t, c.Close())
	assert.False(t, c.IsClosed())

	require.NoError(t, c.Refresh())
	assert.True(t, c.IsActive())
	assert.Equal(t, 2, attempts)
	require.NoError(t, c.Close())
}

func TestContext_MissingRequiredPropertyFailsPrepare(t *testing.T) {
	env := environment.New()
	env.SetRequiredProperties("db.url")

	c, err := New(WithEnvironment(env))
	require.NoError(t, err)

	err = c.Refresh()
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StagePrepare, initErr.Stage)
	require.ErrorIs(t, err, environment.ErrMissingRequiredProperty)
	assert.False(t, c.IsActive())

	initializer := InitializerFunc(func(env *environment.Environment) error {
		return env.AddFirst(environment.NewMapSource("defaults", map[string]any{"db.url": "postgres://localhost"}))
	})
	c, err = New(WithEnvironment(environment.New()), WithInitializer(initializer))
	require.NoError(t, err)
	c.Environment().SetRequiredProperties("db.url")
	require.NoError(t, c.Refresh())
	defer c.Close()
	assert.Equal(t, "postgres://localhost", c.Environment().PropertyOrDefault("db.url", ""))
}

func TestContext_GenericProvisionerCannotRefreshAfterClose(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	require.NoError(t, c.Close())

	err = c.Refresh()
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageProvision, initErr.Stage)
	require.ErrorIs(t, err, registry.ErrRefreshNotSupported)
	assert.False(t, c.IsActive())
}

func TestContext_CloseIsIdempotent(t *testing.T) {
	log := &eventLog{}
	c, err := New(WithListener(recordTo(log, "rec", EventTypeContextClosed)))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Empty(t, log.all())

	require.NoError(t, c.Refresh())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, 1, log.count("rec:"+EventTypeContextClosed))
	assert.True(t, c.IsClosed())
	assert.False(t, c.IsActive())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}
}

func TestContext_CloseCollectsWarnings(t *testing.T) {
	prov := registry.NewGenericProvisioner()
	res := registry.NewDefinition("resource", func(registry.Resolver) (*settings, error) {
		return &settings{}, nil
	})
	res.DestroyFunc = func(any) error { return errBoom }
	require.NoError(t, prov.Registry().RegisterDefinition(res))

	closed := false
	c, err := New(WithProvisioner(prov), WithCloseStrategy(CloseFunc(func(*Context) error {
		closed = true
		return nil
	})))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())

	err = c.Close()
	var warning *ShutdownWarning
	require.ErrorAs(t, err, &warning)
	require.ErrorIs(t, err, errBoom)
	assert.Len(t, warning.Warnings(), 1)
	assert.True(t, closed, "close strategies run despite earlier failures")
	assert.True(t, c.IsClosed())
}

func TestContext_ListenerBaselineRestoredOnClose(t *testing.T) {
	log := &eventLog{}
	c, err := New(
		WithProvisioner(registry.NewRefreshableProvisioner()),
		WithListener(recordTo(log, "base", "test.custom")),
	)
	require.NoError(t, err)
	require.NoError(t, c.Refresh())

	require.NoError(t, c.AddListener(recordTo(log, "extra", "test.custom")))
	assert.Equal(t, []string{"base", "extra"}, listenerIDs(c.Listeners()))
	require.NoError(t, c.Publish(context.Background(), testEvent("test.custom")))

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"base"}, listenerIDs(c.Listeners()))

	require.NoError(t, c.Refresh())
	defer c.Close()
	require.NoError(t, c.Publish(context.Background(), testEvent("test.custom")))

	assert.Equal(t, 2, log.count("base:test.custom"))
	assert.Equal(t, 1, log.count("extra:test.custom"))
}

func TestContext_ListenerComponentRemovedOnDestroy(t *testing.T) {
	log := &eventLog{}
	prov := registry.NewRefreshableProvisioner(func(reg registry.DefinitionRegistry) error {
		return reg.RegisterDefinition(registry.NewDefinition("audit", func(registry.Resolver) (*recordingListener, error) {
			return &recordingListener{id: "audit", log: log}, nil
		}))
	})

	c, err := New(WithProvisioner(prov))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	assert.Contains(t, listenerIDs(c.Listeners()), "audit")

	require.NoError(t, c.Close())
	assert.Empty(t, c.Listeners())
	assert.Equal(t, 1, log.count("event:"+EventTypeContextRefreshed))
	assert.Equal(t, 1, log.count("event:"+EventTypeContextClosed))
}

func TestContext_ParentChild(t *testing.T) {
	log := &eventLog{}

	parentProv := registry.NewGenericProvisioner()
	messages := NewStaticMessageSource()
	messages.AddMessage("greeting", "", "Hello {0}")
	require.NoError(t, parentProv.Registry().RegisterSingleton(MessageSourceName, messages))

	parent, err := New(WithID("parent"), WithProvisioner(parentProv), WithListener(recordTo(log, "parent", "test.custom")))
	require.NoError(t, err)
	require.NoError(t, parent.Environment().AddFirst(environment.NewMapSource("parentProps", map[string]any{"app.name": "demo"})))
	require.NoError(t, parent.Refresh())
	defer parent.Close()

	child, err := New(WithID("child"), WithParent(parent), WithListener(recordTo(log, "child", "test.custom")))
	require.NoError(t, err)
	require.NoError(t, child.Refresh())

	name, ok := child.Environment().Property("app.name")
	require.True(t, ok)
	assert.Equal(t, "demo", name)

	require.NoError(t, child.Publish(context.Background(), testEvent("test.custom")))
	assert.Equal(t, []string{"child:test.custom", "parent:test.custom"}, log.all())

	require.NoError(t, parent.Publish(context.Background(), testEvent("test.custom")))
	assert.Equal(t, []string{"child:test.custom", "parent:test.custom", "parent:test.custom"}, log.all(),
		"events published on the parent never reach the child")

	msg, err := child.Message("greeting", []any{"child"}, "en_US")
	require.NoError(t, err)
	assert.Equal(t, "Hello child", msg)

	require.NoError(t, child.Close())
	assert.True(t, parent.IsActive(), "closing the child leaves the parent running")
}

func TestContext_ManualStartAndStop(t *testing.T) {
	log := &eventLog{}
	prov := registry.NewGenericProvisioner()
	require.NoError(t, prov.Registry().RegisterDefinition(registry.NewDefinition("worker", func(registry.Resolver) (*phasedComponent, error) {
		return &phasedComponent{name: "worker", manual: true, log: log}, nil
	})))

	c, err := New(WithProvisioner(prov), WithListener(recordTo(log, "rec", EventTypeContextStarted, EventTypeContextStopped)))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	defer c.Close()

	assert.False(t, c.IsRunning())

	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())

	assert.Equal(t, []string{
		"start:worker",
		"rec:" + EventTypeContextStarted,
		"stop:worker",
		"rec:" + EventTypeContextStopped,
	}, log.all())
}

type awareComponent struct {
	ctx       *Context
	env       *environment.Environment
	publisher EventPublisher
	messages  MessageSource
	initSeen  bool
}

func (a *awareComponent) SetContext(c *Context)                       { a.ctx = c }
func (a *awareComponent) SetEnvironment(env *environment.Environment) { a.env = env }
func (a *awareComponent) SetEventPublisher(publisher EventPublisher)  { a.publisher = publisher }
func (a *awareComponent) SetMessageSource(messages MessageSource)     { a.messages = messages }

func (a *awareComponent) Init() error {
	a.initSeen = a.ctx != nil
	return nil
}

func TestContext_AwareComponents(t *testing.T) {
	prov := registry.NewGenericProvisioner()
	require.NoError(t, prov.Registry().RegisterDefinition(registry.NewDefinition("aware", func(registry.Resolver) (*awareComponent, error) {
		return &awareComponent{}, nil
	})))

	var injected *Context
	require.NoError(t, prov.Registry().RegisterDefinition(registry.NewDefinition("consumer", func(r registry.Resolver) (*settings, error) {
		instance, err := r.ResolveByType(registry.TypeOf[*Context]())
		if err != nil {
			return nil, err
		}
		injected = instance.(*Context)
		return &settings{}, nil
	})))

	c, err := New(WithProvisioner(prov))
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	defer c.Close()

	aware, err := GetComponent[*awareComponent](c, "aware")
	require.NoError(t, err)
	assert.Same(t, c, aware.ctx)
	assert.Same(t, c.Environment(), aware.env)
	assert.NotNil(t, aware.publisher)
	assert.NotNil(t, aware.messages)
	assert.True(t, aware.initSeen)
	assert.Same(t, c, injected)
}

func TestContext_ShutdownHook(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.Refresh())

	c.RegisterShutdownHook()
	c.RegisterShutdownHook()
	assert.True(t, c.HasShutdownHook())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	assert.Eventually(t, c.IsClosed, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !c.HasShutdownHook() }, 2*time.Second, 10*time.Millisecond)
}

func TestContext_CloseRemovesShutdownHook(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.Refresh())
	c.RegisterShutdownHook()

	require.NoError(t, c.Close())
	assert.False(t, c.HasShutdownHook())
}

func TestContext_RunContextClosesOnCancel(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.RunContext(ctx) }()

	assert.Eventually(t, c.IsActive, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunContext did not return after cancel")
	}
	assert.True(t, c.IsClosed())
}

func TestContext_RunReturnsWhenClosedElsewhere(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() { result <- c.Run() }()

	assert.Eventually(t, c.IsActive, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestContext_FailedRefreshOverActiveContextDestroysComponents(t *testing.T) {
	t.Run("generic provisioner", func(t *testing.T) {
		log := &eventLog{}
		prov := registry.NewGenericProvisioner()
		res := registry.NewDefinition("resource", func(registry.Resolver) (*settings, error) {
			return &settings{}, nil
		})
		res.DestroyFunc = func(any) error {
			log.add("destroy:resource")
			return nil
		}
		require.NoError(t, prov.Registry().RegisterDefinition(res))
		require.NoError(t, prov.Registry().RegisterDefinition(registry.NewDefinition("worker", func(registry.Resolver) (*phasedComponent, error) {
			return &phasedComponent{name: "worker", log: log}, nil
		})))

		c, err := New(WithProvisioner(prov))
		require.NoError(t, err)
		require.NoError(t, c.Refresh())

		err = c.Refresh()
		var initErr *InitializationError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, StageProvision, initErr.Stage)
		require.ErrorIs(t, err, registry.ErrRefreshNotSupported)

		assert.Equal(t, []string{"start:worker", "stop:worker", "destroy:resource"}, log.all())
		assert.Equal(t, StateInactive, c.State())

		require.NoError(t, c.Close())
		assert.Equal(t, 1, log.count("destroy:resource"))
	})

	t.Run("refreshable provisioner", func(t *testing.T) {
		var destroyed atomic.Int32
		prov := registry.NewRefreshableProvisioner(func(reg registry.DefinitionRegistry) error {
			res := registry.NewDefinition("resource", func(registry.Resolver) (*settings, error) {
				return &settings{}, nil
			})
			res.DestroyFunc = func(any) error {
				destroyed.Add(1)
				return nil
			}
			return reg.RegisterDefinition(res)
		})

		c, err := New(WithProvisioner(prov))
		require.NoError(t, err)
		require.NoError(t, c.Refresh())
		require.NoError(t, c.Refresh())
		assert.Equal(t, int32(1), destroyed.Load())

		require.NoError(t, c.Close())
		assert.Equal(t, int32(2), destroyed.Load())
	})
}

// blockingComponent holds its Start until released
type blockingComponent struct {
	started chan struct{}
	release chan struct{}
	running atomic.Bool
}

func (b *blockingComponent) Start(context.Context) error {
	close(b.started)
	<-b.release
	b.running.Store(true)
	return nil
}

func (b *blockingComponent) Stop(context.Context) error {
	b.running.Store(false)
	return nil
}

func (b *blockingComponent) IsRunning() bool { return b.running.Load() }

func TestContext_CloseWaitsForRunningRefresh(t *testing.T) {
	log := &eventLog{}
	slow := &blockingComponent{started: make(chan struct{}), release: make(chan struct{})}
	prov := registry.NewGenericProvisioner()
	require.NoError(t, prov.Registry().RegisterDefinition(registry.NewDefinition("slow", func(registry.Resolver) (*blockingComponent, error) {
		return slow, nil
	})))

	c, err := New(WithProvisioner(prov),
		WithListener(recordTo(log, "rec", EventTypeContextRefreshed, EventTypeContextClosed)))
	require.NoError(t, err)

	refreshed := make(chan error, 1)
	go func() { refreshed <- c.Refresh() }()

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not reach the lifecycle start")
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	assert.Never(t, func() bool { return len(closed) > 0 }, 200*time.Millisecond, 10*time.Millisecond,
		"close must wait for the refresh in progress")

	close(slow.release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-closed)

	assert.Equal(t, []string{"rec:" + EventTypeContextRefreshed, "rec:" + EventTypeContextClosed}, log.all())
	assert.True(t, c.IsClosed())
	assert.False(t, slow.IsRunning())
}

func TestContext_ListenerAddedDuringFailedRefreshIsDropped(t *testing.T) {
	log := &eventLog{}
	attempts := 0
	prov := registry.NewRefreshableProvisioner(func(reg registry.DefinitionRegistry) error {
		return reg.RegisterDefinition(registry.NewDefinition("flaky", func(registry.Resolver) (*settings, error) {
			if attempts == 1 {
				return nil, errBoom
			}
			return &settings{}, nil
		}))
	})
	strategy := RefreshFunc(func(c *Context) error {
		attempts++
		if attempts == 1 {
			return c.AddListener(recordTo(log, "transient"))
		}
		return nil
	})

	c, err := New(WithProvisioner(prov), WithRefreshStrategy(strategy),
		WithListener(recordTo(log, "static", EventTypeContextRefreshed)))
	require.NoError(t, err)

	err = c.Refresh()
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageInstantiate, initErr.Stage)
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, c.Refresh())
	defer c.Close()

	assert.Equal(t, []string{"static"}, listenerIDs(c.Listeners()))
	assert.Equal(t, []string{"static:" + EventTypeContextRefreshed}, log.all())
}

func TestContext_StartupRecorder(t *testing.T) {
	t.Run("records every stage of a successful refresh", func(t *testing.T) {
		recorder := NewBufferingStartupRecorder()
		c, err := New(WithStartupRecorder(recorder))
		require.NoError(t, err)
		require.NoError(t, c.Refresh())
		defer c.Close()

		steps := recorder.Steps()
		names := make([]string, 0, len(steps))
		for _, step := range steps {
			names = append(names, step.Name)
			assert.False(t, step.Failed(), step.Name)
			assert.False(t, step.Start.IsZero(), step.Name)
			assert.GreaterOrEqual(t, step.Duration, time.Duration(0), step.Name)
		}
		assert.Equal(t, []string{
			StagePrepare, StageProvision, StagePrepareRegistry, StageRegistryHooks,
			StageInstanceHooks, StageMessageSource, StageEventBus, StageOnRefresh,
			StageRegisterListeners, StageInstantiate, StageFinish,
		}, names)
	})

	t.Run("stops at the failing stage", func(t *testing.T) {
		recorder := NewBufferingStartupRecorder()
		prov := registry.NewGenericProvisioner()
		require.NoError(t, prov.Registry().RegisterDefinition(registry.NewDefinition("broken", func(registry.Resolver) (*settings, error) {
			return nil, errBoom
		})))

		c, err := New(WithProvisioner(prov), WithStartupRecorder(recorder))
		require.NoError(t, err)
		require.Error(t, c.Refresh())

		steps := recorder.Steps()
		require.NotEmpty(t, steps)
		last := steps[len(steps)-1]
		assert.Equal(t, StageInstantiate, last.Name)
		assert.True(t, last.Failed())
		require.ErrorIs(t, last.Err, errBoom)
		for _, step := range steps[:len(steps)-1] {
			assert.NoError(t, step.Err, step.Name)
		}

		recorder.Reset()
		assert.Empty(t, recorder.Steps())
	})
}
