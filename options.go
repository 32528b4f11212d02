package appcontext

import (
	"time"

	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/registry"
)

// Option represents a configuration option for the context
type Option func(*Context) error

// WithID sets the context id
func WithID(id string) Option {
	return func(c *Context) error {
		c.id = id
		return nil
	}
}

// WithDisplayName sets the human readable context name
func WithDisplayName(name string) Option {
	return func(c *Context) error {
		c.displayName = name
		return nil
	}
}

// WithParent attaches the context to a parent. The parent environment is
// merged once the context is constructed.
func WithParent(parent Parent) Option {
	return func(c *Context) error {
		c.parent = parent
		return nil
	}
}

// WithLogger sets the logger used for refresh and close diagnostics
func WithLogger(logger Logger) Option {
	return func(c *Context) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithEnvironment replaces the standard environment
func WithEnvironment(env *environment.Environment) Option {
	return func(c *Context) error {
		if env == nil {
			return ErrNilEnvironment
		}
		c.env = env
		return nil
	}
}

// WithProvisioner sets the provisioner handing out the registry per refresh
func WithProvisioner(p registry.Provisioner) Option {
	return func(c *Context) error {
		if p == nil {
			return ErrNilProvisioner
		}
		c.provisioner = p
		return nil
	}
}

// WithInitializer adds a property source initializer run at the start of
// every refresh
func WithInitializer(i Initializer) Option {
	return func(c *Context) error {
		c.initializers = append(c.initializers, i)
		return nil
	}
}

// WithRegistryStrategy adds a strategy run after the registry is prepared
func WithRegistryStrategy(s RegistryStrategy) Option {
	return func(c *Context) error {
		c.registryStrategies = append(c.registryStrategies, s)
		return nil
	}
}

// WithRefreshStrategy adds a strategy run before listeners are registered
func WithRefreshStrategy(s RefreshStrategy) Option {
	return func(c *Context) error {
		c.refreshStrategies = append(c.refreshStrategies, s)
		return nil
	}
}

// WithCloseStrategy adds a strategy run at the end of close
func WithCloseStrategy(s CloseStrategy) Option {
	return func(c *Context) error {
		c.closeStrategies = append(c.closeStrategies, s)
		return nil
	}
}

// WithListener adds a listener before the first refresh
func WithListener(l Listener) Option {
	return func(c *Context) error {
		return c.AddListener(l)
	}
}

// WithRegistryHook adds a programmatic registry hook
func WithRegistryHook(h RegistryHook) Option {
	return func(c *Context) error {
		return c.AddRegistryHook(h)
	}
}

// WithPhaseTimeout sets the per-phase stop timeout of the default lifecycle
// processor
func WithPhaseTimeout(timeout time.Duration) Option {
	return func(c *Context) error {
		if timeout > 0 {
			c.phaseTimeout = timeout
		}
		return nil
	}
}

// WithEnvironmentWatch registers an environment watcher component that
// reloads file-backed property sources and publishes
// EventTypeEnvironmentChanged events
func WithEnvironmentWatch() Option {
	return func(c *Context) error {
		c.watchEnvironment = true
		return nil
	}
}

// WithStartupRecorder records the name, duration and outcome of every
// refresh stage
func WithStartupRecorder(recorder StartupRecorder) Option {
	return func(c *Context) error {
		c.startup = recorder
		return nil
	}
}
