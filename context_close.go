package appcontext

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
)

// shutdownHook closes the context when the process receives SIGINT or SIGTERM
type shutdownHook struct {
	stop chan struct{}
	done chan struct{}
}

// Close stops lifecycle components, destroys every component and releases
// the registry. It is a no-op unless the context is active. Failures of
// individual steps do not stop the remaining ones; they are returned as a
// *ShutdownWarning.
//
// A Close from another goroutine waits for a running refresh. The monitor
// is not reentrant, so calling Close from a refresh callback deadlocks.
func (c *Context) Close() error {
	c.monitor.Lock()
	err := c.doClose()
	c.monitor.Unlock()

	c.deregisterShutdownHook()
	return err
}

// doClose performs the close steps; the caller holds the monitor
func (c *Context) doClose() error {
	if !c.active.Load() || c.closed.Load() {
		return nil
	}
	c.closed.Store(true)
	c.logger.Info("Closing context", "id", c.ID(), "displayName", c.DisplayName())

	ctx := context.Background()
	var warnings error

	if err := c.Publish(ctx, c.contextEvent(EventTypeContextClosed)); err != nil {
		c.logger.Warn("Failed to publish context closed event", "error", err)
		warnings = multierr.Append(warnings, fmt.Errorf("publishing %s: %w", EventTypeContextClosed, err))
	}

	if processor, err := c.lifecycleProcessor(); err == nil {
		if err := processor.OnClose(ctx); err != nil {
			c.logger.Warn("Failed to stop lifecycle components", "error", err)
			warnings = multierr.Append(warnings, err)
		}
	}

	c.servicesMu.RLock()
	reg := c.registry
	c.servicesMu.RUnlock()
	if reg != nil {
		if err := reg.DestroyAll(); err != nil {
			c.logger.Warn("Failed to destroy components", "error", err)
			warnings = multierr.Append(warnings, err)
		}
	}

	if err := c.provisioner.Release(); err != nil {
		c.logger.Warn("Failed to release registry", "error", err)
		warnings = multierr.Append(warnings, err)
	}

	for _, strategy := range c.closeStrategies {
		if err := strategy.OnClose(c); err != nil {
			c.logger.Warn("Close strategy failed", "error", err)
			warnings = multierr.Append(warnings, err)
		}
	}

	c.restoreListenerBaseline()

	c.servicesMu.Lock()
	c.multicaster = nil
	c.processor = nil
	c.messages = nil
	c.registry = nil
	c.servicesMu.Unlock()

	c.active.Store(false)

	c.shutdownMu.Lock()
	close(c.closedCh)
	c.shutdownMu.Unlock()

	c.logger.Info("Context closed", "id", c.ID())
	if warnings != nil {
		return &ShutdownWarning{Err: warnings}
	}
	return nil
}

// RegisterShutdownHook closes the context when the process receives SIGINT
// or SIGTERM. Registering twice is a no-op; Close removes the hook.
func (c *Context) RegisterShutdownHook() {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	if c.shutdownHook != nil {
		return
	}

	hook := &shutdownHook{stop: make(chan struct{}), done: make(chan struct{})}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(hook.done)
		defer signal.Stop(signals)

		select {
		case sig := <-signals:
			c.logger.Info("Received signal, closing context", "signal", sig.String())
			c.monitor.Lock()
			err := c.doClose()
			c.monitor.Unlock()
			if err != nil {
				c.logger.Warn("Context closed with warnings", "error", err)
			}

			c.shutdownMu.Lock()
			if c.shutdownHook == hook {
				c.shutdownHook = nil
			}
			c.shutdownMu.Unlock()
		case <-hook.stop:
		}
	}()
	c.shutdownHook = hook
}

// HasShutdownHook reports whether a shutdown hook is registered
func (c *Context) HasShutdownHook() bool {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	return c.shutdownHook != nil
}

func (c *Context) deregisterShutdownHook() {
	c.shutdownMu.Lock()
	hook := c.shutdownHook
	c.shutdownHook = nil
	c.shutdownMu.Unlock()

	if hook != nil {
		close(hook.stop)
		<-hook.done
	}
}

// Done returns a channel closed when the current refresh cycle is closed
func (c *Context) Done() <-chan struct{} {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	return c.closedCh
}

// Run refreshes the context, registers the shutdown hook and blocks until
// the context is closed by a signal or elsewhere
func (c *Context) Run() error {
	return c.RunContext(context.Background())
}

// RunContext is Run that also closes the context when ctx is done
func (c *Context) RunContext(ctx context.Context) error {
	if err := c.Refresh(); err != nil {
		return err
	}
	done := c.Done()
	c.RegisterShutdownHook()

	select {
	case <-ctx.Done():
		c.logger.Info("Run context done, shutting down")
		return c.Close()
	case <-done:
		c.deregisterShutdownHook()
		return nil
	}
}

// Start starts every lifecycle component that is not running and publishes
// a ContextStarted event
func (c *Context) Start() error {
	processor, err := c.lifecycleProcessor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := processor.Start(ctx); err != nil {
		return err
	}
	return c.Publish(ctx, c.contextEvent(EventTypeContextStarted))
}

// Stop stops every running lifecycle component and publishes a
// ContextStopped event
func (c *Context) Stop() error {
	processor, err := c.lifecycleProcessor()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := processor.Stop(ctx); err != nil {
		return err
	}
	return c.Publish(ctx, c.contextEvent(EventTypeContextStopped))
}

// IsRunning reports whether any lifecycle component is running
func (c *Context) IsRunning() bool {
	processor, err := c.lifecycleProcessor()
	if err != nil {
		return false
	}
	return processor.IsRunning()
}
