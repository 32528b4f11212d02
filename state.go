package appcontext

import "time"

// State represents the activity state of a context
type State string

const (
	// StateInactive indicates the context was never refreshed or its last
	// refresh failed
	StateInactive State = "inactive"

	// StateActive indicates a successful refresh and no close since
	StateActive State = "active"

	// StateClosed indicates the context was closed
	StateClosed State = "closed"
)

// State derives the current activity state from the active and closed flags
func (c *Context) State() State {
	switch {
	case c.closed.Load():
		return StateClosed
	case c.active.Load():
		return StateActive
	default:
		return StateInactive
	}
}

// IsActive reports whether the context is refreshed and not closed
func (c *Context) IsActive() bool {
	return c.active.Load()
}

// IsClosed reports whether the context was closed
func (c *Context) IsClosed() bool {
	return c.closed.Load()
}

// StartupDate returns the time of the last refresh, or the zero time
func (c *Context) StartupDate() time.Time {
	nanos := c.startupDate.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// assertActive guards read accessors without taking the startup/shutdown
// monitor
func (c *Context) assertActive() error {
	if c.active.Load() {
		return nil
	}
	if c.closed.Load() {
		return &IllegalStateError{ContextID: c.DisplayName(), Reason: ErrContextClosed}
	}
	return &IllegalStateError{ContextID: c.DisplayName(), Reason: ErrContextNotRefreshed}
}
