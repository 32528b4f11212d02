package appcontext

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Context errors
var (
	// State errors
	ErrIllegalState        = errors.New("illegal context state")
	ErrContextNotRefreshed = errors.New("context has not been refreshed yet")
	ErrContextClosed       = errors.New("context has been closed already")
	ErrAlreadyRefreshed    = errors.New("identity cannot change after refresh")

	// Service errors
	ErrEventBusNotInitialized      = errors.New("event multicaster not initialized, call Refresh before publishing events")
	ErrLifecycleNotInitialized     = errors.New("lifecycle processor not initialized, call Refresh before invoking lifecycle methods")
	ErrMessageSourceNotInitialized = errors.New("message source not initialized, call Refresh before accessing messages")
	ErrNoSuchMessage               = errors.New("no message found")
	ErrInvalidComponentType        = errors.New("component does not have the expected type")

	// Option errors
	ErrNilProvisioner = errors.New("provisioner is nil")
	ErrNilEnvironment = errors.New("environment is nil")
	ErrNilListener    = errors.New("listener is nil")
	ErrNilHook        = errors.New("registry hook is nil")
)

// Refresh stages, used in errors and logs
const (
	StagePrepare           = "prepare"
	StageProvision         = "provision"
	StagePrepareRegistry   = "prepareRegistry"
	StageRegistryHooks     = "registryHooks"
	StageInstanceHooks     = "instanceHooks"
	StageMessageSource     = "messageSource"
	StageEventBus          = "eventBus"
	StageOnRefresh         = "onRefresh"
	StageRegisterListeners = "registerListeners"
	StageInstantiate       = "instantiate"
	StageFinish            = "finish"
)

// InitializationError reports the refresh stage that failed and its cause
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("context initialization failed in stage %s: %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// IllegalStateError is returned by accessors used on a context that is not
// active. It matches ErrIllegalState as well as the specific reason.
type IllegalStateError struct {
	ContextID string
	Reason    error
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("%s: %v", e.ContextID, e.Reason)
}

func (e *IllegalStateError) Unwrap() []error {
	return []error{ErrIllegalState, e.Reason}
}

// ShutdownWarning aggregates the non-fatal failures of a close. Every close
// step runs even when an earlier one failed.
type ShutdownWarning struct {
	Err error
}

func (w *ShutdownWarning) Error() string {
	return fmt.Sprintf("context closed with warnings: %v", w.Err)
}

func (w *ShutdownWarning) Unwrap() []error {
	return multierr.Errors(w.Err)
}

// Warnings returns the individual failures
func (w *ShutdownWarning) Warnings() []error {
	return multierr.Errors(w.Err)
}
