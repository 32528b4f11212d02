// Package admin exposes a read-mostly HTTP view of an application context.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/appcontext"
	"github.com/GoCodeAlone/appcontext/internal/logging"
	"github.com/GoCodeAlone/appcontext/registry"
)

// Inspector is the part of an application context served by the router.
// *appcontext.Context implements it.
type Inspector interface {
	ID() string
	DisplayName() string
	State() appcontext.State
	StartupDate() time.Time
	IsActive() bool
	IsRunning() bool
	ComponentNames() ([]string, error)
	Component(name string) (any, error)
	Start() error
	Stop() error
}

// ContextInfo is the body of GET /context
type ContextInfo struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	State       appcontext.State `json:"state"`
	StartupDate *time.Time       `json:"startupDate,omitempty"`
	Running     bool             `json:"running"`
}

// ComponentInfo is the body of GET /components/{name}
type ComponentInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Running *bool  `json:"running,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	target Inspector
	logger Logger
}

// RouterOption configures NewRouter
type RouterOption func(*handler)

// WithRouterLogger sets the logger used for background lifecycle failures
func WithRouterLogger(logger Logger) RouterOption {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewRouter builds the admin routes for target. POST /lifecycle/stop
// answers 202 and stops in the background, since stopping may shut down
// the server handling the request.
func NewRouter(target Inspector, opts ...RouterOption) chi.Router {
	h := &handler{target: target, logger: logging.Nop{}}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/context", h.contextInfo)
	r.Route("/components", func(r chi.Router) {
		r.Get("/", h.listComponents)
		r.Get("/{name}", h.component)
	})
	r.Route("/lifecycle", func(r chi.Router) {
		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
	})
	return r
}

func (h *handler) contextInfo(w http.ResponseWriter, _ *http.Request) {
	info := ContextInfo{
		ID:          h.target.ID(),
		DisplayName: h.target.DisplayName(),
		State:       h.target.State(),
		Running:     h.target.IsActive() && h.target.IsRunning(),
	}
	if started := h.target.StartupDate(); !started.IsZero() {
		info.StartupDate = &started
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) listComponents(w http.ResponseWriter, _ *http.Request) {
	names, err := h.target.ComponentNames()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"components": names})
}

func (h *handler) component(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	instance, err := h.target.Component(name)
	if err != nil {
		writeError(w, err)
		return
	}

	info := ComponentInfo{Name: name, Type: fmt.Sprintf("%T", instance)}
	if running, ok := instance.(interface{ IsRunning() bool }); ok {
		state := running.IsRunning()
		info.Running = &state
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) start(w http.ResponseWriter, _ *http.Request) {
	if err := h.target.Start(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (h *handler) stop(w http.ResponseWriter, _ *http.Request) {
	if !h.target.IsActive() {
		reason := appcontext.ErrContextNotRefreshed
		if h.target.State() == appcontext.StateClosed {
			reason = appcontext.ErrContextClosed
		}
		writeError(w, &appcontext.IllegalStateError{ContextID: h.target.ID(), Reason: reason})
		return
	}
	go func() {
		if err := h.target.Stop(); err != nil {
			h.logger.Error("Admin stop request failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"stopping": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrComponentNotFound):
		return http.StatusNotFound
	case errors.Is(err, appcontext.ErrIllegalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
