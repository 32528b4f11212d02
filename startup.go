package appcontext

import (
	"slices"
	"sync"
	"time"
)

// StartupStep describes one refresh stage as it ran
type StartupStep struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	// Err is the stage failure, nil when the stage completed
	Err error
}

// Failed reports whether the stage ended the refresh attempt
func (s StartupStep) Failed() bool { return s.Err != nil }

// StartupRecorder receives a step for every refresh stage that ran,
// including the failing one. Steps are recorded while the context monitor
// is held, so a recorder must not call back into Refresh or Close.
type StartupRecorder interface {
	RecordStep(step StartupStep)
}

// BufferingStartupRecorder keeps the steps of every refresh attempt in
// memory
type BufferingStartupRecorder struct {
	mu    sync.Mutex
	steps []StartupStep
}

// NewBufferingStartupRecorder creates an empty recorder
func NewBufferingStartupRecorder() *BufferingStartupRecorder {
	return &BufferingStartupRecorder{}
}

// RecordStep appends step
func (r *BufferingStartupRecorder) RecordStep(step StartupStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

// Steps returns the recorded steps in order
func (r *BufferingStartupRecorder) Steps() []StartupStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

// Reset drops every recorded step
func (r *BufferingStartupRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = nil
}
