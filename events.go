package appcontext

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event is an alias for the CloudEvents Event type for convenience
type Event = cloudevents.Event

// Event types published by the context itself.
// Following CloudEvents specification, these use reverse domain notation.
const (
	EventTypeContextRefreshed   = "com.appcontext.context.refreshed"
	EventTypeContextClosed      = "com.appcontext.context.closed"
	EventTypeContextStarted     = "com.appcontext.context.started"
	EventTypeContextStopped     = "com.appcontext.context.stopped"
	EventTypeEnvironmentChanged = "com.appcontext.environment.changed"
	EventTypePayload            = "com.appcontext.payload"
)

// ExtensionPayloadType carries the Go type of a wrapped payload
const ExtensionPayloadType = "payloadtype"

// ContextEventData is the payload of the context lifecycle events
type ContextEventData struct {
	ContextID   string    `json:"contextId"`
	DisplayName string    `json:"displayName"`
	Timestamp   time.Time `json:"timestamp"`
}

// EnvironmentChangedData is the payload of EventTypeEnvironmentChanged
type EnvironmentChangedData struct {
	Source string   `json:"source"`
	Path   string   `json:"path,omitempty"`
	Keys   []string `json:"keys"`
}

// NewCloudEvent creates a new CloudEvent with the specified parameters.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID generates a unique identifier for CloudEvents using UUIDv7.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}

// ValidateEvent checks an event against the CloudEvents specification
func ValidateEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// NewPayloadEvent wraps an arbitrary payload. The payload's Go type is kept
// in an extension and used as the dispatch type hint.
func NewPayloadEvent(source string, payload any) cloudevents.Event {
	return NewCloudEvent(EventTypePayload, source, payload, map[string]any{
		ExtensionPayloadType: payloadTypeName(payload),
	})
}

func payloadTypeName(payload any) string {
	return fmt.Sprintf("%T", payload)
}

// typeHint returns the hint used for listener filtering
func typeHint(event cloudevents.Event) string {
	if event.Type() == EventTypePayload {
		if v, ok := event.Extensions()[ExtensionPayloadType]; ok {
			return fmt.Sprint(v)
		}
	}
	return event.Type()
}

// DecodeContextEventData decodes the payload of a context lifecycle event
func DecodeContextEventData(event cloudevents.Event) (ContextEventData, error) {
	var data ContextEventData
	if err := event.DataAs(&data); err != nil {
		return data, fmt.Errorf("failed to decode context event data: %w", err)
	}
	return data, nil
}
