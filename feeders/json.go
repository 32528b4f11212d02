package feeders

import (
	"fmt"

	"github.com/golobby/config/v3/pkg/feeder"
)

// JSONFeeder is a feeder that reads JSON files
type JSONFeeder struct {
	feeder.Json
	verbose
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) *JSONFeeder {
	return &JSONFeeder{Json: feeder.Json{Path: filePath}}
}

// FilePath returns the watched file
func (j *JSONFeeder) FilePath() string {
	return j.Path
}

// FeedProperties reads the JSON document as flattened properties. Numbers
// arrive as float64.
func (j *JSONFeeder) FeedProperties() (map[string]any, error) {
	j.debug("JSONFeeder: Reading file", "filePath", j.Path)

	var document map[string]any
	if err := j.Feed(&document); err != nil {
		return nil, fmt.Errorf("%w: json %s: %w", ErrFeedFailed, j.Path, err)
	}

	props := Flatten(document)
	j.debug("JSONFeeder: Loaded properties", "filePath", j.Path, "count", len(props))
	return props, nil
}
