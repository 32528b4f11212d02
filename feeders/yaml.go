package feeders

import (
	"fmt"

	"github.com/golobby/config/v3/pkg/feeder"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	feeder.Yaml
	verbose
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) *YamlFeeder {
	return &YamlFeeder{Yaml: feeder.Yaml{Path: filePath}}
}

// FilePath returns the watched file
func (y *YamlFeeder) FilePath() string {
	return y.Path
}

// FeedProperties reads the YAML document as flattened properties
func (y *YamlFeeder) FeedProperties() (map[string]any, error) {
	y.debug("YamlFeeder: Reading file", "filePath", y.Path)

	var document map[string]any
	if err := y.Feed(&document); err != nil {
		return nil, fmt.Errorf("%w: yaml %s: %w", ErrFeedFailed, y.Path, err)
	}

	props := Flatten(document)
	y.debug("YamlFeeder: Loaded properties", "filePath", y.Path, "count", len(props))
	return props, nil
}
