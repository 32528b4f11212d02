package feeders

import (
	"fmt"

	"github.com/golobby/config/v3/pkg/feeder"
)

// TomlFeeder is a feeder that reads TOML files
type TomlFeeder struct {
	feeder.Toml
	verbose
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) *TomlFeeder {
	return &TomlFeeder{Toml: feeder.Toml{Path: filePath}}
}

// FilePath returns the watched file
func (t *TomlFeeder) FilePath() string {
	return t.Path
}

// FeedProperties reads the TOML document as flattened properties
func (t *TomlFeeder) FeedProperties() (map[string]any, error) {
	t.debug("TomlFeeder: Reading file", "filePath", t.Path)

	var document map[string]any
	if err := t.Feed(&document); err != nil {
		return nil, fmt.Errorf("%w: toml %s: %w", ErrFeedFailed, t.Path, err)
	}

	props := Flatten(document)
	t.debug("TomlFeeder: Loaded properties", "filePath", t.Path, "count", len(props))
	return props, nil
}
