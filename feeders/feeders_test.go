package feeders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDebugLogger struct {
	mock.Mock
}

func (m *mockDebugLogger) Debug(msg string, args ...any) {
	m.Called(msg)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestYamlFeeder(t *testing.T) {
	path := writeFile(t, "config.yaml", `
app:
  name: orders
  port: 8080
  tags: [a, b]
  backends:
    - host: one
    - host: two
debug: true
`)

	f := NewYamlFeeder(path)
	assert.Equal(t, path, f.FilePath())

	props, err := f.FeedProperties()
	require.NoError(t, err)
	assert.Equal(t, "orders", props["app.name"])
	assert.Equal(t, 8080, props["app.port"])
	assert.Equal(t, []any{"a", "b"}, props["app.tags"])
	assert.Equal(t, "b", props["app.tags[1]"])
	assert.Equal(t, "two", props["app.backends[1].host"])
	assert.NotContains(t, props, "app.backends")
	assert.Equal(t, true, props["debug"])
}

func TestTomlFeeder(t *testing.T) {
	path := writeFile(t, "config.toml", `
title = "orders"

[server]
port = 9090

[[workers]]
name = "first"

[[workers]]
name = "second"
`)

	props, err := NewTomlFeeder(path).FeedProperties()
	require.NoError(t, err)
	assert.Equal(t, "orders", props["title"])
	assert.EqualValues(t, 9090, props["server.port"])
	assert.Equal(t, "second", props["workers[1].name"])
}

func TestJSONFeeder(t *testing.T) {
	path := writeFile(t, "config.json", `{"db": {"url": "postgres://localhost", "pool": 4}, "empty": {}}`)

	props, err := NewJSONFeeder(path).FeedProperties()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost", props["db.url"])
	assert.InDelta(t, 4, props["db.pool"], 0)
	assert.NotContains(t, props, "empty")
}

func TestFileFeeders_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	for _, f := range []FileFeeder{
		NewYamlFeeder(missing + ".yaml"),
		NewTomlFeeder(missing + ".toml"),
		NewJSONFeeder(missing + ".json"),
		NewDotEnvFeeder(missing + ".env"),
	} {
		_, err := f.FeedProperties()
		assert.ErrorIs(t, err, ErrFeedFailed, f.FilePath())
	}
}

func TestDotEnvFeeder(t *testing.T) {
	path := writeFile(t, ".env", `
# database
DB_URL="postgres://localhost/app"
export API_KEY='secret'
PLAIN=value # trailing comment
EMPTY=
`)

	props, err := NewDotEnvFeeder(path).FeedProperties()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"DB_URL":  "postgres://localhost/app",
		"API_KEY": "secret",
		"PLAIN":   "value",
		"EMPTY":   "",
	}, props)
}

func TestDotEnvFeeder_InvalidLine(t *testing.T) {
	path := writeFile(t, ".env", "VALID=1\nnot a pair\n")

	_, err := NewDotEnvFeeder(path).FeedProperties()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDotEnvInvalidLineFormat)
	assert.Contains(t, err.Error(), "line 2")
}

func TestEnvFeeder(t *testing.T) {
	t.Setenv("APPCTX_TEST_DB_URL", "postgres://env")
	t.Setenv("APPCTX_TEST_WORKERS", "3")
	t.Setenv("OTHER_VALUE", "ignored")

	props, err := NewEnvFeeder("APPCTX_TEST_").FeedProperties()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", props["db.url"])
	assert.Equal(t, "3", props["workers"])
	assert.NotContains(t, props, "other.value")
}

func TestForFile(t *testing.T) {
	tests := map[string]any{
		"a.yaml": &YamlFeeder{},
		"a.yml":  &YamlFeeder{},
		"a.toml": &TomlFeeder{},
		"a.JSON": &JSONFeeder{},
		".env":   &DotEnvFeeder{},
	}
	for name, want := range tests {
		f, err := ForFile(name)
		require.NoError(t, err, name)
		assert.IsType(t, want, f, name)
	}

	_, err := ForFile("config.ini")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestVerboseDebug(t *testing.T) {
	path := writeFile(t, "config.yaml", "a: 1\n")
	logger := new(mockDebugLogger)
	logger.On("Debug", mock.Anything).Return()

	f := NewYamlFeeder(path)
	f.SetVerboseDebug(true, logger)
	_, err := f.FeedProperties()
	require.NoError(t, err)

	logger.AssertCalled(t, "Debug", "Verbose feeder debugging enabled")
	logger.AssertCalled(t, "Debug", "YamlFeeder: Loaded properties")
}

func TestFlatten(t *testing.T) {
	doc := map[string]any{
		"a": map[any]any{"b": 1},
		"c": []any{map[string]any{"d": "x"}, "y"},
	}
	props := Flatten(doc)
	assert.Equal(t, map[string]any{"a.b": 1, "c[0].d": "x", "c[1]": "y"}, props)
}
