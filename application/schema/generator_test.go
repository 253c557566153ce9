package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func TestGenerateSchema_RequiredFromOmitempty(t *testing.T) {
	type Segment struct {
		Name   string `json:"name"`
		Width  int    `json:"width,omitempty"`
		Length int    `json:"length"`
	}

	raw, err := GenerateSchema(Segment{})
	require.NoError(t, err)

	decoded := decode(t, raw)
	props, ok := decoded["properties"].(map[string]any)
	require.True(t, ok, "properties should be a map")
	assert.Len(t, props, 3)
	assert.ElementsMatch(t, []any{"name", "length"}, decoded["required"])
}

func TestManifestSchema(t *testing.T) {
	raw, err := ManifestSchema()
	require.NoError(t, err)

	decoded := decode(t, raw)
	props, ok := decoded["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"name", "version", "engine", "entries", "data", "imports"} {
		assert.Contains(t, props, key)
	}
	assert.ElementsMatch(t, []any{"name", "version", "engine"}, decoded["required"])
	assert.Contains(t, string(raw), `"wasm"`)
	assert.Contains(t, string(raw), "EntrySpec")
}

func TestConfigSchema(t *testing.T) {
	raw, err := ConfigSchema()
	require.NoError(t, err)

	props, ok := decode(t, raw)["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "timeout")
	assert.Contains(t, props, "memory_size")
	assert.Contains(t, props, "strict_completion")
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"config", "manifest", "platform"}, Documents())
	for _, name := range Documents() {
		raw, err := Lookup(name)
		require.NoError(t, err, name)
		assert.True(t, json.Valid(raw), name)
	}

	_, err := Lookup("nope")
	assert.ErrorContains(t, err, "unknown schema")
}
