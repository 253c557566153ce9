// Package schema generates JSON Schemas for manifests, runtime configuration
// and host platforms.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// GenerateSchema creates a JSON schema from a Go struct.
// It uses the `invopop/jsonschema` library to reflect on the struct
// and generate a standard JSON Schema (Draft 2020-12).
func GenerateSchema(v interface{}) ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return jsonBytes, nil
}

// ManifestSchema returns the schema of a guest manifest document.
func ManifestSchema() ([]byte, error) {
	return GenerateSchema(&entities.Manifest{})
}

// ConfigSchema returns the schema of the runtime configuration.
func ConfigSchema() ([]byte, error) {
	return GenerateSchema(&entities.Config{})
}

// PlatformSchema returns the schema of a host platform description.
func PlatformSchema() ([]byte, error) {
	return GenerateSchema(&entities.HostPlatform{})
}

var documents = map[string]func() ([]byte, error){
	"manifest": ManifestSchema,
	"config":   ConfigSchema,
	"platform": PlatformSchema,
}

// Documents lists the names accepted by Lookup.
func Documents() []string {
	names := make([]string, 0, len(documents))
	for name := range documents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup generates the schema of a named document type.
func Lookup(name string) ([]byte, error) {
	gen, ok := documents[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q (want one of %v)", name, Documents())
	}
	return gen()
}
