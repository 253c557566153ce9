package ports

import "github.com/datenlord/wbpf-userspace/domain/entities"

// ManifestParser parses raw YAML bytes into a Manifest.
type ManifestParser interface {
	// Parse unmarshals YAML bytes into a Manifest struct.
	Parse(data []byte) (*entities.Manifest, error)
}

// ConfigParser parses raw YAML bytes into a runtime Config on top of the defaults.
type ConfigParser interface {
	Parse(data []byte) (entities.Config, error)
}

// TemplateEngine expands variables in a raw manifest before it is parsed.
type TemplateEngine interface {
	Render(raw []byte, vars map[string]any) ([]byte, error)
}
