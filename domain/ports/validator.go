package ports

import "github.com/datenlord/wbpf-userspace/domain/entities"

// ManifestValidator validates a parsed manifest.
type ManifestValidator interface {
	// Validate checks struct constraints and returns every failure found.
	Validate(manifest *entities.Manifest) (*entities.ValidationResult, error)
}

// DocumentValidator validates a raw manifest document against its JSON Schema.
type DocumentValidator interface {
	ValidateDocument(data []byte) (*entities.ValidationResult, error)
}
