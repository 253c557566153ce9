package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// YamlManifestParser implements ManifestParser for YAML.
type YamlManifestParser struct{}

// NewYamlManifestParser creates a new YamlManifestParser.
func NewYamlManifestParser() ports.ManifestParser {
	return &YamlManifestParser{}
}

// Parse unmarshals YAML bytes into a Manifest struct.
func (p *YamlManifestParser) Parse(data []byte) (*entities.Manifest, error) {
	var manifest entities.Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}

// YamlConfigParser implements ConfigParser for YAML. Keys absent from the
// document keep their default values.
type YamlConfigParser struct{}

// NewYamlConfigParser creates a new YamlConfigParser.
func NewYamlConfigParser() ports.ConfigParser {
	return &YamlConfigParser{}
}

// Parse unmarshals YAML bytes over entities.DefaultConfig.
func (p *YamlConfigParser) Parse(data []byte) (entities.Config, error) {
	cfg := entities.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return entities.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ParsePlatform unmarshals a host platform description.
func ParsePlatform(data []byte) (*entities.HostPlatform, error) {
	var platform entities.HostPlatform
	if err := yaml.Unmarshal(data, &platform); err != nil {
		return nil, fmt.Errorf("parse platform: %w", err)
	}
	return &platform, nil
}

// ParseMachineState unmarshals an initial register file and entry point.
func ParseMachineState(data []byte) (*entities.MachineState, error) {
	var state entities.MachineState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse machine state: %w", err)
	}
	return &state, nil
}
