package validation

import (
	"bytes"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/datenlord/wbpf-userspace/application/schema"
	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

const manifestResource = "manifest.schema.json"

// DocumentValidator validates raw manifest documents, YAML or JSON, against
// the schema generated from entities.Manifest.
type DocumentValidator struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

// NewDocumentValidator creates a new validator. The schema is compiled on
// first use.
func NewDocumentValidator() ports.DocumentValidator {
	return &DocumentValidator{}
}

func (v *DocumentValidator) compile() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		raw, err := schema.ManifestSchema()
		if err != nil {
			v.err = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(manifestResource, bytes.NewReader(raw)); err != nil {
			v.err = fmt.Errorf("add manifest schema: %w", err)
			return
		}
		v.schema, v.err = c.Compile(manifestResource)
	})
	return v.schema, v.err
}

// ValidateDocument checks data against the manifest schema. Schema failures
// are reported in the result, one entry per failing location.
func (v *DocumentValidator) ValidateDocument(data []byte) (*entities.ValidationResult, error) {
	sch, err := v.compile()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest document: %w", err)
	}
	// Normalize through JSON so the validator sees JSON value types.
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode manifest document: %w", err)
	}
	var obj any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("prepare manifest document: %w", err)
	}

	result := &entities.ValidationResult{Valid: true}
	if err := sch.Validate(obj); err != nil {
		var ve *jsonschema.ValidationError
		if !stdErrors.As(err, &ve) {
			return nil, fmt.Errorf("validate manifest document: %w", err)
		}
		for _, leaf := range leaves(ve) {
			field := leaf.InstanceLocation
			if field == "" {
				field = "/"
			}
			result.Add(field, leaf.Message)
		}
		if len(result.Errors) == 0 {
			result.Add("/", ve.Error())
		}
	}
	return result, nil
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
