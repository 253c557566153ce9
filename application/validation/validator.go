// Package validation checks manifests, runtime configuration and host
// platforms before anything is loaded.
package validation

import (
	stdErrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
)

// validate is shared; validator caches struct metadata per instance.
var validate = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ManifestValidator checks struct tags and the cross-field rules a manifest
// must satisfy before its imports are resolved.
type ManifestValidator struct{}

// NewManifestValidator creates a new validator.
func NewManifestValidator() ports.ManifestValidator {
	return &ManifestValidator{}
}

// Validate checks the manifest. Failures are collected in the result; the
// error return is reserved for a validator that cannot run at all.
func (v *ManifestValidator) Validate(manifest *entities.Manifest) (*entities.ValidationResult, error) {
	if manifest == nil {
		return nil, fmt.Errorf("validate manifest: nil manifest")
	}
	result := &entities.ValidationResult{Valid: true}
	if err := structErrors(manifest, result); err != nil {
		return nil, err
	}

	entries := make(map[string]bool, len(manifest.Entries))
	noReturn := false
	for i, e := range manifest.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if entries[e.Name] {
			result.Add(field+".name", fmt.Sprintf("duplicate entry %q", e.Name))
		}
		entries[e.Name] = true
		if e.NoReturn {
			noReturn = true
			if len(e.Results) > 0 {
				result.Add(field+".results", "noreturn entries report their result through "+hostfuncs.CompleteFunc)
			}
		}
	}

	segments := make(map[string]bool, len(manifest.Data))
	for i, d := range manifest.Data {
		if segments[d.Name] {
			result.Add(fmt.Sprintf("data[%d].name", i), fmt.Sprintf("duplicate data segment %q", d.Name))
		}
		segments[d.Name] = true
	}

	imports := make(map[string]bool, len(manifest.Imports))
	for i, name := range manifest.Imports {
		if imports[name] {
			result.Add(fmt.Sprintf("imports[%d]", i), fmt.Sprintf("duplicate import %q", name))
		}
		imports[name] = true
	}
	if noReturn && !imports[hostfuncs.CompleteFunc] {
		result.Add("imports", "noreturn entries require "+hostfuncs.CompleteFunc)
	}
	return result, nil
}

// ValidateConfig checks runtime configuration bounds.
func ValidateConfig(cfg entities.Config) *entities.ValidationResult {
	result := &entities.ValidationResult{Valid: true}
	if err := structErrors(&cfg, result); err != nil {
		result.Add("config", err.Error())
	}
	if cfg.Timeout == 0 && cfg.InstructionBudget == 0 {
		result.Add("timeout", "either a timeout or an instruction budget is required")
	}
	return result
}

// ValidatePlatform checks a host platform description. Helper indices
// must be positive and unique.
func ValidatePlatform(platform *entities.HostPlatform) *entities.ValidationResult {
	result := &entities.ValidationResult{Valid: true}
	if platform == nil {
		result.Add("platform", "missing")
		return result
	}
	if err := structErrors(platform, result); err != nil {
		result.Add("platform", err.Error())
	}
	seen := make(map[int32]string, len(platform.Helpers))
	for name, idx := range platform.Helpers {
		if other, ok := seen[idx]; ok {
			a, b := other, name
			if b < a {
				a, b = b, a
			}
			result.Add("helpers."+b, fmt.Sprintf("index %d already used by %s", idx, a))
			continue
		}
		seen[idx] = name
	}
	return result
}

func structErrors(v any, result *entities.ValidationResult) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !stdErrors.As(err, &errs) {
		return fmt.Errorf("validate: %w", err)
	}
	for _, fe := range errs {
		result.Add(fieldPath(fe), message(fe))
	}
	return nil
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s elements", fe.Param())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	case "ltfield":
		return fmt.Sprintf("must be less than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}
