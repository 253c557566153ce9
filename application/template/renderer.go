// Package template expands variables in manifest documents before parsing,
// so that one manifest can describe a guest for several engines or host
// modules.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// templateConfig holds configuration for the GoTemplateEngine.
type templateConfig struct {
	strict   bool
	defaults map[string]any
}

func defaultTemplateConfig() templateConfig {
	return templateConfig{
		strict:   true,
		defaults: map[string]any{},
	}
}

// TemplateOption configures a GoTemplateEngine.
type TemplateOption func(*templateConfig)

// WithStrict enables/disables strict mode for missing keys.
// When enabled (default), rendering fails if a referenced variable is missing.
func WithStrict(enabled bool) TemplateOption {
	return func(c *templateConfig) {
		c.strict = enabled
	}
}

// WithDefault sets a variable used when the caller does not provide one.
func WithDefault(key string, value any) TemplateOption {
	return func(c *templateConfig) {
		c.defaults[key] = value
	}
}

// GoTemplateEngine implements TemplateEngine with text/template. Variables
// are available as {{ .vars.name }}.
type GoTemplateEngine struct {
	config templateConfig
}

// NewGoTemplateEngine creates a new GoTemplateEngine.
func NewGoTemplateEngine(opts ...TemplateOption) ports.TemplateEngine {
	cfg := defaultTemplateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GoTemplateEngine{config: cfg}
}

var funcs = template.FuncMap{
	"lower": strings.ToLower,
	"hex":   func(v any) string { return fmt.Sprintf("%#x", v) },
}

// Render expands raw with vars layered over the configured defaults.
// Documents without template actions are returned unchanged.
func (e *GoTemplateEngine) Render(raw []byte, vars map[string]any) ([]byte, error) {
	if !bytes.Contains(raw, []byte("{{")) {
		return raw, nil
	}

	tmpl := template.New("manifest").Funcs(funcs)
	if e.config.strict {
		tmpl = tmpl.Option("missingkey=error")
	}
	tmpl, err := tmpl.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse manifest template: %w", err)
	}

	merged := make(map[string]any, len(e.config.defaults)+len(vars))
	for k, v := range e.config.defaults {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"vars": merged}); err != nil {
		return nil, fmt.Errorf("render manifest template: %w", err)
	}
	return buf.Bytes(), nil
}
