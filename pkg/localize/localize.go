// Package localize renders user-facing gate and error messages.
package localize

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KeyDMOnly         = "errors.dm_only"
	KeyAccessDenied   = "errors.access_denied"
	KeyCooldown       = "errors.cooldown"
	KeyNoInternet     = "errors.no_internet"
	KeyExecutionError = "errors.execution_error"
	KeyHelpSpecific   = "commands.help.specific"
	KeyHelpUnknown    = "commands.help.unknown"
)

// Params are the named values a message template references.
type Params map[string]any

// Translator resolves a key to text. A missing key yields the key itself.
type Translator interface {
	Translate(key string, params Params) string
}

var fallbacks = map[string]string{
	KeyDMOnly:         "{command} only works in DMs",
	KeyAccessDenied:   "Access denied: {command} requires admin",
	KeyCooldown:       "{command} on cooldown. Wait {seconds}s",
	KeyNoInternet:     "{command} unavailable: No internet connection available",
	KeyExecutionError: "Error executing {command}: {error}",
	KeyHelpSpecific:   "Help {command}: {help_text}",
	KeyHelpUnknown:    "Unknown: {command}. Available: {available}. Try 'help' for command list.",
}

// Fallback renders the built-in English template for key. Unknown keys are
// returned unchanged.
func Fallback(key string, params Params) string {
	template, ok := fallbacks[key]
	if !ok {
		return key
	}

	return Expand(template, params)
}

// Expand replaces {name} with params[name]. Unreferenced params are ignored
// and unknown names are left in place.
func Expand(template string, params Params) string {
	if len(params) == 0 || !strings.Contains(template, "{") {
		return template
	}

	pairs := make([]string, 0, len(params)*2)
	for name, value := range params {
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(value))
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// Catalog is a flat key to template table.
type Catalog struct {
	entries map[string]string
}

// NewCatalog builds a catalog from flat entries.
func NewCatalog(entries map[string]string) *Catalog {
	copied := make(map[string]string, len(entries))
	for key, value := range entries {
		copied[key] = value
	}

	return &Catalog{entries: copied}
}

// LoadCatalog reads a YAML locale file. Nested maps become dotted keys.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locale file: %w", err)
	}

	return ParseCatalog(data)
}

// ParseCatalog decodes YAML locale data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse locale file: %w", err)
	}

	entries := make(map[string]string)
	flatten("", tree, entries)

	return &Catalog{entries: entries}, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]any:
			flatten(full, v, out)
		case nil:
		default:
			out[full] = fmt.Sprint(v)
		}
	}
}

// Translate implements Translator.
func (c *Catalog) Translate(key string, params Params) string {
	if c == nil {
		return key
	}

	template, ok := c.entries[key]
	if !ok {
		return key
	}

	return Expand(template, params)
}

// Keys returns the catalog keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// Render translates key, falling back to the English template when translator
// is nil or does not know key.
func Render(translator Translator, key string, params Params) string {
	if translator != nil {
		if text := translator.Translate(key, params); text != "" && text != key {
			return text
		}
	}

	return Fallback(key, params)
}
