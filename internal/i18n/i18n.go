// Package i18n holds the user-facing strings of the engine.
//
// Strings live in embedded YAML catalogs, one file per locale, and use
// {name} placeholders.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Supported locales.
const (
	ZhHans = "zh-Hans"
	En     = "en"

	// Fallback is used when a locale or key is unknown.
	Fallback = ZhHans
)

// Vars carries placeholder values for T.
type Vars map[string]any

// Catalog is a set of translated strings keyed by locale then key.
type Catalog struct {
	strings map[string]map[string]string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog built from the embedded locale files.
// It panics if the embedded files are malformed.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load()
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("i18n: %v", defaultErr))
	}
	return defaultCatalog
}

// Load parses every embedded locale file.
func Load() (*Catalog, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	c := &Catalog{strings: make(map[string]map[string]string, len(entries))}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		table := map[string]string{}
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		c.strings[strings.TrimSuffix(e.Name(), ".yaml")] = table
	}
	if _, ok := c.strings[Fallback]; !ok {
		return nil, fmt.Errorf("missing fallback locale %s", Fallback)
	}
	return c, nil
}

// Normalize maps a client locale tag onto a supported catalog locale.
func Normalize(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	switch {
	case strings.HasPrefix(l, "en"):
		return En
	default:
		return ZhHans
	}
}

// T returns the string for key in locale with vars substituted. Unknown
// locales fall back to zh-Hans; unknown keys return the key itself.
func (c *Catalog) T(locale, key string, vars Vars) string {
	s, ok := c.lookup(Normalize(locale), key)
	if !ok {
		s, ok = c.lookup(Fallback, key)
	}
	if !ok {
		return key
	}
	return Render(s, vars)
}

// Has reports whether key exists in the fallback catalog.
func (c *Catalog) Has(key string) bool {
	_, ok := c.lookup(Fallback, key)
	return ok
}

func (c *Catalog) lookup(locale, key string) (string, bool) {
	table, ok := c.strings[locale]
	if !ok {
		return "", false
	}
	s, ok := table[key]
	return s, ok
}

// Render replaces each {name} placeholder in s with the matching value.
// Placeholders without a value are left untouched.
func Render(s string, vars Vars) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
