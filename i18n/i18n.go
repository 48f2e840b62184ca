// Package i18n loads the translation catalogs shipped in wallpaper packages.
//
// A translations directory holds one TOML file per language, named after its
// BCP 47 tag ("de.toml", "pt-BR.toml"), mapping message keys to strings.
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Catalogs holds one message catalog per plugin domain.
type Catalogs struct {
	mu       sync.Mutex
	domains  map[string]*catalog.Builder
	langs    map[string][]language.Tag
	installs map[string]string // domain -> dir
}

// New creates an empty set of catalogs.
func New() *Catalogs {
	return &Catalogs{
		domains:  make(map[string]*catalog.Builder),
		langs:    make(map[string][]language.Tag),
		installs: make(map[string]string),
	}
}

// InstallCatalog loads every "<lang>.toml" in dir into domain's catalog.
// Installing the same directory twice is a no-op.
func (c *Catalogs) InstallCatalog(domain, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.installs[domain] == dir {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read translations: %w", err)
	}

	b := catalog.NewBuilder()
	var tags []language.Tag
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		tag, err := language.Parse(strings.TrimSuffix(e.Name(), ".toml"))
		if err != nil {
			return fmt.Errorf("invalid translation file %s: %w", e.Name(), err)
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		var messages map[string]string
		if err := toml.Unmarshal(data, &messages); err != nil {
			return fmt.Errorf("failed to parse %s: %w", e.Name(), err)
		}
		for key, msg := range messages {
			if err := b.SetString(tag, key, msg); err != nil {
				return fmt.Errorf("failed to add %q for %s: %w", key, tag, err)
			}
		}
		tags = append(tags, tag)
	}

	c.domains[domain] = b
	c.langs[domain] = tags
	c.installs[domain] = dir
	return nil
}

// Languages returns the languages installed for domain.
func (c *Catalogs) Languages(domain string) []language.Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]language.Tag(nil), c.langs[domain]...)
}

// Printer returns a printer translating domain's messages into the best
// match for lang. Keys without a translation print as themselves.
func (c *Catalogs) Printer(domain string, lang language.Tag) *message.Printer {
	c.mu.Lock()
	b, ok := c.domains[domain]
	tags := c.langs[domain]
	c.mu.Unlock()

	if !ok || len(tags) == 0 {
		return message.NewPrinter(lang)
	}
	_, idx, conf := language.NewMatcher(tags).Match(lang)
	if conf == language.No {
		return message.NewPrinter(lang)
	}
	return message.NewPrinter(tags[idx], message.Catalog(b))
}

// Translate returns the translation of key, or key itself. Unlike
// Printer(...).Sprintf(key), a '%' in an untranslated key prints literally.
func (c *Catalogs) Translate(domain string, lang language.Tag, key string) string {
	fallback := strings.ReplaceAll(key, "%", "%%")
	return c.Printer(domain, lang).Sprintf(message.Key(key, fallback))
}
