package wallpaper

import (
	"os"
	"path/filepath"
	"strings"
)

// RenderingMode is a named mode a wallpaper plugin declares.
type RenderingMode struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Descriptor is the metadata of one wallpaper plugin.
type Descriptor struct {
	Name             string          `yaml:"name"`
	Title            string          `yaml:"title"`
	Icon             string          `yaml:"icon"`
	API              string          `yaml:"api"`
	Version          string          `yaml:"version"`
	FrameworkVersion string          `yaml:"framework_version"`
	FormFactors      []string        `yaml:"form_factors"`
	MimeTypes        []string        `yaml:"mime_types"`
	Modes            []RenderingMode `yaml:"modes"`
	MainScript       string          `yaml:"main_script"`
	Translations     string          `yaml:"translations"`

	// Path is the plugin's package directory. It is filled in by discovery.
	Path string `yaml:"-"`
}

// IsValid reports whether d names a plugin.
func (d Descriptor) IsValid() bool {
	return d.Name != ""
}

// IsScript reports whether d is resolved through a script engine.
func (d Descriptor) IsScript() bool {
	return d.API != ""
}

// HasMimeType reports whether d declares mime.
func (d Descriptor) HasMimeType(mime string) bool {
	for _, m := range d.MimeTypes {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

// Package returns the packaged resources of d.
func (d Descriptor) Package() Package {
	if d.Path == "" {
		return Package{}
	}
	p := Package{Root: d.Path}
	main := d.MainScript
	if main == "" {
		main = filepath.Join("contents", "code", "main.go")
	}
	p.MainScript = filepath.Join(d.Path, main)
	tr := d.Translations
	if tr == "" {
		tr = filepath.Join("contents", "translations")
	}
	if fi, err := os.Stat(filepath.Join(d.Path, tr)); err == nil && fi.IsDir() {
		p.Translations = filepath.Join(d.Path, tr)
	}
	return p
}

// Package locates the files shipped with a script plugin.
type Package struct {
	Root         string
	MainScript   string
	Translations string
}

// IsValid reports whether the package has a readable main script.
func (p Package) IsValid() bool {
	if p.Root == "" || p.MainScript == "" {
		return false
	}
	fi, err := os.Stat(p.MainScript)
	return err == nil && !fi.IsDir()
}
