// Package plugins discovers wallpaper plugins on disk and instantiates their
// delegates. A plugin is a directory holding a metadata.yaml descriptor and,
// for script plugins, the package files the script engine runs.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/h2non/filetype"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/richardartoul/wallcache/wallpaper"
)

// MetadataFile is the descriptor file name inside a plugin directory.
const MetadataFile = "metadata.yaml"

// FrameworkVersion is the plugin API version this host implements.
const FrameworkVersion = "1.2.0"

var (
	// ErrPluginNotFound is returned when no plugin has the requested name.
	ErrPluginNotFound = errors.New("wallpaper plugin not found")
	// ErrIncompatible is returned for plugins built against another API version.
	ErrIncompatible = errors.New("wallpaper plugin is incompatible")
	// ErrNoEngine is returned when a script plugin names an unknown API.
	ErrNoEngine = errors.New("no script engine for api")
)

// NativeFunc creates the delegate of a compiled-in plugin.
type NativeFunc func(d wallpaper.Descriptor, host wallpaper.Host) (wallpaper.Delegate, error)

// EngineFunc creates a script delegate running the package of d.
type EngineFunc func(d wallpaper.Descriptor, pkg wallpaper.Package, host wallpaper.Host) (wallpaper.Delegate, error)

// Registry indexes the plugins found in a set of directories. It implements
// wallpaper.Factory and is safe for concurrent use.
type Registry struct {
	dirs   []string
	logger *slog.Logger
	host   *semver.Version

	mu      sync.RWMutex
	plugins map[string]wallpaper.Descriptor
	natives map[string]NativeFunc
	engines map[string]EngineFunc
}

// NewRegistry creates a registry over dirs. Call Scan to populate it.
func NewRegistry(dirs []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	expanded := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if d, err := homedir.Expand(dir); err == nil {
			dir = d
		}
		expanded = append(expanded, dir)
	}
	return &Registry{
		dirs:    expanded,
		logger:  logger,
		host:    semver.MustParse(FrameworkVersion),
		plugins: make(map[string]wallpaper.Descriptor),
		natives: make(map[string]NativeFunc),
		engines: make(map[string]EngineFunc),
	}
}

// Dirs returns the expanded plugin directories.
func (r *Registry) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// RegisterNative binds a compiled-in delegate constructor to a plugin name.
func (r *Registry) RegisterNative(name string, fn NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.natives[name] = fn
}

// RegisterEngine binds a script engine to an API identifier.
func (r *Registry) RegisterEngine(api string, fn EngineFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[api] = fn
}

// Add registers d directly, bypassing the filesystem.
func (r *Registry) Add(d wallpaper.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[d.Name] = d
}

// Scan rereads every plugin directory. Unreadable descriptors are logged
// and skipped; a plugin name seen twice keeps the first directory's copy.
func (r *Registry) Scan(ctx context.Context) error {
	found := make(map[string]wallpaper.Descriptor)
	var errs []error

	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("error scanning %s: %w", dir, err))
			}
			continue
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !e.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, e.Name())
			d, err := ReadDescriptor(pluginDir)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					r.logger.Warn("skipping wallpaper plugin",
						"path", pluginDir,
						"error", err)
				}
				continue
			}
			if _, dup := found[d.Name]; dup {
				continue
			}
			found[d.Name] = d
		}
	}

	r.mu.Lock()
	// Keep directly added plugins that are not on disk.
	for name, d := range r.plugins {
		if _, ok := found[name]; !ok && d.Path == "" {
			found[name] = d
		}
	}
	r.plugins = found
	r.mu.Unlock()

	r.logger.Debug("scanned wallpaper plugins", "count", len(found))
	return errors.Join(errs...)
}

// ReadDescriptor parses the metadata.yaml in dir.
func ReadDescriptor(dir string) (wallpaper.Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return wallpaper.Descriptor{}, err
	}
	var d wallpaper.Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return wallpaper.Descriptor{}, fmt.Errorf("failed to parse %s: %w", MetadataFile, err)
	}
	if d.Name == "" {
		d.Name = filepath.Base(dir)
	}
	d.Path = dir
	return d, nil
}

// Find returns the plugin called name.
func (r *Registry) Find(name string) (wallpaper.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.plugins[name]
	if !ok {
		return wallpaper.Descriptor{}, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return d, nil
}

// List returns the plugins usable in formFactor, sorted by name. An empty
// formFactor lists everything.
func (r *Registry) List(formFactor string) []wallpaper.Descriptor {
	return r.filter(func(d wallpaper.Descriptor) bool {
		return matchesFormFactor(d, formFactor)
	})
}

// ListForMimeType returns the plugins accepting files of type mime.
func (r *Registry) ListForMimeType(mime, formFactor string) []wallpaper.Descriptor {
	return r.filter(func(d wallpaper.Descriptor) bool {
		return d.HasMimeType(mime) && matchesFormFactor(d, formFactor)
	})
}

// ListForFile sniffs the content type of path and lists the plugins
// accepting it.
func (r *Registry) ListForFile(path, formFactor string) ([]wallpaper.Descriptor, string, error) {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to detect type of %s: %w", path, err)
	}
	if kind == filetype.Unknown {
		return nil, "", nil
	}
	return r.ListForMimeType(kind.MIME.Value, formFactor), kind.MIME.Value, nil
}

func (r *Registry) filter(keep func(wallpaper.Descriptor) bool) []wallpaper.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []wallpaper.Descriptor
	for _, d := range r.plugins {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// matchesFormFactor: plugins without declared form factors fit everywhere.
func matchesFormFactor(d wallpaper.Descriptor, formFactor string) bool {
	if formFactor == "" || len(d.FormFactors) == 0 {
		return true
	}
	for _, ff := range d.FormFactors {
		if strings.Contains(strings.ToLower(ff), strings.ToLower(formFactor)) {
			return true
		}
	}
	return false
}

// IsCompatible reports whether a plugin built against version can be loaded:
// same major version and a minor version no newer than the host's. Plugins
// that declare no version are assumed compatible.
func (r *Registry) IsCompatible(version string) bool {
	if version == "" {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.Major() == r.host.Major() && v.Minor() <= r.host.Minor()
}

// NewDelegate instantiates the delegate of d.
func (r *Registry) NewDelegate(d wallpaper.Descriptor, host wallpaper.Host) (wallpaper.Delegate, error) {
	if !r.IsCompatible(d.FrameworkVersion) {
		return nil, fmt.Errorf("%w: %s targets %s, host is %s",
			ErrIncompatible, d.Name, d.FrameworkVersion, r.host)
	}

	r.mu.RLock()
	native, hasNative := r.natives[d.Name]
	engine, hasEngine := r.engines[d.API]
	r.mu.RUnlock()

	if d.IsScript() {
		if !hasEngine {
			return nil, fmt.Errorf("%w: %s", ErrNoEngine, d.API)
		}
		pkg := d.Package()
		if !pkg.IsValid() {
			return nil, fmt.Errorf("%w: invalid package for %s at %s",
				wallpaper.ErrBackendUnavailable, d.Name, d.Path)
		}
		return engine(d, pkg, host)
	}

	if !hasNative {
		return nil, fmt.Errorf("%w: no native implementation for %s",
			wallpaper.ErrBackendUnavailable, d.Name)
	}
	return native(d, host)
}
