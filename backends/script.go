package backends

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sort"

	"github.com/cogentcore/yaegi/interp"
	"github.com/cogentcore/yaegi/stdlib"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/wallpaper"
)

// ScriptAPI is the API identifier of Go-scripted plugins.
const ScriptAPI = "go"

// Script is a delegate whose behavior lives in a Go source file interpreted
// by yaegi. The file is a main package that may define any of:
//
//	func Init()
//	func InitWallpaper(settings map[string]string)
//	func Save() map[string]string
//	func AddURLs(urls []string)
//	func Paint(dst *image.RGBA)
//
// Missing functions are skipped. The script is not evaluated until Init.
// Paint output depends on script state, so script renders are never cached.
type Script struct {
	desc   wallpaper.Descriptor
	pkg    wallpaper.Package
	host   wallpaper.Host
	logger *slog.Logger

	interp *interp.Interpreter
}

// NewScript creates an unevaluated script delegate for pkg.
func NewScript(d wallpaper.Descriptor, pkg wallpaper.Package, host wallpaper.Host, logger *slog.Logger) *Script {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Script{
		desc:   d,
		pkg:    pkg,
		host:   host,
		logger: logger,
	}
}

// Kind reports ScriptDelegate.
func (s *Script) Kind() wallpaper.DelegateKind {
	return wallpaper.ScriptDelegate
}

// Loaded reports whether the main script has been evaluated.
func (s *Script) Loaded() bool {
	return s.interp != nil
}

// Init evaluates the main script and calls its Init function.
func (s *Script) Init() error {
	if s.interp == nil {
		src, err := os.ReadFile(s.pkg.MainScript)
		if err != nil {
			return fmt.Errorf("failed to read main script: %w", err)
		}
		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			return fmt.Errorf("failed to load script stdlib: %w", err)
		}
		if _, err := i.Eval(string(src)); err != nil {
			return fmt.Errorf("failed to evaluate %s: %w", s.pkg.MainScript, err)
		}
		s.interp = i
	}
	if fn, ok := s.lookup("Init").(func()); ok {
		fn()
	}
	return nil
}

// lookup returns the script's main.<name> as an interface, or nil.
func (s *Script) lookup(name string) any {
	if s.interp == nil {
		return nil
	}
	v, err := s.interp.Eval("main." + name)
	if err != nil || !v.IsValid() || v.Kind() != reflect.Func {
		return nil
	}
	return v.Interface()
}

// AddURLs calls the script's AddURLs, if any.
func (s *Script) AddURLs(urls []string) {
	if fn, ok := s.lookup("AddURLs").(func([]string)); ok {
		fn(urls)
	}
}

// InitWallpaper passes cfg to the script's InitWallpaper as a map.
func (s *Script) InitWallpaper(cfg *config.Group) error {
	fn, ok := s.lookup("InitWallpaper").(func(map[string]string))
	if !ok {
		return nil
	}
	settings := make(map[string]string)
	if cfg != nil {
		for _, k := range cfg.Keys() {
			settings[k] = cfg.ReadString(k, "")
		}
	}
	fn(settings)
	return nil
}

// Save writes the map returned by the script's Save, in key order.
func (s *Script) Save(cfg *config.Group) error {
	fn, ok := s.lookup("Save").(func() map[string]string)
	if !ok || cfg == nil {
		return nil
	}
	settings := fn()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.WriteString(k, settings[k])
	}
	return nil
}

// Render fills the target with the fill color and lets the script paint on
// top of it.
func (s *Script) Render(ctx context.Context, req wallpaper.RenderRequest) (image.Image, error) {
	fn, ok := s.lookup("Paint").(func(*image.RGBA))
	if !ok {
		return nil, wallpaper.ErrNoRenderer
	}
	dst := Compose(image.NewRGBA(image.Rectangle{}), req.Size, req.ResizeMethod, req.Fill)
	fn(dst)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return dst, nil
}
