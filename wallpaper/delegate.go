package wallpaper

import (
	"context"
	"image"

	"github.com/richardartoul/wallcache/config"
)

// DelegateKind is the closed set of delegate variants.
type DelegateKind int

const (
	// NativeDelegate renders in process with compiled Go code.
	NativeDelegate DelegateKind = iota
	// ScriptDelegate is driven by a script engine resolved by API identifier.
	ScriptDelegate
)

func (k DelegateKind) String() string {
	switch k {
	case NativeDelegate:
		return "native"
	case ScriptDelegate:
		return "script"
	default:
		return "unknown"
	}
}

// Delegate is the pluggable implementation behind a Backend.
// A Backend owns its delegate; if the delegate also implements io.Closer it
// is closed together with the Backend.
type Delegate interface {
	// Kind reports which variant this delegate is.
	Kind() DelegateKind

	// AddURLs hands dropped or selected source locations to the delegate.
	AddURLs(urls []string)

	// Init runs once per Backend, before the first InitWallpaper.
	Init() error

	// InitWallpaper loads the delegate's settings from cfg.
	InitWallpaper(cfg *config.Group) error

	// Save persists the delegate's settings into cfg. Writing nothing is fine.
	Save(cfg *config.Group) error
}

// RenderRequest carries everything that affects a rendered image.
type RenderRequest struct {
	SourcePath   string
	Size         image.Point
	ResizeMethod ResizeMethod
	Fill         Color
}

// Key returns the cache key for the request.
func (r RenderRequest) Key() string {
	return CacheKey(r.SourcePath, r.Size, r.ResizeMethod, r.Fill)
}

// Renderer is an optional delegate capability producing pixels.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (image.Image, error)
}

// CacheableRenderer is a Renderer whose output is fully determined by the
// RenderRequest. Only such renders are stored in and served from the image
// cache.
type CacheableRenderer interface {
	Renderer
	// Cacheable reports whether renders may be cached right now.
	Cacheable() bool
}

// Host is the view of a Backend handed to its delegate.
type Host interface {
	WallpaperPath() string
	SetWallpaperPath(path string) error
	ResizeMethodHint() ResizeMethod
	SetResizeMethodHint(method ResizeMethod)
	FillColor() Color
	SetFillColor(c Color)
	TargetSizeHint() Size
	SetConfigurationRequired(needed bool, reason string)
}

// Factory resolves plugin descriptors and instantiates their delegates.
type Factory interface {
	// Find returns the descriptor registered under name.
	Find(name string) (Descriptor, error)

	// NewDelegate creates the delegate for d. A Descriptor that needs no
	// delegate may return (nil, nil).
	NewDelegate(d Descriptor, host Host) (Delegate, error)
}

// ImageCache stores rendered images by cache key.
type ImageCache interface {
	Get(ctx context.Context, key string) (img image.Image, ok bool, err error)
	Put(ctx context.Context, key string, img image.Image) error
}

// CatalogInstaller installs a plugin's translation catalog.
type CatalogInstaller interface {
	InstallCatalog(domain, dir string) error
}
