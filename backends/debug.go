package backends

import (
	"context"
	"image"
	"io"
	"log/slog"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/wallpaper"
)

// Debug wraps any Delegate and logs every call at debug level.
// This allows any delegate to be traced without coupling the logging to the
// delegate implementation.
type Debug struct {
	delegate wallpaper.Delegate
	logger   *slog.Logger
}

// NewDebug creates a new debug wrapper around an existing delegate.
func NewDebug(delegate wallpaper.Delegate, logger *slog.Logger) *Debug {
	return &Debug{
		delegate: delegate,
		logger:   logger.With("delegate", delegate.Kind().String()),
	}
}

// Unwrap returns the wrapped delegate.
func (d *Debug) Unwrap() wallpaper.Delegate {
	return d.delegate
}

// Kind returns the wrapped delegate's kind.
func (d *Debug) Kind() wallpaper.DelegateKind {
	return d.delegate.Kind()
}

// AddURLs forwards dropped URLs with debug logging.
func (d *Debug) AddURLs(urls []string) {
	d.logger.Debug("AddURLs", "urls", urls)
	d.delegate.AddURLs(urls)
}

// Init runs the one-time setup with debug logging.
func (d *Debug) Init() error {
	d.logger.Debug("Init")
	err := d.delegate.Init()
	if err != nil {
		d.logger.Debug("Init: ERROR", "error", err)
	}
	return err
}

// InitWallpaper loads settings with debug logging.
func (d *Debug) InitWallpaper(cfg *config.Group) error {
	d.logger.Debug("InitWallpaper", "keys", groupKeys(cfg))
	err := d.delegate.InitWallpaper(cfg)
	if err != nil {
		d.logger.Debug("InitWallpaper: ERROR", "error", err)
	}
	return err
}

// Save persists settings with debug logging.
func (d *Debug) Save(cfg *config.Group) error {
	err := d.delegate.Save(cfg)
	if err != nil {
		d.logger.Debug("Save: ERROR", "error", err)
		return err
	}
	d.logger.Debug("Save", "keys", groupKeys(cfg))
	return nil
}

// Cacheable reports whether the wrapped delegate is a cacheable renderer.
func (d *Debug) Cacheable() bool {
	c, ok := d.delegate.(wallpaper.CacheableRenderer)
	return ok && c.Cacheable()
}

// Render forwards to the wrapped delegate when it renders.
func (d *Debug) Render(ctx context.Context, req wallpaper.RenderRequest) (image.Image, error) {
	r, ok := d.delegate.(wallpaper.Renderer)
	if !ok {
		return nil, wallpaper.ErrNoRenderer
	}
	d.logger.Debug("Render",
		"source", req.SourcePath,
		"size", req.Size,
		"method", req.ResizeMethod.String(),
		"fill", req.Fill.Hex())

	img, err := r.Render(ctx, req)
	if err != nil {
		d.logger.Debug("Render: ERROR", "error", err)
		return nil, err
	}
	d.logger.Debug("Render: done", "bounds", img.Bounds())
	return img, nil
}

// Close closes the wrapped delegate if it holds resources.
func (d *Debug) Close() error {
	if c, ok := d.delegate.(io.Closer); ok {
		d.logger.Debug("Close")
		return c.Close()
	}
	return nil
}

func groupKeys(cfg *config.Group) []string {
	if cfg == nil {
		return nil
	}
	return cfg.Keys()
}
