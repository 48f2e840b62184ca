// Package backends holds the wallpaper delegates that ship with wallcache:
// a native image renderer, a script engine for Go-scripted plugins, and a
// decorator that logs every delegate call.
package backends

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/wallpaper"
)

// Settings keys of the image plugin.
const (
	KeyImage        = "Image"
	KeyResizeMethod = "ResizeMethod"
	KeyColor        = "Color"
)

// ImagePluginName is the plugin name the image delegate registers under.
const ImagePluginName = "image"

// Image is the native delegate that renders a single picture.
type Image struct {
	host   wallpaper.Host
	logger *slog.Logger
}

// NewImage creates an image delegate bound to host.
func NewImage(host wallpaper.Host, logger *slog.Logger) *Image {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Image{
		host:   host,
		logger: logger,
	}
}

// Kind reports NativeDelegate.
func (i *Image) Kind() wallpaper.DelegateKind {
	return wallpaper.NativeDelegate
}

// Init has no one-time setup to do.
func (i *Image) Init() error {
	return nil
}

// AddURLs makes the first usable local file the wallpaper.
func (i *Image) AddURLs(urls []string) {
	for _, u := range urls {
		path := localPath(u)
		if path == "" {
			continue
		}
		if err := i.host.SetWallpaperPath(path); err == nil {
			return
		}
	}
}

// localPath turns "file:///a/b" and plain paths into a filesystem path.
func localPath(u string) string {
	if !strings.Contains(u, "://") {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme != "file" {
		return ""
	}
	return parsed.Path
}

// InitWallpaper applies the Image, ResizeMethod and Color settings and flags
// the wallpaper as needing configuration when no usable image is set.
func (i *Image) InitWallpaper(cfg *config.Group) error {
	if cfg == nil {
		return nil
	}
	if s := cfg.ReadString(KeyResizeMethod, ""); s != "" {
		m, err := wallpaper.ParseResizeMethod(s)
		if err != nil {
			i.logger.Warn("ignoring resize method", "value", s, "error", err)
		} else {
			i.host.SetResizeMethodHint(m)
		}
	}
	if s := cfg.ReadString(KeyColor, ""); s != "" {
		c, err := wallpaper.ParseColor(s)
		if err != nil {
			i.logger.Warn("ignoring fill color", "value", s, "error", err)
		} else {
			i.host.SetFillColor(c)
		}
	}

	path := cfg.ReadString(KeyImage, "")
	if path == "" {
		i.host.SetConfigurationRequired(true, "No image selected")
		return nil
	}
	if err := i.host.SetWallpaperPath(path); err != nil {
		i.host.SetConfigurationRequired(true, "The selected image does not exist")
		return nil
	}
	i.host.SetConfigurationRequired(false, "")
	return nil
}

// Save writes the current image, resize method and fill color.
func (i *Image) Save(cfg *config.Group) error {
	if cfg == nil {
		return nil
	}
	if p := i.host.WallpaperPath(); p != "" {
		cfg.WriteString(KeyImage, p)
	}
	cfg.WriteInt(KeyResizeMethod, int(i.host.ResizeMethodHint()))
	cfg.WriteString(KeyColor, i.host.FillColor().Hex())
	return nil
}

// Cacheable is always true: the output depends only on the request.
func (i *Image) Cacheable() bool {
	return true
}

// Render decodes the source image and fits it into req.Size.
func (i *Image) Render(ctx context.Context, req wallpaper.RenderRequest) (image.Image, error) {
	if req.SourcePath == "" {
		return nil, fmt.Errorf("no source image")
	}
	f, err := os.Open(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", req.SourcePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Compose(src, req.Size, req.ResizeMethod, req.Fill), nil
}
