package backends

import (
	"log/slog"

	"github.com/richardartoul/wallcache/plugins"
	"github.com/richardartoul/wallcache/wallpaper"
)

// ImageDescriptor is the built-in descriptor of the image plugin, used when
// no metadata.yaml for it is installed.
var ImageDescriptor = wallpaper.Descriptor{
	Name:             ImagePluginName,
	Title:            "Image",
	Icon:             "image-x-generic",
	Version:          "1.0.0",
	FrameworkVersion: plugins.FrameworkVersion,
	MimeTypes:        []string{"image/png", "image/jpeg", "image/gif", "image/bmp", "image/webp"},
	Modes: []wallpaper.RenderingMode{
		{Name: "SingleImage", Text: "Single Image"},
	},
}

// Register installs the built-in delegates into r. With debug set, every
// delegate is wrapped in Debug.
func Register(r *plugins.Registry, logger *slog.Logger, debug bool) {
	wrap := func(d wallpaper.Delegate) wallpaper.Delegate {
		if debug && logger != nil {
			return NewDebug(d, logger)
		}
		return d
	}

	r.Add(ImageDescriptor)
	r.RegisterNative(ImagePluginName, func(d wallpaper.Descriptor, host wallpaper.Host) (wallpaper.Delegate, error) {
		return wrap(NewImage(host, logger)), nil
	})
	r.RegisterEngine(ScriptAPI, func(d wallpaper.Descriptor, pkg wallpaper.Package, host wallpaper.Host) (wallpaper.Delegate, error) {
		return wrap(NewScript(d, pkg, host, logger)), nil
	})
}
