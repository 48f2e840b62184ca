package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/wallpaper"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wallcache",
		Short:         "Load wallpaper plugins and cache their renders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.OnInitialize(initConfig)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/wallcache/config.yaml)")
	flags.StringSlice("plugin-dir", defaultPluginDirs(), "directories to scan for wallpaper plugins")
	flags.String("cache-dir", defaultCacheDir(), "render cache directory")
	flags.Bool("no-cache", false, "do not read or write the render cache")
	flags.Bool("debug", false, "enable debug logging of every delegate call")
	flags.String("s3-bucket", "", "mirror the render cache into this S3 bucket")
	flags.String("s3-prefix", "", "key prefix inside the S3 bucket")
	flags.String("s3-region", "", "S3 region (defaults to the AWS environment)")
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	root.AddCommand(
		newServeCmd(),
		newListCmd(),
		newRenderCmd(),
		newCacheKeyCmd(),
		newClearCacheCmd(),
	)
	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(expand(cfgFile))
	} else {
		viper.AddConfigPath(expand("~/.config/wallcache"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WALLCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config %s: %v\n", cfgFile, err)
		}
	}
}

func newServeCmd() *cobra.Command {
	var (
		plugin   string
		settings string
		group    string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Drive one wallpaper over a JSON-lines protocol on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.logStats()

			b, err := e.load(plugin)
			if err != nil {
				return err
			}
			defer b.Close()

			path := expand(settings)
			store, err := config.Load(path)
			if err != nil {
				return err
			}
			persist := func() error { return store.Save(path) }

			if watch {
				go func() {
					err := e.registry.Watch(ctx, func() {
						e.logger.Info("plugin directories changed, rescanned")
					})
					if err != nil {
						e.logger.Warn("plugin watcher stopped", "error", err)
					}
				}()
			}

			e.logger.Info("serving wallpaper",
				"plugin", b.PluginName(),
				"name", b.Name(),
				"settings", path,
				"group", group)
			return NewHost(b, store.Group(group), persist, os.Stdin, os.Stdout, e.logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&plugin, "plugin", "image", "wallpaper plugin to load")
	cmd.Flags().StringVar(&settings, "settings", "~/.config/wallcache/wallpapers.toml", "settings file")
	cmd.Flags().StringVar(&group, "group", "Wallpaper", "settings group of this wallpaper")
	cmd.Flags().BoolVar(&watch, "watch", false, "rescan plugin directories when they change")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		formFactor string
		mime       string
		file       string
		lang       string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available wallpaper plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context(), true)
			if err != nil {
				return err
			}

			var descs []wallpaper.Descriptor
			switch {
			case file != "":
				descs, mime, err = e.registry.ListForFile(expand(file), formFactor)
				if err != nil {
					return err
				}
				if mime == "" {
					return fmt.Errorf("unrecognized file type: %s", file)
				}
			case mime != "":
				descs = e.registry.ListForMimeType(mime, formFactor)
			default:
				descs = e.registry.List(formFactor)
			}

			tag := language.Make(lang)
			out := cmd.OutOrStdout()
			for _, d := range descs {
				title := d.Title
				if pkg := d.Package(); pkg.Translations != "" {
					if err := e.catalogs.InstallCatalog(d.Name, pkg.Translations); err != nil {
						e.logger.Warn("failed to load translations", "name", d.Name, "error", err)
					} else {
						title = e.catalogs.Translate(d.Name, tag, d.Title)
					}
				}
				kind := "native"
				if d.IsScript() {
					kind = d.API
				}
				fmt.Fprintf(out, "%-20s %-8s %s\n", d.Name, kind, title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&formFactor, "form-factor", "", "only plugins supporting this form factor")
	cmd.Flags().StringVar(&mime, "mime", "", "only plugins accepting this mime type")
	cmd.Flags().StringVar(&file, "file", "", "only plugins accepting this file's type")
	cmd.Flags().StringVar(&lang, "lang", os.Getenv("LANG"), "language for plugin titles")
	return cmd
}

// renderFlags are the render hints shared by render and cache-key.
type renderFlags struct {
	plugin string
	path   string
	size   string
	method string
	color  string
}

func (f *renderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.plugin, "plugin", "image", "wallpaper plugin to load")
	cmd.Flags().StringVar(&f.path, "path", "", "source image")
	cmd.Flags().StringVar(&f.size, "size", "1920x1080", "target size as WIDTHxHEIGHT")
	cmd.Flags().StringVar(&f.method, "method", "scaled", "resize method name or number")
	cmd.Flags().StringVar(&f.color, "color", wallpaper.Black.Hex(), "fill color")
}

// apply pushes the flags into b.
func (f *renderFlags) apply(b *wallpaper.Backend) error {
	if f.path != "" {
		if err := b.SetWallpaperPath(expand(f.path)); err != nil {
			return err
		}
	}
	size, err := parseSize(f.size)
	if err != nil {
		return err
	}
	method, err := wallpaper.ParseResizeMethod(f.method)
	if err != nil {
		return err
	}
	fill, err := wallpaper.ParseColor(f.color)
	if err != nil {
		return err
	}
	b.SetTargetSizeHint(size)
	b.SetResizeMethodHint(method)
	b.SetFillColor(fill)
	return nil
}

func newRenderCmd() *cobra.Command {
	var (
		flags renderFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a wallpaper through the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.logStats()

			b, err := e.load(flags.plugin)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Restore(config.NewGroup("Wallpaper")); err != nil {
				return err
			}
			if err := flags.apply(b); err != nil {
				return err
			}

			img, err := b.Render(ctx)
			if err != nil {
				return err
			}
			key := b.RenderRequest().Key()
			if out == "" && !b.RendersThroughCache() {
				return fmt.Errorf("this render is not cached, use --out")
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), e.cache.Path(key))
				return nil
			}
			if err := writePNG(out, img); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the PNG here instead of printing the cache path")
	return cmd
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".wallcache-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename output: %w", err)
	}
	return nil
}

func newCacheKeyCmd() *cobra.Command {
	var flags renderFlags
	cmd := &cobra.Command{
		Use:   "cache-key",
		Short: "Print the cache key and cache path of a render",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			b := wallpaper.New(wallpaper.Descriptor{Name: flags.plugin}, e.backendOptions())
			// The source may not exist locally; the key only needs its path.
			hints := flags
			hints.path = ""
			if err := hints.apply(b); err != nil {
				return err
			}

			rr := b.RenderRequest()
			rr.SourcePath = expand(flags.path)
			key := rr.Key()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, key)
			fmt.Fprintln(out, b.CachePath(key))
			if meta := e.cache.Stat(key); meta != nil {
				fmt.Fprintf(out, "cached %d bytes at %s\n", meta.Size, meta.PutTime.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove every cached render",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Uses the file lock group so idle lock files are pruned too.
			e, err := newEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := e.cache.Clear(); err != nil {
				return err
			}
			e.logger.Info("cleared render cache", "dir", e.cache.Dir())
			return nil
		},
	}
}
