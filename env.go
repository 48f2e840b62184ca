package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/richardartoul/wallcache/backends"
	"github.com/richardartoul/wallcache/i18n"
	"github.com/richardartoul/wallcache/pkg/locking"
	"github.com/richardartoul/wallcache/pkg/metrics"
	"github.com/richardartoul/wallcache/plugins"
	"github.com/richardartoul/wallcache/rendercache"
	"github.com/richardartoul/wallcache/wallpaper"
)

// env bundles the collaborators every command needs.
type env struct {
	logger   *slog.Logger
	registry *plugins.Registry
	cache    *rendercache.Store
	latency  *metrics.LatencyTracker
	catalogs *i18n.Catalogs
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func expand(path string) string {
	if p, err := homedir.Expand(path); err == nil {
		return p
	}
	return path
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "wallcache")
	}
	return filepath.Join(dir, "wallcache")
}

func defaultPluginDirs() []string {
	dirs := []string{"~/.local/share/wallcache/wallpapers"}
	if xdg := os.Getenv("XDG_DATA_DIRS"); xdg != "" {
		for _, d := range filepath.SplitList(xdg) {
			dirs = append(dirs, filepath.Join(d, "wallcache", "wallpapers"))
		}
	} else {
		dirs = append(dirs, "/usr/share/wallcache/wallpapers")
	}
	return dirs
}

// newEnv builds the registry and cache from the bound flags and config.
// A readOnly env never writes cache entries and so takes no file locks.
func newEnv(ctx context.Context, readOnly bool) (*env, error) {
	logger := newLogger()
	debug := viper.GetBool("debug")

	registry := plugins.NewRegistry(viper.GetStringSlice("plugin-dir"), logger)
	backends.Register(registry, logger, debug)
	if err := registry.Scan(ctx); err != nil {
		logger.Warn("some plugin directories could not be scanned", "error", err)
	}

	latency := metrics.NewLatencyTracker(0.01)
	opts := []rendercache.Option{rendercache.WithLatency(latency)}
	if readOnly {
		opts = append(opts, rendercache.WithLocks(locking.NewNoOpGroup()))
	}
	if bucket := viper.GetString("s3-bucket"); bucket != "" {
		remote, err := rendercache.NewS3RemoteFromEnv(ctx, bucket, viper.GetString("s3-prefix"), viper.GetString("s3-region"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, rendercache.WithRemote(remote))
	}
	cache, err := rendercache.New(expand(viper.GetString("cache-dir")), logger, opts...)
	if err != nil {
		return nil, err
	}

	return &env{
		logger:   logger,
		registry: registry,
		cache:    cache,
		latency:  latency,
		catalogs: i18n.New(),
	}, nil
}

func (e *env) backendOptions() wallpaper.Options {
	return wallpaper.Options{
		Logger:       e.logger,
		CacheDir:     e.cache.Dir(),
		Cache:        e.cache,
		Translations: e.catalogs,
		Latency:      e.latency,
	}
}

// load returns the named backend with the render cache enabled.
func (e *env) load(name string) (*wallpaper.Backend, error) {
	b := wallpaper.Load(name, e.registry, e.backendOptions())
	if b == nil {
		return nil, fmt.Errorf("%w: %s", wallpaper.ErrBackendUnavailable, name)
	}
	b.SetUsingRenderingCache(!viper.GetBool("no-cache"))
	return b, nil
}

func (e *env) logStats() {
	for _, s := range e.latency.AllStats() {
		e.logger.Debug("latency", "stats", s.String())
	}
}

// parseSize accepts "1920x1080".
func parseSize(s string) (wallpaper.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return wallpaper.Size{}, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	wf, err := strconv.ParseFloat(w, 64)
	if err != nil {
		return wallpaper.Size{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	hf, err := strconv.ParseFloat(h, 64)
	if err != nil {
		return wallpaper.Size{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	return wallpaper.Size{W: wf, H: hf}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
