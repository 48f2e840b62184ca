// Package wallpaper manages the lifecycle of pluggable wallpaper rendering
// backends and derives the cache keys of the images they render.
//
// A Backend is owned by a single wallpaper surface and is not safe for
// concurrent use. Notifications run synchronously on the calling goroutine.
package wallpaper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/pkg/metrics"
)

const unknownName = "Unknown Wallpaper"

// Options configures a Backend. The zero value is usable.
type Options struct {
	Logger *slog.Logger

	// CacheDir is the writable root under which rendered images are cached.
	CacheDir string

	// Cache stores rendered images. Rendering is not cached when nil.
	Cache ImageCache

	// Translations installs script plugin catalogs. Optional.
	Translations CatalogInstaller

	// Latency records render timings. Optional.
	Latency *metrics.LatencyTracker
}

// state is the lifecycle state of a Backend.
type state struct {
	initialized              bool
	needsConfig              bool
	previewing               bool
	needsPreviewDuringConfig bool
	scriptInitialized        bool
}

// hints are the parameters that affect rendered output.
type hints struct {
	boundingRect Rect
	targetSize   Size
	resizeMethod ResizeMethod
	fill         Color
}

// Backend drives one wallpaper plugin.
type Backend struct {
	desc     Descriptor
	pkg      Package
	delegate Delegate
	opts     Options
	logger   *slog.Logger

	hints         hints
	state         state
	mode          RenderingMode
	wallpaperPath string
	cacheRender   bool

	onHintsChanged   []func()
	onConfigRequired []func(bool)
}

// New creates a Backend for desc without a delegate. Use SetDelegate or Load
// to attach one.
func New(desc Descriptor, opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &Backend{
		desc:   desc,
		opts:   opts,
		logger: logger,
		hints:  hints{resizeMethod: ScaledResize},
	}
	if desc.IsScript() {
		b.pkg = desc.Package()
	}
	return b
}

// Load resolves name through f and returns a ready Backend, or nil when the
// plugin is unknown, incompatible, has an invalid package or fails to
// instantiate.
func Load(name string, f Factory, opts Options) *Backend {
	if name == "" || f == nil {
		return nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	desc, err := f.Find(name)
	if err != nil {
		logger.Debug("wallpaper plugin not found", "name", name, "error", err)
		return nil
	}
	return LoadDescriptor(desc, f, opts)
}

// LoadDescriptor is Load for an already resolved descriptor.
func LoadDescriptor(desc Descriptor, f Factory, opts Options) *Backend {
	if !desc.IsValid() || f == nil {
		return nil
	}
	b := New(desc, opts)
	if desc.IsScript() && !b.pkg.IsValid() {
		b.logger.Debug("invalid wallpaper package",
			"name", desc.Name,
			"api", desc.API,
			"path", desc.Path)
		return nil
	}

	d, err := f.NewDelegate(desc, b)
	if err != nil {
		b.logger.Debug("couldn't load wallpaper",
			"name", desc.Name,
			"error", err)
		return nil
	}
	b.delegate = d
	return b
}

// SetDelegate attaches d. It must be called before the first Init; the
// one-time delegate setup never runs twice on the same Backend.
func (b *Backend) SetDelegate(d Delegate) {
	b.delegate = d
}

// Delegate returns the attached delegate, or nil.
func (b *Backend) Delegate() Delegate {
	return b.delegate
}

// Close releases the delegate.
func (b *Backend) Close() error {
	d := b.delegate
	b.delegate = nil
	if c, ok := d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OnRenderHintsChanged registers fn to run whenever a render hint changes.
func (b *Backend) OnRenderHintsChanged(fn func()) {
	b.onHintsChanged = append(b.onHintsChanged, fn)
}

// OnConfigurationRequired registers fn to run when the needs-config flag flips.
func (b *Backend) OnConfigurationRequired(fn func(bool)) {
	b.onConfigRequired = append(b.onConfigRequired, fn)
}

func (b *Backend) renderHintsChanged() {
	for _, fn := range b.onHintsChanged {
		fn()
	}
}

// Name returns the plugin's human readable name.
func (b *Backend) Name() string {
	if !b.desc.IsValid() {
		return unknownName
	}
	if b.desc.Title != "" {
		return b.desc.Title
	}
	return b.desc.Name
}

// Icon returns the plugin's icon name.
func (b *Backend) Icon() string {
	return b.desc.Icon
}

// PluginName returns the plugin's identifier.
func (b *Backend) PluginName() string {
	return b.desc.Name
}

// Descriptor returns the plugin metadata the Backend was created from.
func (b *Backend) Descriptor() Descriptor {
	return b.desc
}

// Package returns the plugin's packaged resources. It is empty for native plugins.
func (b *Backend) Package() Package {
	return b.pkg
}

// SupportsMimeType reports whether the plugin accepts dropped files of type mime.
func (b *Backend) SupportsMimeType(mime string) bool {
	return b.desc.IsValid() && b.desc.HasMimeType(mime)
}

// AddURLs forwards urls to the delegate.
func (b *Backend) AddURLs(urls []string) {
	if b.delegate != nil {
		b.delegate.AddURLs(urls)
	}
}

// Restore loads cfg into the Backend and marks it initialized.
func (b *Backend) Restore(cfg *config.Group) error {
	if err := b.Init(cfg); err != nil {
		return err
	}
	b.state.initialized = true
	return nil
}

// Init passes cfg to the delegate, running the delegate's one-time setup first.
func (b *Backend) Init(cfg *config.Group) error {
	if b.delegate == nil {
		return nil
	}
	if err := b.initDelegate(); err != nil {
		return err
	}
	if err := b.delegate.InitWallpaper(cfg); err != nil {
		return fmt.Errorf("failed to init wallpaper %s: %w", b.desc.Name, err)
	}
	return nil
}

func (b *Backend) initDelegate() error {
	if b.state.scriptInitialized {
		return nil
	}
	if b.delegate.Kind() == ScriptDelegate {
		b.setupScriptSupport()
	}
	if err := b.delegate.Init(); err != nil {
		return fmt.Errorf("failed to initialize %s delegate for %s: %w",
			b.delegate.Kind(), b.desc.Name, err)
	}
	b.state.scriptInitialized = true
	return nil
}

// setupScriptSupport installs the package's translations, if any.
func (b *Backend) setupScriptSupport() {
	b.logger.Debug("setting up script support",
		"package", b.pkg.Root,
		"mainScript", b.pkg.MainScript)

	if b.pkg.Translations == "" || b.opts.Translations == nil {
		return
	}
	if err := b.opts.Translations.InstallCatalog(b.desc.Name, b.pkg.Translations); err != nil {
		// Missing translations only degrade labels.
		b.logger.Warn("failed to install wallpaper translations",
			"name", b.desc.Name,
			"path", b.pkg.Translations,
			"error", err)
	}
}

// Save forwards persistence to the delegate.
func (b *Backend) Save(cfg *config.Group) error {
	if b.delegate == nil {
		return nil
	}
	if err := b.delegate.Save(cfg); err != nil {
		return fmt.Errorf("failed to save wallpaper %s: %w", b.desc.Name, err)
	}
	return nil
}

// IsInitialized reports whether Restore has completed at least once.
func (b *Backend) IsInitialized() bool {
	return b.state.initialized
}

// IsScriptInitialized reports whether the delegate's one-time setup has run.
func (b *Backend) IsScriptInitialized() bool {
	return b.state.scriptInitialized
}

// WallpaperPath returns the current source image path.
func (b *Backend) WallpaperPath() string {
	return b.wallpaperPath
}

// SetWallpaperPath sets the source image. Paths that do not exist are
// rejected and leave the Backend unchanged.
func (b *Backend) SetWallpaperPath(path string) error {
	if path == "" {
		b.logger.Warn("failed to set wallpaper path", "path", path)
		return ErrInvalidSourcePath
	}
	if _, err := os.Stat(path); err != nil {
		b.logger.Warn("failed to set wallpaper path", "path", path, "error", err)
		return fmt.Errorf("%w: %s", ErrInvalidSourcePath, path)
	}
	b.wallpaperPath = path
	return nil
}

// BoundingRect returns the area the wallpaper is drawn into.
func (b *Backend) BoundingRect() Rect {
	return b.hints.boundingRect
}

// SetBoundingRect updates the drawing area. The target size follows the
// rectangle's size.
func (b *Backend) SetBoundingRect(r Rect) {
	b.hints.boundingRect = r
	if b.hints.targetSize != r.Size() {
		b.hints.targetSize = r.Size()
		b.renderHintsChanged()
	}
}

// RenderingModes lists the modes the plugin declares.
func (b *Backend) RenderingModes() []RenderingMode {
	if !b.desc.IsValid() {
		return nil
	}
	return b.desc.Modes
}

// RenderingMode returns the current mode. The zero value means no mode.
func (b *Backend) RenderingMode() RenderingMode {
	return b.mode
}

// SetRenderingMode selects the declared mode called name. An empty or
// unknown name clears the mode. Callers request a re-render themselves.
func (b *Backend) SetRenderingMode(name string) {
	if b.mode.Name == name {
		return
	}
	b.mode = RenderingMode{}
	if name == "" {
		return
	}
	for _, m := range b.RenderingModes() {
		if m.Name == name {
			b.mode = m
			return
		}
	}
}

// ResizeMethodHint returns the current resize method.
func (b *Backend) ResizeMethodHint() ResizeMethod {
	return b.hints.resizeMethod
}

// SetResizeMethodHint clamps method into range and stores it.
func (b *Backend) SetResizeMethodHint(method ResizeMethod) {
	method = method.Clamp()
	if method != b.hints.resizeMethod {
		b.hints.resizeMethod = method
		b.renderHintsChanged()
	}
}

// TargetSizeHint returns the size rendered images are produced at.
func (b *Backend) TargetSizeHint() Size {
	return b.hints.targetSize
}

// SetTargetSizeHint stores size.
func (b *Backend) SetTargetSizeHint(size Size) {
	if size != b.hints.targetSize {
		b.hints.targetSize = size
		b.renderHintsChanged()
	}
}

// FillColor returns the color used around and behind the image.
func (b *Backend) FillColor() Color {
	return b.hints.fill
}

// SetFillColor stores c.
func (b *Backend) SetFillColor(c Color) {
	if c != b.hints.fill {
		b.hints.fill = c
		b.renderHintsChanged()
	}
}

// ConfigurationRequired reports whether the user must configure the plugin.
func (b *Backend) ConfigurationRequired() bool {
	return b.state.needsConfig
}

// SetConfigurationRequired updates the needs-config flag. reason is unused.
func (b *Backend) SetConfigurationRequired(needed bool, reason string) {
	// TODO: surface reason once the host has a place to show it.
	_ = reason

	if b.state.needsConfig == needed {
		return
	}
	b.state.needsConfig = needed
	for _, fn := range b.onConfigRequired {
		fn(needed)
	}
}

// IsPreviewing reports whether the Backend renders a configuration preview.
func (b *Backend) IsPreviewing() bool {
	return b.state.previewing
}

// SetPreviewing marks the Backend as a configuration preview.
func (b *Backend) SetPreviewing(previewing bool) {
	b.state.previewing = previewing
}

// NeedsPreviewDuringConfiguration reports whether configuring shows a preview.
func (b *Backend) NeedsPreviewDuringConfiguration() bool {
	return b.state.needsPreviewDuringConfig
}

// SetPreviewDuringConfiguration sets whether configuring shows a preview.
func (b *Backend) SetPreviewDuringConfiguration(preview bool) {
	b.state.needsPreviewDuringConfig = preview
}

// CacheKey is the package level CacheKey.
func (b *Backend) CacheKey(sourcePath string, size image.Point, method ResizeMethod, fill Color) string {
	return CacheKey(sourcePath, size, method, fill)
}

// CachePath maps key under the Backend's cache directory.
func (b *Backend) CachePath(key string) string {
	return CachePath(b.opts.CacheDir, key)
}

// IsUsingRenderingCache reports whether Render goes through the image cache.
func (b *Backend) IsUsingRenderingCache() bool {
	return b.cacheRender && b.opts.Cache != nil
}

// SetUsingRenderingCache toggles the image cache for Render.
func (b *Backend) SetUsingRenderingCache(use bool) {
	b.cacheRender = use
}

// FindInCache looks up key. Lookup failures count as misses.
func (b *Backend) FindInCache(ctx context.Context, key string) (image.Image, bool) {
	if !b.IsUsingRenderingCache() {
		return nil, false
	}
	img, ok, err := b.opts.Cache.Get(ctx, key)
	if err != nil {
		b.logger.Warn("failed to read rendered wallpaper from cache",
			"key", key,
			"error", err)
		return nil, false
	}
	return img, ok
}

// InsertIntoCache stores img under key.
func (b *Backend) InsertIntoCache(ctx context.Context, key string, img image.Image) {
	if !b.IsUsingRenderingCache() || img == nil {
		return
	}
	if err := b.opts.Cache.Put(ctx, key, img); err != nil {
		b.logger.Warn("failed to write rendered wallpaper to cache",
			"key", key,
			"error", err)
	}
}

// RenderRequest describes a render of the current wallpaper with the
// current hints.
func (b *Backend) RenderRequest() RenderRequest {
	return RenderRequest{
		SourcePath:   b.wallpaperPath,
		Size:         b.hints.targetSize.Point(),
		ResizeMethod: b.hints.resizeMethod,
		Fill:         b.hints.fill,
	}
}

// Render produces the current wallpaper. Renders of a source image by a
// CacheableRenderer go through the image cache when it is enabled; all
// other renders run every time.
func (b *Backend) Render(ctx context.Context) (image.Image, error) {
	r, ok := b.delegate.(Renderer)
	if !ok {
		return nil, ErrNoRenderer
	}
	req := b.RenderRequest()
	if req.Size.X <= 0 || req.Size.Y <= 0 {
		return nil, fmt.Errorf("invalid target size %s", b.hints.targetSize)
	}
	key := req.Key()
	cached := b.cacheable(req)

	start := time.Now()
	if cached {
		if img, ok := b.FindInCache(ctx, key); ok {
			b.record("render_cached", start)
			return img, nil
		}
	}

	img, err := r.Render(ctx, req)
	b.record("render", start)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to render wallpaper %s: %w", b.desc.Name, err)
	}
	if cached {
		b.InsertIntoCache(ctx, key, img)
	}
	return img, nil
}

// RendersThroughCache reports whether Render of the current request reads
// and writes the image cache.
func (b *Backend) RendersThroughCache() bool {
	return b.IsUsingRenderingCache() && b.cacheable(b.RenderRequest())
}

// cacheable reports whether req's output is determined by its key: the
// delegate must declare itself cacheable and render a source image.
func (b *Backend) cacheable(req RenderRequest) bool {
	if req.SourcePath == "" {
		return false
	}
	c, ok := b.delegate.(CacheableRenderer)
	return ok && c.Cacheable()
}

func (b *Backend) record(op string, start time.Time) {
	if b.opts.Latency != nil {
		b.opts.Latency.Record(op, time.Since(start))
	}
}
