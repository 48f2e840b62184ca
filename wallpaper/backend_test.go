package wallpaper

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/pkg/metrics"
)

type fakeDelegate struct {
	kind       DelegateKind
	initCalls  int
	initWCalls int
	saveCalls  int
	urls       []string
	initErr    error
	renders    int
	lastCfg    *config.Group
	volatile   bool
	pixel      color.RGBA
}

func (f *fakeDelegate) Kind() DelegateKind    { return f.kind }
func (f *fakeDelegate) AddURLs(urls []string) { f.urls = append(f.urls, urls...) }

func (f *fakeDelegate) Init() error {
	f.initCalls++
	return f.initErr
}

func (f *fakeDelegate) InitWallpaper(cfg *config.Group) error {
	f.initWCalls++
	f.lastCfg = cfg
	return nil
}

func (f *fakeDelegate) Save(cfg *config.Group) error {
	f.saveCalls++
	return nil
}

func (f *fakeDelegate) Cacheable() bool { return !f.volatile }

func (f *fakeDelegate) Render(ctx context.Context, req RenderRequest) (image.Image, error) {
	f.renders++
	img := image.NewRGBA(image.Rectangle{Max: req.Size})
	img.SetRGBA(0, 0, f.pixel)
	return img, nil
}

type fakeFactory struct {
	descs    map[string]Descriptor
	delegate Delegate
	err      error
}

func (f *fakeFactory) Find(name string) (Descriptor, error) {
	d, ok := f.descs[name]
	if !ok {
		return Descriptor{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeFactory) NewDelegate(d Descriptor, host Host) (Delegate, error) {
	return f.delegate, f.err
}

type fakeCatalogs struct {
	installs []string
}

func (c *fakeCatalogs) InstallCatalog(domain, dir string) error {
	c.installs = append(c.installs, domain+":"+dir)
	return nil
}

type memCache struct {
	entries map[string]image.Image
}

func (m *memCache) Get(ctx context.Context, key string) (image.Image, bool, error) {
	img, ok := m.entries[key]
	return img, ok, nil
}

func (m *memCache) Put(ctx context.Context, key string, img image.Image) error {
	m.entries[key] = img
	return nil
}

func scriptPackage(t *testing.T, withTranslations bool) Descriptor {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "contents", "code"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contents", "code", "main.go"), []byte("package main\n"), 0644))
	if withTranslations {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "contents", "translations"), 0755))
	}
	return Descriptor{Name: "scripted", API: "go", Path: dir}
}

func TestSetBoundingRectUpdatesTargetSize(t *testing.T) {
	b := New(Descriptor{Name: "image"}, Options{})
	changes := 0
	b.OnRenderHintsChanged(func() { changes++ })

	b.SetBoundingRect(Rect{X: 0, Y: 0, W: 800, H: 600})
	assert.Equal(t, Size{W: 800, H: 600}, b.TargetSizeHint())
	assert.Equal(t, 1, changes)

	// Moving without resizing changes nothing that affects rendering.
	b.SetBoundingRect(Rect{X: 10, Y: 10, W: 800, H: 600})
	assert.Equal(t, 1, changes)
	assert.Equal(t, Rect{X: 10, Y: 10, W: 800, H: 600}, b.BoundingRect())
}

func TestSetTargetSizeHintNotifiesOnce(t *testing.T) {
	b := New(Descriptor{}, Options{})
	changes := 0
	b.OnRenderHintsChanged(func() { changes++ })

	b.SetTargetSizeHint(Size{W: 1920, H: 1080})
	b.SetTargetSizeHint(Size{W: 1920, H: 1080})
	assert.Equal(t, 1, changes)
}

func TestSetResizeMethodHintClamps(t *testing.T) {
	b := New(Descriptor{}, Options{})
	changes := 0
	b.OnRenderHintsChanged(func() { changes++ })

	b.SetResizeMethodHint(ResizeMethod(42))
	assert.Equal(t, MaximpactResize, b.ResizeMethodHint())
	assert.Equal(t, 1, changes)

	// Clamps to the same value: no change.
	b.SetResizeMethodHint(ResizeMethod(7))
	assert.Equal(t, 1, changes)

	b.SetResizeMethodHint(ResizeMethod(-3))
	assert.Equal(t, ScaledResize, b.ResizeMethodHint())
	assert.Equal(t, 2, changes)

	b.SetResizeMethodHint(ScaledResize)
	assert.Equal(t, 2, changes)
}

func TestSetFillColorNotifiesOnChange(t *testing.T) {
	b := New(Descriptor{}, Options{})
	changes := 0
	b.OnRenderHintsChanged(func() { changes++ })

	b.SetFillColor(Black)
	assert.Equal(t, 0, changes)
	b.SetFillColor(Color{R: 1})
	b.SetFillColor(Color{R: 1})
	assert.Equal(t, 1, changes)
}

func TestSetRenderingMode(t *testing.T) {
	desc := Descriptor{
		Name:  "image",
		Modes: []RenderingMode{{Name: "SingleImage"}, {Name: "Slideshow"}},
	}
	b := New(desc, Options{})
	changes := 0
	b.OnRenderHintsChanged(func() { changes++ })

	b.SetRenderingMode("Slideshow")
	assert.Equal(t, "Slideshow", b.RenderingMode().Name)

	b.SetRenderingMode("slideshow")
	assert.Equal(t, RenderingMode{}, b.RenderingMode(), "match is exact")

	b.SetRenderingMode("SingleImage")
	b.SetRenderingMode("")
	assert.Equal(t, RenderingMode{}, b.RenderingMode())

	assert.Equal(t, 0, changes, "mode switches raise no hint notification")
}

func TestSetConfigurationRequired(t *testing.T) {
	b := New(Descriptor{}, Options{})
	var got []bool
	b.OnConfigurationRequired(func(v bool) { got = append(got, v) })

	b.SetConfigurationRequired(false, "")
	b.SetConfigurationRequired(true, "pick an image")
	b.SetConfigurationRequired(true, "still pick an image")
	b.SetConfigurationRequired(false, "")

	assert.Equal(t, []bool{true, false}, got)
	assert.False(t, b.ConfigurationRequired())
}

func TestSetWallpaperPath(t *testing.T) {
	b := New(Descriptor{}, Options{})
	existing := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	require.NoError(t, b.SetWallpaperPath(existing))
	assert.Equal(t, existing, b.WallpaperPath())

	err := b.SetWallpaperPath("/nonexistent/file.png")
	assert.ErrorIs(t, err, ErrInvalidSourcePath)
	assert.Equal(t, existing, b.WallpaperPath())

	assert.ErrorIs(t, b.SetWallpaperPath(""), ErrInvalidSourcePath)
	assert.Equal(t, existing, b.WallpaperPath())
}

func TestRestoreWithoutDelegate(t *testing.T) {
	b := New(Descriptor{Name: "plain"}, Options{})
	cfg := config.NewGroup("Wallpaper")

	require.NoError(t, b.Init(cfg))
	assert.False(t, b.IsInitialized())

	require.NoError(t, b.Restore(cfg))
	assert.True(t, b.IsInitialized())
	assert.False(t, b.IsScriptInitialized())
	require.NoError(t, b.Save(cfg))
	b.AddURLs([]string{"/tmp/x.png"})
}

func TestRestoreRunsOneTimeSetupOnce(t *testing.T) {
	catalogs := &fakeCatalogs{}
	desc := scriptPackage(t, true)
	d := &fakeDelegate{kind: ScriptDelegate}
	b := LoadDescriptor(desc, &fakeFactory{delegate: d}, Options{Translations: catalogs})
	require.NotNil(t, b)
	assert.False(t, b.IsScriptInitialized(), "script setup is lazy")
	assert.Equal(t, 0, d.initCalls)

	cfg := config.NewGroup("Wallpaper")
	require.NoError(t, b.Restore(cfg))
	require.NoError(t, b.Restore(cfg))
	require.NoError(t, b.Init(cfg))

	assert.True(t, b.IsInitialized())
	assert.True(t, b.IsScriptInitialized())
	assert.Equal(t, 1, d.initCalls)
	assert.Equal(t, 3, d.initWCalls)
	assert.Same(t, cfg, d.lastCfg)
	assert.Equal(t, []string{"scripted:" + filepath.Join(desc.Path, "contents", "translations")}, catalogs.installs)
}

func TestInitRetriesAfterFailedSetup(t *testing.T) {
	d := &fakeDelegate{kind: NativeDelegate, initErr: errors.New("boom")}
	b := New(Descriptor{Name: "native"}, Options{})
	b.SetDelegate(d)

	err := b.Restore(config.NewGroup("g"))
	require.Error(t, err)
	assert.False(t, b.IsInitialized())
	assert.False(t, b.IsScriptInitialized())

	d.initErr = nil
	require.NoError(t, b.Restore(config.NewGroup("g")))
	assert.True(t, b.IsScriptInitialized())
	assert.Equal(t, 2, d.initCalls)
}

func TestSaveAndAddURLsForward(t *testing.T) {
	d := &fakeDelegate{}
	b := New(Descriptor{Name: "native"}, Options{})
	b.SetDelegate(d)

	require.NoError(t, b.Save(config.NewGroup("g")))
	b.AddURLs([]string{"file:///a.png"})
	assert.Equal(t, 1, d.saveCalls)
	assert.Equal(t, []string{"file:///a.png"}, d.urls)
}

func TestLoadUnavailable(t *testing.T) {
	f := &fakeFactory{descs: map[string]Descriptor{
		"native":  {Name: "native"},
		"broken":  {Name: "broken", API: "go", Path: t.TempDir()},
		"failing": {Name: "failing"},
	}}

	assert.Nil(t, Load("", f, Options{}))
	assert.Nil(t, Load("native", nil, Options{}))
	assert.Nil(t, LoadDescriptor(Descriptor{Name: "native"}, nil, Options{}))
	assert.Nil(t, Load("missing", f, Options{}))
	assert.Nil(t, Load("broken", f, Options{}), "script package without main script")

	f.err = ErrBackendUnavailable
	assert.Nil(t, Load("failing", f, Options{}))

	f.err = nil
	f.delegate = &fakeDelegate{}
	b := Load("native", f, Options{})
	require.NotNil(t, b)
	assert.Equal(t, "native", b.PluginName())
	assert.NotNil(t, b.Delegate())
}

func TestDescriptorAccessors(t *testing.T) {
	unknown := New(Descriptor{}, Options{})
	assert.Equal(t, "Unknown Wallpaper", unknown.Name())
	assert.Empty(t, unknown.RenderingModes())
	assert.False(t, unknown.SupportsMimeType("image/png"))

	b := New(Descriptor{Name: "image", Title: "Image", Icon: "image-x-generic", MimeTypes: []string{"image/png"}}, Options{})
	assert.Equal(t, "Image", b.Name())
	assert.Equal(t, "image-x-generic", b.Icon())
	assert.True(t, b.SupportsMimeType("IMAGE/PNG"))
	assert.False(t, b.SupportsMimeType("image/jpeg"))
}

func TestPreviewFlags(t *testing.T) {
	b := New(Descriptor{}, Options{})
	assert.False(t, b.IsPreviewing())
	b.SetPreviewing(true)
	assert.True(t, b.IsPreviewing())

	assert.False(t, b.NeedsPreviewDuringConfiguration())
	b.SetPreviewDuringConfiguration(true)
	assert.True(t, b.NeedsPreviewDuringConfiguration())
}

func TestRenderUsesCache(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	cache := &memCache{entries: make(map[string]image.Image)}
	lt := metrics.NewLatencyTracker(0.01)
	d := &fakeDelegate{}
	b := New(Descriptor{Name: "native"}, Options{Cache: cache, Latency: lt})
	b.SetDelegate(d)
	require.NoError(t, b.SetWallpaperPath(src))
	b.SetTargetSizeHint(Size{W: 64, H: 32})

	ctx := context.Background()
	img, err := b.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())
	assert.Empty(t, cache.entries, "cache disabled by default")

	b.SetUsingRenderingCache(true)
	assert.True(t, b.RendersThroughCache())
	_, err = b.Render(ctx)
	require.NoError(t, err)
	_, err = b.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.renders)
	assert.Contains(t, cache.entries, b.RenderRequest().Key())

	stats, err := lt.Stats("render_cached")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
}

func TestRenderSkipsCacheForVolatileDelegates(t *testing.T) {
	ctx := context.Background()
	cache := &memCache{entries: make(map[string]image.Image)}
	red := color.RGBA{R: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}

	render := func(name string, pixel color.RGBA) color.RGBA {
		d := &fakeDelegate{kind: ScriptDelegate, volatile: true, pixel: pixel}
		b := New(Descriptor{Name: name, API: "go"}, Options{Cache: cache})
		b.SetDelegate(d)
		b.SetUsingRenderingCache(true)
		b.SetTargetSizeHint(Size{W: 4, H: 4})
		assert.False(t, b.RendersThroughCache())

		img, err := b.Render(ctx)
		require.NoError(t, err)
		return img.(*image.RGBA).RGBAAt(0, 0)
	}

	// Both plugins produce the same key; neither may see the other's pixels.
	assert.Equal(t, red, render("redpaint", red))
	assert.Equal(t, green, render("greenpaint", green))
	assert.Empty(t, cache.entries)
}

func TestRenderSkipsCacheWithoutSource(t *testing.T) {
	cache := &memCache{entries: make(map[string]image.Image)}
	d := &fakeDelegate{}
	b := New(Descriptor{Name: "native"}, Options{Cache: cache})
	b.SetDelegate(d)
	b.SetUsingRenderingCache(true)
	b.SetTargetSizeHint(Size{W: 2, H: 2})
	assert.False(t, b.RendersThroughCache())

	for i := 0; i < 2; i++ {
		_, err := b.Render(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, d.renders)
	assert.Empty(t, cache.entries)
}

func TestRenderRequestRoundsSize(t *testing.T) {
	b := New(Descriptor{}, Options{})
	b.SetTargetSizeHint(Size{W: 12.6, H: 8.4})
	assert.Equal(t, image.Pt(13, 8), b.RenderRequest().Size)
	assert.Equal(t, image.Pt(13, 8), Size{W: 12.6, H: 8.4}.Point())
}

func TestRenderErrors(t *testing.T) {
	b := New(Descriptor{}, Options{})
	_, err := b.Render(context.Background())
	assert.ErrorIs(t, err, ErrNoRenderer)

	b.SetDelegate(&fakeDelegate{})
	_, err = b.Render(context.Background())
	assert.Error(t, err, "zero target size")
}

func TestCloseReleasesDelegate(t *testing.T) {
	b := New(Descriptor{}, Options{})
	b.SetDelegate(&fakeDelegate{})
	require.NoError(t, b.Close())
	assert.Nil(t, b.Delegate())
}
