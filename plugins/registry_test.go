package plugins

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/wallpaper"
)

type stubDelegate struct {
	kind wallpaper.DelegateKind
}

func (s *stubDelegate) Kind() wallpaper.DelegateKind      { return s.kind }
func (s *stubDelegate) AddURLs([]string)                  {}
func (s *stubDelegate) Init() error                       { return nil }
func (s *stubDelegate) InitWallpaper(*config.Group) error { return nil }
func (s *stubDelegate) Save(*config.Group) error          { return nil }

func writePlugin(t *testing.T, root, name, meta string, withScript bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(meta), 0644))
	if withScript {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "contents", "code"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "contents", "code", "main.go"), []byte("package main\n"), 0644))
	}
	return dir
}

func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	writePlugin(t, root, "color", `
name: color
title: Plain Color
framework_version: 1.0.0
form_factors: [desktop, mediacenter]
modes:
  - name: SingleColor
    text: Single Color
`, false)
	writePlugin(t, root, "slides", `
name: slides
api: go
framework_version: 1.1.0
mime_types: [image/png, image/jpeg]
form_factors: [desktop]
`, true)
	writePlugin(t, root, "future", `
name: future
framework_version: 2.0.0
mime_types: [image/png]
`, false)
	writePlugin(t, root, "broken", "name: [", false)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	r := NewRegistry([]string{root, filepath.Join(root, "missing")}, nil)
	require.NoError(t, r.Scan(context.Background()))
	return r, root
}

func names(ds []wallpaper.Descriptor) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

func TestRegistryScan(t *testing.T) {
	r, root := testRegistry(t)

	assert.Equal(t, []string{"color", "future", "slides"}, names(r.List("")))

	d, err := r.Find("color")
	require.NoError(t, err)
	assert.Equal(t, "Plain Color", d.Title)
	assert.Equal(t, filepath.Join(root, "color"), d.Path)
	assert.Equal(t, []wallpaper.RenderingMode{{Name: "SingleColor", Text: "Single Color"}}, d.Modes)

	_, err = r.Find("broken")
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestRegistryFilters(t *testing.T) {
	r, _ := testRegistry(t)

	assert.Equal(t, []string{"color", "future"}, names(r.List("mediacenter")))
	assert.Equal(t, []string{"color", "future", "slides"}, names(r.List("Desktop")))
	assert.Equal(t, []string{"future", "slides"}, names(r.ListForMimeType("image/png", "")))
	assert.Equal(t, []string{"slides"}, names(r.ListForMimeType("image/jpeg", "desktop")))
	assert.Empty(t, r.ListForMimeType("image/jpeg", "mediacenter"))
}

func TestRegistryListForFile(t *testing.T) {
	r, _ := testRegistry(t)

	path := filepath.Join(t.TempDir(), "pic")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	require.NoError(t, f.Close())

	ds, mime, err := r.ListForFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []string{"future", "slides"}, names(ds))

	text := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello there, plain text"), 0644))
	ds, mime, err = r.ListForFile(text, "")
	require.NoError(t, err)
	assert.Empty(t, mime)
	assert.Empty(t, ds)
}

func TestIsCompatible(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.True(t, r.IsCompatible(""))
	assert.True(t, r.IsCompatible("1.0.0"))
	assert.True(t, r.IsCompatible("1.2.0"))
	assert.False(t, r.IsCompatible("1.3.0"))
	assert.False(t, r.IsCompatible("2.0.0"))
	assert.False(t, r.IsCompatible("0.9.0"))
	assert.False(t, r.IsCompatible("not-a-version"))
}

func TestRegistryNewDelegate(t *testing.T) {
	r, _ := testRegistry(t)
	r.RegisterNative("color", func(d wallpaper.Descriptor, host wallpaper.Host) (wallpaper.Delegate, error) {
		return &stubDelegate{kind: wallpaper.NativeDelegate}, nil
	})

	b := wallpaper.Load("color", r, wallpaper.Options{})
	require.NotNil(t, b)
	assert.Equal(t, wallpaper.NativeDelegate, b.Delegate().Kind())

	// No engine registered for "go" yet.
	assert.Nil(t, wallpaper.Load("slides", r, wallpaper.Options{}))
	_, err := r.NewDelegate(mustFind(t, r, "slides"), nil)
	assert.ErrorIs(t, err, ErrNoEngine)

	r.RegisterEngine("go", func(d wallpaper.Descriptor, pkg wallpaper.Package, host wallpaper.Host) (wallpaper.Delegate, error) {
		assert.True(t, pkg.IsValid())
		return &stubDelegate{kind: wallpaper.ScriptDelegate}, nil
	})
	b = wallpaper.Load("slides", r, wallpaper.Options{})
	require.NotNil(t, b)
	assert.Equal(t, wallpaper.ScriptDelegate, b.Delegate().Kind())

	_, err = r.NewDelegate(mustFind(t, r, "future"), nil)
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.Nil(t, wallpaper.Load("future", r, wallpaper.Options{}))

	r.Add(wallpaper.Descriptor{Name: "orphan"})
	_, err = r.NewDelegate(mustFind(t, r, "orphan"), nil)
	assert.ErrorIs(t, err, wallpaper.ErrBackendUnavailable)
}

func TestRegistryInvalidPackage(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "noscript", "name: noscript\napi: go\n", false)
	r := NewRegistry([]string{root}, nil)
	require.NoError(t, r.Scan(context.Background()))
	r.RegisterEngine("go", func(wallpaper.Descriptor, wallpaper.Package, wallpaper.Host) (wallpaper.Delegate, error) {
		return &stubDelegate{kind: wallpaper.ScriptDelegate}, nil
	})

	_, err := r.NewDelegate(mustFind(t, r, "noscript"), nil)
	assert.True(t, errors.Is(err, wallpaper.ErrBackendUnavailable))
	assert.Nil(t, wallpaper.Load("noscript", r, wallpaper.Options{}))
}

func TestScanKeepsAddedPlugins(t *testing.T) {
	r, _ := testRegistry(t)
	r.Add(wallpaper.Descriptor{Name: "builtin"})
	require.NoError(t, r.Scan(context.Background()))
	_, err := r.Find("builtin")
	assert.NoError(t, err)
}

func TestWatchRescans(t *testing.T) {
	root := t.TempDir()
	r := NewRegistry([]string{root}, nil)
	require.NoError(t, r.Scan(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, func() { changed <- struct{}{} }) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writePlugin(t, root, "late", "name: late\n", false)

	require.Eventually(t, func() bool {
		_, err := r.Find("late")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func mustFind(t *testing.T, r *Registry, name string) wallpaper.Descriptor {
	t.Helper()
	d, err := r.Find(name)
	require.NoError(t, err)
	return d
}
