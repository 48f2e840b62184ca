package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupReadWrite(t *testing.T) {
	g := NewGroup("Wallpaper")
	g.WriteString("Image", "/tmp/a.png")
	g.WriteInt("ResizeMethod", 3)
	g.WriteBool("Slideshow", true)
	g.WriteFloat("Ratio", 1.5)

	assert.Equal(t, "/tmp/a.png", g.ReadString("Image", ""))
	assert.Equal(t, 3, g.ReadInt("ResizeMethod", 0))
	assert.True(t, g.ReadBool("Slideshow", false))
	assert.Equal(t, 1.5, g.ReadFloat("Ratio", 0))
	assert.Equal(t, []string{"Image", "ResizeMethod", "Slideshow", "Ratio"}, g.Keys())

	// Defaults for missing and malformed values.
	assert.Equal(t, "none", g.ReadString("Missing", "none"))
	assert.Equal(t, 7, g.ReadInt("Image", 7))
	assert.False(t, g.ReadBool("Image", false))
}

func TestGroupOverwriteKeepsOrder(t *testing.T) {
	g := NewGroup("g")
	g.WriteString("a", "1")
	g.WriteString("b", "2")
	g.WriteString("a", "3")

	assert.Equal(t, []string{"a", "b"}, g.Keys())
	assert.Equal(t, "3", g.ReadString("a", ""))

	g.Delete("a")
	assert.Equal(t, []string{"b"}, g.Keys())
	assert.False(t, g.HasKey("a"))
}

func TestGroupCloneEqual(t *testing.T) {
	g := NewGroup("g")
	g.WriteString("a", "1")
	c := g.Clone()
	assert.True(t, g.Equal(c))

	c.WriteString("a", "2")
	assert.False(t, g.Equal(c))
	assert.Equal(t, "1", g.ReadString("a", ""))
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wallcache.toml")

	s := NewStore()
	g := s.Group("image")
	g.WriteString("Image", "/usr/share/wallpapers/a b.png")
	g.WriteInt("ResizeMethod", 1)
	g.WriteString("Color", "#102030")
	s.Group("empty")

	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "image"}, loaded.Groups())

	lg := loaded.Group("image")
	assert.Equal(t, "/usr/share/wallpapers/a b.png", lg.ReadString("Image", ""))
	assert.Equal(t, 1, lg.ReadInt("ResizeMethod", 0))
	assert.Equal(t, "#102030", lg.ReadString("Color", ""))
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Empty(t, s.Groups())
}

func TestLoadTypedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typed.toml")
	data := "[image]\nResizeMethod = 4\nPreview = true\nImage = \"/tmp/x.png\"\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	g := s.Group("image")
	assert.Equal(t, 4, g.ReadInt("ResizeMethod", 0))
	assert.True(t, g.ReadBool("Preview", false))
	assert.Equal(t, []string{"Image", "Preview", "ResizeMethod"}, g.Keys())
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[image\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
