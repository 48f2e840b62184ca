package wallpaper

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"net/url"
	"path/filepath"
	"strconv"
)

const (
	// CacheSubdir is the directory under the cache root holding rendered wallpapers.
	CacheSubdir = "plasma-wallpapers"
	// CacheSuffix is appended to every cached artifact.
	CacheSuffix = ".png"
)

// CacheKey derives the cache key of a rendered image.
//
// Layout: "<w>x<h>_<method>_<#rrggbb>_<escaped path>". The width, height and
// method are decimal integers, the color has a fixed width and the path comes
// last, escaped so it contains no path separators. None of the leading fields
// can contain '_', so the key decodes back to exactly one tuple.
func CacheKey(sourcePath string, size image.Point, method ResizeMethod, fill Color) string {
	b := make([]byte, 0, 32+len(sourcePath))
	b = strconv.AppendInt(b, int64(size.X), 10)
	b = append(b, 'x')
	b = strconv.AppendInt(b, int64(size.Y), 10)
	b = append(b, '_')
	b = strconv.AppendInt(b, int64(method), 10)
	b = append(b, '_')
	b = append(b, fill.Hex()...)
	b = append(b, '_')
	b = append(b, url.PathEscape(sourcePath)...)
	return string(b)
}

// CachePath maps a cache key to the location of its rendered artifact.
//
// Files are spread over 256 subdirectories named after the first byte of the
// key's SHA-256, the same way the build cache shards action IDs. The file name
// is the key itself, so distinct keys never share a path.
func CachePath(cacheDir, key string) string {
	sum := sha256.Sum256([]byte(key))
	shard := hex.EncodeToString(sum[:1])
	return filepath.Join(cacheDir, CacheSubdir, shard, key+CacheSuffix)
}
