// Package rendercache stores rendered wallpapers on disk, keyed by the
// wallpaper package's cache keys.
package rendercache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/richardartoul/wallcache/pkg/locking"
	"github.com/richardartoul/wallcache/pkg/metrics"
	"github.com/richardartoul/wallcache/wallpaper"
)

// Remote is a secondary store consulted on local misses. Implementations
// must be safe for concurrent use.
type Remote interface {
	// Get returns the encoded image stored under key; miss is true when absent.
	Get(ctx context.Context, key string) (body []byte, miss bool, err error)
	// Put stores the encoded image under key.
	Put(ctx context.Context, key string, body []byte) error
}

// Metadata describes a cached entry.
type Metadata struct {
	Key     string
	Size    int64
	PutTime time.Time
}

// Store is the local disk cache of rendered wallpapers.
type Store struct {
	cacheDir string // absolute
	logger   *slog.Logger
	locks    locking.Group
	remote   Remote
	latency  *metrics.LatencyTracker
}

// Option configures a Store.
type Option func(*Store)

// WithRemote mirrors the store into r.
func WithRemote(r Remote) Option {
	return func(s *Store) { s.remote = r }
}

// WithLocks overrides the default file-lock group.
func WithLocks(g locking.Group) Option {
	return func(s *Store) { s.locks = g }
}

// WithLatency records get/put timings and hit counters into lt.
func WithLatency(lt *metrics.LatencyTracker) Option {
	return func(s *Store) { s.latency = lt }
}

// New creates a Store rooted at cacheDir.
func New(cacheDir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Store{
		cacheDir: absCacheDir,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		g, err := locking.NewFlockGroup(filepath.Join(absCacheDir, "locks"))
		if err != nil {
			return nil, err
		}
		s.locks = g
	}
	return s, nil
}

// Dir returns the absolute cache root.
func (s *Store) Dir() string {
	return s.cacheDir
}

// Path returns where key is stored. It does not check the file exists.
func (s *Store) Path(key string) string {
	return wallpaper.CachePath(s.cacheDir, key)
}

func (s *Store) metadataPath(key string) string {
	return strings.TrimSuffix(s.Path(key), wallpaper.CacheSuffix) + ".meta"
}

// Get decodes the image cached under key. On a local miss the remote, if
// any, is consulted and a hit is written back locally.
func (s *Store) Get(ctx context.Context, key string) (image.Image, bool, error) {
	start := time.Now()
	defer s.record("cache_get", start)

	img, err := s.readLocal(key)
	if err == nil {
		s.inc("cache_hit")
		return img, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to read local cache entry",
			"key", key,
			"error", err)
	}
	s.inc("cache_miss")

	if s.remote == nil {
		return nil, false, nil
	}
	body, miss, err := s.remote.Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read remote cache entry",
			"key", key,
			"error", err)
		return nil, false, nil
	}
	if miss {
		return nil, false, nil
	}
	img, err = png.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode remote entry %s: %w", key, err)
	}
	s.inc("remote_hit")
	if err := s.writeLocal(key, body); err != nil {
		s.logger.Warn("failed to backfill local cache",
			"key", key,
			"error", err)
	}
	return img, true, nil
}

func (s *Store) readLocal(key string) (image.Image, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return img, nil
}

// Put encodes img as PNG and stores it under key.
func (s *Store) Put(ctx context.Context, key string, img image.Image) error {
	start := time.Now()
	defer s.record("cache_put", start)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	body := buf.Bytes()

	if err := s.writeLocal(key, body); err != nil {
		return err
	}
	if s.remote != nil {
		if err := s.remote.Put(ctx, key, body); err != nil {
			// Continue - the local copy is enough to serve this machine.
			s.logger.Warn("failed to write remote cache entry",
				"key", key,
				"error", err)
		}
	}
	return nil
}

func (s *Store) writeLocal(key string, body []byte) error {
	return s.locks.DoWithLock(key, func() error {
		diskPath := s.Path(key)
		if err := os.MkdirAll(filepath.Dir(diskPath), 0755); err != nil {
			return fmt.Errorf("failed to create cache subdirectory: %w", err)
		}

		// Write to a temp file and rename so readers never see a partial PNG.
		tmpPath := diskPath + ".tmp"
		if err := os.WriteFile(tmpPath, body, 0644); err != nil {
			return fmt.Errorf("failed to write temp file: %w", err)
		}
		if err := os.Rename(tmpPath, diskPath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to rename cache file: %w", err)
		}

		meta := Metadata{Key: key, Size: int64(len(body)), PutTime: time.Now()}
		if err := s.writeMetadata(meta); err != nil {
			s.logger.Warn("failed to write cache metadata",
				"key", key,
				"error", err)
			// Continue - data is cached, just missing metadata
		}
		return nil
	})
}

// writeMetadata writes the sidecar. Format: size:num\ntime:unix\nkey:key\n.
// The key goes last since it may contain ':'.
func (s *Store) writeMetadata(meta Metadata) error {
	metaPath := s.metadataPath(meta.Key)
	content := fmt.Sprintf("size:%d\ntime:%d\nkey:%s\n", meta.Size, meta.PutTime.Unix(), meta.Key)

	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write temp metadata: %w", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename metadata: %w", err)
	}
	return nil
}

// Stat returns the metadata of key, or nil when the entry is missing or its
// sidecar is corrupted.
func (s *Store) Stat(key string) *Metadata {
	data, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read cache metadata", "key", key, "error", err)
		}
		return nil
	}

	var meta Metadata
	var putTimeUnix int64
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "size:"):
			fmt.Sscanf(line, "size:%d", &meta.Size)
		case strings.HasPrefix(line, "time:"):
			fmt.Sscanf(line, "time:%d", &putTimeUnix)
		case strings.HasPrefix(line, "key:"):
			meta.Key = strings.TrimPrefix(line, "key:")
		}
	}
	if meta.Key != key {
		s.logger.Warn("cache metadata does not match its entry",
			"key", key,
			"metaKey", meta.Key)
		return nil
	}
	meta.PutTime = time.Unix(putTimeUnix, 0)
	return &meta
}

// Clear removes every cached wallpaper and the lock files of idle keys.
func (s *Store) Clear() error {
	if err := os.RemoveAll(filepath.Join(s.cacheDir, wallpaper.CacheSubdir)); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if p, ok := s.locks.(locking.Pruner); ok {
		if err := p.Prune(); err != nil {
			return fmt.Errorf("failed to prune cache locks: %w", err)
		}
	}
	return nil
}

func (s *Store) record(op string, start time.Time) {
	if s.latency != nil {
		s.latency.Record(op, time.Since(start))
	}
}

func (s *Store) inc(name string) {
	if s.latency != nil {
		s.latency.Inc(name)
	}
}
