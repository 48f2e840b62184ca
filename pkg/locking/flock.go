package locking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FlockGroup is a Group that holds an advisory file lock per key, so several
// processes rendering into the same cache directory never write the same
// entry at once. Goroutines within one process are serialized by an
// embedded MemLock before they touch the file lock.
type FlockGroup struct {
	dir string
	mem *MemLock

	// pruneMu keeps Prune from deleting a file this process is about to lock.
	pruneMu sync.RWMutex
}

// NewFlockGroup creates lock files under dir.
func NewFlockGroup(dir string) (*FlockGroup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FlockGroup{
		dir: dir,
		mem: NewMemLock(),
	}, nil
}

// lockPath hashes key so arbitrary keys map to short, safe file names.
func (g *FlockGroup) lockPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(g.dir, hex.EncodeToString(sum[:])+".lock")
}

// DoWithLock runs fn while holding both the in-process and the file lock
// for key.
func (g *FlockGroup) DoWithLock(key string, fn func() error) error {
	g.pruneMu.RLock()
	defer g.pruneMu.RUnlock()
	return g.mem.DoWithLock(key, func() error {
		fl := flock.New(g.lockPath(key))
		if err := fl.Lock(); err != nil {
			return fmt.Errorf("failed to lock %s: %w", key, err)
		}
		defer fl.Unlock()
		return fn()
	})
}

// Prune removes the lock files no process holds.
func (g *FlockGroup) Prune() error {
	g.pruneMu.Lock()
	defer g.pruneMu.Unlock()

	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		path := filepath.Join(g.dir, e.Name())
		fl := flock.New(path)
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", e.Name(), err)
		}
		if !locked {
			continue
		}
		rmErr := os.Remove(path)
		fl.Unlock()
		if rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("failed to remove lock file: %w", rmErr)
		}
	}
	return nil
}
