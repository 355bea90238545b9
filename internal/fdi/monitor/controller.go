// Package monitor keeps the compiled rule cache coherent with the FDI
// source tree. It detects staleness by comparing the tree's maximum mtime
// against the cache file, regenerates through the external compiler tool,
// and invalidates eagerly on file-watcher events so the next device
// processed pays for the regeneration.
package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/hal-core/internal/fdi/cache"
	"github.com/nerrad567/hal-core/internal/fdi/compiler"
)

// Logger defines the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Regenerator rebuilds the cache file from the source tree. The production
// implementation execs the compiler tool; tests compile in-process.
type Regenerator interface {
	Regenerate(ctx context.Context, sources compiler.Sources, cachePath string) error
}

// Controller owns the current cache mapping and its freshness state.
//
// Thread Safety:
//   - EnsureFresh and Cache run on the daemon event loop. Invalidate is
//     safe from any goroutine (the watcher delivers off-loop); it only
//     flips an atomic flag.
//   - Regeneration is at most one in flight: a second caller blocks on the
//     mutex until the first finishes and then sees a fresh cache.
type Controller struct {
	sources   compiler.Sources
	cachePath string
	regen     Regenerator
	logger    Logger

	valid atomic.Bool

	mu      sync.Mutex
	current *cache.Cache

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a controller. The cache is not opened until the first
// EnsureFresh call.
func New(sources compiler.Sources, cachePath string, regen Regenerator) *Controller {
	return &Controller{
		sources:   sources,
		cachePath: cachePath,
		regen:     regen,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Cache returns the current mapping, or nil before the first successful
// EnsureFresh.
func (c *Controller) Cache() *cache.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Invalidate marks the cache as suspect. The next EnsureFresh performs the
// full mtime comparison. Called by the file watcher and usable by tests.
func (c *Controller) Invalidate() {
	c.valid.Store(false)
}

// EnsureFresh performs the coherency check: if the cache has been marked
// invalid (or never validated), compare the source tree's maximum mtime
// against the cache file and regenerate when the cache is older, empty or
// absent. The mapping is (re)opened as needed.
//
// Returns whether a regeneration happened.
func (c *Controller) EnsureFresh(ctx context.Context) (bool, error) {
	if c.valid.Load() {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A blocked caller may find the work already done.
	if c.valid.Load() {
		return false, nil
	}

	var maxMtime time.Time
	for _, dir := range c.sources.All() {
		treeMtime(dir, &maxMtime)
	}

	needRegen := false
	st, err := os.Stat(c.cachePath)
	switch {
	case err != nil:
		c.logger.Info("cache absent, regenerating", "path", c.cachePath)
		needRegen = true
	case st.Size() == 0:
		c.logger.Info("cache zero size, regenerating", "path", c.cachePath)
		needRegen = true
	case st.ModTime().Before(maxMtime):
		c.logger.Info("cache older than source tree, regenerating",
			"cache_mtime", st.ModTime(),
			"source_mtime", maxMtime,
		)
		needRegen = true
	}

	if needRegen {
		if err := c.regen.Regenerate(ctx, c.sources, c.cachePath); err != nil {
			// Keep the previous mapping; stale rules beat no rules.
			c.logger.Error("cache regeneration failed", "error", err)
			return false, fmt.Errorf("regenerating cache: %w", err)
		}
	}

	if needRegen || c.current == nil {
		if err := c.reopenLocked(); err != nil {
			return needRegen, err
		}
	}

	c.valid.Store(true)
	return needRegen, nil
}

// reopenLocked swaps the mapping for a fresh one. Caller holds mu.
func (c *Controller) reopenLocked() error {
	next, err := cache.Open(c.cachePath)
	if err != nil {
		return fmt.Errorf("reopening cache: %w", err)
	}
	if c.current != nil {
		c.logger.Info("unmapping old cache")
		c.current.Close()
	}
	c.current = next
	c.logger.Info("cache mapped", "path", c.cachePath, "bytes", next.Size())
	return nil
}

// WatchSources installs a recursive file watcher over every source
// directory. Any create/delete/change event marks the cache invalid; the
// actual check and regeneration happen lazily on the next EnsureFresh.
func (c *Controller) WatchSources() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	c.watcher = w
	c.done = make(chan struct{})

	for _, dir := range c.sources.All() {
		c.watchTree(dir)
	}

	go c.watchLoop()
	return nil
}

// watchTree adds dir and every non-hidden subdirectory to the watcher.
// Missing directories are skipped; they get picked up if created later
// inside a watched parent.
func (c *Controller) watchTree(dir string) {
	filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if werr := c.watcher.Add(path); werr != nil {
			c.logger.Warn("cannot watch directory", "dir", path, "error", werr)
		} else {
			c.logger.Debug("watching directory", "dir", path)
		}
		return nil
	})
}

func (c *Controller) watchLoop() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.logger.Debug("source tree changed, marking cache invalid",
				"path", event.Name, "op", event.Op.String())
			c.Invalidate()

			// New subdirectories need their own watch to keep the
			// coverage recursive.
			if event.Op.Has(fsnotify.Create) {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					c.watchTree(event.Name)
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops the watcher and unmaps the cache.
func (c *Controller) Close() error {
	if c.watcher != nil {
		close(c.done)
		c.watcher.Close()
		c.watcher = nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		err := c.current.Close()
		c.current = nil
		return err
	}
	return nil
}

// treeMtime folds the newest mtime under path into max, skipping dot
// entries. The directory's own mtime counts: deleting a file bumps it.
func treeMtime(path string, max *time.Time) {
	st, err := os.Stat(path)
	if err != nil {
		return
	}
	if st.ModTime().After(*max) {
		*max = st.ModTime()
	}
	if !st.IsDir() {
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		treeMtime(filepath.Join(path, entry.Name()), max)
	}
}
