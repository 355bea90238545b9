package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nerrad567/hal-core/internal/fdi"
)

// Environment variables overriding the source directories and cache path.
const (
	EnvSourcePreprobe    = "HAL_FDI_SOURCE_PREPROBE"
	EnvSourceInformation = "HAL_FDI_SOURCE_INFORMATION"
	EnvSourcePolicy      = "HAL_FDI_SOURCE_POLICY"
	EnvCacheName         = "HAL_FDI_CACHE_NAME"
)

// Default install locations of the FDI source tree and the compiled cache.
const (
	DefaultSourceRoot = "/usr/share/hal/fdi"
	DefaultCachePath  = "/var/cache/hald/fdi-cache"
)

// Logger defines the logging interface used by the compiler.
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

// Sources lists the directories scanned for each rule phase, in scan order.
type Sources struct {
	Preprobe    []string
	Information []string
	Policy      []string
}

// DefaultSources returns the install-time source layout.
func DefaultSources() Sources {
	return Sources{
		Preprobe:    []string{filepath.Join(DefaultSourceRoot, "preprobe")},
		Information: []string{filepath.Join(DefaultSourceRoot, "information")},
		Policy:      []string{filepath.Join(DefaultSourceRoot, "policy")},
	}
}

// WithEnvOverrides replaces each phase's directory list with the value of
// its HAL_FDI_SOURCE_* variable when set.
func (s Sources) WithEnvOverrides() Sources {
	if v := os.Getenv(EnvSourcePreprobe); v != "" {
		s.Preprobe = []string{v}
	}
	if v := os.Getenv(EnvSourceInformation); v != "" {
		s.Information = []string{v}
	}
	if v := os.Getenv(EnvSourcePolicy); v != "" {
		s.Policy = []string{v}
	}
	return s
}

// ForPhase returns the directory list for one phase.
func (s Sources) ForPhase(p fdi.Phase) []string {
	switch p {
	case fdi.PhasePreprobe:
		return s.Preprobe
	case fdi.PhaseInformation:
		return s.Information
	default:
		return s.Policy
	}
}

// All returns every source directory across the three phases.
func (s Sources) All() []string {
	out := make([]string, 0, len(s.Preprobe)+len(s.Information)+len(s.Policy))
	out = append(out, s.Preprobe...)
	out = append(out, s.Information...)
	out = append(out, s.Policy...)
	return out
}

// CachePathFromEnv returns HAL_FDI_CACHE_NAME or def when unset.
func CachePathFromEnv(def string) string {
	if v := os.Getenv(EnvCacheName); v != "" {
		return v
	}
	if def == "" {
		return DefaultCachePath
	}
	return def
}

// Result is a compiled cache blob plus per-run bookkeeping.
type Result struct {
	// Blob is the complete cache image, header included.
	Blob []byte

	// Skipped counts malformed .fdi files that were elided.
	Skipped int
}

// Compiler turns an FDI source tree into a packed rule cache.
type Compiler struct {
	logger Logger
}

// New creates a compiler. A nil logger silences diagnostics.
func New(logger Logger) *Compiler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Compiler{logger: logger}
}

// Compile scans the three phase directory lists and builds the cache blob
// in memory.
//
// Files inside each directory are processed in reverse alphabetical order,
// which gives higher-numbered overrides priority over defaults; dot
// directories are skipped; only names ending in .fdi are compiled. A
// malformed file is elided (the region is truncated back to the file's
// start), logged, and counted in Result.Skipped; compilation continues.
//
// A missing source directory is not an error: it simply contributes no
// rules.
func (c *Compiler) Compile(sources Sources) (*Result, error) {
	w := newBlobWriter()
	res := &Result{}

	regionStarts := make([]uint32, 3)
	for i, phase := range fdi.Phases() {
		regionStarts[i] = w.pos()
		for _, dir := range sources.ForPhase(phase) {
			if err := c.compileTree(w, dir, res); err != nil {
				return nil, err
			}
		}
	}

	w.putU32(0, regionStarts[0])
	w.putU32(4, regionStarts[1])
	w.putU32(8, regionStarts[2])
	w.putU32(12, w.size())

	res.Blob = w.buf
	c.logger.Info("rules compiled",
		"bytes", len(res.Blob),
		"skipped_files", res.Skipped,
	)
	return res, nil
}

// compileTree recurses dir, compiling .fdi files in reverse alphabetical
// order per directory level.
func (c *Compiler) compileTree(w *blobWriter, dir string, res *Result) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Debug("source directory absent", "dir", dir)
			return nil
		}
		return fmt.Errorf("scanning %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() > entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			if err := c.compileTree(w, full, res); err != nil {
				return err
			}
			continue
		}
		if len(name) < 5 || !strings.HasSuffix(name, ".fdi") {
			continue
		}

		before := w.size()
		if err := compileFile(w, full); err != nil {
			w.truncate(before)
			c.logger.Error("skipped fdi file", "file", full, "error", err)
			res.Skipped++
			continue
		}
		c.logger.Debug("compiled fdi file", "file", full)
	}
	return nil
}

// CompileToFile compiles sources and atomically replaces the cache at
// path: the blob is written to path+"~" and renamed over the target.
// Returns the number of skipped files.
func (c *Compiler) CompileToFile(sources Sources, path string) (int, error) {
	res, err := c.Compile(sources)
	if err != nil {
		return 0, err
	}

	tmp := path + "~"
	if err := os.WriteFile(tmp, res.Blob, 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return res.Skipped, nil
}
