package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hal-core/internal/fdi/compiler"
	"github.com/nerrad567/hal-core/internal/process"
)

// ErrRegenFailed is returned when the compiler tool exits with a fatal
// status; the previous cache stays in place.
var ErrRegenFailed = errors.New("monitor: cache regeneration failed")

// DefaultCompilerBinary is the installed name of the rule compiler.
const DefaultCompilerBinary = "hald-generate-fdi-cache"

// regenTimeout bounds one compiler run.
const regenTimeout = 60 * time.Second

// SubprocessRegenerator rebuilds the cache by invoking the compiler tool
// with the source and cache locations forwarded through the environment.
// Exit code 0 means clean, 2 means some files were skipped; both leave a
// usable cache behind.
type SubprocessRegenerator struct {
	runner *process.Runner
	binary string
	logger Logger
}

// NewSubprocessRegenerator creates a regenerator execing binary. An empty
// binary uses the installed default.
func NewSubprocessRegenerator(runner *process.Runner, binary string, logger Logger) *SubprocessRegenerator {
	if binary == "" {
		binary = DefaultCompilerBinary
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &SubprocessRegenerator{runner: runner, binary: binary, logger: logger}
}

// Regenerate runs the compiler. The three source lists are passed as the
// HAL_FDI_SOURCE_* variables (only single-directory lists can be
// forwarded; defaulted lists are left for the tool to resolve the same
// way the daemon did).
func (r *SubprocessRegenerator) Regenerate(ctx context.Context, sources compiler.Sources, cachePath string) error {
	env := []string{compiler.EnvCacheName + "=" + cachePath}
	if len(sources.Preprobe) == 1 {
		env = append(env, compiler.EnvSourcePreprobe+"="+sources.Preprobe[0])
	}
	if len(sources.Information) == 1 {
		env = append(env, compiler.EnvSourceInformation+"="+sources.Information[0])
	}
	if len(sources.Policy) == 1 {
		env = append(env, compiler.EnvSourcePolicy+"="+sources.Policy[0])
	}

	res, err := r.runner.Run(ctx, process.Config{
		Name:    "fdi-cache-compiler",
		Binary:  r.binary,
		Env:     env,
		Timeout: regenTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegenFailed, err)
	}

	switch res.ExitCode {
	case 0:
		return nil
	case 2:
		r.logger.Warn("compiler skipped some fdi files", "stderr", res.Stderr)
		return nil
	default:
		return fmt.Errorf("%w: exit %d: %s", ErrRegenFailed, res.ExitCode, res.Stderr)
	}
}

// InProcessRegenerator compiles without forking. The daemon uses the
// subprocess form so a compiler crash cannot take the daemon down; tools
// and tests link the compiler directly.
type InProcessRegenerator struct {
	compiler *compiler.Compiler
}

// NewInProcessRegenerator wraps a compiler as a Regenerator.
func NewInProcessRegenerator(c *compiler.Compiler) *InProcessRegenerator {
	return &InProcessRegenerator{compiler: c}
}

// Regenerate compiles sources straight to cachePath.
func (r *InProcessRegenerator) Regenerate(_ context.Context, sources compiler.Sources, cachePath string) error {
	if _, err := r.compiler.CompileToFile(sources, cachePath); err != nil {
		return fmt.Errorf("%w: %v", ErrRegenFailed, err)
	}
	return nil
}
