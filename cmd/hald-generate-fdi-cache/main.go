// hald-generate-fdi-cache compiles the FDI rule source tree into the
// packed binary cache the daemon memory-maps.
//
// The tool honours the same environment variables as the daemon
// (HAL_FDI_SOURCE_PREPROBE, HAL_FDI_SOURCE_INFORMATION,
// HAL_FDI_SOURCE_POLICY, HAL_FDI_CACHE_NAME), which is how the daemon
// invokes it during cache regeneration.
//
// Exit status: 0 on success, 2 when some malformed .fdi files were
// skipped (their rules are simply absent from the cache), 1 on fatal
// errors.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/hal-core/internal/fdi/compiler"
	"github.com/nerrad567/hal-core/internal/infrastructure/config"
	"github.com/nerrad567/hal-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags.
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "hald-generate-fdi-cache",
		Usage:   "generate the binary rule cache from FDI files",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "show verbose rule processing output",
			},
		},
		Action: run,
	}

	// cli.Exit errors (codes 1 and 2) terminate inside Run; anything that
	// reaches here is a usage error.
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := "info"
	if c.Bool("verbose") {
		level = "debug"
	}
	logger := logging.New(config.LoggingConfig{
		Level:  level,
		Format: "text",
		Output: "stderr",
	}, version).With("component", "fdi-compiler")

	sources := compiler.DefaultSources().WithEnvOverrides()
	cachePath := compiler.CachePathFromEnv("")

	skipped, err := compiler.New(logger).CompileToFile(sources, cachePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error generating fdi cache: %v", err), 1)
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "Skipped %d fdi files\n", skipped)
		return cli.Exit("", 2)
	}
	return nil
}
