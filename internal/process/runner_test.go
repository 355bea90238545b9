package process

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	r := NewRunner(nil)

	res, err := r.Run(context.Background(), Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stdout != "out\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRunSuccessIsExitZero(t *testing.T) {
	r := NewRunner(nil)

	res, err := r.Run(context.Background(), Config{
		Name:   "true",
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunPassesExtraEnv(t *testing.T) {
	r := NewRunner(nil)

	res, err := r.Run(context.Background(), Config{
		Name:   "env",
		Binary: "/bin/sh",
		Args:   []string{"-c", `printf '%s' "$HAL_FDI_CACHE_NAME"`},
		Env:    []string{"HAL_FDI_CACHE_NAME=/tmp/test-cache"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "/tmp/test-cache" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunTimesOut(t *testing.T) {
	r := NewRunner(nil)

	start := time.Now()
	_, err := r.Run(context.Background(), Config{
		Name:    "sleeper",
		Binary:  "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, helper not killed promptly", elapsed)
	}
}
