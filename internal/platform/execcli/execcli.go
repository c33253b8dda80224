// Package execcli implements platform.ExternalCLI over os/exec. No example
// in the reference pack shells out to an external binary as part of its
// core logic (process supervision there is always inbound, e.g. an HTTP
// server accepting connections, never outbound command execution), so
// there is no third-party process-runner library to ground this on; the
// standard library's os/exec, wrapped with the same context-and-timeout
// idiom used throughout guard's other adapters, is the justified choice.
package execcli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
)

// Runner shells out to named external binaries (istioctl, flux) with a
// bounded timeout per invocation.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

var _ platform.ExternalCLI = (*Runner)(nil)

func New(timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger}
}

// Run executes name with args and returns its stdout; stderr is captured
// separately. A non-zero exit status returns an error wrapping
// *exec.ExitError with the captured stderr in its message.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		r.logger.Warn("external command failed", "name", name, "args", args, "stderr", stderr.String(), "error", err)
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
