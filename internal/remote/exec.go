package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ExecRunner executes commands through the local shell. It serves
// single-host setups where the deploy tool already runs on the target,
// and doubles as the runner for dry runs against a scratch directory.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a runner backed by the local shell.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes a shell command locally and returns its stdout.
func (r *ExecRunner) Run(ctx context.Context, host Host, command string) (string, error) {
	r.logger.Debug("Running local command",
		zap.String("host", host.Name),
		zap.String("command", command),
	)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("host %s: command %q failed: %w (stderr: %s)",
			host.Name, command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Upload writes contents to path on the local filesystem.
func (r *ExecRunner) Upload(ctx context.Context, host Host, path string, contents []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return fmt.Errorf("host %s: failed to upload %s: %w", host.Name, path, err)
	}
	return nil
}
