// Package deploy fans the lock protocol out over the target role set
// and brackets the deploy pipeline with it.
package deploy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/finchly/deploylock/internal/remote"
)

// Pipeline is the surrounding deploy machinery: build, code sync,
// release switching, restarts. The lock protocol only brackets it.
type Pipeline interface {
	// Deploy runs the deploy steps for one host.
	Deploy(ctx context.Context, host remote.Host) error
}

// ScriptPipeline runs a configured shell command on each host as the
// deploy step.
type ScriptPipeline struct {
	runner  remote.Runner
	command string
	logger  *zap.Logger
}

// NewScriptPipeline creates a pipeline running command on every host.
func NewScriptPipeline(runner remote.Runner, command string, logger *zap.Logger) (*ScriptPipeline, error) {
	if command == "" {
		return nil, fmt.Errorf("deploy command cannot be empty")
	}
	return &ScriptPipeline{
		runner:  runner,
		command: command,
		logger:  logger,
	}, nil
}

// Deploy runs the configured command on the host.
func (p *ScriptPipeline) Deploy(ctx context.Context, host remote.Host) error {
	p.logger.Info("Running deploy command",
		zap.String("host", host.Name),
		zap.String("command", p.command),
	)
	if _, err := p.runner.Run(ctx, host, p.command); err != nil {
		return fmt.Errorf("deploy failed: %w", err)
	}
	return nil
}
