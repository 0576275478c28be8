package deploy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finchly/deploylock/internal/metrics"
	"github.com/finchly/deploylock/internal/protocol"
	"github.com/finchly/deploylock/internal/remote"
)

// Orchestrator runs lock protocol steps across the target role set.
// Each host's run gets its own RunState; hosts only observe each other
// through the shared lock file.
type Orchestrator struct {
	protocol *protocol.Protocol
	hosts    []remote.Host
	parallel bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator creates an orchestrator over the given hosts.
func NewOrchestrator(p *protocol.Protocol, hosts []remote.Host, parallel bool, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		protocol: p,
		hosts:    hosts,
		parallel: parallel,
		logger:   logger,
		metrics:  m,
	}
}

// ForEachHost runs fn once per release host, either sequentially or
// concurrently per configuration. The first failure stops a sequential
// run; a parallel run cancels the remaining hosts' contexts.
func (o *Orchestrator) ForEachHost(ctx context.Context, fn func(context.Context, remote.Host) error) error {
	hosts := remote.ReleaseHosts(o.hosts)
	if len(hosts) == 0 {
		return fmt.Errorf("no release hosts configured")
	}

	if !o.parallel {
		for _, host := range hosts {
			if err := fn(ctx, host); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			return fn(gctx, host)
		})
	}
	return g.Wait()
}

// Check runs the lock check on every release host.
func (o *Orchestrator) Check(ctx context.Context) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.protocol.CheckLock(ctx, host, protocol.NewRunState())
	})
}

// Refresh extends near-expiry automatic locks on every release host.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.protocol.RefreshLock(ctx, host, protocol.NewRunState())
	})
}

// Create takes the described lock on every release host.
func (o *Orchestrator) Create(ctx context.Context, req protocol.CreateRequest) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.protocol.CreateLock(ctx, host, protocol.NewRunState(), req)
	})
}

// Unlock releases automatic locks on every release host.
func (o *Orchestrator) Unlock(ctx context.Context) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.protocol.Unlock(ctx, host, protocol.NewRunState())
	})
}

// ForceUnlock removes locks on every release host regardless of their
// custom flag.
func (o *Orchestrator) ForceUnlock(ctx context.Context) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.protocol.ForceUnlock(ctx, host, protocol.NewRunState())
	})
}

// Status reports the lock state of every release host.
func (o *Orchestrator) Status(ctx context.Context) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.protocol.Status(ctx, host, protocol.NewRunState())
	})
}

// Deploy runs the full locked deploy on every release host: check,
// refresh, create, pipeline, unlock.
func (o *Orchestrator) Deploy(ctx context.Context, pipeline Pipeline, req protocol.CreateRequest) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		return o.deployHost(ctx, pipeline, host, protocol.NewRunState(), req)
	})
}

// DeployWithLock takes an explicit custom lock first, then runs the
// deploy. The custom lock survives the end-of-deploy unlock.
func (o *Orchestrator) DeployWithLock(ctx context.Context, pipeline Pipeline, req protocol.CreateRequest) error {
	return o.ForEachHost(ctx, func(ctx context.Context, host remote.Host) error {
		st := protocol.NewRunState()
		if err := o.protocol.CreateLock(ctx, host, st, req); err != nil {
			return err
		}
		return o.deployHost(ctx, pipeline, host, st, req)
	})
}

func (o *Orchestrator) deployHost(ctx context.Context, pipeline Pipeline, host remote.Host, st *protocol.RunState, req protocol.CreateRequest) error {
	if err := o.protocol.CheckLock(ctx, host, st); err != nil {
		o.metrics.RecordDeploy("blocked")
		return err
	}
	if err := o.protocol.RefreshLock(ctx, host, st); err != nil {
		return err
	}
	if err := o.protocol.CreateLock(ctx, host, st, req); err != nil {
		return err
	}

	if err := pipeline.Deploy(ctx, host); err != nil {
		// The lock stays in place on a failed deploy, blocking
		// retries until someone has looked at the host.
		o.logger.Warn("Deploy failed, leaving lock in place",
			zap.String("host", host.Name),
			zap.Error(err),
		)
		o.metrics.RecordDeploy("failed")
		return err
	}

	if err := o.protocol.Unlock(ctx, host, st); err != nil {
		return err
	}
	o.metrics.RecordDeploy("ok")
	return nil
}
