// Package protocol implements the deploy lock lifecycle: check,
// expire, refresh, create, and release, run once per target host
// around the deploy pipeline.
//
// The check-then-write sequence against the remote lock file is not
// atomic; two operators locking within the same instant can both
// succeed. That race is accepted for human-paced deploy cadence.
package protocol

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/finchly/deploylock/internal/metrics"
	"github.com/finchly/deploylock/internal/model"
	"github.com/finchly/deploylock/internal/remote"
)

// LockStore is the durable lock access the protocol runs against.
type LockStore interface {
	// Read returns the current lock on the host, or nil when absent.
	Read(ctx context.Context, host remote.Host) (*model.Lock, error)

	// Write replaces the lock on the host.
	Write(ctx context.Context, host remote.Host, lock *model.Lock) error

	// Remove deletes the lock on the host. Idempotent.
	Remove(ctx context.Context, host remote.Host) error
}

// BlockedError aborts a host's run because a live lock belongs to
// someone else, or has no expiry and so can never be auto-bypassed.
type BlockedError struct {
	Host remote.Host
	Lock *model.Lock
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("deploy to %s blocked by lock:\n%s", e.Host.Name, e.Lock.Describe())
}

// Options configures a Protocol for one run.
type Options struct {
	// Username is the ambient principal deploying right now.
	Username string

	// Branch is the branch being deployed, used for the default lock
	// message.
	Branch string

	// ExpiryWindow is how long an automatically created lock lives
	// without renewal.
	ExpiryWindow time.Duration

	// Countdown is the pause before proceeding past your own live
	// lock, giving the operator a chance to interrupt.
	Countdown time.Duration
}

// CreateRequest describes the lock to take in CreateLock. Zero values
// resolve to defaults: the message references the deployed branch, and
// the expiry is now plus the configured window.
type CreateRequest struct {
	Message string
	Expiry  *model.ExpiryPolicy
	Custom  bool
}

// Protocol runs the lock lifecycle steps for target hosts.
type Protocol struct {
	store   LockStore
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	// out receives operator-facing messages; log output stays
	// structured and separate.
	out io.Writer

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Protocol over the given store.
func New(store LockStore, opts Options, logger *zap.Logger, m *metrics.Metrics) *Protocol {
	return &Protocol{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: m,
		out:     os.Stdout,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetOutput redirects operator-facing messages, which go to stdout by
// default.
func (p *Protocol) SetOutput(w io.Writer) {
	p.out = w
}

// current returns the lock state for this run, reading it from the
// store at most once per host.
func (p *Protocol) current(ctx context.Context, host remote.Host, st *RunState) (*model.Lock, error) {
	if lock, known := st.Cached(); known {
		return lock, nil
	}
	lock, err := p.store.Read(ctx, host)
	if err != nil {
		return nil, err
	}
	st.Seed(lock)
	return lock, nil
}

// CheckLock validates the host's lock before a deploy may proceed. An
// expired lock is purged and the deploy continues; a live lock owned
// by the caller (with an expiry) continues after a countdown; any
// other live lock aborts the run with a BlockedError.
func (p *Protocol) CheckLock(ctx context.Context, host remote.Host, st *RunState) error {
	if st.created {
		// This run wrote the lock already; nothing to validate.
		return nil
	}

	lock, err := p.current(ctx, host, st)
	if err != nil {
		p.metrics.RecordLockOperation("check", "error")
		return err
	}
	if lock == nil {
		p.metrics.RecordLockOperation("check", "ok")
		return nil
	}

	now := p.now()
	if lock.Expired(now) {
		fmt.Fprintf(p.out, "Removing expired deploy lock on %s:\n%s", host.Name, lock.Describe())
		if err := p.store.Remove(ctx, host); err != nil {
			p.metrics.RecordLockOperation("check", "error")
			return err
		}
		st.MarkRemoved()
		p.logger.Info("Removed expired deploy lock",
			zap.String("host", host.Name),
			zap.String("username", lock.Username),
		)
		p.metrics.RecordLockOperation("check", "expired")
		return nil
	}

	if lock.OwnedBy(p.opts.Username) && lock.ExpireAt != nil {
		fmt.Fprint(p.out, lock.Describe())
		fmt.Fprintf(p.out, "The deploy lock is yours; continuing in %s (interrupt to abort)\n", p.opts.Countdown)
		if err := p.sleep(ctx, p.opts.Countdown); err != nil {
			p.metrics.RecordLockOperation("check", "error")
			return err
		}
		p.metrics.RecordLockOperation("check", "ok")
		return nil
	}

	// Someone else holds the lock, or it has no expiry. A lock
	// without an expiry blocks everyone, its creator included, until
	// explicitly removed.
	p.metrics.RecordLockOperation("check", "blocked")
	return &BlockedError{Host: host, Lock: lock}
}

// RefreshLock extends an automatic lock that would otherwise expire
// mid-deploy. Custom locks and locks already expiring later than the
// window are left untouched.
func (p *Protocol) RefreshLock(ctx context.Context, host remote.Host, st *RunState) error {
	lock, err := p.current(ctx, host, st)
	if err != nil {
		p.metrics.RecordLockOperation("refresh", "error")
		return err
	}
	if lock == nil || lock.Custom {
		p.metrics.RecordLockOperation("refresh", "skipped")
		return nil
	}

	deadline := p.now().Add(p.opts.ExpiryWindow)
	if !lock.ExpiresBefore(deadline) {
		p.metrics.RecordLockOperation("refresh", "skipped")
		return nil
	}

	lock.Username = p.opts.Username
	at := deadline.UTC()
	lock.ExpireAt = &at

	if err := p.store.Write(ctx, host, lock); err != nil {
		p.metrics.RecordLockOperation("refresh", "error")
		return err
	}
	st.Seed(lock)

	p.logger.Info("Extended deploy lock",
		zap.String("host", host.Name),
		zap.Time("expire_at", at),
	)
	p.metrics.RecordLockOperation("refresh", "ok")
	return nil
}

// CreateLock writes a new lock unless one is already in place. The
// no-op on an existing lock keeps a second create in the same run from
// clobbering a lock the check step just validated.
func (p *Protocol) CreateLock(ctx context.Context, host remote.Host, st *RunState, req CreateRequest) error {
	lock, err := p.current(ctx, host, st)
	if err != nil {
		p.metrics.RecordLockOperation("create", "error")
		return err
	}
	if lock != nil {
		p.logger.Debug("Lock already present, leaving in place",
			zap.String("host", host.Name),
			zap.String("username", lock.Username),
		)
		p.metrics.RecordLockOperation("create", "skipped")
		return nil
	}

	now := p.now()
	message := req.Message
	if message == "" {
		message = fmt.Sprintf("Deploying branch %s", p.opts.Branch)
	}
	expiry := model.ExpireAt(now.Add(p.opts.ExpiryWindow))
	if req.Expiry != nil {
		expiry = *req.Expiry
	}

	newLock := model.New(p.opts.Username, message, expiry, req.Custom, now)
	if err := p.store.Write(ctx, host, newLock); err != nil {
		p.metrics.RecordLockOperation("create", "error")
		return err
	}
	st.Seed(newLock)
	st.MarkCreated()

	p.logger.Info("Created deploy lock",
		zap.String("host", host.Name),
		zap.String("username", newLock.Username),
		zap.Bool("custom", newLock.Custom),
	)
	p.metrics.RecordLockOperation("create", "ok")
	return nil
}

// Unlock removes the automatic lock at the end of a deploy. Custom
// locks are kept in place; only ForceUnlock clears those.
func (p *Protocol) Unlock(ctx context.Context, host remote.Host, st *RunState) error {
	lock, err := p.current(ctx, host, st)
	if err != nil {
		p.metrics.RecordLockOperation("unlock", "error")
		return err
	}
	if lock == nil {
		p.metrics.RecordLockOperation("unlock", "skipped")
		return nil
	}
	if lock.Custom {
		fmt.Fprintf(p.out, "Keeping custom deploy lock on %s in place:\n%s", host.Name, lock.Describe())
		p.metrics.RecordLockOperation("unlock", "skipped")
		return nil
	}

	if err := p.store.Remove(ctx, host); err != nil {
		p.metrics.RecordLockOperation("unlock", "error")
		return err
	}
	st.MarkRemoved()

	p.logger.Info("Removed deploy lock", zap.String("host", host.Name))
	p.metrics.RecordLockOperation("unlock", "ok")
	return nil
}

// ForceUnlock removes the lock regardless of its custom flag. Manual
// recovery only.
func (p *Protocol) ForceUnlock(ctx context.Context, host remote.Host, st *RunState) error {
	if err := p.store.Remove(ctx, host); err != nil {
		p.metrics.RecordLockOperation("force_unlock", "error")
		return err
	}
	st.MarkRemoved()

	fmt.Fprintf(p.out, "Removed deploy lock on %s\n", host.Name)
	p.logger.Info("Force-removed deploy lock", zap.String("host", host.Name))
	p.metrics.RecordLockOperation("force_unlock", "ok")
	return nil
}

// Status prints the current lock on the host without mutating
// anything.
func (p *Protocol) Status(ctx context.Context, host remote.Host, st *RunState) error {
	lock, err := p.current(ctx, host, st)
	if err != nil {
		return err
	}
	if lock == nil {
		fmt.Fprintf(p.out, "%s: no deploy lock\n", host.Name)
		return nil
	}
	fmt.Fprintf(p.out, "%s:\n%s", host.Name, lock.Describe())
	return nil
}

// sleepCtx blocks for d, returning early if the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
