// Package store reads and writes the deploy lock file on each target
// host. The lock file is the only shared state between deployers, so
// every operation here is one or two remote commands against it.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finchly/deploylock/internal/model"
	"github.com/finchly/deploylock/internal/remote"
)

// Store provides access to the lock file on a deploy target.
type Store struct {
	runner remote.Runner
	path   string
	logger *zap.Logger
}

// New creates a lock store over the given runner. path is the absolute
// lock file location on every target.
func New(runner remote.Runner, path string, logger *zap.Logger) *Store {
	return &Store{
		runner: runner,
		path:   path,
		logger: logger,
	}
}

// Path returns the remote lock file path.
func (s *Store) Path() string {
	return s.path
}

// Read fetches and decodes the lock record on the host. It returns
// (nil, nil) when the lock file does not exist or is empty. Content
// that exists but does not decode is surfaced as an error wrapping
// model.ErrMalformedLock, never silently treated as absent.
func (s *Store) Read(ctx context.Context, host remote.Host) (*model.Lock, error) {
	q := shellQuote(s.path)

	out, err := s.runner.Run(ctx, host, "test -f "+q+" && echo present || echo absent")
	if err != nil {
		return nil, fmt.Errorf("failed to check lock file: %w", err)
	}
	if strings.TrimSpace(out) != "present" {
		s.logger.Debug("No lock file on host", zap.String("host", host.Name))
		return nil, nil
	}

	raw, err := s.runner.Run(ctx, host, "cat "+q)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	lock, err := model.Unmarshal([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("lock file %s on %s: %w", s.path, host.Name, err)
	}
	return lock, nil
}

// Write serializes the record and uploads it to the lock file path,
// replacing any existing content.
func (s *Store) Write(ctx context.Context, host remote.Host, lock *model.Lock) error {
	data, err := lock.Marshal()
	if err != nil {
		return err
	}
	if err := s.runner.Upload(ctx, host, s.path, data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	s.logger.Debug("Wrote lock file",
		zap.String("host", host.Name),
		zap.String("path", s.path),
		zap.String("username", lock.Username),
	)
	return nil
}

// Remove deletes the lock file. Removing an absent lock is not an
// error.
func (s *Store) Remove(ctx context.Context, host remote.Host) error {
	if _, err := s.runner.Run(ctx, host, "rm -f "+shellQuote(s.path)); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	s.logger.Debug("Removed lock file",
		zap.String("host", host.Name),
		zap.String("path", s.path),
	)
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
