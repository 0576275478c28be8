package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMalformedLock is returned when a lock file exists but its contents
// cannot be decoded. A corrupt lock is never treated as an absent lock.
var ErrMalformedLock = errors.New("malformed lock file")

// Lock represents the deploy lock record written to each target host.
// It records who locked the target, when, for how long, and why.
type Lock struct {
	// CreatedAt is the UTC timestamp when the lock was created.
	// It is never modified after creation.
	CreatedAt time.Time `yaml:"created_at"`

	// Username is the operating-system principal that created the lock.
	// A refresh rewrites this to the refreshing principal.
	Username string `yaml:"username"`

	// ExpireAt is the UTC timestamp after which the lock is stale.
	// A nil ExpireAt means the lock never expires and can only be
	// cleared by an explicit unlock.
	ExpireAt *time.Time `yaml:"expire_at,omitempty"`

	// Message is the free-text reason for the lock, shown to any
	// operator who runs into it.
	Message string `yaml:"message"`

	// Custom marks locks created by an explicit lock request, as
	// opposed to the automatic lock taken at the start of every
	// deploy. Custom locks survive the end-of-deploy unlock.
	Custom bool `yaml:"custom"`
}

// New constructs a lock record for the given principal. Timestamps are
// normalised to UTC before they are stored.
func New(username, message string, expiry ExpiryPolicy, custom bool, now time.Time) *Lock {
	l := &Lock{
		CreatedAt: now.UTC(),
		Username:  username,
		Message:   message,
		Custom:    custom,
	}
	if at, ok := expiry.At(); ok {
		at = at.UTC()
		l.ExpireAt = &at
	}
	return l
}

// Expired reports whether the lock has an expiry in the past. A lock
// without an expiry never expires.
func (l *Lock) Expired(now time.Time) bool {
	return l.ExpireAt != nil && l.ExpireAt.Before(now)
}

// OwnedBy reports whether the lock was created (or last refreshed) by
// the given principal.
func (l *Lock) OwnedBy(username string) bool {
	return l.Username == username
}

// ExpiresBefore reports whether the lock has an expiry sooner than the
// given deadline. Locks without an expiry report false.
func (l *Lock) ExpiresBefore(deadline time.Time) bool {
	return l.ExpireAt != nil && l.ExpireAt.Before(deadline)
}

// Describe renders the operator-facing summary of the lock.
func (l *Lock) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deploy lock held by %s since %s\n", l.Username, l.CreatedAt.Format(time.RFC1123))
	if l.ExpireAt != nil {
		fmt.Fprintf(&b, "  expires: %s\n", l.ExpireAt.Format(time.RFC1123))
	} else {
		b.WriteString("  expires: never\n")
	}
	if l.Message != "" {
		fmt.Fprintf(&b, "  reason:  %s\n", l.Message)
	}
	return b.String()
}

// Marshal serializes the lock record to its on-disk YAML form.
func (l *Lock) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize lock: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a lock record from its on-disk YAML form. Decode
// failures wrap ErrMalformedLock so callers can distinguish corruption
// from transport failures.
func Unmarshal(data []byte) (*Lock, error) {
	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLock, err)
	}
	return &l, nil
}
