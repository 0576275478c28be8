package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ExpiryPolicy is the expiry requested for a lock: either a concrete
// point in time, or never.
type ExpiryPolicy struct {
	at    time.Time
	never bool
}

// NeverExpire returns the policy for a lock with no expiry.
func NeverExpire() ExpiryPolicy {
	return ExpiryPolicy{never: true}
}

// ExpireAt returns the policy for a lock expiring at the given time.
func ExpireAt(t time.Time) ExpiryPolicy {
	return ExpiryPolicy{at: t.UTC()}
}

// Never reports whether the policy is "never expire".
func (p ExpiryPolicy) Never() bool {
	return p.never
}

// At returns the expiry time, and whether one is set.
func (p ExpiryPolicy) At() (time.Time, bool) {
	if p.never {
		return time.Time{}, false
	}
	return p.at, true
}

// ExpiryParseError reports an expiry input that could not be understood.
type ExpiryParseError struct {
	Input string
	Err   error
}

func (e *ExpiryParseError) Error() string {
	return fmt.Sprintf("cannot parse expiry %q: %v", e.Input, e.Err)
}

func (e *ExpiryParseError) Unwrap() error {
	return e.Err
}

// ParseExpiry interprets an operator-supplied expiry. An empty input
// means the lock never expires. An input starting with "+" is a
// duration offset from now (e.g. "+30m"). Anything else is parsed as a
// timestamp, accepting most common date formats; the result is
// normalised to UTC.
func ParseExpiry(input string, now time.Time) (ExpiryPolicy, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return NeverExpire(), nil
	}

	if strings.HasPrefix(input, "+") {
		d, err := time.ParseDuration(input[1:])
		if err != nil {
			return ExpiryPolicy{}, &ExpiryParseError{Input: input, Err: err}
		}
		return ExpireAt(now.Add(d)), nil
	}

	t, err := dateparse.ParseIn(input, time.UTC)
	if err != nil {
		return ExpiryPolicy{}, &ExpiryParseError{Input: input, Err: err}
	}
	return ExpireAt(t), nil
}
