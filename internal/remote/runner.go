// Package remote provides command execution against the deploy target
// hosts. The lock protocol only ever touches a host through the Runner
// interface, so anything that can run a shell command and upload a file
// can serve as a target.
package remote

import "context"

// Host describes one deploy target.
type Host struct {
	// Name is the short label used in logs and messages.
	Name string `mapstructure:"name"`

	// Addr is the network address commands are sent to. For the local
	// runner this is ignored.
	Addr string `mapstructure:"addr"`

	// NoRelease excludes the host from release tasks. Hosts flagged
	// this way never participate in the lock protocol.
	NoRelease bool `mapstructure:"no_release"`
}

// Runner executes commands on a deploy target.
type Runner interface {
	// Run executes a shell command on the host and returns its
	// standard output. A non-zero exit status is returned as an error.
	Run(ctx context.Context, host Host, command string) (string, error)

	// Upload writes contents to path on the host, replacing any
	// existing file.
	Upload(ctx context.Context, host Host, path string, contents []byte) error
}

// ReleaseHosts filters out hosts flagged as not receiving releases.
func ReleaseHosts(hosts []Host) []Host {
	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if !h.NoRelease {
			out = append(out, h)
		}
	}
	return out
}
