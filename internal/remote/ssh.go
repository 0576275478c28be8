package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/logutils"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSHConfig holds the connection settings shared by all hosts.
type SSHConfig struct {
	// User is the account commands run as on the targets.
	User string

	// Port is the SSH port on every target. Default: 22.
	Port int

	// KeyPath is the path to the private key used for authentication.
	KeyPath string

	// ConnectTimeout bounds the TCP dial to a host. Default: 10s.
	ConnectTimeout time.Duration

	// OutputLevel is the minimum level ("DEBUG", "INFO", "WARN",
	// "ERROR") at which remote command output is echoed locally.
	OutputLevel string
}

// SSHRunner executes commands over SSH connections opened per call.
// Deploy cadence is human-paced, so connection pooling is not worth
// its complexity here.
type SSHRunner struct {
	config    *SSHConfig
	client    *ssh.ClientConfig
	logger    *zap.Logger
	remoteOut *log.Logger
}

// NewSSHRunner creates an SSH runner from the given settings.
func NewSSHRunner(cfg *SSHConfig, logger *zap.Logger) (*SSHRunner, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user cannot be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	// Remote command output goes through a level filter so verbose
	// deploy scripts stay quiet unless asked for.
	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(cfg.OutputLevel),
		Writer:   io.Discard,
	}
	if cfg.OutputLevel == "DEBUG" || cfg.OutputLevel == "INFO" {
		filter.Writer = os.Stdout
	}

	return &SSHRunner{
		config: cfg,
		client: &ssh.ClientConfig{
			User: cfg.User,
			Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
			// TODO: verify host keys against a known_hosts file.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         cfg.ConnectTimeout,
		},
		logger:    logger,
		remoteOut: log.New(filter, "", log.LstdFlags),
	}, nil
}

// Run executes a shell command on the host and returns its stdout.
func (r *SSHRunner) Run(ctx context.Context, host Host, command string) (string, error) {
	client, err := r.dial(ctx, host)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("host %s: failed to open session: %w", host.Name, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	r.logger.Debug("Running remote command",
		zap.String("host", host.Name),
		zap.String("command", command),
	)

	if err := session.Run(command); err != nil {
		return "", fmt.Errorf("host %s: command %q failed: %w (stderr: %s)",
			host.Name, command, err, strings.TrimSpace(stderr.String()))
	}

	r.echo(host, stdout.String())
	return stdout.String(), nil
}

// Upload writes contents to path on the host, replacing any existing
// file. The write goes through a shell redirect rather than SFTP so a
// target only needs a POSIX shell.
func (r *SSHRunner) Upload(ctx context.Context, host Host, path string, contents []byte) error {
	client, err := r.dial(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("host %s: failed to open session: %w", host.Name, err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(contents)
	if err := session.Run("cat > " + shellQuote(path)); err != nil {
		return fmt.Errorf("host %s: failed to upload %s: %w", host.Name, path, err)
	}
	return nil
}

// dial opens an SSH client connection honouring context cancellation.
// x/crypto/ssh has no context support of its own, so the TCP dial
// carries the context and the handshake rides on its deadline.
func (r *SSHRunner) dial(ctx context.Context, host Host) (*ssh.Client, error) {
	addr := net.JoinHostPort(host.Addr, fmt.Sprintf("%d", r.config.Port))

	d := net.Dialer{Timeout: r.config.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("host %s: failed to connect to %s: %w", host.Name, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, r.client)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("host %s: ssh handshake failed: %w", host.Name, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// echo forwards remote output lines through the level filter.
func (r *SSHRunner) echo(host Host, output string) {
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line == "" {
			continue
		}
		r.remoteOut.Printf("[INFO] %s: %s", host.Name, line)
	}
}

// shellQuote wraps s in single quotes, escaping any embedded quotes,
// so configured paths survive the remote shell intact.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
