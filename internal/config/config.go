package config

import (
	"fmt"
	"os"
	"os/user"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/finchly/deploylock/internal/remote"
)

// Config holds all configuration for a deploy run. Defaults come from
// viper, overridden by the optional config file, DEPLOYLOCK_*
// environment variables, and flags, in that order. Everything is
// resolved once at the start of a run.
type Config struct {
	// Lock settings
	LockExpiry   time.Duration
	LockFilename string
	Countdown    time.Duration

	// Deploy settings
	DeployRoot    string
	DeployCommand string
	Branch        string
	Username      string
	Parallel      bool
	Local         bool

	// Target hosts
	Hosts []remote.Host

	// SSH settings
	SSHUser        string
	SSHPort        int
	SSHKey         string
	SSHOutputLevel string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Metrics settings
	MetricsEnabled   bool
	MetricsHost      string
	MetricsPort      int
	MetricsNamespace string
}

// Load reads configuration from environment variables, config file,
// and flags.
func Load() (*Config, error) {
	viper.SetDefault("lock.expiry", "600s")
	viper.SetDefault("lock.filename", "deploy-lock.yml")
	viper.SetDefault("lock.countdown", "5s")
	viper.SetDefault("deploy.root", "")
	viper.SetDefault("deploy.command", "")
	viper.SetDefault("deploy.branch", "main")
	viper.SetDefault("deploy.username", "")
	viper.SetDefault("deploy.parallel", true)
	viper.SetDefault("deploy.local", false)
	viper.SetDefault("ssh.user", "")
	viper.SetDefault("ssh.port", 22)
	viper.SetDefault("ssh.key", "")
	viper.SetDefault("ssh.output_level", "WARN")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.host", "127.0.0.1")
	viper.SetDefault("metrics.port", 9090)

	viper.SetEnvPrefix("DEPLOYLOCK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("deploylock")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/deploylock/")

	// Reading a config file is optional.
	_ = viper.ReadInConfig()

	cfg := &Config{
		LockFilename:     viper.GetString("lock.filename"),
		DeployRoot:       viper.GetString("deploy.root"),
		DeployCommand:    viper.GetString("deploy.command"),
		Branch:           viper.GetString("deploy.branch"),
		Username:         viper.GetString("deploy.username"),
		Parallel:         viper.GetBool("deploy.parallel"),
		Local:            viper.GetBool("deploy.local"),
		SSHUser:          viper.GetString("ssh.user"),
		SSHPort:          viper.GetInt("ssh.port"),
		SSHKey:           viper.GetString("ssh.key"),
		SSHOutputLevel:   viper.GetString("ssh.output_level"),
		LogLevel:         viper.GetString("log.level"),
		LogFormat:        viper.GetString("log.format"),
		MetricsEnabled:   viper.GetBool("metrics.enabled"),
		MetricsHost:      viper.GetString("metrics.host"),
		MetricsPort:      viper.GetInt("metrics.port"),
		MetricsNamespace: "deploylock", // Fixed value, not configurable
	}

	expiry, err := time.ParseDuration(viper.GetString("lock.expiry"))
	if err != nil {
		return nil, fmt.Errorf("invalid lock expiry: %w", err)
	}
	cfg.LockExpiry = expiry

	countdown, err := time.ParseDuration(viper.GetString("lock.countdown"))
	if err != nil {
		return nil, fmt.Errorf("invalid lock countdown: %w", err)
	}
	cfg.Countdown = countdown

	if err := viper.UnmarshalKey("hosts", &cfg.Hosts); err != nil {
		return nil, fmt.Errorf("invalid hosts configuration: %w", err)
	}
	// Plain addresses from the command line supplement the
	// structured host list.
	for _, addr := range viper.GetStringSlice("deploy.hosts") {
		cfg.Hosts = append(cfg.Hosts, remote.Host{Name: addr, Addr: addr})
	}
	if len(cfg.Hosts) == 0 && cfg.Local {
		cfg.Hosts = []remote.Host{{Name: "local"}}
	}

	if cfg.Username == "" {
		cfg.Username = currentUsername()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LockfilePath returns the remote lock file path, deployment root plus
// the configured filename.
func (c *Config) LockfilePath() string {
	return path.Join(c.DeployRoot, c.LockFilename)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DeployRoot == "" {
		return fmt.Errorf("deploy root must be configured")
	}
	if c.LockFilename == "" {
		return fmt.Errorf("lock filename cannot be empty")
	}
	if strings.ContainsRune(c.LockFilename, '/') {
		return fmt.Errorf("lock filename must not contain path separators: %s", c.LockFilename)
	}
	if c.LockExpiry <= 0 {
		return fmt.Errorf("invalid lock expiry: %s (must be positive)", c.LockExpiry)
	}
	if c.Countdown < 0 {
		return fmt.Errorf("invalid lock countdown: %s (must be non-negative)", c.Countdown)
	}

	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host must be configured")
	}
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("every host needs a name")
		}
		if !c.Local && h.Addr == "" {
			return fmt.Errorf("host %s needs an address", h.Name)
		}
	}

	if !c.Local {
		if c.SSHUser == "" {
			return fmt.Errorf("ssh user must be configured")
		}
		if c.SSHPort < 1 || c.SSHPort > 65535 {
			return fmt.Errorf("invalid ssh port: %d", c.SSHPort)
		}
		if c.SSHKey == "" {
			return fmt.Errorf("ssh key must be configured")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.MetricsEnabled {
		if c.MetricsPort < 1 || c.MetricsPort > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
		}
	}

	return nil
}

// currentUsername resolves the ambient operating-system principal.
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
