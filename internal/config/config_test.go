package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/finchly/deploylock/internal/remote"
)

// baseSetup sets the minimum a valid configuration needs.
func baseSetup() {
	viper.Reset()
	viper.Set("deploy.root", "/srv/app/shared")
	viper.Set("deploy.local", true)
}

func TestLoad(t *testing.T) {
	defer viper.Reset()

	tests := []struct {
		name    string
		setup   func()
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:  "default configuration",
			setup: baseSetup,
			check: func(t *testing.T, cfg *Config) {
				if cfg.LockExpiry != 600*time.Second {
					t.Errorf("LockExpiry = %s, want 600s", cfg.LockExpiry)
				}
				if cfg.LockFilename != "deploy-lock.yml" {
					t.Errorf("LockFilename = %s, want deploy-lock.yml", cfg.LockFilename)
				}
				if cfg.Countdown != 5*time.Second {
					t.Errorf("Countdown = %s, want 5s", cfg.Countdown)
				}
				if !cfg.Parallel {
					t.Error("Parallel should default to true")
				}
				if cfg.LogLevel != "info" {
					t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
				}
				if cfg.LogFormat != "console" {
					t.Errorf("LogFormat = %s, want console", cfg.LogFormat)
				}
				if cfg.MetricsEnabled {
					t.Error("Metrics should default to disabled")
				}
				if cfg.Username == "" {
					t.Error("Username should fall back to the OS principal")
				}
			},
		},
		{
			name: "custom configuration via viper",
			setup: func() {
				baseSetup()
				viper.Set("lock.expiry", "300s")
				viper.Set("lock.filename", "deploy.lock")
				viper.Set("lock.countdown", "10s")
				viper.Set("deploy.branch", "release")
				viper.Set("deploy.username", "deployer")
				viper.Set("log.level", "debug")
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LockExpiry != 300*time.Second {
					t.Errorf("LockExpiry = %s, want 300s", cfg.LockExpiry)
				}
				if cfg.LockFilename != "deploy.lock" {
					t.Errorf("LockFilename = %s, want deploy.lock", cfg.LockFilename)
				}
				if cfg.Countdown != 10*time.Second {
					t.Errorf("Countdown = %s, want 10s", cfg.Countdown)
				}
				if cfg.Branch != "release" {
					t.Errorf("Branch = %s, want release", cfg.Branch)
				}
				if cfg.Username != "deployer" {
					t.Errorf("Username = %s, want deployer", cfg.Username)
				}
			},
		},
		{
			name: "hosts from configuration",
			setup: func() {
				viper.Reset()
				viper.Set("deploy.root", "/srv/app/shared")
				viper.Set("ssh.user", "deploy")
				viper.Set("ssh.key", "/home/deploy/.ssh/id_ed25519")
				viper.Set("hosts", []map[string]interface{}{
					{"name": "web1", "addr": "10.0.0.1"},
					{"name": "db1", "addr": "10.0.0.2", "no_release": true},
				})
			},
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Hosts) != 2 {
					t.Fatalf("Hosts = %d, want 2", len(cfg.Hosts))
				}
				if cfg.Hosts[1].Name != "db1" || !cfg.Hosts[1].NoRelease {
					t.Errorf("Host db1 not decoded: %+v", cfg.Hosts[1])
				}
				if got := remote.ReleaseHosts(cfg.Hosts); len(got) != 1 {
					t.Errorf("Release hosts = %d, want 1", len(got))
				}
			},
		},
		{
			name: "missing deploy root",
			setup: func() {
				viper.Reset()
				viper.Set("deploy.local", true)
			},
			wantErr: true,
		},
		{
			name: "invalid lock expiry",
			setup: func() {
				baseSetup()
				viper.Set("lock.expiry", "soon")
			},
			wantErr: true,
		},
		{
			name: "ssh mode requires user and key",
			setup: func() {
				viper.Reset()
				viper.Set("deploy.root", "/srv/app/shared")
				viper.Set("hosts", []map[string]interface{}{
					{"name": "web1", "addr": "10.0.0.1"},
				})
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			setup: func() {
				baseSetup()
				viper.Set("log.level", "loud")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LockExpiry:   10 * time.Minute,
			LockFilename: "deploy-lock.yml",
			Countdown:    5 * time.Second,
			DeployRoot:   "/srv/app/shared",
			Username:     "deploy",
			Local:        true,
			Hosts:        []remote.Host{{Name: "local"}},
			LogLevel:     "info",
			LogFormat:    "console",
			MetricsPort:  9090,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "lock filename with separator", mutate: func(c *Config) { c.LockFilename = "../deploy-lock.yml" }, wantErr: true},
		{name: "zero expiry", mutate: func(c *Config) { c.LockExpiry = 0 }, wantErr: true},
		{name: "negative countdown", mutate: func(c *Config) { c.Countdown = -time.Second }, wantErr: true},
		{name: "no hosts", mutate: func(c *Config) { c.Hosts = nil }, wantErr: true},
		{name: "host without name", mutate: func(c *Config) { c.Hosts = []remote.Host{{Addr: "10.0.0.1"}} }, wantErr: true},
		{name: "invalid metrics port", mutate: func(c *Config) { c.MetricsEnabled = true; c.MetricsPort = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLockfilePath(t *testing.T) {
	cfg := &Config{DeployRoot: "/srv/app/shared", LockFilename: "deploy-lock.yml"}
	if got := cfg.LockfilePath(); got != "/srv/app/shared/deploy-lock.yml" {
		t.Errorf("LockfilePath() = %s", got)
	}
}
