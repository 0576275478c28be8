package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/finchly/deploylock/internal/config"
	"github.com/finchly/deploylock/internal/deploy"
	"github.com/finchly/deploylock/internal/logger"
	"github.com/finchly/deploylock/internal/metrics"
	"github.com/finchly/deploylock/internal/model"
	"github.com/finchly/deploylock/internal/protocol"
	"github.com/finchly/deploylock/internal/remote"
	"github.com/finchly/deploylock/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deploylock",
	Short: "Cooperative deploy lock manager",
	Long: `Coordinates deploys to a shared target environment through a
cooperative lock file held on each target host.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run a locked deploy across the release hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}
			return a.orchestrator.Deploy(ctx, pipeline, protocol.CreateRequest{})
		})
	},
}

var deployWithLockCmd = &cobra.Command{
	Use:   "deploy-with-lock",
	Short: "Take an explicit lock interactively, then deploy",
	Long: `Prompts for a lock message and expiry, writes the custom lock on
every release host, and runs the deploy. The custom lock stays in
place afterwards until removed with force-unlock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}
			prompter := protocol.NewTerminalPrompter(os.Stdin, os.Stdout)
			req, err := protocol.CollectLockRequest(prompter, os.Stdout, time.Now())
			if err != nil {
				return err
			}
			return a.orchestrator.DeployWithLock(ctx, pipeline, req)
		})
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Take an explicit deploy lock interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			prompter := protocol.NewTerminalPrompter(os.Stdin, os.Stdout)
			req, err := protocol.CollectLockRequest(prompter, os.Stdout, time.Now())
			if err != nil {
				return err
			}
			return a.orchestrator.Create(ctx, req)
		})
	},
}

var createLockCmd = &cobra.Command{
	Use:   "create-lock",
	Short: "Take an automatic deploy lock without prompting",
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		expiryInput, _ := cmd.Flags().GetString("expiry")

		return withApp(func(ctx context.Context, a *app) error {
			req := protocol.CreateRequest{Message: message}
			switch expiryInput {
			case "":
				// Default window applies.
			case "never":
				never := model.NeverExpire()
				req.Expiry = &never
			default:
				expiry, err := model.ParseExpiry(expiryInput, time.Now())
				if err != nil {
					return err
				}
				req.Expiry = &expiry
			}
			return a.orchestrator.Create(ctx, req)
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release automatic deploy locks",
	Long:  `Removes the deploy lock on every release host. Custom locks are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.orchestrator.Unlock(ctx)
		})
	},
}

var forceUnlockCmd = &cobra.Command{
	Use:   "force-unlock",
	Short: "Remove deploy locks regardless of their custom flag",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.orchestrator.ForceUnlock(ctx)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a deploy would currently be allowed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.orchestrator.Check(ctx)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Extend near-expiry automatic locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.orchestrator.Refresh(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current lock on every release host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.orchestrator.Status(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(deployWithLockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(createLockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(forceUnlockCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(statusCmd)

	createLockCmd.Flags().String("message", "", "Reason for the lock")
	createLockCmd.Flags().String("expiry", "", `Lock expiry ("never", "+30m", or a timestamp)`)

	// Configuration flags
	rootCmd.PersistentFlags().String("deploy-root", "", "Shared deployment root on the targets")
	rootCmd.PersistentFlags().String("deploy-command", "", "Command run on each host as the deploy step")
	rootCmd.PersistentFlags().String("branch", "main", "Branch being deployed")
	rootCmd.PersistentFlags().String("username", "", "Principal taking locks (default: current OS user)")
	rootCmd.PersistentFlags().Bool("parallel", true, "Run hosts concurrently")
	rootCmd.PersistentFlags().Bool("local", false, "Run commands through the local shell instead of SSH")
	rootCmd.PersistentFlags().StringSlice("hosts", []string{}, "Target host addresses (adds to configured hosts)")
	rootCmd.PersistentFlags().Duration("lock-expiry", 600*time.Second, "Default lock expiry window (e.g. 10m)")
	rootCmd.PersistentFlags().String("lock-filename", "deploy-lock.yml", "Lock file name under the deployment root")
	rootCmd.PersistentFlags().Duration("countdown", 5*time.Second, "Pause before proceeding past your own lock")
	rootCmd.PersistentFlags().String("ssh-user", "", "SSH user on the targets")
	rootCmd.PersistentFlags().Int("ssh-port", 22, "SSH port on the targets")
	rootCmd.PersistentFlags().String("ssh-key", "", "Path to the SSH private key")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (json, console)")
	rootCmd.PersistentFlags().Bool("metrics-enabled", false, "Serve Prometheus metrics during the run")
	rootCmd.PersistentFlags().String("metrics-host", "127.0.0.1", "Metrics listener host")
	rootCmd.PersistentFlags().Int("metrics-port", 9090, "Metrics listener port")

	// Bind flags to viper
	_ = viper.BindPFlag("deploy.root", rootCmd.PersistentFlags().Lookup("deploy-root"))
	_ = viper.BindPFlag("deploy.command", rootCmd.PersistentFlags().Lookup("deploy-command"))
	_ = viper.BindPFlag("deploy.branch", rootCmd.PersistentFlags().Lookup("branch"))
	_ = viper.BindPFlag("deploy.username", rootCmd.PersistentFlags().Lookup("username"))
	_ = viper.BindPFlag("deploy.parallel", rootCmd.PersistentFlags().Lookup("parallel"))
	_ = viper.BindPFlag("deploy.local", rootCmd.PersistentFlags().Lookup("local"))
	_ = viper.BindPFlag("deploy.hosts", rootCmd.PersistentFlags().Lookup("hosts"))
	_ = viper.BindPFlag("lock.expiry", rootCmd.PersistentFlags().Lookup("lock-expiry"))
	_ = viper.BindPFlag("lock.filename", rootCmd.PersistentFlags().Lookup("lock-filename"))
	_ = viper.BindPFlag("lock.countdown", rootCmd.PersistentFlags().Lookup("countdown"))
	_ = viper.BindPFlag("ssh.user", rootCmd.PersistentFlags().Lookup("ssh-user"))
	_ = viper.BindPFlag("ssh.port", rootCmd.PersistentFlags().Lookup("ssh-port"))
	_ = viper.BindPFlag("ssh.key", rootCmd.PersistentFlags().Lookup("ssh-key"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("metrics.enabled", rootCmd.PersistentFlags().Lookup("metrics-enabled"))
	_ = viper.BindPFlag("metrics.host", rootCmd.PersistentFlags().Lookup("metrics-host"))
	_ = viper.BindPFlag("metrics.port", rootCmd.PersistentFlags().Lookup("metrics-port"))
}

// app wires the configured components for one command invocation.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	runner       remote.Runner
	orchestrator *deploy.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Debug("Starting deploylock",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("username", cfg.Username),
	)

	m := metrics.New(cfg.MetricsNamespace, map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	})

	var runner remote.Runner
	if cfg.Local {
		runner = remote.NewExecRunner(log)
	} else {
		runner, err = remote.NewSSHRunner(&remote.SSHConfig{
			User:        cfg.SSHUser,
			Port:        cfg.SSHPort,
			KeyPath:     cfg.SSHKey,
			OutputLevel: cfg.SSHOutputLevel,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create ssh runner: %w", err)
		}
	}

	lockStore := store.New(runner, cfg.LockfilePath(), log)
	proto := protocol.New(lockStore, protocol.Options{
		Username:     cfg.Username,
		Branch:       cfg.Branch,
		ExpiryWindow: cfg.LockExpiry,
		Countdown:    cfg.Countdown,
	}, log, m)

	return &app{
		cfg:          cfg,
		logger:       log,
		metrics:      m,
		runner:       runner,
		orchestrator: deploy.NewOrchestrator(proto, cfg.Hosts, cfg.Parallel, log, m),
	}, nil
}

func (a *app) pipeline() (deploy.Pipeline, error) {
	return deploy.NewScriptPipeline(a.runner, a.cfg.DeployCommand, a.logger)
}

// withApp builds the app, installs signal handling, optionally starts
// the metrics listener, and runs fn.
func withApp(fn func(context.Context, *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.MetricsEnabled {
		srv := metrics.NewServer(
			fmt.Sprintf("%s:%d", a.cfg.MetricsHost, a.cfg.MetricsPort),
			a.metrics, a.logger,
		)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("Metrics shutdown failed", zap.Error(err))
			}
		}()
	}

	return fn(ctx, a)
}
