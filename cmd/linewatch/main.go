// Command linewatch reconciles production plans with line downtimes found in
// meeting minutes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/linewatch/internal/config"
	"github.com/hurttlocker/linewatch/internal/logging"
)

var version = "dev"

// rootOptions carries the persistent flags and what they resolve to.
type rootOptions struct {
	configPath string
	dbPath     string
	logMode    string
	minutesDir string
	model      string
	threshold  string
	addr       string

	cfg      *config.Config
	resolved config.ResolvedConfig
	log      *logging.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "linewatch",
		Short:         "Production plan vs. line downtime reconciliation",
		Long:          "linewatch imports production plans, extracts line downtimes from meeting minutes, and reports plan tasks that collide with them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, resolved, err := config.Load(config.ResolveOptions{
				ConfigPath:   opts.configPath,
				CLIDBPath:    opts.dbPath,
				CLIAddr:      opts.addr,
				CLILLMModel:  opts.model,
				CLIMinutes:   opts.minutesDir,
				CLILogMode:   opts.logMode,
				CLIThreshold: opts.threshold,
			})
			opts.resolved = resolved
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			log, err := logging.New(cfg.Log.Mode)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			opts.cfg, opts.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				opts.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config file (default ~/.linewatch/config.yaml)")
	pf.StringVar(&opts.dbPath, "db", "", "SQLite database path")
	pf.StringVar(&opts.logMode, "log-mode", "", "Log mode: prod (JSON) or dev (console)")
	pf.StringVar(&opts.minutesDir, "minutes-dir", "", "Root folder of meeting minutes")
	pf.StringVar(&opts.model, "model", "", "Model name for extraction")
	pf.StringVar(&opts.threshold, "threshold", "", "Fuzzy line match threshold (0-100]")

	root.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newScanCmd(opts),
		newPlanCmd(opts),
		newConflictsCmd(opts),
		newLinesCmd(opts),
		newNotificationsCmd(opts),
	)
	return root
}

// withApp opens the wired application for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			opts.log.Warn("closing store", "error", err)
		}
	}()
	return fn(ctx, a)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "linewatch", version)
		},
	}
}
