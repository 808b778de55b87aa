/*
Command jobmon-server runs the Coordination API and the Reaper in one
process, behind a single cobra root command.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ihmeuw-scicomp/jobmon/internal/api"
	"github.com/ihmeuw-scicomp/jobmon/internal/config"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/reaper"
	"github.com/ihmeuw-scicomp/jobmon/internal/store/postgres"
)

var (
	Version = "dev"

	configPath string
	addr       string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "jobmon-server",
	Short:   "Jobmon Coordination API and Reaper",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	jmlog.Init(jmlog.Config{Level: jmlog.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

	st, err := postgres.Open(postgres.Config{
		DSN:                cfg.DB.SQLAlchemyDatabaseURI,
		PoolSize:           cfg.DB.PoolSize,
		MaxOverflow:        cfg.DB.MaxOverflow,
		PoolTimeoutSeconds: cfg.DB.PoolTimeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer st.Close()

	engines := api.NewEngines()
	server := api.NewServer(addr, st, engines, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		AdminUsers:  cfg.Auth.AdminUsers,
		Versions:    []string{"v1"},
	})

	pollInterval := time.Duration(cfg.Reaper.PollIntervalMinutes) * time.Minute
	// grace = multiplier * poll_interval (spec §4.4): how long a
	// workflow-run's heartbeat may lag the sweep before it counts as dead.
	grace := time.Duration(cfg.Reaper.GracePeriodMultiplier) * pollInterval
	r := reaper.New(st, engines.TaskInstance, reaper.Config{
		PollInterval:                pollInterval,
		WorkflowRunHeartbeatTimeout: grace,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r.Start(ctx)
	defer r.Stop()

	jmlog.WithComponent("jobmon-server").Info().Str("addr", addr).Msg("starting")
	return server.Start(ctx)
}
