/*
Command jobmon-distributor runs one Distributor Loop against a single
array, targeting the local reference plugin by default. Writes the
JOBMON_DISTRIBUTOR_READY startup handshake line to stdout once bound,
per spec §4.5/§6, so a launching process can scan for readiness
without depending on an exact byte offset.
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

	"github.com/ihmeuw-scicomp/jobmon/internal/apiclient"
	"github.com/ihmeuw-scicomp/jobmon/internal/config"
	"github.com/ihmeuw-scicomp/jobmon/internal/distributor"
	"github.com/ihmeuw-scicomp/jobmon/internal/distributor/plugin/local"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
)

var (
	Version = "dev"

	configPath     string
	apiBaseURL     string
	apiToken       string
	arrayID        int64
	workflowRunID  int64
	taskResourceID int64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "jobmon-distributor",
	Short:   "Jobmon Distributor Loop",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&apiBaseURL, "api", "http://localhost:8080/api/v1", "Coordination API base URL")
	rootCmd.Flags().StringVar(&apiToken, "token", "", "bearer token for the Coordination API")
	rootCmd.Flags().Int64Var(&arrayID, "array-id", 0, "array to drive")
	rootCmd.Flags().Int64Var(&workflowRunID, "workflow-run-id", 0, "owning workflow run")
	rootCmd.Flags().Int64Var(&taskResourceID, "task-resources-id", 0, "default task resources id for queue_task_batch")
	_ = rootCmd.MarkFlagRequired("array-id")
	_ = rootCmd.MarkFlagRequired("workflow-run-id")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jmlog.Init(jmlog.Config{Level: jmlog.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

	api := apiclient.New(apiBaseURL, apiToken)
	cluster := local.New(0)

	loop := distributor.New(api, cluster, nil, distributor.Config{
		WorkflowRunID:     workflowRunID,
		ArrayID:           arrayID,
		TaskResourcesID:   taskResourceID,
		HeartbeatInterval: 2 * time.Minute,
		PollInterval:      15 * time.Second,
		KillWatchInterval: 15 * time.Second,
		PluginTimeout:     time.Duration(cfg.Distributor.StartupTimeoutSeconds) * time.Second,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loop.Start(ctx)
	defer loop.Stop()

	fmt.Println("JOBMON_DISTRIBUTOR_READY")
	jmlog.WithComponent("jobmon-distributor").Info().
		Int64("array_id", arrayID).Int64("workflow_run_id", workflowRunID).Msg("distributor loop running")

	<-ctx.Done()
	return nil
}
