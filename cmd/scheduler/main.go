package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/config"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/log"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/scheduler"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Distributed job scheduler engine",
	Long: `A priority-aware job scheduling engine with dependency tracking,
worker health monitoring, and automatic failure recovery.

Jobs are queued in three priority bands, placed on workers by a
pluggable assignment policy, and retried within a bounded budget when
workers fail.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Scheduler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer store.Close()

		core, err := scheduler.New(cfg, store)
		if err != nil {
			return fmt.Errorf("failed to build scheduler: %v", err)
		}
		if err := core.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %v", err)
		}

		// Metrics endpoint in the background
		errCh := make(chan error, 1)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server error: %v", err)
			}
		}()

		fmt.Printf("Scheduler is running. Metrics on %s. Press Ctrl+C to stop.\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		core.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Configuration is valid")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address")

	configCmd.AddCommand(configValidateCmd)
}
