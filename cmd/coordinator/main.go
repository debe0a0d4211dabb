package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/coordinator"
	"github.com/hddong/uniffle/pkg/log"
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
	Use:   "coordinator",
	Short: "Remote shuffle service coordinator",
	Long: `The coordinator is the control plane of the remote shuffle service.

It tracks live shuffle servers through their heartbeats, assigns partition
ranges to servers on client request, gates cluster access through the
configured checker pipeline, and serves dynamic client configuration. All
of its state is soft: a restarted coordinator rebuilds the registry from
server heartbeats within one interval.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg := &config.CoordinatorConfig{}
		if configPath != "" {
			if err := config.Load(configPath, cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		coord, err := coordinator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create coordinator: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("Shutting down coordinator")
			coord.Stop()
		}()

		return coord.Start()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Coordinator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to the coordinator YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
