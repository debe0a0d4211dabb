package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/server"
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
	Use:   "shuffle-server",
	Short: "Remote shuffle service data-plane server",
	Long: `The shuffle server stores map-side blocks and serves reduce-side reads.

Incoming blocks accumulate in a bounded in-memory buffer pool and flush
through a tiered storage pipeline: local disk for routine traffic, the
remote filesystem for oversized flushes or disk pressure. The server
reports its load to every configured coordinator so placement can spread
work across the cluster.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg := &config.ServerConfig{}
		if configPath != "" {
			if err := config.Load(configPath, cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create shuffle server: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("Shutting down shuffle server")
			srv.Stop()
		}()

		return srv.Start()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shuffle server version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to the shuffle server YAML config file")
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
