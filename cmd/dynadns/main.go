package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/manager"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "/etc/dynadns/config.yaml"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dynadns",
	Short: "dynadns - authoritative DNS with health-checked dynamic records",
	Long: `dynadns serves ordinary zone data plus DYNA and DYNC records whose
answers are chosen at query time by resolver plugins, based on the
health of the endpoints they point at.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dynadns version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", DefaultConfigPath, "Configuration file")

	startCmd.Flags().String("log-level", "", "Override options.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(checkconfCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config and sets up logging from its options.
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := file.Options.LogLevel
	if cmd.Flags().Lookup("log-level") != nil {
		if l, _ := cmd.Flags().GetString("log-level"); l != "" {
			level = l
		}
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: file.Options.LogJSON,
	})
	return file, nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the DNS server in the foreground",
	Long: `Load the configuration and zones, restore persisted admin states,
start health checks and serve DNS until SIGINT or SIGTERM. SIGHUP reloads
the zone files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		mgr, err := manager.NewManager(file, Version)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					if err := mgr.ReloadZones(); err != nil {
						log.Logger.Error().Err(err).Msg("zone reload failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		log.Logger.Info().
			Str("version", Version).
			Strs("listen", file.Options.Listen).
			Str("api", file.Options.APIAddr).
			Msg("Starting dynadns")

		if err := mgr.Run(ctx); err != nil {
			return err
		}
		log.Info("Shutdown complete")
		return nil
	},
}

var checkconfCmd = &cobra.Command{
	Use:   "checkconf",
	Short: "Validate the configuration and zone files",
	Long: `Parse the configuration, configure every plugin and load every zone.
Unlike start, a dynamic record whose resource cannot be bound is an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		b, err := manager.Build(file, true)
		if err != nil {
			return err
		}
		defer func() { _ = b.Runtime.Exit() }()

		fmt.Printf("✓ Configuration OK: %d zone(s), %d endpoint(s)\n", len(b.Zones), b.States.Len())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dynadns version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// errNotReady is returned by states --ready when the daemon answers 503.
var errNotReady = errors.New("daemon is not ready")
