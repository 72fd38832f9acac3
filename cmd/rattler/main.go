package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mamba-org/rattler/internal/config"
	"github.com/mamba-org/rattler/internal/logger"
)

// Version is set via ldflags at build time.
var Version = "dev"

// osExit is indirected so tests can observe an attempted non-zero exit
// without killing the test binary.
var osExit = os.Exit

var (
	flagChannels  []string
	flagPlatforms []string
	flagCacheDir  string
	flagPrefix    string
)

var rootCmd = &cobra.Command{
	Use:   "rattler",
	Short: "A Conda-compatible package resolver and installer",
	Long: `rattler solves, installs, and locks Conda-compatible environments
against channel repodata served over HTTP, OCI registries, or both.

Examples:
  rattler solve numpy "python>=3.10"
  rattler install -p ./env numpy pandas
  rattler lock -o environment.lock.yml numpy pandas
  rattler repodata sync`,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&flagChannels, "channel", "c", nil, "channel to solve against (repeatable, overrides config)")
	rootCmd.PersistentFlags().StringSliceVar(&flagPlatforms, "platform", nil, "platform subdir to solve for (repeatable, overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "package and repodata cache directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagPrefix, "prefix", "p", "./env", "environment prefix directory")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(repodataCmd)
	rootCmd.AddCommand(cacheCmd)
}

// loadConfig loads configuration and applies any persistent-flag
// overrides, the same precedence order config.Load documents: defaults,
// then config.yaml, then environment, then explicit flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if len(flagChannels) > 0 {
		cfg.Channels = flagChannels
	}
	if len(flagPlatforms) > 0 {
		cfg.Platforms = flagPlatforms
	}
	if flagCacheDir != "" {
		cfg.CacheDir = flagCacheDir
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		osExit(exitCodeFor(err))
	}
}
