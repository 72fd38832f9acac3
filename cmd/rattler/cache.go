package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mamba-org/rattler/internal/utils"
)

var flagCacheCleanOlderThan time.Duration

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the local extracted-package cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print how many packages are cached and their total size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cache, err := buildCache(cfg)
		if err != nil {
			return err
		}
		defer cache.Close()

		info, err := cache.Stat()
		if err != nil {
			return err
		}
		fmt.Printf("%d package(s), %s\n", info.PackageCount, utils.FormatBytes(info.TotalBytes))
		return nil
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached packages unused for longer than --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cache, err := buildCache(cfg)
		if err != nil {
			return err
		}
		defer cache.Close()

		reclaimed, err := cache.Clean(time.Now().Add(-flagCacheCleanOlderThan))
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %s\n", utils.FormatBytes(reclaimed))
		return nil
	},
}

func init() {
	cacheCleanCmd.Flags().DurationVar(&flagCacheCleanOlderThan, "older-than", 30*24*time.Hour, "remove packages not used since this long ago")
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
}
