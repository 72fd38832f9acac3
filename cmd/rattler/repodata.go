package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mamba-org/rattler/internal/gateway"
)

var repodataCmd = &cobra.Command{
	Use:   "repodata",
	Short: "Inspect and refresh channel repodata",
}

var repodataSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch or incrementally refresh every configured channel/platform's repodata.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fetcher := gateway.NewHTTPFetcher(cfg.CacheDir)
		fetcher.UseJLAP = cfg.Gateway.UseJLAP

		for _, channel := range cfg.Channels {
			for _, platform := range cfg.Platforms {
				idx, err := fetcher.FetchSubdir(context.Background(), channel, platform)
				if err != nil {
					var nf *gateway.NotFoundError
					if errors.As(err, &nf) {
						fmt.Printf("%s/%s: not found, skipping\n", channel, platform)
						continue
					}
					return fmt.Errorf("syncing %s/%s: %w", channel, platform, err)
				}
				fmt.Printf("%s/%s: %d package name(s)\n", channel, platform, len(idx.Names()))
			}
		}
		return nil
	},
}

func init() {
	repodataCmd.AddCommand(repodataSyncCmd)
}
