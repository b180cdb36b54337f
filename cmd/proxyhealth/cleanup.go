package main

import (
	"proxyhealth/internal/engine"
	"proxyhealth/internal/logger"

	"github.com/spf13/cobra"
)

var flagStale bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete persistently failing proxies",
	Long:  `Deletes inactive proxies with a poor track record. With --stale, also runs the staleness eviction that normally follows a sweep. Deletion is permanent.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		pruner := engine.NewPruner(st, cfg.Eviction)

		removed, err := pruner.CleanupFailing(ctx)
		if err != nil {
			logger.Log.Fatalf("Cleanup failed: %v", err)
		}
		if flagStale {
			stale, err := pruner.EvictStale(ctx)
			if err != nil {
				logger.Log.Fatalf("Stale eviction failed: %v", err)
			}
			removed += stale
		}
		logger.Log.Infof("✅ Cleanup complete. Removed %d proxies.", removed)
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&flagStale, "stale", false, "Also evict stale proxies")
	rootCmd.AddCommand(cleanupCmd)
}
