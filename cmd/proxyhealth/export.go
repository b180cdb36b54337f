package main

import (
	"context"
	"fmt"

	"proxyhealth/internal/config"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/publishers"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [publisher_names...]",
	Short: "Publish the best proxies through configured publishers",
	Long:  `Run all publishers defined in config, or specific ones by name. Each publisher selects proxies by status and score.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		selected := cfg.Publishers
		if len(args) > 0 {
			selected = nil
			for _, name := range args {
				pc, ok := cfg.FindPublisher(name)
				if !ok {
					logger.Log.Fatalf("❌ Publisher %q is not configured", name)
				}
				selected = append(selected, pc)
			}
		}
		if len(selected) == 0 {
			logger.Log.Warn("No publishers configured.")
			return
		}

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		for _, pc := range selected {
			logger.Log.Infof("📤 Running publisher: %s (%s)...", pc.Name, pc.Type)
			n, err := runPublisher(ctx, st, pc)
			if err != nil {
				logger.Log.Errorf("Publisher %s failed: %v", pc.Name, err)
				continue
			}
			logger.Log.Infof("✅ Publisher %s finished. %d proxies published.", pc.Name, n)
		}
	},
}

func runPublisher(ctx context.Context, st store.Store, pc config.PublisherConfig) (int, error) {
	pub, err := publishers.Get(pc.Type)
	if err != nil {
		return 0, err
	}
	f, err := publishers.Filter(pc)
	if err != nil {
		return 0, err
	}
	proxies, err := st.FindFiltered(ctx, f)
	if err != nil {
		return 0, err
	}
	if len(proxies) == 0 {
		return 0, fmt.Errorf("no proxies match the selection")
	}
	if err := pub.Publish(ctx, proxies, pc.Params); err != nil {
		return 0, err
	}
	return len(proxies), nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
