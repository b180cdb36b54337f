package main

import (
	"context"
	"errors"
	"fmt"

	"proxyhealth/internal/config"
	"proxyhealth/internal/geoip"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/sources"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [source_names...]",
	Short: "Import candidate proxies from configured sources",
	Long:  `Run all sources defined in config, or specific ones by name. New proxies enter the pool unvalidated.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		added, err := runImport(ctx, cfg, st, args)
		if errors.Is(err, sources.ErrUnknownSource) {
			logger.Log.Fatalf("❌ %v (configured: %v)", err, sourceNames(cfg))
		}
		if err != nil {
			logger.Log.Fatalf("Import failed: %v", err)
		}
		logger.Log.Infof("✅ Import complete. %d new proxies.", added)
	},
}

// runImport collects from the named sources and upserts every candidate.
// A failing source is logged and skipped; only an unknown source name
// fails the whole import.
func runImport(ctx context.Context, cfg *config.Config, st store.Store, names []string) (int, error) {
	selected, err := sources.Select(cfg, names)
	if err != nil {
		return 0, err
	}
	if len(selected) == 0 {
		logger.Log.Warn("No sources configured.")
		return 0, nil
	}

	geo, err := geoip.Open(cfg.GeoIP.CityPath)
	if err != nil {
		logger.Log.Warnf("GeoIP disabled: %v", err)
	}
	defer geo.Close()

	var added int
	for _, sc := range selected {
		logger.Log.Infof("🏃 Running source: %s (%s)...", sc.Name, sc.Type)

		src, err := sources.Get(sc.Type)
		if err != nil {
			if len(names) > 0 {
				return added, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			logger.Log.Warnf("Skipping: %v", err)
			continue
		}

		candidates, err := src.Collect(ctx, sc.Params)
		if err != nil {
			logger.Log.Errorf("Error running source %s: %v", sc.Name, err)
			continue
		}

		var created int
		for _, c := range candidates {
			p := model.NewProxy(c.Host, c.Port, c.Protocol, sc.Name)
			enrich(geo, p)
			isNew, err := st.Upsert(ctx, p)
			if err != nil {
				logger.Log.Warnf("Failed to store %s: %v", p.Address(), err)
				continue
			}
			if isNew {
				created++
			}
		}
		added += created
		logger.Log.Infof("✅ Source %s finished. %d found, %d new.", sc.Name, len(candidates), created)
	}
	return added, nil
}

func sourceNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		names = append(names, s.Name)
	}
	return names
}

func init() {
	rootCmd.AddCommand(importCmd)
}
