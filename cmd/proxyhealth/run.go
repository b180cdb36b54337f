package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"proxyhealth/internal/config"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/metrics"
	"proxyhealth/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
)

var (
	flagRunImport bool
	flagRunExport bool
	flagRunProm   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate the pool periodically",
	Long:  `Runs a sweep every validator.interval until interrupted. Failed sweeps are retried with exponential backoff. Edits to the config file take effect on the next sweep; database settings require a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		var mu sync.Mutex
		current := cfg
		if path := watchPath(); path != "" {
			go func() {
				err := config.Watch(ctx, path, func(next *config.Config) {
					mu.Lock()
					defer mu.Unlock()
					if next.Database != current.Database {
						logger.Log.Warn("Database settings changed; restart to apply them")
					}
					current = next
				})
				if err != nil {
					logger.Log.Warnf("Config watch disabled: %v", err)
				}
			}()
		}
		snapshot := func() *config.Config {
			mu.Lock()
			defer mu.Unlock()
			return current
		}

		logger.Log.Infof("⏱️  Scheduler started (every %s)", cfg.Validator.Interval)
		for {
			c := snapshot()
			if err := runCycle(ctx, c, st); err != nil && ctx.Err() == nil {
				logger.Log.Errorf("Sweep failed after retries: %v", err)
			}

			select {
			case <-ctx.Done():
				logger.Log.Info("👋 Scheduler stopped")
				return
			case <-time.After(c.Validator.Interval):
			}
		}
	},
}

// runCycle is one scheduled run: an optional import, a full sweep, then
// the optional metrics file and export.
// Top-level failures are retried with backoff for up to half an interval.
// An interrupted sweep is not retried.
func runCycle(ctx context.Context, cfg *config.Config, st store.Store) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.Validator.Interval / 2

	op := func() error {
		if flagRunImport {
			if _, err := runImport(ctx, cfg, st, nil); err != nil {
				logger.Log.Errorf("Import failed: %v", err)
			}
		}

		v := newValidator(st, cfg)
		v.Metrics = metrics.New()
		sum, err := v.ValidateAll(ctx, 0)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		logger.Log.Infof("Pool: %d active, %d inactive, %d blocked (%d evicted)",
			sum.Success, sum.Fail, sum.Blocked, sum.Deleted)

		if flagRunProm != "" {
			if err := exportSweepMetrics(ctx, st, flagRunProm, v.Metrics); err != nil {
				logger.Log.Errorf("Failed to write %s: %v", flagRunProm, err)
			}
		}

		if flagRunExport {
			for _, pc := range cfg.Publishers {
				if _, err := runPublisher(ctx, st, pc); err != nil {
					logger.Log.Errorf("Publisher %s failed: %v", pc.Name, err)
				}
			}
		}
		return nil
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Log.Warnf("Sweep failed: %v. Retrying in %s", err, wait.Round(time.Second))
	})
}

// watchPath is the config file to watch, if there is one.
func watchPath() string {
	path := cfgFile
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func init() {
	runCmd.Flags().BoolVar(&flagRunImport, "import", false, "Import from every configured source before each sweep")
	runCmd.Flags().BoolVar(&flagRunExport, "export", false, "Run every configured publisher after each sweep")
	runCmd.Flags().StringVar(&flagRunProm, "prom", "", "Rewrite this Prometheus textfile after each sweep")
	rootCmd.AddCommand(runCmd)
}
