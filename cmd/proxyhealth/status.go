package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"proxyhealth/internal/engine"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/metrics"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var flagStatusProm string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool statistics",
	Long:  `Displays proxy counts by status and eviction candidates. With --prom, also writes the counts as a Prometheus textfile.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		pool, total, err := countPool(ctx, st)
		if err != nil {
			logger.Log.Fatalf("Failed to count proxies: %v", err)
		}

		pruner := engine.NewPruner(st, cfg.Eviction)
		stale, err := st.CountWhere(ctx, pruner.StalePredicate())
		if err != nil {
			logger.Log.Fatalf("Failed to count stale proxies: %v", err)
		}
		failing, err := st.CountWhere(ctx, pruner.FailingPredicate())
		if err != nil {
			logger.Log.Fatalf("Failed to count failing proxies: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

		fmt.Println("\n📊 \033[1mPROXY POOL STATUS\033[0m")
		fmt.Println("────────────────────────────────────────")

		fmt.Fprintln(w, "\033[1;36m[ STORE ]\033[0m\t")
		fmt.Fprintf(w, "  Driver:\t%s\n", cfg.Database.Driver)
		if cfg.Database.Driver == "sqlite" {
			fmt.Fprintf(w, "  Database Path:\t%s\n", cfg.Database.Path)
			fmt.Fprintf(w, "  DB Size:\t%s\n", formatBytes(getFileSize(cfg.Database.Path)))
			if walSize := getFileSize(cfg.Database.Path + "-wal"); walSize > 0 {
				fmt.Fprintf(w, "  WAL Size:\t%s (pending checkpoint)\n", formatBytes(walSize))
			}
		}
		fmt.Fprintf(w, "  Total Proxies:\t%d\n", total)
		fmt.Fprintln(w, "\t")

		fmt.Fprintln(w, "\033[1;36m[ STATUS ]\033[0m\t")
		fmt.Fprintf(w, "  Active:\t%d\n", pool[model.StatusActive])
		fmt.Fprintf(w, "  Inactive:\t%d\n", pool[model.StatusInactive])
		fmt.Fprintf(w, "  Blocked:\t%d\n", pool[model.StatusBlocked])
		fmt.Fprintf(w, "  Unvalidated:\t%d\n", pool[model.StatusUnknown])
		fmt.Fprintln(w, "\t")

		fmt.Fprintln(w, "\033[1;36m[ EVICTION ]\033[0m\t")
		fmt.Fprintf(w, "  Stale (next sweep):\t%d\n", stale)
		fmt.Fprintf(w, "  Failing (cleanup):\t%d\n", failing)

		w.Flush()
		fmt.Println("")

		if flagStatusProm != "" {
			if err := writePromFile(flagStatusProm, pool, nil); err != nil {
				logger.Log.Fatalf("Failed to write %s: %v", flagStatusProm, err)
			}
			logger.Log.Infof("Wrote metrics to %s", flagStatusProm)
		}
	},
}

// countPool returns the number of stored proxies per status and in total.
func countPool(ctx context.Context, st store.Store) (metrics.PoolCounts, int64, error) {
	pool := make(metrics.PoolCounts)
	var total int64
	for _, s := range []model.Status{model.StatusActive, model.StatusInactive, model.StatusBlocked, model.StatusUnknown} {
		n, err := st.CountWhere(ctx, store.Predicate{Status: s})
		if err != nil {
			return nil, 0, fmt.Errorf("count %s: %w", s, err)
		}
		pool[s] = n
		total += n
	}
	return pool, total, nil
}

// writePromFile replaces path atomically so a textfile collector never
// reads a partial file. Probe families are written only when snap is set.
func writePromFile(path string, pool metrics.PoolCounts, snap *metrics.Snapshot) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := metrics.WritePrometheus(f, pool, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// exportSweepMetrics writes the post-sweep pool counts and the sweep's
// probe figures to path.
func exportSweepMetrics(ctx context.Context, st store.Store, path string, c *metrics.Collector) error {
	pool, _, err := countPool(ctx, st)
	if err != nil {
		return err
	}
	snap := c.Snapshot()
	return writePromFile(path, pool, &snap)
}

func getFileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func init() {
	statusCmd.Flags().StringVar(&flagStatusProm, "prom", "", "Write Prometheus metrics to this file")
	rootCmd.AddCommand(statusCmd)
}
