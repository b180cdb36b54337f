package main

import (
	"context"
	"os"

	"proxyhealth/internal/engine"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/metrics"
	"proxyhealth/internal/store"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	flagConcurrency  int
	flagValidateProm string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Probe every proxy in the pool and evict stale ones",
	Long:  `Runs a full sweep: every stored proxy is probed, scored and updated, then inactive proxies that have been failing for days are evicted.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		total, err := st.CountWhere(ctx, store.Predicate{})
		if err != nil {
			logger.Log.Fatalf("Failed to count proxies: %v", err)
		}
		if total == 0 {
			logger.Log.Warn("Pool is empty. Use 'add' or 'import' first.")
			return
		}

		bar := newProgressBar(int(total), "[cyan]Validating...[reset]")

		v := newValidator(st, cfg)
		v.Metrics = metrics.New()
		v.OnResult = func(engine.Result) { bar.Add(1) }

		sum, err := v.ValidateAll(ctx, flagConcurrency)
		bar.Finish()
		if err != nil {
			logger.Log.Errorf("Sweep ended early: %v", err)
		}

		logger.Log.Infof("Pool: %d active, %d inactive, %d blocked (%d probed, %d evicted)",
			sum.Success, sum.Fail, sum.Blocked, sum.Total, sum.Deleted)
		v.Metrics.PrintReport(os.Stdout)

		if flagValidateProm != "" {
			if err := exportSweepMetrics(context.WithoutCancel(ctx), st, flagValidateProm, v.Metrics); err != nil {
				logger.Log.Fatalf("Failed to write %s: %v", flagValidateProm, err)
			}
			logger.Log.Infof("Wrote metrics to %s", flagValidateProm)
		}
	},
}

func newProgressBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(15),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func init() {
	validateCmd.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "Probes in flight (1-50, default from config)")
	validateCmd.Flags().StringVar(&flagValidateProm, "prom", "", "Write pool and probe metrics to this Prometheus textfile")
	rootCmd.AddCommand(validateCmd)
}
