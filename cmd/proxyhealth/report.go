package main

import (
	"errors"
	"fmt"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagReportSuccess bool
	flagReportLatency int
	flagReportError   string
	flagReportBlocked bool
)

var reportCmd = &cobra.Command{
	Use:   "report HOST PORT",
	Short: "Record an outcome observed while using a proxy",
	Long:  `Feeds a real-world usage result through the same scoring as a probe. Omit --latency when the request never completed.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		host, port, err := parseKey(args)
		if err != nil {
			logger.Log.Fatal(err)
		}
		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		out := model.Outcome{
			Success: flagReportSuccess,
			Error:   flagReportError,
			Blocked: flagReportBlocked,
		}
		if cmd.Flags().Changed("latency") {
			out.LatencyMS = model.Latency(flagReportLatency)
		}

		res, err := newValidator(st, cfg).ReportOutcome(ctx, host, port, out)
		if errors.Is(err, store.ErrNotFound) {
			logger.Log.Fatalf("❌ %s:%d is not in the pool", host, port)
		}
		if err != nil {
			logger.Log.Fatalf("Report failed: %v", err)
		}
		fmt.Printf("%s:%d\t%s\tscore %d\n", res.Host, res.Port, res.Status, res.Score)
	},
}

func init() {
	reportCmd.Flags().BoolVar(&flagReportSuccess, "success", false, "The request succeeded")
	reportCmd.Flags().IntVar(&flagReportLatency, "latency", 0, "Observed latency in milliseconds")
	reportCmd.Flags().StringVar(&flagReportError, "error", "", "Error description")
	reportCmd.Flags().BoolVar(&flagReportBlocked, "blocked", false, "The target rejected the proxy")
	rootCmd.AddCommand(reportCmd)
}
