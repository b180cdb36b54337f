package main

import (
	"errors"
	"fmt"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check HOST PORT",
	Short: "Probe a single stored proxy now",
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

		p, err := st.FindByKey(ctx, host, port)
		if errors.Is(err, store.ErrNotFound) {
			logger.Log.Fatalf("❌ %s:%d is not in the pool", host, port)
		}
		if err != nil {
			logger.Log.Fatalf("Lookup failed: %v", err)
		}

		v := newValidator(st, cfg)
		if !v.ValidateOne(ctx, *p) {
			logger.Log.Fatalf("Failed to record outcome for %s", p.Address())
		}

		p, err = st.FindByKey(ctx, host, port)
		if err != nil {
			logger.Log.Fatalf("Lookup failed: %v", err)
		}
		last := p.History[len(p.History)-1]
		latency := "-"
		if last.LatencyMS != nil {
			latency = fmt.Sprintf("%dms", *last.LatencyMS)
		}
		fmt.Printf("%s\t%s\tscore %d\tlatency %s\t%s\n", p.Address(), p.Status, p.Score, latency, last.Error)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
