package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagListStatus   string
	flagListMinScore int
	flagListLimit    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the best proxies in the pool",
	Long:  `Lists proxies ordered by score. Use --status any to include every status.`,
	Run: func(cmd *cobra.Command, args []string) {
		f := store.Filter{MinScore: flagListMinScore, Limit: flagListLimit}
		if !strings.EqualFold(flagListStatus, "any") {
			status, err := model.ParseStatus(strings.ToLower(flagListStatus))
			if err != nil {
				logger.Log.Fatal(err)
			}
			f.Status = status
		}

		cfg := mustLoadConfig()
		ctx := cmd.Context()

		st := mustOpenStore(ctx, cfg)
		defer st.Close()

		proxies, err := st.FindFiltered(ctx, f)
		if err != nil {
			logger.Log.Fatalf("Failed to list proxies: %v", err)
		}
		if len(proxies) == 0 {
			logger.Log.Info("No proxies match.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROXY\tSTATUS\tSCORE\tOK/FAIL\tLAST CHECKED\tCOUNTRY")
		for _, p := range proxies {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
				p.URL(), p.Status, p.Score, p.SuccessCount, p.FailCount, ago(p.LastChecked), p.Country)
		}
		w.Flush()
	},
}

func ago(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return time.Since(*t).Round(time.Second).String() + " ago"
}

func init() {
	listCmd.Flags().StringVar(&flagListStatus, "status", string(model.StatusActive), "Status filter (unknown, active, inactive, blocked, any)")
	listCmd.Flags().IntVar(&flagListMinScore, "min-score", 50, "Minimum score")
	listCmd.Flags().IntVar(&flagListLimit, "limit", 10, "Maximum number of proxies")
	rootCmd.AddCommand(listCmd)
}
