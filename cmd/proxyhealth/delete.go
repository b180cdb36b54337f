package main

import (
	"context"
	"errors"

	"proxyhealth/internal/logger"
	"proxyhealth/internal/store"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete HOST PORT",
	Short: "Remove a proxy from the pool",
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

		if err := deleteProxy(ctx, st, host, port); err != nil {
			logger.Log.Fatal(err)
		}
		logger.Log.Infof("🗑️  Removed %s", args[0]+":"+args[1])
	},
}

func deleteProxy(ctx context.Context, st store.Store, host string, port int) error {
	err := st.Delete(ctx, host, port)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("proxy is not in the pool")
	}
	return err
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
