package main

import (
	"context"
	"fmt"
	"strconv"

	"proxyhealth/internal/config"
	"proxyhealth/internal/engine"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"
	"proxyhealth/internal/tester"
)

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.URL)
	default:
		return store.OpenSQLite(cfg.Path)
	}
}

func mustOpenStore(ctx context.Context, cfg *config.Config) store.Store {
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Error connecting to DB: %v", err)
	}
	return st
}

func newValidator(st store.Store, cfg *config.Config) *engine.Validator {
	return engine.NewValidator(st, tester.New(cfg.Tester), engine.NewPruner(st, cfg.Eviction), cfg.Validator)
}

// parseKey parses the HOST PORT positional arguments.
func parseKey(args []string) (string, int, error) {
	port, err := strconv.Atoi(args[1])
	if err != nil || !model.ValidPort(port) {
		return "", 0, fmt.Errorf("invalid port %q", args[1])
	}
	return args[0], port, nil
}
