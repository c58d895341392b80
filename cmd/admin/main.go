// Command admin runs the operator-facing repair tools described in
// spec.md §4.8: creator backfill and watermark repair. Both default to
// dry-run; both report what they found (or changed) as JSON, in the style
// of the teacher's cmd/compliance secondary binary.
//
// Usage:
//
//	admin -op=creator-backfill [-apply]
//	admin -op=watermark-repair [-apply]
//
// Examples:
//
//	# Report creator-backfill candidates without writing anything
//	admin -op=creator-backfill
//
//	# Apply the watermark repair
//	admin -op=watermark-repair -apply
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/briefloop/ingestcore/internal/admin"
	"github.com/briefloop/ingestcore/internal/config"
	"github.com/briefloop/ingestcore/internal/observability"
	"github.com/briefloop/ingestcore/internal/storage"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (searches ./config, ., /etc/briefloop if unset)")
	operation  = flag.String("op", "", "Operation to run: creator-backfill, watermark-repair")
	apply      = flag.Bool("apply", false, "Apply changes instead of a dry run")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *operation != "creator-backfill" && *operation != "watermark-repair" {
		return fmt.Errorf("unknown -op %q (want creator-backfill or watermark-repair)", *operation)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := observability.InitLogger("production")
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	relStore, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer func() {
		if err := relStore.Close(); err != nil {
			logger.Warn("failed to close relational store", zap.Error(err))
		}
	}()

	a := admin.New(relStore, logger)
	dryRun := !*apply

	ctx := context.Background()
	switch *operation {
	case "creator-backfill":
		result, err := a.CreatorBackfill(ctx, dryRun)
		if err != nil {
			return fmt.Errorf("creator backfill: %w", err)
		}
		return printJSON(result)

	case "watermark-repair":
		result, err := a.WatermarkRepair(ctx, dryRun)
		if err != nil {
			return fmt.Errorf("watermark repair: %w", err)
		}
		return printJSON(result)
	}

	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
