package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"doc-ingest/internal/config"
	"doc-ingest/internal/infra/db/postgres"
	"doc-ingest/internal/infra/logging"
)

// Applies the schema and optionally wipes queue state, for local and e2e setups.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schema := flag.String("schema", "deploy/postgres/init.sql", "schema file to apply")
	reset := flag.Bool("reset", false, "truncate documents, jobs and pipeline_status after applying the schema")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	ddl, err := os.ReadFile(*schema)
	if err != nil {
		logger.Fatal().Err(err).Str("schema", *schema).Msg("read schema")
	}

	logger.Info().Str("schema", *schema).Msg("[1/2] applying schema")
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	if !*reset {
		logger.Info().Msg("[2/2] reset skipped")
		return
	}
	logger.Info().Msg("[2/2] wiping queue and pipeline state")
	if _, err := pool.Exec(ctx, `TRUNCATE pipeline_status, jobs, documents CASCADE`); err != nil {
		logger.Fatal().Err(err).Msg("truncate tables")
	}
	logger.Info().Msg("migration complete")
}
