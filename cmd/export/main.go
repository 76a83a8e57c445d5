// cmd/export writes a cached series to a file: CSV, JSON or Parquet.
// CSV output is ingestable, making export/ingest a round trip.
//
// Usage:
//
//	go run ./cmd/export -symbol NIFTY -tf 1m -format csv -out nifty.csv
//	go run ./cmd/export -symbol NIFTY -tf 5m -format parquet -out nifty.parquet -limit 10000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"chart-replay/config"
	"chart-replay/internal/export"
	"chart-replay/internal/logger"
	"chart-replay/internal/model"
	postgresstore "chart-replay/internal/store/postgres"
	sqlitestore "chart-replay/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "", "path to YAML config file")
	symbol := flag.String("symbol", "", "instrument symbol, e.g. NIFTY")
	tfStr := flag.String("tf", "1m", "timeframe of the cached series")
	format := flag.String("format", "csv", "output format: csv | json | parquet")
	out := flag.String("out", "", "output path (default: SYMBOL_TF.FORMAT)")
	before := flag.Int64("before", 0, "only bars strictly older than this epoch-ms bound (0=newest)")
	limit := flag.Int("limit", 0, "max bars, newest kept (0=config default)")
	flag.Parse()

	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[export] config: %v", err)
	}
	logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))

	tf, err := model.ParseTimeframe(*tfStr)
	if err != nil {
		log.Fatalf("[export] %v", err)
	}

	saver := export.NewSaver(*format)
	if saver == nil {
		log.Fatalf("[export] unsupported format %q (want csv, json or parquet)", *format)
	}

	n := *limit
	if n <= 0 {
		n = cfg.Data.DefaultLimit
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("[export] cache open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	bars, err := store.Fetch(ctx, *symbol, tf, *before, n)
	if err != nil {
		log.Fatalf("[export] fetch failed: %v", err)
	}
	if len(bars) == 0 {
		log.Fatalf("[export] no cached bars for %s:%s", *symbol, tf)
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("%s_%s.%s", strings.ToLower(*symbol), tf, saver.Extension())
	}
	if err := saver.Save(bars, path); err != nil {
		log.Fatalf("[export] save failed: %v", err)
	}

	log.Printf("[export] wrote %d bars (%s..%s) to %s",
		len(bars),
		time.UnixMilli(bars[0].Time).UTC().Format("2006-01-02 15:04"),
		time.UnixMilli(bars[len(bars)-1].Time).UTC().Format("2006-01-02 15:04"),
		path)
}

func openStore(cfg *config.Config) (model.BarStore, error) {
	if cfg.Storage.Driver == "postgres" {
		return postgresstore.New(postgresstore.Config{
			DSN:       cfg.Storage.PostgresDSN,
			ChunkRows: cfg.Storage.ChunkRows,
		})
	}
	return sqlitestore.New(sqlitestore.Config{
		Path:      cfg.Storage.SQLitePath,
		ChunkRows: cfg.Storage.ChunkRows,
	})
}
