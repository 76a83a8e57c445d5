// cmd/ingest loads one OHLCV source file into the bar cache: parse,
// sanitize, atomic batch insert, then a terminal report. Exit status
// is non-zero when the source is unreadable or the write fails.
//
// Usage:
//
//	go run ./cmd/ingest -file data/NIFTY.csv -symbol NIFTY -tf 1m
//	go run ./cmd/ingest -file ticks_1m.csv -symbol BANKNIFTY -tf 5m -base-tf 1m
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"chart-replay/config"
	"chart-replay/internal/logger"
	"chart-replay/internal/marketdata/filestream"
	"chart-replay/internal/marketdata/ingest"
	"chart-replay/internal/marketdata/resample"
	"chart-replay/internal/marketdata/sanitize"
	"chart-replay/internal/model"
	postgresstore "chart-replay/internal/store/postgres"
	sqlitestore "chart-replay/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "", "path to YAML config file")
	file := flag.String("file", "", "source file (CSV/TXT)")
	symbol := flag.String("symbol", "", "instrument symbol, e.g. NIFTY")
	tfStr := flag.String("tf", "1m", "timeframe the series is cached under")
	baseStr := flag.String("base-tf", "", "file's native timeframe (default: -tf)")
	flag.Parse()

	if *file == "" || *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ingest] config: %v", err)
	}
	logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))

	tf, err := model.ParseTimeframe(*tfStr)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}
	base := tf
	if *baseStr != "" {
		if base, err = model.ParseTimeframe(*baseStr); err != nil {
			log.Fatalf("[ingest] %v", err)
		}
	}
	if tf.DurationMs() < base.DurationMs() {
		log.Fatalf("[ingest] tf %s is finer than base-tf %s", tf, base)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("[ingest] cache open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	var report model.IngestReport
	if base == tf {
		loader := ingest.NewLoader(store)
		loader.ChunkBytes = cfg.Data.ChunkBytes
		report, err = loader.Ingest(ctx, *symbol, tf, *file)
	} else {
		report, err = resampledIngest(ctx, store, *symbol, base, tf, *file, cfg.Data.ChunkBytes)
	}

	printReport(report, time.Since(start))

	if err != nil {
		var ingErr *model.IngestError
		if errors.As(err, &ingErr) {
			log.Printf("[ingest] partial failure, %d rows committed: %v", ingErr.Committed, ingErr.Err)
		} else {
			log.Printf("[ingest] failed: %v", err)
		}
		os.Exit(1)
	}
}

// resampledIngest handles files whose native resolution is finer than
// the cached series: sanitize at the file's bucket, then aggregate up.
func resampledIngest(ctx context.Context, store model.BarStore, symbol string, base, tf model.Timeframe, path string, chunkBytes int64) (model.IngestReport, error) {
	report := model.IngestReport{Symbol: symbol, Timeframe: tf}

	raw, st, err := filestream.ReadAll(ctx, path, chunkBytes)
	if err != nil {
		report.Err = err
		return report, err
	}
	report.RowsParsed = len(raw)
	report.RowsRejected = int(st.Rejected())

	bars, stats := sanitize.Run(raw, base.DurationMs())
	report.Stats = stats

	bars = resample.Run(bars, base, tf)

	committed, err := store.InsertBatch(ctx, symbol, tf, bars)
	report.RowsCommitted = committed
	if err != nil {
		report.Err = err
		return report, err
	}
	return report, nil
}

// openStore opens the configured cache backend. Unlike the daemon,
// the CLI treats an unavailable cache as fatal: writing it is the job.
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

func printReport(r model.IngestReport, took time.Duration) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║           INGEST REPORT              ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Series:      %-22s ║\n", r.Symbol+":"+string(r.Timeframe))
	fmt.Printf("║  Parsed:      %-22d ║\n", r.RowsParsed)
	fmt.Printf("║  Rejected:    %-22d ║\n", r.RowsRejected)
	fmt.Printf("║  Committed:   %-22d ║\n", r.RowsCommitted)
	fmt.Printf("║  Zero fixes:  %-22d ║\n", r.Stats.FixedZeroes)
	fmt.Printf("║  Logic fixes: %-22d ║\n", r.Stats.FixedLogic)
	fmt.Printf("║  Gaps filled: %-22d ║\n", r.Stats.FilledGaps)
	fmt.Printf("║  Outliers:    %-22d ║\n", r.Stats.Outliers)
	fmt.Printf("║  Took:        %-22s ║\n", took.Truncate(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}
