package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"chart-replay/config"
	"chart-replay/internal/api"
	"chart-replay/internal/gateway"
	"chart-replay/internal/janitor"
	"chart-replay/internal/logger"
	"chart-replay/internal/marketdata/bus"
	"chart-replay/internal/marketdata/ingest"
	"chart-replay/internal/marketdata/replay"
	"chart-replay/internal/metrics"
	"chart-replay/internal/model"
	"chart-replay/internal/ringbuf"
	postgresstore "chart-replay/internal/store/postgres"
	redisstore "chart-replay/internal/store/redis"
	sqlitestore "chart-replay/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[replayd] starting...")

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[replayd] config: %v", err)
	}
	logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))

	processStart := time.Now()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	tfs := make([]string, 0, 8)
	for _, tf := range model.Timeframes() {
		tfs = append(tfs, tf.String())
	}
	health.SetTimeframes(tfs)
	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Bar cache (sqlite | postgres) ----
	// Cache failure degrades to source-only reads instead of aborting.
	var (
		store   model.BarStore
		cacheDB *sql.DB
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgresstore.New(postgresstore.Config{
			DSN:       cfg.Storage.PostgresDSN,
			ChunkRows: cfg.Storage.ChunkRows,
		})
		if err != nil {
			log.Printf("[replayd] WARNING: postgres init failed: %v (continuing without cache)", err)
		} else {
			store, cacheDB = pg, pg.DB()
		}
	default:
		os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755)
		sq, err := sqlitestore.New(sqlitestore.Config{
			Path:      cfg.Storage.SQLitePath,
			ChunkRows: cfg.Storage.ChunkRows,
		})
		if err != nil {
			log.Printf("[replayd] WARNING: sqlite init failed: %v (continuing without cache)", err)
		} else {
			store, cacheDB = sq, sq.DB()
		}
	}
	if store != nil {
		defer store.Close()
		health.SetCacheOK(true)
		log.Printf("[replayd] %s cache ready", cfg.Storage.Driver)
	}

	// ---- Redis frame publisher (optional) ----
	var (
		redisPub  *redisstore.Publisher
		published *redisstore.BufferedPublisher
	)
	if cfg.Redis.Enabled {
		redisPub, err = redisstore.New(redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
			LatestTTL:    cfg.Redis.LatestTTL(),
		})
		if err != nil {
			log.Printf("[replayd] WARNING: redis init failed: %v (continuing without redis)", err)
			health.SetRedisConnected(false)
		} else {
			health.SetRedisConnected(true)
			redisPub.OnWrite = func(d time.Duration) {
				prom.RedisWriteDur.Observe(d.Seconds())
			}

			cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				log.Printf("[replayd] redis circuit breaker %s → %s", from, to)
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			published = redisstore.NewBufferedPublisher(redisPub, cb, 10000)
			published.OnBuffer = func() { prom.RedisBufferedFrames.Inc() }
			published.OnFlush = func(count int) {
				log.Printf("[replayd] redis recovered, %d frames replayed", count)
			}
			log.Println("[replayd] redis publisher ready")
		}
	}

	// ---- Periodic liveness checks ----
	if redisPub != nil {
		health.StartLivenessChecker(ctx, redisPub.Client(), cacheDB, 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, cacheDB, 10*time.Second)
	}

	// ---- Loader (cache-first reads + single-flight ingest) ----
	loader := ingest.NewLoader(store)
	loader.ChunkBytes = cfg.Data.ChunkBytes
	loader.OnStats = func(st model.SanitizeStats) {
		prom.SanitizerRepairs.WithLabelValues("zero").Add(float64(st.FixedZeroes))
		prom.SanitizerRepairs.WithLabelValues("logic").Add(float64(st.FixedLogic))
		prom.SanitizerRepairs.WithLabelValues("gap_fill").Add(float64(st.FilledGaps))
		prom.SanitizerRepairs.WithLabelValues("outlier").Add(float64(st.Outliers))
	}
	loader.OnReport = func(r model.IngestReport, took time.Duration) {
		prom.BarsIngested.Add(float64(r.RowsCommitted))
		prom.RecordsRejected.Add(float64(r.RowsRejected))
		prom.IngestDur.Observe(took.Seconds())
	}
	loader.OnFetch = func(d time.Duration) {
		prom.FetchDur.Observe(d.Seconds())
	}

	// ---- Replay engine → ring buffer (HOT PATH) ----
	engine := replay.New()
	engine.SetSpeed(cfg.Replay.DefaultSpeed)

	ring := ringbuf.New(cfg.Replay.RingSize)
	engine.OnFrame = func(f model.Frame) {
		f.EmitTS = time.Now().UnixMilli()
		prom.FramesTotal.Inc()
		if f.Complete {
			prom.TFBarsTotal.WithLabelValues(string(f.Timeframe)).Inc()
		}
		if !ring.Push(f) {
			prom.RingBufOverflow.Inc()
		}
	}

	// Ring → bus pump (OFF hot path). The tick loop never blocks on
	// slow consumers; the pump absorbs the handoff.
	busIn := make(chan model.Frame, cfg.Replay.BusBuffer)
	go func() {
		idle := time.NewTicker(time.Millisecond)
		defer idle.Stop()
		for {
			f, ok := ring.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-idle.C:
				}
				continue
			}
			health.SetLastFrameTime(time.Now())
			prom.FrameLag.Set(float64(time.Now().UnixMilli()-f.EmitTS) / 1000.0)
			select {
			case busIn <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	// ---- Fan-out frames to gateway + Redis ----
	fanout := bus.New(cfg.Replay.BusBuffer)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	hubFrameCh := fanout.Subscribe()
	var redisFrameCh <-chan model.Frame
	if published != nil {
		redisFrameCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, busIn)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
			}
		}
	}()

	if published != nil && redisFrameCh != nil {
		go published.Run(ctx, redisFrameCh)
	}

	// ---- Gateway hub + API server ----
	hub := gateway.NewHub(engine, loader, store)
	hub.DefaultBaseTF = cfg.BaseTimeframe()
	hub.SourceDir = cfg.Data.SourceDir
	hub.LatencyObserver = func(ms float64) {
		prom.E2ELatency.Observe(ms / 1000.0)
	}
	hub.OnSessionEvent = func(kind string) {
		prom.SessionEvents.WithLabelValues(kind).Inc()
	}
	go hub.Run(ctx, hubFrameCh)
	go hub.StartMetricsBroadcast(ctx, processStart, 2*time.Second)

	gateway.SetCORSOrigin(cfg.Gateway.CORSOrigin)
	gateway.SetBufferSizes(cfg.Gateway.SendBuffer, cfg.Gateway.BacklogSize)
	apiSrv := api.NewServer(cfg.Gateway.Addr, hub, processStart)
	apiSrv.Start()

	// ---- Replay clock ----
	go engine.Run(ctx, time.Duration(cfg.Replay.FrameIntervalMs)*time.Millisecond)

	// ---- Health/state sampler ----
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := engine.Snapshot()
				health.SetReplayStatus(string(snap.Status))
				prom.ReplayState.Set(replayStateValue(snap.Status))
				prom.ReplaySpeed.Set(snap.SpeedMultiplier)
				prom.WSClients.Set(float64(hub.ClientCount()))
			}
		}
	}()

	// ---- Retention janitor ----
	var jan *janitor.Janitor
	if cfg.Janitor.Enabled && cfg.Storage.RetentionDays > 0 && store != nil {
		jan = janitor.New(store, cfg.Storage.RetentionDays)
		jan.OnPrune = func(removed int64) { prom.PrunedBars.Add(float64(removed)) }
		if err := jan.Register(cfg.Janitor.Schedule); err != nil {
			log.Fatalf("[replayd] janitor: %v", err)
		}
		jan.Start()
	}

	log.Printf("[replayd] ready: api=%s metrics=%s cache=%s redis=%v",
		cfg.Gateway.Addr, cfg.Metrics.Addr, cfg.Storage.Driver, cfg.Redis.Enabled)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[replayd] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if jan != nil {
		jan.Stop()
	}
	if published != nil {
		if n := published.PendingCount(); n > 0 {
			log.Printf("[replayd] discarding %d unflushed redis frames", n)
		}
		published.Close()
	} else if redisPub != nil {
		redisPub.Close()
	}

	log.Println("[replayd] shutdown complete.")
}

// replayStateValue maps engine status onto the state gauge.
func replayStateValue(s model.ReplayStatus) float64 {
	switch s {
	case model.ReplayIdle:
		return 0
	case model.ReplaySeeking:
		return 1
	case model.ReplayPlaying:
		return 2
	case model.ReplayPaused:
		return 3
	case model.ReplayComplete:
		return 4
	default:
		return -1
	}
}
