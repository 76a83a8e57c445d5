package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the replay pipeline.
type Metrics struct {
	FramesTotal     prometheus.Counter
	BarsIngested    prometheus.Counter
	RecordsRejected prometheus.Counter
	RedisWriteDur   prometheus.Histogram
	FrameLag        prometheus.Gauge

	// Sanitizer repair breakdown
	SanitizerRepairs *prometheus.CounterVec // labels: kind

	// Resampler output
	TFBarsTotal *prometheus.CounterVec // labels: tf

	// Ingest pipeline metrics
	IngestDur prometheus.Histogram
	FetchDur  prometheus.Histogram

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Backpressure metrics
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Circuit breaker metrics
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedFrames      prometheus.Counter

	// End-to-end observability
	E2ELatency prometheus.Histogram // frame emit to WS enqueue latency

	// Replay session state
	ReplayState   prometheus.Gauge       // 0=idle, 1=seeking, 2=playing, 3=paused, 4=complete
	ReplaySpeed   prometheus.Gauge       // current speed multiplier
	SessionEvents *prometheus.CounterVec // labels: type=start|seek|tf_switch|reset

	// Gateway
	WSClients prometheus.Gauge

	// Janitor
	PrunedBars prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_frames_total",
			Help: "Total frames emitted by the replay engine",
		}),
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_bars_ingested_total",
			Help: "Total bars committed to the bar cache",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_records_rejected_total",
			Help: "Source records dropped by the parser",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_redis_write_duration_seconds",
			Help:    "Redis frame pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		FrameLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_frame_lag_seconds",
			Help: "Lag between frame emission and broadcast time",
		}),

		// Sanitizer
		SanitizerRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_sanitizer_repairs_total",
			Help: "Bar repairs applied by the sanitizer (by kind)",
		}, []string{"kind"}),

		// Resampler
		TFBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_tf_bars_total",
			Help: "Total completed bars replayed (by timeframe)",
		}, []string{"tf"}),

		// Ingest
		IngestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_ingest_duration_seconds",
			Help:    "Full ingest pipeline latency (read, parse, sanitize, commit)",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_fetch_duration_seconds",
			Help:    "Bar cache fetch latency",
			Buckets: prometheus.DefBuckets,
		}),

		// Ring buffer
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped frames)",
		}),

		// Backpressure
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_fanout_drops_total",
			Help: "Frames dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chart_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		// Circuit breaker
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_redis_buffered_frames_total",
			Help: "Frames buffered locally during Redis circuit breaker open state",
		}),

		// E2E observability
		E2ELatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_e2e_latency_seconds",
			Help:    "End-to-end latency from frame emit to WS enqueue",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		// Replay session
		ReplayState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_replay_state",
			Help: "Replay engine state (0=idle, 1=seeking, 2=playing, 3=paused, 4=complete)",
		}),
		ReplaySpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_replay_speed",
			Help: "Current replay speed multiplier",
		}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_session_events_total",
			Help: "Replay session events (start, seek, tf_switch, reset)",
		}, []string{"type"}),

		// Gateway
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		// Janitor
		PrunedBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_bars_pruned_total",
			Help: "Bars removed by the retention janitor",
		}),
	}

	prometheus.MustRegister(
		m.FramesTotal,
		m.BarsIngested,
		m.RecordsRejected,
		m.RedisWriteDur,
		m.FrameLag,
		m.SanitizerRepairs,
		m.TFBarsTotal,
		m.IngestDur,
		m.FetchDur,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedFrames,
		m.E2ELatency,
		m.ReplayState,
		m.ReplaySpeed,
		m.SessionEvents,
		m.WSClients,
		m.PrunedBars,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	CacheOK        bool      `json:"cache_ok"`
	RedisConnected bool      `json:"redis_connected"`
	ReplayStatus   string    `json:"replay_status"`
	LastFrameTime  time.Time `json:"last_frame_time"`
	Timeframes     []string  `json:"timeframes"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	CacheLatencyMs float64   `json:"cache_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		ReplayStatus: "idle",
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetCacheOK(v bool) {
	h.mu.Lock()
	h.CacheOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetReplayStatus(s string) {
	h.mu.Lock()
	h.ReplayStatus = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFrameTime(t time.Time) {
	h.mu.Lock()
	h.LastFrameTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetTimeframes(tfs []string) {
	h.mu.Lock()
	h.Timeframes = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckCache pings the bar cache database and records latency + health.
func (h *HealthStatus) CheckCache(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.CacheOK = err == nil
	h.CacheLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, cacheDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if cacheDB != nil {
					h.CheckCache(probeCtx, cacheDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status. The cache is the hard dependency;
	// Redis down alone is degraded because frames still reach WS clients.
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.CacheOK || !h.RedisConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.CacheOK && !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	// Frame age
	frameAge := ""
	if !h.LastFrameTime.IsZero() {
		frameAge = time.Since(h.LastFrameTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string   `json:"status"`
		Uptime         string   `json:"uptime"`
		ReplayStatus   string   `json:"replay_status"`
		LastFrameTime  string   `json:"last_frame_time"`
		FrameAge       string   `json:"frame_age"`
		RedisConnected bool     `json:"redis_connected"`
		RedisLatencyMs float64  `json:"redis_latency_ms"`
		CacheOK        bool     `json:"cache_ok"`
		CacheLatencyMs float64  `json:"cache_latency_ms"`
		Timeframes     []string `json:"timeframes"`
		LastCheckAt    string   `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		ReplayStatus:   h.ReplayStatus,
		LastFrameTime:  h.LastFrameTime.Format(time.RFC3339),
		FrameAge:       frameAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		CacheOK:        h.CacheOK,
		CacheLatencyMs: h.CacheLatencyMs,
		Timeframes:     h.Timeframes,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
