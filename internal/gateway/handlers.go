package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"chart-replay/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

var corsOrigin = "*"

// SetCORSOrigin overrides the Access-Control-Allow-Origin value.
// Call before the server starts; not synchronized.
func SetCORSOrigin(origin string) {
	if origin != "" {
		corsOrigin = origin
	}
}

var (
	sendQueueSize = 256
	backlogSize   = 500
)

// SetBufferSizes overrides the per-client send queue and per-channel
// backlog capacities. Call before the server starts; not synchronized.
func SetBufferSizes(sendQueue, backlog int) {
	if sendQueue > 0 {
		sendQueueSize = sendQueue
	}
	if backlog > 0 {
		backlogSize = backlog
	}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", corsOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// writeError maps pipeline errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var ingErr *model.IngestError
	switch {
	case errors.Is(err, model.ErrSourceUnavailable):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrCacheUnavailable):
		code = http.StatusServiceUnavailable
	case errors.As(err, &ingErr):
		code = http.StatusBadGateway
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// RegisterRoutes registers the WS endpoint and the REST control and
// history surface on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		conn.EnableWriteCompression(true)
		hub.Register(newClient(hub, conn))
	})

	// REST: session lifecycle
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)

		case http.MethodPost:
			var req SessionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			resp, err := hub.StartSession(r.Context(), req)
			if err != nil {
				writeError(w, err)
				return
			}
			json.NewEncoder(w).Encode(resp)

		default:
			json.NewEncoder(w).Encode(SessionResponse{
				Session: hub.SessionInfo(),
				Replay:  hub.Engine.Snapshot(),
			})
		}
	})

	mux.HandleFunc("/api/session/play", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		hub.Engine.Play()
		json.NewEncoder(w).Encode(hub.Engine.Snapshot())
	})

	mux.HandleFunc("/api/session/pause", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Engine.Pause())
	})

	mux.HandleFunc("/api/session/seek", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		switch {
		case req.SeekTS > 0:
			hub.Engine.SeekTime(req.SeekTS)
		case req.Index != nil:
			hub.Engine.Seek(*req.Index)
		default:
			http.Error(w, `{"error":"index or seek_ts required"}`, http.StatusBadRequest)
			return
		}
		hub.sessionEvent("seek")
		json.NewEncoder(w).Encode(hub.Engine.Snapshot())
	})

	mux.HandleFunc("/api/session/speed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req SpeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		if req.Speed > 0 {
			hub.Engine.SetSpeed(req.Speed)
		}
		if req.RealTime != nil {
			hub.Engine.SetRealTime(*req.RealTime)
		}
		json.NewEncoder(w).Encode(hub.Engine.Snapshot())
	})

	mux.HandleFunc("/api/session/timeframe", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req struct {
			TF string `json:"tf"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		tf := model.Timeframe(req.TF)
		if !tf.Valid() {
			http.Error(w, `{"error":"invalid tf"}`, http.StatusBadRequest)
			return
		}
		resp, err := hub.SwitchTimeframe(r.Context(), tf)
		if err != nil {
			writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/session/reset", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		hub.Engine.Reset()
		hub.setSession(Session{})
		hub.sessionEvent("reset")
		json.NewEncoder(w).Encode(hub.Engine.Snapshot())
	})

	// REST: bar history (cache-first, resampled to tf)
	mux.HandleFunc("/api/bars", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		q := r.URL.Query()
		symbol := q.Get("symbol")
		if symbol == "" {
			symbol = hub.SessionInfo().Symbol
		}
		tf := model.Timeframe(q.Get("tf"))
		if tf == "" {
			tf = hub.SessionInfo().TF
		}
		if symbol == "" || !tf.Valid() {
			http.Error(w, `{"error":"symbol and tf required"}`, http.StatusBadRequest)
			return
		}

		limit := 200
		if s := q.Get("limit"); s != "" {
			if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= maxSnapshotBars {
				limit = l
			}
		}
		var before int64
		if s := q.Get("before"); s != "" {
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				before = ms
			} else if t, err := time.Parse(time.RFC3339, s); err == nil {
				before = t.UnixMilli()
			}
		}

		bars, err := hub.HistoryBars(r.Context(), symbol, tf, before, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if bars == nil {
			bars = []model.Bar{}
		}
		json.NewEncoder(w).Encode(bars)
	})

	// REST: one-shot source ingest (worker goroutine, terminal report)
	mux.HandleFunc("/api/ingest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST required"}`, http.StatusMethodNotAllowed)
			return
		}
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		report, err := hub.RunIngest(r.Context(), req)
		if err != nil && report.RowsCommitted == 0 {
			writeError(w, err)
			return
		}
		resp := IngestResponse{Report: report}
		if err != nil {
			resp.Warning = err.Error()
		}
		json.NewEncoder(w).Encode(resp)
	})

	// REST: available timeframes
	mux.HandleFunc("/api/tfs", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		type tfInfo struct {
			TF         model.Timeframe `json:"tf"`
			DurationMs int64           `json:"duration_ms"`
		}
		tfs := model.Timeframes()
		out := make([]tfInfo, len(tfs))
		for i, tf := range tfs {
			out[i] = tfInfo{TF: tf, DurationMs: tf.DurationMs()}
		}
		json.NewEncoder(w).Encode(out)
	})

	// REST: gap backfill for a channel
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		q := r.URL.Query()
		channel := q.Get("channel")
		from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
		to, _ := strconv.ParseInt(q.Get("to"), 10, 64)
		if channel == "" || from <= 0 || to < from {
			http.Error(w, `{"error":"channel, from and to required"}`, http.StatusBadRequest)
			return
		}

		envelopes := hub.MissedRange(channel, from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"channel":     channel,
			"current_seq": hub.ChannelSeq(channel),
			"envelopes":   out,
		})
	})

	// REST: cache statistics
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if hub.Store == nil {
			writeError(w, model.ErrCacheUnavailable)
			return
		}
		stats, err := hub.Store.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(stats)
	})

	// REST: runtime metrics snapshot
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		m := CollectMetrics(processStart)
		m.WSClients = hub.ClientCount()
		if hub.Latency != nil {
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
			m.LatencyMax = hub.Latency.Max()
		}
		json.NewEncoder(w).Encode(m)
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		cacheOK := false
		if hub.Store != nil {
			if _, err := hub.Store.Stats(r.Context()); err == nil {
				cacheOK = true
			}
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"cache":      cacheOK,
			"replay":     hub.Engine.Snapshot().Status,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
