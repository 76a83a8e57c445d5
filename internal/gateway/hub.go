// Package gateway serves the WebSocket and REST surface: frames fan
// out to connected chart clients, REST endpoints control the replay
// session and read bar history.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"chart-replay/internal/marketdata/ingest"
	"chart-replay/internal/marketdata/replay"
	"chart-replay/internal/model"
)

// Hub manages WebSocket clients and frame fan-out. Frames arrive from
// the in-process bus; control operations go straight to the engine.
type Hub struct {
	Engine *replay.Engine
	Loader *ingest.Loader
	Store  model.BarStore // nil when the cache is unavailable (degraded mode)

	// DefaultBaseTF is the cache resolution assumed when a session
	// request names none. Ignored when coarser than the requested tf.
	DefaultBaseTF model.Timeframe

	// SourceDir anchors relative source paths from session requests.
	SourceDir string

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel backlogs for gap backfill
	backlogs map[string]*Backlog

	session Session

	// Engine→enqueue latency percentiles
	Latency *LatencyTracker

	// LatencyObserver receives every broadcast latency sample in ms
	// (optional, metrics).
	LatencyObserver func(ms float64)

	// OnSessionEvent receives session lifecycle events: start, seek,
	// tf_switch, reset (optional, metrics).
	OnSessionEvent func(kind string)
}

// Session describes the active replay configuration.
type Session struct {
	Symbol string          `json:"symbol"`
	BaseTF model.Timeframe `json:"base_tf"` // source file resolution
	TF     model.Timeframe `json:"tf"`      // playback resolution
	Source string          `json:"source,omitempty"`
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a Hub around the engine, loader and bar store.
func NewHub(engine *replay.Engine, loader *ingest.Loader, store model.BarStore) *Hub {
	return &Hub{
		Engine:      engine,
		Loader:      loader,
		Store:       store,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		backlogs:    make(map[string]*Backlog),
		Latency:     NewLatencyTracker(10000), // 10k sample ring
	}
}

// Run consumes the bus subscription and broadcasts every frame.
// Blocks until ctx is cancelled or the channel closes.
func (h *Hub) Run(ctx context.Context, frames <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			h.Broadcast("frame:"+f.Key(), f.JSON(), f.EmitTS)
		}
	}
}

// Register attaches a freshly upgraded WS connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go c.sendInitialState()
	go c.writePump()
	go c.readPump()
}

// RemoveClient detaches a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionInfo returns the active session descriptor.
func (h *Hub) SessionInfo() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

func (h *Hub) setSession(s Session) {
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
	if h.Latency != nil {
		h.Latency.Reset()
	}
}

func (h *Hub) sessionEvent(kind string) {
	if h.OnSessionEvent != nil {
		h.OnSessionEvent(kind)
	}
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// MissedRange returns backlogged envelopes for a channel in
// [fromSeq, toSeq], for the /api/missed gap backfill endpoint.
func (h *Hub) MissedRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	b, exists := h.backlogs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := b.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// StartMetricsBroadcast pushes runtime metrics to all WS clients
// every interval. Blocks until ctx is cancelled.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := CollectMetrics(start)
			m.WSClients = h.ClientCount()
			if h.Latency != nil {
				m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
				m.LatencyMax = h.Latency.Max()
			}
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":    "metrics",
				"metrics": m,
				"replay":  h.Engine.Snapshot(),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
