package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"chart-replay/internal/marketdata/resample"
	"chart-replay/internal/model"
)

const (
	defaultSnapshotBars = 500
	maxSnapshotBars     = 5000
	snapshotTimeout     = 10 * time.Second
)

// handleSubscribe registers the subscription and answers with a
// history snapshot so the chart renders immediately.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	tf := model.Timeframe(msg.TF)
	if msg.Symbol == "" || !tf.Valid() {
		SendError(c, msg.ReqID, "symbol and a valid tf are required")
		return
	}

	key := msg.Symbol + ":" + msg.TF
	c.subMu.Lock()
	c.subs[key] = true
	c.subMu.Unlock()

	log.Printf("[gateway] client subscribed: %s", key)

	limit := msg.History.Bars
	if limit <= 0 {
		limit = defaultSnapshotBars
	}
	if limit > maxSnapshotBars {
		limit = maxSnapshotBars
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	bars, err := c.hub.HistoryBars(ctx, msg.Symbol, tf, 0, limit)
	if err != nil {
		SendError(c, msg.ReqID, "snapshot failed: "+err.Error())
		return
	}

	snap := SnapshotMsg{
		Type:   "snapshot",
		ReqID:  msg.ReqID,
		Symbol: msg.Symbol,
		TF:     tf,
		Bars:   bars,
		Replay: c.hub.Engine.Snapshot(),
	}
	SendJSON(c, snap)
	log.Printf("[gateway] sent snapshot: %s bars=%d", key, len(bars))
}

// HistoryBars reads bar history ending before `before` (0 = newest).
// Bars come from the cache at the session's base resolution and are
// resampled when the requested timeframe is coarser.
func (h *Hub) HistoryBars(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) ([]model.Bar, error) {
	sess := h.SessionInfo()
	base := sess.BaseTF
	if base == "" {
		base = tf
	}
	if tf.DurationMs() < base.DurationMs() {
		return nil, fmt.Errorf("tf %s is finer than the cached resolution %s", tf, base)
	}

	// Over-fetch at base resolution so the resampled window still
	// holds `limit` bars.
	fetchLimit := limit
	if base != tf && limit > 0 {
		if ratio := tf.DurationMs() / base.DurationMs(); ratio > 1 {
			fetchLimit = limit * int(ratio)
		}
	}

	var (
		bars []model.Bar
		err  error
	)
	switch {
	case h.Loader != nil:
		bars, err = h.Loader.Fetch(ctx, symbol, base, before, fetchLimit, sess.Source)
	case h.Store != nil:
		bars, err = h.Store.Fetch(ctx, symbol, base, before, fetchLimit)
	default:
		return nil, model.ErrCacheUnavailable
	}
	if err != nil && bars == nil {
		return nil, err
	}

	bars = resample.Run(bars, base, tf)
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// SendJSON marshals v into the client's send queue, dropping on a
// full queue rather than blocking the caller.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] marshal: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// SendError sends a typed error envelope to the client.
func SendError(c *Client, reqID, msg string) {
	SendJSON(c, ErrorMsg{Type: "error", ReqID: reqID, Error: msg})
}
