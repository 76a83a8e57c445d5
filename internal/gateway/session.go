package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"chart-replay/internal/marketdata/resample"
	"chart-replay/internal/model"
)

const defaultSessionBars = 1500

// StartSession loads a series (cache first, source file on miss),
// resamples it to the playback timeframe and hands it to the engine.
// A cache outage with a readable source degrades to a warning rather
// than failing the session.
func (h *Hub) StartSession(ctx context.Context, req SessionRequest) (SessionResponse, error) {
	tf := model.Timeframe(req.TF)
	if req.Symbol == "" || !tf.Valid() {
		return SessionResponse{}, fmt.Errorf("symbol and a valid tf are required")
	}
	base := tf
	if req.BaseTF != "" {
		base = model.Timeframe(req.BaseTF)
		if !base.Valid() {
			return SessionResponse{}, fmt.Errorf("invalid base_tf %q", req.BaseTF)
		}
	} else if h.DefaultBaseTF != "" && h.DefaultBaseTF.DurationMs() <= tf.DurationMs() {
		base = h.DefaultBaseTF
	}
	if tf.DurationMs() < base.DurationMs() {
		return SessionResponse{}, fmt.Errorf("tf %s is finer than base_tf %s", tf, base)
	}

	source := req.Source
	if source != "" && h.SourceDir != "" && !filepath.IsAbs(source) {
		source = filepath.Join(h.SourceDir, source)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSessionBars
	}
	fetchLimit := limit
	if base != tf {
		if ratio := tf.DurationMs() / base.DurationMs(); ratio > 1 {
			fetchLimit = limit * int(ratio)
		}
	}

	if h.Loader == nil {
		return SessionResponse{}, model.ErrCacheUnavailable
	}

	bars, err := h.Loader.Fetch(ctx, req.Symbol, base, req.Before, fetchLimit, source)
	var warning string
	if err != nil {
		if len(bars) == 0 {
			return SessionResponse{}, err
		}
		// partial: the series is usable, report what went wrong
		warning = err.Error()
		log.Printf("[gateway] session degraded for %s:%s: %v", req.Symbol, base, err)
	}
	if len(bars) == 0 {
		return SessionResponse{}, fmt.Errorf("no bars for %s:%s: %w", req.Symbol, base, model.ErrSourceUnavailable)
	}

	series := resample.Run(bars, base, tf)
	if len(series) > limit {
		series = series[len(series)-limit:]
	}

	h.Engine.Start(req.Symbol, tf, series, req.Index)
	if req.SeekTS > 0 {
		h.Engine.SeekTime(req.SeekTS)
	}

	h.setSession(Session{Symbol: req.Symbol, BaseTF: base, TF: tf, Source: source})
	h.sessionEvent("start")

	return SessionResponse{
		Session: h.SessionInfo(),
		Replay:  h.Engine.Snapshot(),
		Bars:    len(series),
		Warning: warning,
	}, nil
}

// SwitchTimeframe re-slices the active session at a new playback
// resolution, preserving the current position by global timestamp.
func (h *Hub) SwitchTimeframe(ctx context.Context, tf model.Timeframe) (SessionResponse, error) {
	sess := h.SessionInfo()
	if sess.Symbol == "" {
		return SessionResponse{}, errors.New("no active session")
	}
	snap := h.Engine.Snapshot()
	holdTS := snap.SyncTime

	resp, err := h.StartSession(ctx, SessionRequest{
		Symbol: sess.Symbol,
		TF:     string(tf),
		BaseTF: string(sess.BaseTF),
		Source: sess.Source,
		SeekTS: holdTS,
	})
	if err != nil {
		return resp, err
	}
	h.sessionEvent("tf_switch")
	log.Printf("[gateway] timeframe switch %s→%s at ts=%d", sess.TF, tf, holdTS)
	return resp, nil
}

// RunIngest parses and loads one source file into the cache, returning
// the terminal report. The parse runs on a worker goroutine; ctx
// bounds only this caller's wait. Requests for a key already being
// ingested coalesce onto the in-flight run.
func (h *Hub) RunIngest(ctx context.Context, req IngestRequest) (model.IngestReport, error) {
	tf, err := model.ParseTimeframe(req.TF)
	if err != nil {
		return model.IngestReport{}, err
	}
	if req.Symbol == "" || req.Path == "" {
		return model.IngestReport{}, fmt.Errorf("symbol and path are required")
	}
	if h.Loader == nil {
		return model.IngestReport{}, model.ErrCacheUnavailable
	}

	path := req.Path
	if h.SourceDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(h.SourceDir, path)
	}

	select {
	case report := <-h.Loader.IngestAsync(ctx, req.Symbol, tf, path):
		return report, report.Err
	case <-ctx.Done():
		return model.IngestReport{}, ctx.Err()
	}
}
