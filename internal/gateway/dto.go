package gateway

import "chart-replay/internal/model"

// SubscribeMsg is the client→server WS subscription request.
type SubscribeMsg struct {
	Type    string `json:"type"` // "SUBSCRIBE"
	ReqID   string `json:"req_id,omitempty"`
	Symbol  string `json:"symbol"`
	TF      string `json:"tf"`
	History struct {
		Bars int `json:"bars"` // snapshot depth, default 500
	} `json:"history"`
}

// UnsubscribeMsg is the client→server WS unsubscription request.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // "UNSUBSCRIBE"
	Symbol string `json:"symbol"`
	TF     string `json:"tf"`
}

// SnapshotMsg is the server→client response to SUBSCRIBE: recent
// history plus the current session state, so the chart can render
// before the first live frame arrives.
type SnapshotMsg struct {
	Type   string               `json:"type"` // "snapshot"
	ReqID  string               `json:"req_id,omitempty"`
	Symbol string               `json:"symbol"`
	TF     model.Timeframe      `json:"tf"`
	Bars   []model.Bar          `json:"bars"`
	Replay model.ReplaySnapshot `json:"replay"`
}

// ErrorMsg is the server→client error envelope.
type ErrorMsg struct {
	Type  string `json:"type"` // "error"
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}

// SessionRequest is the POST /api/session body. BaseTF is the source
// file's native resolution; TF is the playback resolution (bars are
// resampled when they differ). Exactly one of Index / SeekTS picks
// the starting position; both absent means index 0.
type SessionRequest struct {
	Symbol string `json:"symbol"`
	TF     string `json:"tf"`
	BaseTF string `json:"base_tf,omitempty"`
	Source string `json:"source,omitempty"`
	Before int64  `json:"before,omitempty"` // exclusive upper bound, epoch ms
	Limit  int    `json:"limit,omitempty"`  // trailing window, default 1500
	Index  int    `json:"index,omitempty"`
	SeekTS int64  `json:"seek_ts,omitempty"`
}

// SessionResponse is the /api/session reply. Warning carries
// non-fatal degradation (e.g. the cache was unreachable but the
// source file still produced bars).
type SessionResponse struct {
	Session Session              `json:"session"`
	Replay  model.ReplaySnapshot `json:"replay"`
	Bars    int                  `json:"bars"`
	Warning string               `json:"warning,omitempty"`
}

// IngestRequest is the POST /api/ingest body. Path resolves against
// the configured source directory when relative.
type IngestRequest struct {
	Symbol string `json:"symbol"`
	TF     string `json:"tf"`
	Path   string `json:"path"`
}

// IngestResponse is the /api/ingest reply. Warning carries a partial
// failure (some rows committed before the error).
type IngestResponse struct {
	Report  model.IngestReport `json:"report"`
	Warning string             `json:"warning,omitempty"`
}

// SeekRequest is the POST /api/session/seek body.
type SeekRequest struct {
	Index  *int  `json:"index,omitempty"`
	SeekTS int64 `json:"seek_ts,omitempty"`
}

// SpeedRequest is the POST /api/session/speed body.
type SpeedRequest struct {
	Speed    float64 `json:"speed"`
	RealTime *bool   `json:"realtime,omitempty"`
}
