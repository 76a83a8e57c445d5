package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"chart-replay/internal/marketdata/replay"
	"chart-replay/internal/model"
)

func testHub() *Hub {
	return NewHub(replay.New(), nil, nil)
}

// addClient registers a bare client without pumps, for in-process
// delivery assertions.
func addClient(h *Hub, queue int) *Client {
	c := &Client{send: make(chan []byte, queue), hub: h, subs: make(map[string]bool)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func recvEnvelope(t *testing.T, c *Client) map[string]json.RawMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var env map[string]json.RawMessage
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("envelope is not valid JSON: %v\n%s", err, raw)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestBroadcast_EnvelopeShape(t *testing.T) {
	h := testHub()
	c := addClient(h, 8)

	f := model.Frame{Symbol: "NIFTY", Timeframe: model.TF1m, Index: 3, Price: 101.5, State: model.ReplayPlaying}
	h.Broadcast("frame:"+f.Key(), f.JSON(), 0)

	env := recvEnvelope(t, c)

	var channel string
	json.Unmarshal(env["channel"], &channel)
	if channel != "frame:NIFTY:1m" {
		t.Errorf("channel = %q", channel)
	}

	var got model.Frame
	if err := json.Unmarshal(env["data"], &got); err != nil {
		t.Fatalf("data: %v", err)
	}
	if got.Price != 101.5 || got.Index != 3 {
		t.Errorf("frame = %+v", got)
	}

	var seq, chSeq int64
	json.Unmarshal(env["seq"], &seq)
	json.Unmarshal(env["channel_seq"], &chSeq)
	if seq != 1 || chSeq != 1 {
		t.Errorf("seq/channel_seq = %d/%d, want 1/1", seq, chSeq)
	}
}

func TestBroadcast_PerChannelSeq(t *testing.T) {
	h := testHub()

	h.Broadcast("frame:NIFTY:1m", []byte(`{}`), 0)
	h.Broadcast("frame:NIFTY:1m", []byte(`{}`), 0)
	h.Broadcast("frame:BANKNIFTY:1m", []byte(`{}`), 0)

	if got := h.ChannelSeq("frame:NIFTY:1m"); got != 2 {
		t.Errorf("NIFTY seq = %d, want 2", got)
	}
	if got := h.ChannelSeq("frame:BANKNIFTY:1m"); got != 1 {
		t.Errorf("BANKNIFTY seq = %d, want 1", got)
	}
}

func TestBroadcast_FiltersBySubscription(t *testing.T) {
	h := testHub()
	c := addClient(h, 8)
	c.subs["NIFTY:1m"] = true

	h.Broadcast("frame:BANKNIFTY:1m", []byte(`{"symbol":"BANKNIFTY"}`), 0)
	h.Broadcast("frame:NIFTY:1m", []byte(`{"symbol":"NIFTY"}`), 0)

	env := recvEnvelope(t, c)
	var channel string
	json.Unmarshal(env["channel"], &channel)
	if channel != "frame:NIFTY:1m" {
		t.Errorf("received %q, want only the subscribed channel", channel)
	}
	if len(c.send) != 0 {
		t.Errorf("unexpected extra message queued")
	}

	// non-frame channels are always delivered
	h.Broadcast("metrics", []byte(`{}`), 0)
	env = recvEnvelope(t, c)
	json.Unmarshal(env["channel"], &channel)
	if channel != "metrics" {
		t.Errorf("metrics channel filtered out")
	}
}

func TestBroadcast_SlowClientDrops(t *testing.T) {
	h := testHub()
	c := addClient(h, 1)

	for i := 0; i < 5; i++ {
		h.Broadcast("frame:NIFTY:1m", []byte(`{}`), 0) // must not block
	}
	if len(c.send) != 1 {
		t.Errorf("queued = %d, want 1 (drops past capacity)", len(c.send))
	}
}

func TestMissedRange(t *testing.T) {
	h := testHub()

	for i := 1; i <= 5; i++ {
		h.Broadcast("frame:NIFTY:1m", []byte(`{"n":`+strconv.Itoa(i)+`}`), 0)
	}

	missed := h.MissedRange("frame:NIFTY:1m", 2, 4)
	if len(missed) != 3 {
		t.Fatalf("missed = %d envelopes, want 3", len(missed))
	}
	var env struct {
		ChannelSeq int64 `json:"channel_seq"`
	}
	if err := json.Unmarshal(missed[0], &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.ChannelSeq != 2 {
		t.Errorf("first missed seq = %d, want 2", env.ChannelSeq)
	}

	if got := h.MissedRange("frame:UNKNOWN:1m", 1, 10); got != nil {
		t.Errorf("unknown channel returned %d envelopes", len(got))
	}
}

func TestHubRun_BroadcastsBusFrames(t *testing.T) {
	h := testHub()
	c := addClient(h, 8)

	frames := make(chan model.Frame, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, frames)

	frames <- model.Frame{Symbol: "NIFTY", Timeframe: model.TF1m, Price: 42, EmitTS: time.Now().UnixMilli()}

	env := recvEnvelope(t, c)
	var got model.Frame
	json.Unmarshal(env["data"], &got)
	if got.Price != 42 {
		t.Errorf("price = %v, want 42", got.Price)
	}

	if h.Latency.Count() != 1 {
		t.Errorf("latency samples = %d, want 1", h.Latency.Count())
	}

	latest := h.GetLatestAll()
	if _, ok := latest["frame:NIFTY:1m"]; !ok {
		t.Errorf("latest snapshot missing frame channel: %v", latest)
	}
}
