package gateway

import (
	"strconv"
	"time"
)

// Broadcast wraps data in an envelope and sends it to every client
// subscribed to the channel. The envelope JSON is hand-crafted: this
// runs once per frame per tick, and json.Marshal costs ~25x more.
// emitTS (wall ms at frame emission, 0 if unknown) feeds the latency
// tracker.
func (h *Hub) Broadcast(channel string, data []byte, emitTS int64) {
	now := time.Now().UTC()

	if emitTS > 0 {
		latencyMs := float64(now.UnixMilli() - emitTS)
		if latencyMs >= 0 {
			if h.Latency != nil {
				h.Latency.Record(latencyMs)
			}
			if h.LatencyObserver != nil {
				h.LatencyObserver(latencyMs)
			}
		}
	}

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}

	h.seq++
	seq := h.seq

	b, exists := h.backlogs[channel]
	if !exists {
		b = NewBacklog(backlogSize)
		h.backlogs[channel] = b
	}
	h.mu.Unlock()

	// Hand-craft envelope JSON
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	b.Push(channelSeq, buf)

	// Fan out to subscribed clients; full queues drop, never block.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}
