// Package bus decouples the replay tick loop from its consumers. The
// engine pushes frames into one input channel; FanOut copies each
// frame to every subscriber (gateway hub, Redis publisher, metrics).
package bus

import (
	"context"
	"log"
	"sync"

	"chart-replay/internal/model"
)

// FanOut broadcasts frames from a single input channel to N output
// channels. A full output drops the frame for that consumer only, so
// a stalled subscriber can never stall the tick loop.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Frame
	bufSize int

	// OnDrop is called when a frame is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. Subscribe before
// Run starts delivering; late subscribers miss earlier frames.
func (f *FanOut) Subscribe() <-chan model.Frame {
	ch := make(chan model.Frame, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; subscriber
// channels close on the way out.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Frame) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- frame:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping frame %s", i, frame.Key())
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) for a subscriber channel.
// Used for the channel saturation gauge.
type ChannelStat struct {
	Len int
	Cap int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
