package redis

import (
	"context"
	"log"
	"sync"

	"chart-replay/internal/model"
)

// frameSink is the write half of a publisher, split out so the
// recovery buffer can be exercised without a live Redis.
type frameSink interface {
	PublishFrame(ctx context.Context, f model.Frame) error
	Close() error
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While
// the circuit is open, frames are buffered locally (oldest dropped
// past maxBuf) and replayed in order once the probe closes the
// circuit again.
type BufferedPublisher struct {
	sink frameSink
	cb   *CircuitBreaker

	mu     sync.Mutex
	buffer []model.Frame
	maxBuf int

	// Callbacks (optional, for metrics)
	OnBuffer func()          // a frame was buffered
	OnFlush  func(count int) // buffered frames were replayed
}

// NewBufferedPublisher wraps sink with cb. maxBufferSize <= 0 means
// the default of 10000 frames.
func NewBufferedPublisher(sink frameSink, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		sink:   sink,
		cb:     cb,
		buffer: make([]model.Frame, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Chain: flush when the circuit closes again.
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// PublishFrame writes through the circuit breaker; an open circuit
// buffers the frame instead of losing it.
func (bp *BufferedPublisher) PublishFrame(ctx context.Context, f model.Frame) error {
	err := bp.cb.Execute(func() error {
		return bp.sink.PublishFrame(ctx, f)
	})
	if err == ErrCircuitOpen {
		bp.bufferFrame(f)
		return nil // buffered, not lost
	}
	return err
}

// Run drains a frame channel through the breaker until ctx is
// cancelled or the channel closes.
func (bp *BufferedPublisher) Run(ctx context.Context, frames <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := bp.PublishFrame(ctx, f); err != nil {
				log.Printf("[redis] publish frame %s: %v", f.Key(), err)
			}
		}
	}
}

func (bp *BufferedPublisher) bufferFrame(f model.Frame) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// full: drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, f)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered frames in arrival order.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]model.Frame, 0, 256)
	bp.mu.Unlock()

	for _, f := range toFlush {
		if err := bp.sink.PublishFrame(context.Background(), f); err != nil {
			log.Printf("[redis] flush frame %s: %v", f.Key(), err)
		}
	}

	log.Printf("[redis] flushed %d buffered frames", len(toFlush))
	if bp.OnFlush != nil {
		bp.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of frames waiting for recovery.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Close closes the underlying publisher.
func (bp *BufferedPublisher) Close() error {
	return bp.sink.Close()
}

var _ model.FramePublisher = (*BufferedPublisher)(nil)
