// Package redis publishes replay frames to Redis so dashboards and
// other processes can follow a session without a direct WebSocket to
// the daemon. Writes are pipelined; a circuit breaker with a local
// recovery buffer rides out Redis outages without stalling the bus.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"chart-replay/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Frame stream trimming: ~10 min of 50ms frames + buffer.
	frameStreamMaxLen = 12000
	// Completed bars are far rarer; keep a longer window.
	barStreamMaxLen  = 5000
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// StreamMaxLen caps the forming-frame stream; 0 uses the default.
	StreamMaxLen int64
	// LatestTTL bounds the latest-value keys; 0 uses the default.
	LatestTTL time.Duration
}

// Publisher writes frames to Redis: a latest-value key, a capped
// frame stream, a capped completed-bar stream and a pub/sub channel.
type Publisher struct {
	client    *goredis.Client
	maxLen    int64
	latestTTL time.Duration

	// OnWrite receives the pipeline latency of every successful
	// publish (optional, metrics).
	OnWrite func(time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = frameStreamMaxLen
	}
	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client, maxLen: maxLen, latestTTL: ttl}, nil
}

// PublishFrame writes one frame in a single pipeline:
//
//	SET  chart:latest:SYM:TF      (snapshot for late joiners, TTL)
//	XADD chart:frames:SYM:TF      (capped forming-frame stream)
//	XADD chart:bars:SYM:TF        (completed bars only)
//	PUBLISH pub:frame:SYM:TF
func (p *Publisher) PublishFrame(ctx context.Context, f model.Frame) error {
	jsonBytes := f.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
	key := f.Key()

	pipe := p.client.Pipeline()

	pipe.Set(ctx, "chart:latest:"+key, jsonData, p.latestTTL)

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "chart:frames:" + key,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})

	if f.Complete {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "chart:bars:" + key,
			MaxLen: barStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
	}

	pipe.Publish(ctx, "pub:frame:"+key, jsonData)

	start := time.Now()
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis frame pipeline %s: %w", key, err)
	}
	if p.OnWrite != nil {
		p.OnWrite(time.Since(start))
	}
	return nil
}

// Run drains a frame channel into Redis. Blocks until ctx is
// cancelled or the channel is closed. Errors are logged, not fatal:
// the stream is best-effort.
func (p *Publisher) Run(ctx context.Context, frames <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := p.PublishFrame(ctx, f); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ model.FramePublisher = (*Publisher)(nil)
