package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/config"
	"github.com/sawpanic/perpboard/internal/metrics"
)

// Channels a committed section is published on, relative to the prefix
const (
	ChannelMovers  = "movers"
	ChannelVolume  = "volume"
	ChannelFunding = "funding"
)

// Publisher fans committed sections out to subscribers. Implementations
// must not block the caller beyond their own timeout.
type Publisher interface {
	Publish(ctx context.Context, channel string, v interface{}) error
	Close() error
}

// Nop discards everything
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }
func (Nop) Close() error                                       { return nil }

// RedisPublisher PUBLISHes JSON payloads to <prefix>:<channel>
type RedisPublisher struct {
	rdb     redis.Cmdable
	closer  func() error
	prefix  string
	timeout time.Duration
	metrics *metrics.Registry
}

// New returns a RedisPublisher when an address is configured and Nop otherwise
func New(cfg config.RedisConfig, m *metrics.Registry) Publisher {
	if cfg.Addr == "" {
		return Nop{}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	p := NewRedis(rdb, cfg.Prefix, cfg.Timeout, m)
	p.closer = rdb.Close
	return p
}

// NewRedis wraps an existing client
func NewRedis(rdb redis.Cmdable, prefix string, timeout time.Duration, m *metrics.Registry) *RedisPublisher {
	if prefix == "" {
		prefix = "perpboard"
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, timeout: timeout, metrics: m}
}

// Channel returns the full channel name
func (p *RedisPublisher) Channel(channel string) string {
	return p.prefix + ":" + channel
}

// Publish encodes v and publishes it. Failures are returned for the caller
// to log; they are also counted.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, v interface{}) error {
	full := p.Channel(channel)

	payload, err := json.Marshal(v)
	if err != nil {
		p.metrics.RecordPublish(full, metrics.ResultError)
		return fmt.Errorf("encode %s payload: %w", full, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	receivers, err := p.rdb.Publish(ctx, full, string(payload)).Result()
	if err != nil {
		p.metrics.RecordPublish(full, metrics.ResultError)
		return fmt.Errorf("publish %s: %w", full, err)
	}

	p.metrics.RecordPublish(full, metrics.ResultSuccess)
	log.Debug().
		Str("component", "publish").
		Str("channel", full).
		Int("bytes", len(payload)).
		Int64("receivers", receivers).
		Msg("Snapshot published")
	return nil
}

// Close releases the underlying client if this publisher owns it
func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
