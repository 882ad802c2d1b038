// Package redis implements broker.Broker on Redis Streams so that
// notifications published by one process reach sessions held by another.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
	"github.com/redis/go-redis/v9"
)

// Defaults applied by New.
const (
	DefaultKeyPrefix = "mcp:sse:broker:"
	DefaultMaxLen    = 1000
	DefaultBlock     = time.Second
)

// Broker is a Redis Streams backed broker. Every subscriber reads the stream
// independently (no consumer group), so each receives every message.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	block     time.Duration
	ownClient bool
}

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	// Addr is used only when Client is nil. Defaults to localhost:6379.
	Addr string
	// KeyPrefix is prepended to all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// MaxLen approximately caps each namespace stream. Defaults to
	// DefaultMaxLen.
	MaxLen int64
	// Block bounds each XREAD call so cancellation is noticed. Defaults to
	// DefaultBlock.
	Block time.Duration
}

// New creates a Redis broker.
func New(cfg Config) *Broker {
	b := &Broker{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		maxLen:    cfg.MaxLen,
		block:     cfg.Block,
	}
	if b.client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		b.client = redis.NewClient(&redis.Options{Addr: addr})
		b.ownClient = true
	}
	if b.keyPrefix == "" {
		b.keyPrefix = DefaultKeyPrefix
	}
	if b.maxLen <= 0 {
		b.maxLen = DefaultMaxLen
	}
	if b.block <= 0 {
		b.block = DefaultBlock
	}
	return b
}

// Ping checks connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client if the broker created it.
func (b *Broker) Close() error {
	if !b.ownClient {
		return nil
	}
	return b.client.Close()
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, namespace string, message jsonrpc.Message) (string, error) {
	key := b.streamKey(namespace)
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"data": []byte(message)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish message to stream %s: %w", key, err)
	}
	return id, nil
}

// Subscribe implements broker.Broker. The start position is the stream's
// current tail, resolved before the first read so that nothing published
// between blocking reads is missed.
func (b *Broker) Subscribe(ctx context.Context, namespace string, handler broker.MessageHandler) error {
	key := b.streamKey(namespace)

	startID := "0-0"
	tail, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read tail of stream %s: %w", key, err)
	}
	if len(tail) > 0 {
		startID = tail[0].ID
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, startID},
			Count:   64,
			Block:   b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from stream %s: %w", key, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				startID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				if err := handler(ctx, broker.MessageEnvelope{ID: msg.ID, Data: []byte(data)}); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup implements broker.Broker. Subscribers reading a deleted stream keep
// blocking until their context ends; a later Publish recreates the stream.
func (b *Broker) Cleanup(ctx context.Context, namespace string) error {
	key := b.streamKey(namespace)
	if err := b.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup namespace %s: %w", namespace, err)
	}
	return nil
}

func (b *Broker) streamKey(namespace string) string {
	return b.keyPrefix + "stream:" + namespace
}

var _ broker.Broker = (*Broker)(nil)
