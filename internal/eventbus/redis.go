/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays selected local bus events between reeltime nodes
// over Redis pub/sub.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/reeltime/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OriginKey marks payloads that arrived from another node. Relayed payloads
// carry it and are never forwarded again.
const OriginKey = "origin_node"

const channelPrefix = "reeltime:events:"

// RedisRelay bridges a local events.Bus to Redis. Forwarded event types are
// published to Redis and events from other nodes are republished locally.
type RedisRelay struct {
	client *redis.Client
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	mu     sync.Mutex
	types  []events.EventType
	subs   map[events.EventType]events.Subscriber
	pubsub *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	useFallback   bool
	failCount     int
	maxFails      int
	checkInterval time.Duration
	lastCheck     time.Time
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisRelay connects to Redis. When Redis is unreachable the relay starts
// in fallback mode: local delivery is unaffected and nothing is relayed until
// a reconnect succeeds.
func NewRedisRelay(cfg RedisConfig, nodeID string, bus *events.Bus, logger zerolog.Logger) *RedisRelay {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "eventbus").Str("node_id", nodeID).Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}

	rr := &RedisRelay{
		client:        client,
		bus:           bus,
		logger:        logger,
		nodeID:        nodeID,
		subs:          make(map[events.EventType]events.Subscriber),
		ctx:           ctx,
		cancel:        cancel,
		maxFails:      cfg.MaxFailures,
		checkInterval: cfg.CheckInterval,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis connection failed, events stay node-local")
		rr.useFallback = true
		rr.lastCheck = time.Now()
		return rr
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis event relay initialized")
	return rr
}

// Forward relays the given event types in both directions.
func (rr *RedisRelay) Forward(types ...events.EventType) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	channels := make([]string, 0, len(types))
	for _, eventType := range types {
		if _, exists := rr.subs[eventType]; exists {
			continue
		}
		sub := rr.bus.SubscribeBuffered(eventType, 100)
		rr.subs[eventType] = sub
		rr.types = append(rr.types, eventType)
		channels = append(channels, channelPrefix+string(eventType))

		rr.wg.Add(1)
		go rr.forwardLocal(eventType, sub)
	}
	if len(channels) == 0 || rr.useFallback {
		return
	}

	if rr.pubsub == nil {
		rr.pubsub = rr.client.Subscribe(rr.ctx, channels...)
		rr.wg.Add(1)
		go rr.receiveMessages(rr.pubsub)
		return
	}
	if err := rr.pubsub.Subscribe(rr.ctx, channels...); err != nil {
		rr.logger.Warn().Err(err).Strs("channels", channels).Msg("failed to extend Redis subscription")
	}
}

// forwardLocal publishes local events of one type to Redis.
func (rr *RedisRelay) forwardLocal(eventType events.EventType, sub events.Subscriber) {
	defer rr.wg.Done()

	for {
		select {
		case <-rr.ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if _, relayed := payload[OriginKey]; relayed {
				continue
			}
			rr.publish(eventType, payload)
		}
	}
}

func (rr *RedisRelay) publish(eventType events.EventType, payload events.Payload) {
	if rr.inFallback() && rr.tryReconnect() != nil {
		return
	}

	data, err := marshalMessage(eventType, payload, rr.nodeID)
	if err != nil {
		rr.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(rr.ctx, 2*time.Second)
	defer cancel()

	if err := rr.client.Publish(ctx, channelPrefix+string(eventType), data).Err(); err != nil {
		rr.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rr.handleFailure()
		return
	}

	rr.mu.Lock()
	rr.failCount = 0
	rr.mu.Unlock()

	rr.logger.Debug().Str("event_type", string(eventType)).Msg("published event to Redis")
}

// receiveMessages handles incoming Redis pub/sub messages.
func (rr *RedisRelay) receiveMessages(pubsub *redis.PubSub) {
	defer rr.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rr.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rr.logger.Warn().Msg("Redis channel closed")
				return
			}
			rr.deliver([]byte(msg.Payload))
		}
	}
}

// deliver republishes a message from another node on the local bus.
func (rr *RedisRelay) deliver(data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		rr.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
		return
	}
	// Skip messages from ourselves (prevent echo)
	if msg.NodeID == rr.nodeID {
		return
	}
	if msg.Payload == nil {
		msg.Payload = events.Payload{}
	}
	msg.Payload[OriginKey] = msg.NodeID
	rr.bus.Publish(msg.EventType, msg.Payload)

	rr.logger.Debug().
		Str("event_type", string(msg.EventType)).
		Str("source_node", msg.NodeID).
		Msg("delivered Redis event to local subscribers")
}

// Close stops relaying and closes the Redis connection.
func (rr *RedisRelay) Close() error {
	rr.cancel()

	rr.mu.Lock()
	for eventType, sub := range rr.subs {
		rr.bus.Unsubscribe(eventType, sub)
	}
	rr.subs = make(map[events.EventType]events.Subscriber)
	pubsub := rr.pubsub
	rr.pubsub = nil
	rr.mu.Unlock()

	if pubsub != nil {
		pubsub.Close()
	}
	rr.wg.Wait()

	if err := rr.client.Close(); err != nil {
		rr.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	rr.logger.Info().Msg("Redis event relay closed")
	return nil
}

func (rr *RedisRelay) inFallback() bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.useFallback
}

// handleFailure implements circuit breaker logic.
func (rr *RedisRelay) handleFailure() {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.failCount++
	if rr.failCount >= rr.maxFails && !rr.useFallback {
		rr.logger.Warn().Int("fail_count", rr.failCount).Msg("Redis failure threshold reached, relaying paused")
		rr.useFallback = true
		rr.lastCheck = time.Now()
	}
}

// tryReconnect pings Redis at most once per check interval while the
// breaker is open.
func (rr *RedisRelay) tryReconnect() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if !rr.useFallback {
		return nil
	}
	if time.Since(rr.lastCheck) < rr.checkInterval {
		return fmt.Errorf("too soon to retry")
	}
	rr.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rr.ctx, 5*time.Second)
	defer cancel()
	if err := rr.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rr.useFallback = false
	rr.failCount = 0
	if rr.pubsub == nil && len(rr.types) > 0 {
		channels := make([]string, 0, len(rr.types))
		for _, eventType := range rr.types {
			channels = append(channels, channelPrefix+string(eventType))
		}
		rr.pubsub = rr.client.Subscribe(rr.ctx, channels...)
		rr.wg.Add(1)
		go rr.receiveMessages(rr.pubsub)
	}
	rr.logger.Info().Msg("reconnected to Redis, relaying resumed")
	return nil
}

// redisMessage represents a message published to Redis.
type redisMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := redisMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	}
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (*redisMessage, error) {
	var msg redisMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal redis message: %w", err)
	}
	return &msg, nil
}
