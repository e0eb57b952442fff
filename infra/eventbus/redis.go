package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/redis/go-redis/v9"
)

// RedisEventBus publishes events on Redis Streams, one stream per event type,
// and consumes them through a consumer group.
type RedisEventBus struct {
	client *redis.Client
	maxLen int64
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWithRedis creates a Redis Streams event bus on client. Streams are
// trimmed to roughly maxLen entries; zero disables trimming.
func NewWithRedis(client *redis.Client, maxLen int64, logger *slog.Logger) (*RedisEventBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis event bus: client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis event bus: connection failed: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client: client,
		maxLen: maxLen,
		logger: logger.With("component", "redis-event-bus"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Emit publishes an event to the stream of its type.
func (b *RedisEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	raw, err := encodeEnvelope(event)
	if err != nil {
		b.logger.Error("failed to encode event", "error", err, "type", event.Type())
		return fmt.Errorf("redis event bus: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: streamNameFor(event.Type()),
		Values: map[string]any{"event": string(raw)},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		b.logger.Error("failed to emit event", "error", err, "type", event.Type())
		return fmt.Errorf("redis event bus: emit failed: %w", err)
	}
	b.logger.Debug("event emitted", "type", event.Type(), "stream", args.Stream)
	return nil
}

// Register starts a consumer on the event type's stream, calling handler for
// each event. Failed or panicking deliveries go to the type's DLQ stream.
func (b *RedisEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	stream, group := streamNameFor(eventType), groupNameFor(eventType)
	consumer := fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	if err := b.client.XGroupCreateMkStream(b.ctx, stream, group, "0").Err(); err != nil &&
		!isBusyGroup(err) {
		b.logger.Error("failed to create consumer group", "error", err, "stream", stream)
	}
	b.logger.Info("registering handler", "event_type", eventType, "stream", stream, "consumer", consumer)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			res, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    10,
				Block:    2 * time.Second,
			}).Result()
			if b.ctx.Err() != nil {
				return
			}
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					b.logger.Error("error reading from stream", "error", err, "consumer", consumer)
					time.Sleep(time.Second)
				}
				continue
			}
			for _, s := range res {
				for _, msg := range s.Messages {
					b.deliver(eventType, stream, group, msg, handler)
				}
			}
		}
	}()
}

func (b *RedisEventBus) deliver(eventType, stream, group string, msg redis.XMessage, handler eventbus.HandlerFunc) {
	defer func() {
		if err := b.client.XAck(b.ctx, stream, group, msg.ID).Err(); err != nil {
			b.logger.Error("failed to acknowledge message", "error", err, "msg_id", msg.ID)
		}
	}()

	raw, ok := msg.Values["event"].(string)
	if !ok {
		b.pushToDLQ(eventType, msg.Values)
		return
	}
	evt, err := decodeEnvelope([]byte(raw))
	if err != nil {
		b.logger.Error("failed to decode event", "error", err, "msg_id", msg.ID)
		b.pushToDLQ(eventType, msg.Values)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic recovered", "panic", r, "event_type", eventType)
			b.pushToDLQ(eventType, msg.Values)
		}
	}()
	if err := handler(b.ctx, evt); err != nil {
		b.logger.Error("handler error", "error", err, "event_type", eventType)
		b.pushToDLQ(eventType, msg.Values)
	}
}

func (b *RedisEventBus) pushToDLQ(eventType string, values map[string]any) {
	dlq := dlqStreamName(eventType)
	if err := b.client.XAdd(b.ctx, &redis.XAddArgs{Stream: dlq, Values: values}).Err(); err != nil {
		b.logger.Error("failed to push to DLQ", "error", err, "stream", dlq)
		return
	}
	b.logger.Warn("event pushed to DLQ", "stream", dlq)
}

// Close stops every consumer. The client is owned by the caller.
func (b *RedisEventBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

var _ eventbus.Bus = (*RedisEventBus)(nil)
