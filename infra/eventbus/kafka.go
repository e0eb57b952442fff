package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/events"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const defaultTopicPrefix = "coopcredit.events"

// KafkaEventBusConfig holds configuration for the Kafka event bus.
type KafkaEventBusConfig struct {
	GroupID      string
	TopicPrefix  string
	SASLUsername string
	SASLPassword string
}

// DefaultKafkaEventBusConfig returns default configuration for KafkaEventBus.
func DefaultKafkaEventBusConfig() *KafkaEventBusConfig {
	return &KafkaEventBusConfig{
		GroupID:     "coopcredit",
		TopicPrefix: defaultTopicPrefix,
	}
}

// KafkaEventBus publishes events to one topic per event type. Messages are
// keyed by member so that a member's decisions keep their order.
type KafkaEventBus struct {
	brokers []string
	writer  *kafka.Writer
	dialer  *kafka.Dialer
	config  *KafkaEventBusConfig
	logger  *slog.Logger

	readersMtx sync.Mutex
	readers    map[string]*kafka.Reader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWithKafka creates a new Kafka-backed event bus.
// brokers: Comma-separated brokers list (e.g. "localhost:9092,localhost:9093").
func NewWithKafka(brokers string, logger *slog.Logger, config *KafkaEventBusConfig) (*KafkaEventBus, error) {
	parsed := parseBrokers(brokers)
	if len(parsed) == 0 {
		return nil, fmt.Errorf("kafka event bus: brokers are required")
	}
	if config == nil {
		config = DefaultKafkaEventBusConfig()
	}
	if config.GroupID == "" {
		config.GroupID = "coopcredit"
	}
	if strings.TrimSpace(config.TopicPrefix) == "" {
		config.TopicPrefix = defaultTopicPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	mechanism, err := buildKafkaSASLMechanism(config)
	if err != nil {
		return nil, err
	}
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, SASLMechanism: mechanism}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(parsed...),
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
	}
	if mechanism != nil {
		writer.Transport = &kafka.Transport{SASL: mechanism}
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &KafkaEventBus{
		brokers: parsed,
		writer:  writer,
		dialer:  dialer,
		config:  config,
		logger:  logger.With("bus", "kafka"),
		readers: make(map[string]*kafka.Reader),
		ctx:     ctx,
		cancel:  cancel,
	}

	conn, err := dialer.DialContext(ctx, "tcp", parsed[0])
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kafka event bus: connection failed: %w", err)
	}
	_ = conn.Close()

	bus.logger.Info("🚀 Kafka event bus initialized", "group_id", config.GroupID, "brokers", parsed)
	return bus, nil
}

// Emit publishes an event to its type's topic.
func (b *KafkaEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	raw, err := encodeEnvelope(event)
	if err != nil {
		return fmt.Errorf("kafka event bus: %w", err)
	}
	msg := kafka.Message{
		Topic: topicNameFor(b.config.TopicPrefix, event.Type()),
		Key:   messageKey(event),
		Value: raw,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka event bus: publish failed: %w", err)
	}
	return nil
}

// Register starts one consumer-group reader for the event type.
func (b *KafkaEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	b.readersMtx.Lock()
	defer b.readersMtx.Unlock()
	if _, exists := b.readers[eventType]; exists {
		b.logger.Warn("handler already registered; ignoring", "event_type", eventType)
		return
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     b.config.GroupID,
		Topic:       topicNameFor(b.config.TopicPrefix, eventType),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		Dialer:      b.dialer,
	})
	b.readers[eventType] = reader

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(eventType, reader, handler)
	}()
}

func (b *KafkaEventBus) consumeLoop(eventType string, reader *kafka.Reader, handler eventbus.HandlerFunc) {
	for {
		msg, err := reader.FetchMessage(b.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || b.ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka consume error", "error", err, "event_type", eventType)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		evt, err := decodeEnvelope(msg.Value)
		switch {
		case err != nil:
			b.logger.Error("failed to decode message", "error", err, "topic", msg.Topic, "offset", msg.Offset)
		default:
			if err := handler(b.ctx, evt); err != nil {
				b.logger.Error("handler error", "error", err, "event_type", eventType, "offset", msg.Offset)
				b.publishToDLQ(eventType, msg)
			}
		}
		if err := reader.CommitMessages(b.ctx, msg); err != nil {
			b.logger.Error("kafka commit error", "error", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

func (b *KafkaEventBus) publishToDLQ(eventType string, msg kafka.Message) {
	dlq := dlqTopicNameFor(b.config.TopicPrefix, eventType)
	if err := b.writer.WriteMessages(b.ctx, kafka.Message{Topic: dlq, Key: msg.Key, Value: msg.Value, Time: time.Now()}); err != nil {
		b.logger.Error("dlq publish failed", "error", err, "topic", dlq)
		return
	}
	b.logger.Warn("message sent to DLQ", "event_type", eventType, "dlq_topic", dlq)
}

// Close stops consumers and flushes the writer.
func (b *KafkaEventBus) Close() error {
	if b == nil {
		return nil
	}
	b.cancel()
	b.readersMtx.Lock()
	for _, r := range b.readers {
		_ = r.Close()
	}
	b.readersMtx.Unlock()
	b.wg.Wait()
	return b.writer.Close()
}

// messageKey keys withdrawal events by member; other events by type.
func messageKey(event eventbus.Event) []byte {
	if m, ok := event.(interface{ Member() string }); ok && m.Member() != "" {
		return []byte(m.Member())
	}
	return []byte(event.Type())
}

func buildKafkaSASLMechanism(config *KafkaEventBusConfig) (sasl.Mechanism, error) {
	username := strings.TrimSpace(config.SASLUsername)
	password := strings.TrimSpace(config.SASLPassword)
	if username == "" && password == "" {
		return nil, nil
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("kafka event bus: sasl username and password are required")
	}
	return plain.Mechanism{Username: username, Password: password}, nil
}

func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func topicNameFor(prefix, eventType string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return fmt.Sprintf("%s.%s", prefix, strings.ToLower(eventType))
}

func dlqTopicNameFor(prefix, eventType string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return fmt.Sprintf("%s.dlq.%s", prefix, strings.ToLower(eventType))
}

var _ eventbus.Bus = (*KafkaEventBus)(nil)

// KafkaTopics lists the event and dead-letter topics of every known event type.
func KafkaTopics(prefix string) []string {
	out := make([]string, 0, 2*len(events.EventTypes))
	for et := range events.EventTypes {
		out = append(out, topicNameFor(prefix, et.String()), dlqTopicNameFor(prefix, et.String()))
	}
	sort.Strings(out)
	return out
}
