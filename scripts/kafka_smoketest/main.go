package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	infra_eventbus "github.com/amirasaad/coopcredit/infra/eventbus"
	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/events"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// RunSmokeTest creates the event topics, then sends a withdrawal event
// through the Kafka event bus and waits for it to come back.
func RunSmokeTest() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	brokers := strings.TrimSpace(os.Getenv("BROKERS"))
	if brokers == "" {
		brokers = "localhost:9093,localhost:9092"
	}
	cfg := infra_eventbus.DefaultKafkaEventBusConfig()
	if groupID := strings.TrimSpace(os.Getenv("GROUP_ID")); groupID != "" {
		cfg.GroupID = groupID
	}
	cfg.GroupID += "-smoketest"
	if prefix := strings.TrimSpace(os.Getenv("TOPIC_PREFIX")); prefix != "" {
		cfg.TopicPrefix = prefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Create topics if they don't exist
	{
		dialer := &kafka.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", strings.Split(brokers, ",")[0])
		if err != nil {
			logger.Error("dial failed", "error", err)
			return err
		}
		defer func() { _ = conn.Close() }()
		for _, t := range infra_eventbus.KafkaTopics(cfg.TopicPrefix) {
			err = conn.CreateTopics(kafka.TopicConfig{
				Topic:             t,
				NumPartitions:     1,
				ReplicationFactor: 1,
			})
			if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
				logger.Error("create topic failed", "topic", t, "error", err)
				return err
			}
			logger.Info("topic ready", "topic", t)
		}
	}

	bus, err := infra_eventbus.NewWithKafka(brokers, logger, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	sent := &events.WithdrawalAdmitted{
		Meta: events.Meta{
			RequestID: uuid.New(),
			MemberID:  "SMOKE-001",
			Timestamp: time.Now(),
		},
		Amount:       money.Must(10_000, money.FC),
		Fee:          money.Must(300, money.FC),
		NetDebit:     money.Must(10_300, money.FC),
		BalanceAfter: money.Must(89_700, money.FC),
	}

	received := make(chan struct{})
	var once sync.Once
	bus.Register(events.EventTypeWithdrawalAdmitted.String(), func(_ context.Context, e eventbus.Event) error {
		if got, ok := e.(*events.WithdrawalAdmitted); ok && got.RequestID == sent.RequestID {
			logger.Info("consumed", "request_id", got.RequestID, "net_debit", got.NetDebit.String())
			once.Do(func() { close(received) })
		}
		return nil
	})

	if err := bus.Emit(ctx, sent); err != nil {
		logger.Error("emit failed", "error", err)
		return err
	}
	logger.Info("produced", "request_id", sent.RequestID)

	select {
	case <-received:
		logger.Info("kafka smoke test passed")
		return nil
	case <-ctx.Done():
		err := errors.New("timed out waiting for the withdrawal event")
		logger.Error("consume failed", "error", err)
		return err
	}
}

// main runs the smoke test and exits non-zero on failure.
func main() {
	if err := RunSmokeTest(); err != nil {
		os.Exit(1)
	}
}
