package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
}

// LifecycleHandler applies inbound donation and funding events.
type LifecycleHandler interface {
	HandleDonationEvent(ctx context.Context, eventType string, payload []byte) error
	HandleFundingSynced(ctx context.Context, payload []byte) error
}

// ConsumedTopics are the topics the worker subscribes to.
func ConsumedTopics() []string {
	return []string{
		domain.EventDonationCreated,
		domain.EventDonationUpdated,
		domain.EventDonationCancelled,
		domain.EventDonationRefunded,
		domain.EventFundingSynced,
	}
}

type ConsumerWorker struct {
	logger   *slog.Logger
	consumer Consumer
	handler  LifecycleHandler
	interval time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler LifecycleHandler, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, interval: interval,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		var handleErr error
		switch {
		case msg.Topic == domain.EventFundingSynced:
			handleErr = w.handler.HandleFundingSynced(ctx, msg.Payload)
		case strings.HasPrefix(msg.Topic, "donation."):
			handleErr = w.handler.HandleDonationEvent(ctx, msg.Topic, msg.Payload)
		default:
			w.logger.DebugContext(ctx, "ignoring message",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "route_message",
				"outcome", "skipped",
				"topic", msg.Topic,
			)
			continue
		}
		if handleErr != nil {
			w.logger.WarnContext(ctx, "failed to handle "+msg.Topic,
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle_message",
				"outcome", "failure",
				"topic", msg.Topic,
				"key", msg.Key,
				"error", handleErr,
			)
		}
	}
	return nil
}
