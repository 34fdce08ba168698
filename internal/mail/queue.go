package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/learnhub/lmsapi/internal/mq"
)

// Publisher is the producing half of an mq backend.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Subscriber is the consuming half of an mq backend.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// QueueMailer hands messages to a broker for asynchronous delivery. Send
// succeeds once the broker has accepted the message.
type QueueMailer struct {
	publisher Publisher
	queue     string
}

func NewQueueMailer(publisher Publisher, queue string) *QueueMailer {
	return &QueueMailer{publisher: publisher, queue: queue}
}

func (q *QueueMailer) Send(ctx context.Context, msg Message) error {
	const op = "mail.QueueMailer.Send"

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	if _, err := q.publisher.Publish(ctx, q.queue, data, map[string]string{mq.AttrContentType: "application/json"}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Consumer drains a mail queue into a Mailer.
type Consumer struct {
	subscriber Subscriber
	queue      string
	mailer     Mailer
	log        *slog.Logger
}

func NewConsumer(subscriber Subscriber, queue string, mailer Mailer, log *slog.Logger) *Consumer {
	return &Consumer{subscriber: subscriber, queue: queue, mailer: mailer, log: log}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("mail consumer started", slog.String("queue", c.queue))
	return c.subscriber.Subscribe(ctx, c.queue, c.handle)
}

func (c *Consumer) handle(ctx context.Context, m mq.Message) error {
	log := c.log.With(slog.String("op", "mail.Consumer.handle"), slog.String("message_id", m.ID))

	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil || msg.To == "" {
		log.Error("dropping malformed mail message", slog.Any("error", err))
		return fmt.Errorf("decode mail message: %w", mq.ErrPermanent)
	}

	if err := c.mailer.Send(ctx, msg); err != nil {
		log.Warn("mail delivery failed, will retry", slog.Any("error", err))
		return err
	}
	log.Debug("mail delivered", slog.String("subject", msg.Subject))
	return nil
}
