package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/lmsapi/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultContentType = "application/octet-stream"

var errNotConfirmed = errors.New("rabbitmq: broker rejected message")

// confirmChannel is the part of *amqp.Channel used for publishing.
type confirmChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// RabbitMQClient publishes to and consumes from work queues on the default
// exchange. The publishing channel runs in confirm mode, so Publish returns
// only after the broker has taken responsibility for the message.
type RabbitMQClient struct {
	conn      *amqp.Connection
	publishCh confirmChannel
	consumeCh *amqp.Channel
	prefetch  int
	durable   bool
	autoDel   bool

	awaitConfirm func(context.Context, *amqp.DeferredConfirmation) (bool, error)

	// mu guards declared and consumeCh. It is never held while waiting on
	// the broker for a confirm.
	mu       sync.Mutex
	declared map[string]struct{}
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := publishCh.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	return &RabbitMQClient{
		conn:      conn,
		publishCh: publishCh,
		prefetch:  cfg.PrefetchCount,
		durable:   cfg.QueueDurable,
		autoDel:   cfg.QueueAutoDelete,
		declared:  map[string]struct{}{},
		awaitConfirm: func(ctx context.Context, d *amqp.DeferredConfirmation) (bool, error) {
			return d.WaitContext(ctx)
		},
	}, nil
}

// Publish enqueues data on the queue named channel and waits for the
// broker's confirm. The content-type attribute becomes the AMQP content
// type; other attributes travel as headers.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	r.mu.Lock()
	err := r.declareLocked(r.publishCh, channel)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	msg := amqp.Publishing{
		ContentType:  defaultContentType,
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{},
		Body:         data,
	}
	if r.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	for key, value := range attrs {
		if key == AttrContentType {
			msg.ContentType = value
			continue
		}
		msg.Headers[key] = value
	}

	confirm, err := r.publishCh.PublishWithDeferredConfirmWithContext(ctx, "", channel, false, false, msg)
	if err != nil {
		return "", fmt.Errorf("rabbitmq publish: %w", err)
	}
	acked, err := r.awaitConfirm(ctx, confirm)
	if err != nil {
		return "", fmt.Errorf("rabbitmq confirm: %w", err)
	}
	if !acked {
		return "", errNotConfirmed
	}
	return msg.MessageId, nil
}

// Subscribe consumes the queue named channel until ctx is done. Handler
// errors requeue the delivery unless they wrap ErrPermanent.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	ch, err := r.consumeChannel()
	if err != nil {
		return err
	}

	r.mu.Lock()
	err = r.declareLocked(ch, channel)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	tag := "consumer-" + uuid.NewString()
	deliveries, err := ch.ConsumeWithContext(ctx, channel, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}
	defer func() {
		_ = ch.Cancel(tag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			if err := handler(ctx, deliveryMessage(d)); err != nil {
				_ = d.Nack(false, !errors.Is(err, ErrPermanent))
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	var errs []error
	if r.consumeCh != nil {
		errs = append(errs, r.consumeCh.Close())
	}
	if r.publishCh != nil {
		errs = append(errs, r.publishCh.Close())
	}
	if r.conn != nil && !r.conn.IsClosed() {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}

// consumeChannel lazily opens the consuming channel so a publish-only
// process never holds one.
func (r *RabbitMQClient) consumeChannel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumeCh != nil {
		return r.consumeCh, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if r.prefetch > 0 {
		if err := ch.Qos(r.prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq qos: %w", err)
		}
	}
	r.consumeCh = ch
	return ch, nil
}

func (r *RabbitMQClient) declareLocked(ch queueDeclarer, name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	if _, err := ch.QueueDeclare(name, r.durable, r.autoDel, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %q: %w", name, err)
	}
	r.declared[name] = struct{}{}
	return nil
}

func deliveryMessage(d amqp.Delivery) Message {
	return Message{
		ID:         d.MessageId,
		Data:       d.Body,
		Attributes: headersToAttributes(d.Headers, d.ContentType),
	}
}

func headersToAttributes(headers amqp.Table, contentType string) map[string]string {
	if len(headers) == 0 && contentType == "" {
		return nil
	}
	attrs := make(map[string]string, len(headers)+1)
	for key, value := range headers {
		switch v := value.(type) {
		case string:
			attrs[key] = v
		case []byte:
			attrs[key] = string(v)
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	if contentType != "" {
		attrs[AttrContentType] = contentType
	}
	return attrs
}
