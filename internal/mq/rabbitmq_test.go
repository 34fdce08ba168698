package mq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirmChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
}

func (c *fakeConfirmChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeConfirmChannel) PublishWithDeferredConfirmWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return &amqp.DeferredConfirmation{}, nil
}

func (c *fakeConfirmChannel) Close() error { return nil }

func newTestRabbitClient(ch confirmChannel, await func(context.Context, *amqp.DeferredConfirmation) (bool, error)) *RabbitMQClient {
	return &RabbitMQClient{
		publishCh:    ch,
		durable:      true,
		declared:     map[string]struct{}{},
		awaitConfirm: await,
	}
}

func TestRabbitMQPublish_PendingConfirmDoesNotBlockOtherPublishes(t *testing.T) {
	ch := &fakeConfirmChannel{}
	firstWaiting := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	r := newTestRabbitClient(ch, func(ctx context.Context, _ *amqp.DeferredConfirmation) (bool, error) {
		if calls.Add(1) == 1 {
			close(firstWaiting)
			select {
			case <-release:
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
		return true, nil
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Publish(context.Background(), "mail.outbound", []byte("a"), nil)
		firstDone <- err
	}()

	select {
	case <-firstWaiting:
	case <-time.After(2 * time.Second):
		t.Fatal("first publish never reached its confirm")
	}

	secondDone := make(chan error, 1)
	go func() {
		_, err := r.Publish(context.Background(), "mail.outbound", []byte("b"), nil)
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("second publish waited on the first confirm")
	}

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, []string{"mail.outbound"}, ch.declared, "queue is declared once")
	assert.Len(t, ch.published, 2)
}

func TestRabbitMQPublish_Attributes(t *testing.T) {
	ch := &fakeConfirmChannel{}
	r := newTestRabbitClient(ch, func(context.Context, *amqp.DeferredConfirmation) (bool, error) { return true, nil })

	id, err := r.Publish(context.Background(), "mail.outbound", []byte("{}"), map[string]string{
		AttrContentType: "application/json",
		"kind":          "reset",
	})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, id, msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, amqp.Table{"kind": "reset"}, msg.Headers)
}

func TestRabbitMQPublish_Nacked(t *testing.T) {
	r := newTestRabbitClient(&fakeConfirmChannel{}, func(context.Context, *amqp.DeferredConfirmation) (bool, error) { return false, nil })

	_, err := r.Publish(context.Background(), "mail.outbound", []byte("{}"), nil)
	assert.ErrorIs(t, err, errNotConfirmed)
}
