package mq

import (
	"context"
	"testing"

	"github.com/learnhub/lmsapi/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	closed  bool
}

func (b *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.channel, b.data, b.attrs = channel, data, attrs
	return "id-1", nil
}

func (b *recordingBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return handler(ctx, Message{ID: "id-1", Data: b.data, Attributes: b.attrs})
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

func TestMQ_DelegatesToBackend(t *testing.T) {
	backend := &recordingBackend{}
	q := New(backend)

	id, err := q.Publish(context.Background(), "mail.outbound", []byte("{}"), map[string]string{AttrContentType: "application/json"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, "mail.outbound", backend.channel)

	var got Message
	require.NoError(t, q.Subscribe(context.Background(), "mail.outbound", func(_ context.Context, msg Message) error {
		got = msg
		return nil
	}))
	assert.Equal(t, []byte("{}"), got.Data)

	require.NoError(t, q.Close())
	assert.True(t, backend.closed)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	attrs := headersToAttributes(amqp.Table{"kind": "reset", "attempt": int32(2), "raw": []byte("x")}, "application/json")

	assert.Equal(t, map[string]string{
		"kind":          "reset",
		"attempt":       "2",
		"raw":           "x",
		AttrContentType: "application/json",
	}, attrs)
	assert.Nil(t, headersToAttributes(nil, ""))
}
