package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/learnhub/lmsapi/config"
	"github.com/learnhub/lmsapi/internal/logging"
	"github.com/learnhub/lmsapi/internal/mail"
	"github.com/learnhub/lmsapi/internal/reporting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresJWTSecret(t *testing.T) {
	_, err := New(context.Background(), config.Config{}, logging.Discard())
	require.EqualError(t, err, "JWT_SECRET is required")
}

func TestNewMailer_Direct(t *testing.T) {
	cfg := config.Config{Mail: config.MailConfig{
		Delivery: config.MailDirect,
		From:     "no-reply@lms.local",
		Mailtrap: config.MailtrapConfig{APIURL: "https://mailtrap.test/api/send", APIKey: "key"},
	}}

	mailer, broker, err := NewMailer(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, broker)
	assert.IsType(t, &mail.MailtrapClient{}, mailer)
}

func TestNewMailer_DirectNeedsAPIKey(t *testing.T) {
	cfg := config.Config{Mail: config.MailConfig{
		Delivery: config.MailDirect,
		From:     "no-reply@lms.local",
		Mailtrap: config.MailtrapConfig{APIURL: "https://mailtrap.test/api/send"},
	}}

	_, _, err := NewMailer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewMailer_UnknownDelivery(t *testing.T) {
	_, _, err := NewMailer(context.Background(), config.Config{Mail: config.MailConfig{Delivery: "pigeon"}})
	assert.EqualError(t, err, `unknown mail delivery "pigeon"`)
}

func TestClosers_ReleaseInReverseOrder(t *testing.T) {
	var order []string
	var opened closers
	opened.add(func() error { order = append(order, "db"); return nil })
	opened.add(func() error { order = append(order, "storage"); return errors.New("storage busy") })
	opened.add(func() error { order = append(order, "broker"); return nil })

	err := opened.close()
	assert.EqualError(t, err, "storage busy")
	assert.Equal(t, []string{"broker", "storage", "db"}, order, "a failing close must not stop the rest")
}

func TestShutdown_ReleasesClients(t *testing.T) {
	var order []string
	srv := &Server{
		httpServer: &http.Server{},
		reporter:   reporting.New("", "test", logging.Discard()),
		log:        logging.Discard(),
	}
	srv.resources.add(func() error { order = append(order, "db"); return nil })
	srv.resources.add(func() error { order = append(order, "storage"); return nil })

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, []string{"storage", "db"}, order)
}
