package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/learnhub/lmsapi/config"
)

const defaultSendTimeout = 10 * time.Second

// MailtrapClient sends mail through the Mailtrap Email Sending API.
type MailtrapClient struct {
	url      string
	apiKey   string
	from     recipient
	category string
	client   *http.Client
}

type recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	From     recipient   `json:"from"`
	To       []recipient `json:"to"`
	Subject  string      `json:"subject"`
	HTML     string      `json:"html"`
	Category string      `json:"category,omitempty"`
}

func NewMailtrapClient(cfg config.MailConfig) (*MailtrapClient, error) {
	if strings.TrimSpace(cfg.Mailtrap.APIURL) == "" {
		return nil, errors.New("mailtrap api url is required")
	}
	if strings.TrimSpace(cfg.Mailtrap.APIKey) == "" {
		return nil, errors.New("mailtrap api key is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail sender address is required")
	}

	return &MailtrapClient{
		url:      cfg.Mailtrap.APIURL,
		apiKey:   cfg.Mailtrap.APIKey,
		from:     recipient{Email: cfg.From, Name: cfg.FromName},
		category: "account",
		client:   &http.Client{Timeout: defaultSendTimeout},
	}, nil
}

func (m *MailtrapClient) Send(ctx context.Context, msg Message) error {
	const op = "mail.MailtrapClient.Send"

	payload, err := json.Marshal(sendRequest{
		From:     m.from,
		To:       []recipient{{Email: msg.To}},
		Subject:  msg.Subject,
		HTML:     msg.HTML,
		Category: m.category,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
