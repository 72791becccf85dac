package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to a chat-style webhook endpoint.
type WebhookChannel struct {
	url    string
	client *resty.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if timeout > 0 {
			ch.client.SetTimeout(timeout)
		}
	}
}

// WithRetries sets how many times a failed post is retried.
func WithRetries(count int, wait time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if count >= 0 {
			ch.client.SetRetryCount(count)
		}
		if wait > 0 {
			ch.client.SetRetryWaitTime(wait).SetRetryMaxWaitTime(4 * wait)
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		})
	channel := &WebhookChannel{url: url, client: client}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the content as a text message.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{MsgType: "text", Text: webhookText{Content: content}}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode())
	}
	return nil
}
