// Package slack posts notify events to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/hpnt/matreq/internal/notify"
)

// maxRetries is the max number of retries for rate-limited posts.
const maxRetries = 3

// postFunc matches slackapi.PostWebhookContext so tests can replace it.
type postFunc func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Notifier posts events as message attachments.
type Notifier struct {
	webhookURL  string
	username    string
	post        postFunc
	baseBackoff time.Duration
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	WebhookURL string
	Username   string // display name override, optional
	// For testing: inject a fake poster instead of calling Slack.
	Post postFunc
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	n := &Notifier{
		webhookURL:  opts.WebhookURL,
		username:    opts.Username,
		post:        opts.Post,
		baseBackoff: time.Second,
	}
	if n.post == nil {
		n.post = slackapi.PostWebhookContext
	}
	return n, nil
}

// Notify posts evt to the webhook.
func (n *Notifier) Notify(ctx context.Context, evt notify.Event) error {
	msg := buildMessage(evt)
	msg.Username = n.username
	err := n.retryOnRateLimit(ctx, func() error {
		return n.post(ctx, n.webhookURL, msg)
	})
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

// buildMessage translates an event into a webhook payload with one attachment.
func buildMessage(evt notify.Event) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return &slackapi.WebhookMessage{
		Text:        evt.Title,
		Attachments: []slackapi.Attachment{att},
	}
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, waiting
// the RetryAfter duration Slack asks for.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
