// Package discord posts notify events to a Discord webhook.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hpnt/matreq/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited calls.
	maxRetries = 3
	// baseBackoff is the initial wait after a 429.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
)

// session abstracts the discordgo.Session method we use, enabling test mocks.
type session interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier executes a webhook with one embed per event.
type Notifier struct {
	sess        session
	webhookID   string
	token       string
	username    string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	WebhookURL string // https://discord.com/api/webhooks/<id>/<token>
	Username   string
	// For testing: inject a mock session instead of the real API.
	Session session
}

// New parses the webhook URL and creates a Notifier.
func New(opts Opts) (*Notifier, error) {
	id, token, err := ParseWebhookURL(opts.WebhookURL)
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		sess:        opts.Session,
		webhookID:   id,
		token:       token,
		username:    opts.Username,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if n.sess == nil {
		// Webhook execution is authorized by the token in the URL.
		s, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = s
	}
	return n, nil
}

// ParseWebhookURL extracts the webhook id and token from a webhook URL.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord: parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+3 < len(parts); i++ {
		if parts[i] == "api" && parts[i+1] == "webhooks" {
			id, token = parts[i+2], parts[i+3]
			break
		}
	}
	if id == "" || token == "" {
		return "", "", fmt.Errorf("discord: webhook url must look like /api/webhooks/<id>/<token>")
	}
	return id, token, nil
}

// Notify executes the webhook with evt as an embed.
func (n *Notifier) Notify(ctx context.Context, evt notify.Event) error {
	params := &discordgo.WebhookParams{
		Username: n.username,
		Embeds:   []*discordgo.MessageEmbed{eventToEmbed(evt)},
	}
	err := n.retryOnRateLimit(ctx, func() error {
		_, err := n.sess.WebhookExecute(n.webhookID, n.token, false, params, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	return nil
}

// eventToEmbed converts an event to a Discord embed.
func eventToEmbed(evt notify.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
	}
	if evt.Color != "" {
		embed.Color = parseHexColor(evt.Color)
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#36a64f" to 0x36a64f. Invalid digits are skipped.
func parseHexColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	var color int
	for _, c := range hex {
		switch {
		case c >= '0' && c <= '9':
			color = color<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			color = color<<4 | int(c-'a'+10)
		case c >= 'A' && c <= 'F':
			color = color<<4 | int(c-'A'+10)
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on HTTP 429.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > n.maxBackoff {
			wait = n.maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
