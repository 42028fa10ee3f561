package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hpnt/matreq/internal/notify"
)

// --- Mock session ---

type mockSession struct {
	mu    sync.Mutex
	calls []webhookCall
	errs  []error
}

type webhookCall struct {
	id, token string
	params    *discordgo.WebhookParams
}

func (m *mockSession) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, webhookCall{id: webhookID, token: token, params: data})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return nil, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func newTestNotifier(t *testing.T, m *mockSession) *Notifier {
	t.Helper()
	n, err := New(Opts{WebhookURL: "https://discord.com/api/webhooks/123456/tok-en_XYZ", Username: "matreq", Session: m})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.baseBackoff = time.Millisecond
	n.maxBackoff = 5 * time.Millisecond
	return n
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		id, token string
		wantErr   bool
	}{
		{name: "discord.com", url: "https://discord.com/api/webhooks/123/abc", id: "123", token: "abc"},
		{name: "trailing slash", url: "https://discordapp.com/api/webhooks/9/t0k/", id: "9", token: "t0k"},
		{name: "missing token", url: "https://discord.com/api/webhooks/123", wantErr: true},
		{name: "wrong path", url: "https://discord.com/channels/1/2", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, token, err := ParseWebhookURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseWebhookURL(%q) = %q, %q; want error", tt.url, id, token)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if id != tt.id || token != tt.token {
				t.Errorf("got %q, %q; want %q, %q", id, token, tt.id, tt.token)
			}
		})
	}
}

func TestNew_RealSession(t *testing.T) {
	n, err := New(Opts{WebhookURL: "https://discord.com/api/webhooks/1/t"})
	if err != nil {
		t.Fatal(err)
	}
	if n.sess == nil {
		t.Error("session not created")
	}
}

func TestNotify_SendsEmbed(t *testing.T) {
	m := &mockSession{}
	n := newTestNotifier(t, m)

	evt := notify.Event{
		Title:  "자재요청 #2 전선: approved → ordered",
		Body:   "body",
		Color:  "#3aa3e3",
		Fields: []notify.Field{{Name: "업체", Value: "전기재료공급", Short: true}},
	}
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(m.calls))
	}
	call := m.calls[0]
	if call.id != "123456" || call.token != "tok-en_XYZ" {
		t.Errorf("id/token = %q/%q", call.id, call.token)
	}
	if call.params.Username != "matreq" || len(call.params.Embeds) != 1 {
		t.Fatalf("params = %+v", call.params)
	}
	embed := call.params.Embeds[0]
	if embed.Title != evt.Title || embed.Description != "body" || embed.Color != 0x3aa3e3 {
		t.Errorf("embed = %+v", embed)
	}
	if len(embed.Fields) != 1 || !embed.Fields[0].Inline {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestNotify_RetriesOn429(t *testing.T) {
	m := &mockSession{errs: []error{rateLimited(), rateLimited()}}
	n := newTestNotifier(t, m)
	if err := n.Notify(context.Background(), notify.Event{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(m.calls) != 3 {
		t.Errorf("attempts = %d, want 3", len(m.calls))
	}
}

func TestNotify_GivesUp(t *testing.T) {
	m := &mockSession{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	n := newTestNotifier(t, m)
	if err := n.Notify(context.Background(), notify.Event{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(m.calls) != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", len(m.calls), maxRetries+1)
	}
}

func TestNotify_NonRateLimitError(t *testing.T) {
	m := &mockSession{errs: []error{errors.New("unknown webhook")}}
	n := newTestNotifier(t, m)
	if err := n.Notify(context.Background(), notify.Event{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(m.calls) != 1 {
		t.Errorf("attempts = %d, want 1", len(m.calls))
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"FF0000", 0xff0000},
		{"#zz", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
