package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// DiscordSender posts events to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

// Send renders the title in bold; Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, ev domain.Event) error {
	err := postJSON(ctx, d.client, d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", ev.Title, body(ev)),
	})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
