package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Webhook embed limits.
const (
	discordMaxTitle       = 256
	discordMaxDescription = 4096
)

// Embed colours, picked from the alert title.
const (
	colourFailure = 0xd93f0b
	colourWarning = 0xfbca04
	colourInfo    = 0x2da44e
)

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username        string         `json:"username,omitempty"`
	Embeds          []discordEmbed `json:"embeds"`
	AllowedMentions map[string]any `json:"allowed_mentions"`
}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "auctiond",
		client:     defaultHTTPClient(),
		now:        time.Now,
	}
}

// Send posts one embed. Mentions are disabled so alert text cannot ping
// anyone.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       truncate(title, discordMaxTitle),
			Description: truncate(message, discordMaxDescription),
			Color:       embedColour(title),
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
		AllowedMentions: map[string]any{"parse": []string{}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func embedColour(title string) int {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "fail"), strings.Contains(t, "error"):
		return colourFailure
	case strings.Contains(t, "warn"), strings.Contains(t, "integrity"):
		return colourWarning
	default:
		return colourInfo
	}
}
