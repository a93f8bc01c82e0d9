package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/cardmarket/internal/market"
)

const saleColor = 0x2ecc71

// webhookExecutor is the discordgo call the notifier makes.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// WebhookNotifier posts completed sales to a Discord channel webhook. It
// needs no gateway connection, so every replica can announce its own sales.
type WebhookNotifier struct {
	exec  webhookExecutor
	id    string
	token string
}

// NewWebhookNotifier parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewWebhookNotifier(rawURL string) (*WebhookNotifier, error) {
	id, token, err := parseWebhookURL(rawURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &WebhookNotifier{exec: session, id: id, token: token}, nil
}

func parseWebhookURL(rawURL string) (id, token string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q has no /webhooks/{id}/{token} path", u.Redacted())
}

// NotifySale implements market.SaleNotifier.
func (n *WebhookNotifier) NotifySale(ctx context.Context, r market.Record) error {
	params := saleMessage(r)
	if _, err := n.exec.WebhookExecute(n.id, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("executing webhook: %w", err)
	}
	return nil
}

func saleMessage(r market.Record) *discordgo.WebhookParams {
	buyer := "someone"
	if r.Buyer != nil {
		buyer = r.Buyer.Username
	}
	embed := &discordgo.MessageEmbed{
		Title: "Sold: " + r.Card.Name,
		Color: saleColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Price", Value: r.Price().StringFixed(2), Inline: true},
			{Name: "Seller", Value: r.Seller.Username, Inline: true},
			{Name: "Buyer", Value: buyer, Inline: true},
		},
	}
	if s, ok := r.State.(market.Sold); ok && !s.SoldAt.IsZero() {
		embed.Timestamp = s.SoldAt.UTC().Format(time.RFC3339)
	}
	return &discordgo.WebhookParams{
		Username: "cardmarket",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
}
