package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/market"
	"github.com/jensholdgaard/cardmarket/internal/store"
)

const (
	searchResults = 5
	maxSample     = 10
)

// Catalog is the catalog surface the commands read.
type Catalog interface {
	Search(ctx context.Context, f catalog.Filters, req catalog.PageRequest) (*catalog.Page, error)
	RandomSample(ctx context.Context, count int, archetype string) ([]store.Card, error)
}

// Market is the marketplace surface the commands read.
type Market interface {
	ListingsForCard(ctx context.Context, cardID int64) ([]market.Record, error)
}

// Handlers process Discord interactions.
type Handlers struct {
	catalog Catalog
	market  Market
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(cat Catalog, mkt Market, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		catalog: cat,
		market:  mkt,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/cardmarket/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	minCount := float64(1)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "card",
			Description: "Search the catalog by card name",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Part of the card name, accents and case ignored",
					Required:    true,
				},
			},
		},
		{
			Name:        "price",
			Description: "Show the cheapest open listing for a card",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "card",
					Description: "Card name",
					Required:    true,
				},
			},
		},
		{
			Name:        "sample",
			Description: "Draw random cards from an archetype",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "archetype",
					Description: "Archetype to draw from, e.g. Blue-Eyes",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "How many cards (default 5)",
					Required:    false,
					MinValue:    &minCount,
					MaxValue:    maxSample,
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", data.Name)),
	)
	defer span.End()

	msg := h.Handle(ctx, data.Name, options(data.Options))
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to respond to interaction",
			slog.String("command", data.Name),
			slog.Any("error", err),
		)
	}
}

// Option is a decoded command option value.
type Option struct {
	Str string
	Int int64
}

func options(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]Option {
	out := make(map[string]Option, len(opts))
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			out[o.Name] = Option{Str: o.StringValue()}
		case discordgo.ApplicationCommandOptionInteger:
			out[o.Name] = Option{Int: o.IntValue()}
		}
	}
	return out
}

// Handle runs a command and returns the reply text.
func (h *Handlers) Handle(ctx context.Context, name string, opts map[string]Option) string {
	switch name {
	case "card":
		return h.handleCard(ctx, opts["name"].Str)
	case "price":
		return h.handlePrice(ctx, opts["card"].Str)
	case "sample":
		count := int(opts["count"].Int)
		if count == 0 {
			count = 5
		}
		return h.handleSample(ctx, opts["archetype"].Str, count)
	default:
		return "Unknown command"
	}
}

func (h *Handlers) fail(ctx context.Context, what string, err error) string {
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("Invalid %s: %s", ve.Field, ve.Reason)
	}
	h.logger.ErrorContext(ctx, what, slog.Any("error", err))
	return "Something went wrong, try again later."
}

func (h *Handlers) handleCard(ctx context.Context, name string) string {
	p, err := h.catalog.Search(ctx, catalog.Filters{Name: name}, catalog.PageRequest{Page: 1, Limit: searchResults})
	if err != nil {
		return h.fail(ctx, "card search failed", err)
	}
	if len(p.Items) == 0 {
		return fmt.Sprintf("No cards match **%s**.", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%d** cards match **%s**:\n", p.TotalCount, name)
	for _, c := range p.Items {
		fmt.Fprintf(&b, "- %s\n", describe(c))
	}
	if p.TotalCount > len(p.Items) {
		fmt.Fprintf(&b, "…and %d more", p.TotalCount-len(p.Items))
	}
	return b.String()
}

func describe(c store.Card) string {
	s := fmt.Sprintf("**%s** (%s, %s)", c.Name, c.Type, c.Race)
	if c.Archetype != nil {
		s += " · " + *c.Archetype
	}
	return s
}

func (h *Handlers) handlePrice(ctx context.Context, name string) string {
	p, err := h.catalog.Search(ctx, catalog.Filters{Name: name}, catalog.PageRequest{Page: 1, Limit: 1})
	if err != nil {
		return h.fail(ctx, "card search failed", err)
	}
	if len(p.Items) == 0 {
		return fmt.Sprintf("No cards match **%s**.", name)
	}
	c := p.Items[0]

	open, err := h.market.ListingsForCard(ctx, c.ID)
	if err != nil {
		return h.fail(ctx, "listing lookup failed", err)
	}
	if len(open) == 0 {
		return fmt.Sprintf("**%s** is not listed for sale.", c.Name)
	}
	cheapest := open[0]
	return fmt.Sprintf("**%s**: cheapest of %d listings is **%s** from %s.",
		c.Name, len(open), cheapest.Price().StringFixed(2), cheapest.Seller.Username)
}

func (h *Handlers) handleSample(ctx context.Context, archetype string, count int) string {
	cards, err := h.catalog.RandomSample(ctx, min(count, maxSample), archetype)
	if err != nil {
		return h.fail(ctx, "sampling failed", err)
	}
	if len(cards) == 0 {
		return fmt.Sprintf("No cards in archetype **%s**.", archetype)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Drew %d cards for **%s**:\n", len(cards), archetype)
	for _, c := range cards {
		fmt.Fprintf(&b, "- %s\n", describe(c))
	}
	return b.String()
}
