// Package catalog implements the card catalog: validated card CRUD, filtered
// pagination and archetype-biased random sampling.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/event"
	"github.com/jensholdgaard/cardmarket/internal/identity"
	"github.com/jensholdgaard/cardmarket/internal/store"
)

// Service handles catalog operations.
type Service struct {
	cards  store.CardRepository
	events event.Store
	logger *slog.Logger
	tracer trace.Tracer
	limits config.CatalogConfig
	intN   func(n int) int
}

// Option configures a Service.
type Option func(*Service)

// NewService returns a new catalog Service.
func NewService(cards store.CardRepository, events event.Store, logger *slog.Logger, tp trace.TracerProvider, limits config.CatalogConfig, opts ...Option) *Service {
	s := &Service{
		cards:  cards,
		events: events,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/cardmarket/internal/catalog"),
		limits: limits,
		intN:   defaultIntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewCard holds the fields of a card to create.
type NewCard struct {
	Name        string
	Type        string
	Description *string
	Race        string
	Archetype   *string
	Image       string
}

// CardPatch is a partial card update. A nil field keeps the stored value. An
// empty Description or Archetype clears it; the required fields may not be
// set blank.
type CardPatch struct {
	Name        *string
	Type        *string
	Description *string
	Race        *string
	Archetype   *string
	Image       *string
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return store.Invalid(field, "is required")
	}
	return nil
}

func validateCard(c *store.Card) error {
	for _, f := range []struct{ name, value string }{
		{"name", c.Name}, {"type", c.Type}, {"race", c.Race}, {"image", c.Image},
	} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// optional maps an empty string to "absent".
func optional(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func cardData(c *store.Card) event.CardData {
	return event.CardData{Name: c.Name, Type: c.Type, Race: c.Race, Archetype: c.Archetype}
}

func (s *Service) record(ctx context.Context, c *store.Card, t event.Type, version int, payload any) {
	evt, err := event.New(event.CardAggregate(c.ID), t, version, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build card event", slog.Any("error", err))
		return
	}
	event.Record(ctx, s.events, s.logger, evt)
}

// Create validates and stores a new card.
func (s *Service) Create(ctx context.Context, in NewCard) (*store.Card, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Create",
		trace.WithAttributes(attribute.String("card.name", in.Name)),
	)
	defer span.End()

	c := &store.Card{
		Name:        strings.TrimSpace(in.Name),
		Type:        strings.TrimSpace(in.Type),
		Description: optional(in.Description),
		Race:        strings.TrimSpace(in.Race),
		Archetype:   optional(in.Archetype),
		Image:       strings.TrimSpace(in.Image),
	}
	if err := validateCard(c); err != nil {
		return nil, err
	}
	if err := s.cards.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("creating card: %w", err)
	}

	s.record(ctx, c, event.CardCreated, c.Version, cardData(c))
	s.logger.InfoContext(ctx, "card created",
		slog.Int64("card_id", c.ID),
		slog.String("name", c.Name),
	)
	return c, nil
}

// Get returns an active card.
func (s *Service) Get(ctx context.Context, id int64) (*store.Card, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Get",
		trace.WithAttributes(attribute.Int64("card.id", id)),
	)
	defer span.End()

	c, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting card: %w", err)
	}
	return c, nil
}

// Update merges p over the stored card. A concurrent writer that updated the
// card first causes store.ErrConflict.
func (s *Service) Update(ctx context.Context, id int64, p CardPatch) (*store.Card, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Update",
		trace.WithAttributes(attribute.Int64("card.id", id)),
	)
	defer span.End()

	c, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading card: %w", err)
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&c.Name, p.Name)
	set(&c.Type, p.Type)
	set(&c.Race, p.Race)
	set(&c.Image, p.Image)
	if p.Description != nil {
		c.Description = optional(p.Description)
	}
	if p.Archetype != nil {
		c.Archetype = optional(p.Archetype)
	}
	if err := validateCard(c); err != nil {
		return nil, err
	}

	if err := s.cards.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("updating card: %w", err)
	}

	s.record(ctx, c, event.CardUpdated, c.Version, cardData(c))
	s.logger.InfoContext(ctx, "card updated",
		slog.Int64("card_id", c.ID),
		slog.Int("version", c.Version),
	)
	return c, nil
}

// Delete soft-deletes a card together with its listing records.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "Service.Delete",
		trace.WithAttributes(attribute.Int64("card.id", id)),
	)
	defer span.End()

	c, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading card: %w", err)
	}
	if err := s.cards.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}

	actor, _ := identity.UserFrom(ctx)
	s.record(ctx, c, event.CardDeleted, c.Version+1, event.DeletedData{DeletedBy: actor})
	s.logger.InfoContext(ctx, "card deleted", slog.Int64("card_id", id))
	return nil
}

// All returns every active card ordered by id.
func (s *Service) All(ctx context.Context) ([]store.Card, error) {
	ctx, span := s.tracer.Start(ctx, "Service.All")
	defer span.End()

	cards, err := s.cards.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

// ExistsByName reports whether an active card is named exactly name.
func (s *Service) ExistsByName(ctx context.Context, name string) (bool, error) {
	return s.cards.ExistsByName(ctx, name)
}
