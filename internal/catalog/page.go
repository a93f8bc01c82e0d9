package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/textnorm"
)

// DefaultPage is used when the page parameter is absent or not a number.
const DefaultPage = 1

// PageRequest selects one window of results.
type PageRequest struct {
	Page  int
	Limit int
}

// Filters are raw, user-supplied substrings. Empty fields are ignored.
type Filters struct {
	Name      string
	Type      string
	Archetype string
}

// Normalize folds every filter for matching.
func (f Filters) Normalize() store.CardFilter {
	return store.CardFilter{
		Name:      textnorm.Fold(f.Name),
		Type:      textnorm.Fold(f.Type),
		Archetype: textnorm.Fold(f.Archetype),
	}
}

// Page is one window of cards plus the totals for the whole match set.
type Page struct {
	Items      []store.Card `json:"items"`
	TotalCount int          `json:"totalCount"`
	TotalPages int          `json:"totalPages"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
}

// ParsePageRequest reads raw page and limit parameters. Absent or non-numeric
// values fall back to the defaults, numbers below 1 are rejected and limit is
// clamped to the configured maximum.
func (s *Service) ParsePageRequest(page, limit string) (PageRequest, error) {
	req := PageRequest{
		Page:  parseOr(page, DefaultPage),
		Limit: parseOr(limit, s.limits.DefaultLimit),
	}
	return s.normalize(req)
}

func parseOr(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

func (s *Service) normalize(req PageRequest) (PageRequest, error) {
	if req.Page < 1 {
		return req, store.Invalid("page", "must be at least 1")
	}
	if req.Limit < 1 {
		return req, store.Invalid("limit", "must be at least 1")
	}
	if s.limits.MaxLimit > 0 && req.Limit > s.limits.MaxLimit {
		req.Limit = s.limits.MaxLimit
	}
	return req, nil
}

// TotalPages returns ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit < 1 || total <= 0 {
		return 0
	}
	return (total-1)/limit + 1
}

// List returns one unfiltered page ordered by id.
func (s *Service) List(ctx context.Context, req PageRequest) (*Page, error) {
	return s.Search(ctx, Filters{}, req)
}

// Search returns one page of cards matching every non-empty filter as a case
// and diacritic insensitive substring. A page past the end is empty.
func (s *Service) Search(ctx context.Context, f Filters, req PageRequest) (*Page, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Search",
		trace.WithAttributes(
			attribute.Int("page", req.Page),
			attribute.Int("limit", req.Limit),
			attribute.String("filter.name", f.Name),
			attribute.String("filter.type", f.Type),
			attribute.String("filter.archetype", f.Archetype),
		),
	)
	defer span.End()

	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	filter := f.Normalize()

	total, err := s.cards.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("counting cards: %w", err)
	}

	// Compare page numbers, not offsets: (Page-1)*Limit can overflow.
	items := []store.Card{}
	if req.Page-1 < TotalPages(total, req.Limit) {
		items, err = s.cards.Search(ctx, filter, (req.Page-1)*req.Limit, req.Limit)
		if err != nil {
			return nil, fmt.Errorf("searching cards: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("total_count", total))
	return &Page{
		Items:      items,
		TotalCount: total,
		TotalPages: TotalPages(total, req.Limit),
		Page:       req.Page,
		Limit:      req.Limit,
	}, nil
}
