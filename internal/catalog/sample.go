package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/store"
)

func defaultIntN(n int) int { return rand.IntN(n) }

// WithRand makes sampling draw from r. Calls are serialized because *rand.Rand
// is not safe for concurrent use.
func WithRand(r *rand.Rand) Option {
	var mu sync.Mutex
	return func(s *Service) {
		s.intN = func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return r.IntN(n)
		}
	}
}

// RandomSample returns up to count distinct cards, drawn uniformly without
// replacement from the cards whose archetype equals archetype. When the
// archetype has fewer than count cards the rest is filled with random cards
// of other archetypes. When it has none the result is empty.
//
// Archetype picks come first in draw order, followed by the fallback.
func (s *Service) RandomSample(ctx context.Context, count int, archetype string) ([]store.Card, error) {
	ctx, span := s.tracer.Start(ctx, "Service.RandomSample",
		trace.WithAttributes(
			attribute.Int("count", count),
			attribute.String("archetype", archetype),
		),
	)
	defer span.End()

	archetype = strings.TrimSpace(archetype)
	if count < 1 {
		return nil, store.Invalid("count", "must be at least 1")
	}
	if archetype == "" {
		return nil, store.Invalid("archetype", "is required")
	}
	if s.limits.MaxLimit > 0 && count > s.limits.MaxLimit {
		return nil, store.Invalid("count", fmt.Sprintf("must be at most %d", s.limits.MaxLimit))
	}

	pool, err := s.cards.ListByArchetype(ctx, archetype)
	if err != nil {
		return nil, fmt.Errorf("loading archetype pool: %w", err)
	}
	if len(pool) == 0 {
		return []store.Card{}, nil
	}

	picked := s.draw(pool, count)
	if short := count - len(picked); short > 0 {
		others, err := s.cards.RandomExcludingArchetype(ctx, archetype, short)
		if err != nil {
			return nil, fmt.Errorf("loading fallback cards: %w", err)
		}
		picked = append(picked, others...)
	}

	s.logger.DebugContext(ctx, "random sample drawn",
		slog.String("archetype", archetype),
		slog.Int("requested", count),
		slog.Int("pool", len(pool)),
		slog.Int("returned", len(picked)),
	)
	return picked, nil
}

// draw performs a partial Fisher-Yates shuffle: each pick swaps a random
// element of the unpicked tail into the next slot, so pool[:k] ends up as k
// uniform picks without replacement. pool is reordered in place.
func (s *Service) draw(pool []store.Card, count int) []store.Card {
	k := min(count, len(pool))
	for i := range k {
		j := i + s.intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	out := make([]store.Card, k, count)
	copy(out, pool[:k])
	return out
}
