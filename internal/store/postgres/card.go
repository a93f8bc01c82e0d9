package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

// CardRepo implements store.CardRepository with sqlx.
type CardRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewCardRepo returns a new CardRepo.
func NewCardRepo(db *sqlx.DB, clk clock.Clock) *CardRepo {
	return &CardRepo{db: db, clock: clk}
}

func (r *CardRepo) Create(ctx context.Context, c *store.Card) error {
	now := r.clock.Now().UTC()
	err := r.db.QueryRowContext(ctx, pgschema.InsertCard,
		c.Name, c.Type, c.Description, c.Race, c.Archetype, c.Image, now,
	).Scan(&c.ID)
	if err != nil {
		return pgschema.Classify("creating card", err)
	}
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (r *CardRepo) GetByID(ctx context.Context, id int64) (*store.Card, error) {
	var c store.Card
	if err := r.db.GetContext(ctx, &c, pgschema.SelectCardByID, id); err != nil {
		return nil, pgschema.Classify(fmt.Sprintf("getting card %d", id), err)
	}
	return &c, nil
}

func (r *CardRepo) Update(ctx context.Context, c *store.Card) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx, pgschema.UpdateCard,
		c.Name, c.Type, c.Description, c.Race, c.Archetype, c.Image, now, c.ID, c.Version,
	)
	if err != nil {
		return pgschema.Classify("updating card", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return r.missOrConflict(ctx, c.ID)
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

// missOrConflict explains a conditional update that matched no row.
func (r *CardRepo) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, pgschema.CardExists, id); err != nil {
		return pgschema.Classify("checking card", err)
	}
	if !exists {
		return store.NotFound("card", id)
	}
	return fmt.Errorf("card %d: %w", id, store.ErrConflict)
}

func (r *CardRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return pgschema.Classify("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.clock.Now().UTC()
	result, err := tx.ExecContext(ctx, pgschema.SoftDeleteCard, now, id)
	if err != nil {
		return pgschema.Classify("deleting card", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return store.NotFound("card", id)
	}
	if _, err := tx.ExecContext(ctx, pgschema.SoftDeleteCardListings, now, id); err != nil {
		return pgschema.Classify("deleting card listings", err)
	}
	if err := tx.Commit(); err != nil {
		return pgschema.Classify("committing card delete", err)
	}
	return nil
}

func (r *CardRepo) List(ctx context.Context) ([]store.Card, error) {
	cards := []store.Card{}
	if err := r.db.SelectContext(ctx, &cards, pgschema.SelectAllCards); err != nil {
		return nil, pgschema.Classify("listing cards", err)
	}
	return cards, nil
}

func (r *CardRepo) Count(ctx context.Context, f store.CardFilter) (int, error) {
	q, args := pgschema.CountCards(f)
	var n int
	if err := r.db.GetContext(ctx, &n, q, args...); err != nil {
		return 0, pgschema.Classify("counting cards", err)
	}
	return n, nil
}

func (r *CardRepo) Search(ctx context.Context, f store.CardFilter, offset, limit int) ([]store.Card, error) {
	q, args := pgschema.SearchCards(f, offset, limit)
	cards := []store.Card{}
	if err := r.db.SelectContext(ctx, &cards, q, args...); err != nil {
		return nil, pgschema.Classify("searching cards", err)
	}
	return cards, nil
}

func (r *CardRepo) ListByArchetype(ctx context.Context, archetype string) ([]store.Card, error) {
	cards := []store.Card{}
	if err := r.db.SelectContext(ctx, &cards, pgschema.SelectCardsByArchetype, archetype); err != nil {
		return nil, pgschema.Classify("listing cards by archetype", err)
	}
	return cards, nil
}

func (r *CardRepo) RandomExcludingArchetype(ctx context.Context, archetype string, n int) ([]store.Card, error) {
	cards := []store.Card{}
	if n <= 0 {
		return cards, nil
	}
	if err := r.db.SelectContext(ctx, &cards, pgschema.SelectRandomCardsExcluding, archetype, n); err != nil {
		return nil, pgschema.Classify("sampling cards", err)
	}
	return cards, nil
}

func (r *CardRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, pgschema.CardNameExists, name); err != nil {
		return false, pgschema.Classify("checking card name", err)
	}
	return exists, nil
}
