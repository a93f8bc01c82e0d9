package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

// CardRepo implements store.CardRepository using database/sql.
type CardRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewCardRepo returns a new CardRepo.
func NewCardRepo(db *sql.DB, clk clock.Clock) *CardRepo {
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
	c := &store.Card{}
	if err := r.db.QueryRowContext(ctx, pgschema.SelectCardByID, id).Scan(pgschema.CardDest(c)...); err != nil {
		return nil, pgschema.Classify(fmt.Sprintf("getting card %d", id), err)
	}
	return c, nil
}

func (r *CardRepo) Update(ctx context.Context, c *store.Card) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx, pgschema.UpdateCard,
		c.Name, c.Type, c.Description, c.Race, c.Archetype, c.Image, now, c.ID, c.Version,
	)
	if err != nil {
		return pgschema.Classify("updating card", err)
	}
	if !rowAffected(result) {
		ok, err := exists(ctx, r.db, pgschema.CardExists, c.ID)
		if err != nil {
			return pgschema.Classify("checking card", err)
		}
		if !ok {
			return store.NotFound("card", c.ID)
		}
		return fmt.Errorf("card %d: %w", c.ID, store.ErrConflict)
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (r *CardRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return pgschema.Classify("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.clock.Now().UTC()
	result, err := tx.ExecContext(ctx, pgschema.SoftDeleteCard, now, id)
	if err != nil {
		return pgschema.Classify("deleting card", err)
	}
	if !rowAffected(result) {
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
	return r.query(ctx, "listing cards", pgschema.SelectAllCards)
}

func (r *CardRepo) Count(ctx context.Context, f store.CardFilter) (int, error) {
	q, args := pgschema.CountCards(f)
	var n int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, pgschema.Classify("counting cards", err)
	}
	return n, nil
}

func (r *CardRepo) Search(ctx context.Context, f store.CardFilter, offset, limit int) ([]store.Card, error) {
	q, args := pgschema.SearchCards(f, offset, limit)
	return r.query(ctx, "searching cards", q, args...)
}

func (r *CardRepo) ListByArchetype(ctx context.Context, archetype string) ([]store.Card, error) {
	return r.query(ctx, "listing cards by archetype", pgschema.SelectCardsByArchetype, archetype)
}

func (r *CardRepo) RandomExcludingArchetype(ctx context.Context, archetype string, n int) ([]store.Card, error) {
	if n <= 0 {
		return []store.Card{}, nil
	}
	return r.query(ctx, "sampling cards", pgschema.SelectRandomCardsExcluding, archetype, n)
}

func (r *CardRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	ok, err := exists(ctx, r.db, pgschema.CardNameExists, name)
	if err != nil {
		return false, pgschema.Classify("checking card name", err)
	}
	return ok, nil
}

func (r *CardRepo) query(ctx context.Context, op, q string, args ...any) ([]store.Card, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, pgschema.Classify(op, err)
	}
	defer rows.Close()

	cards := []store.Card{}
	for rows.Next() {
		var c store.Card
		if err := rows.Scan(pgschema.CardDest(&c)...); err != nil {
			return nil, pgschema.Classify("scanning card row", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pgschema.Classify(op, err)
	}
	return cards, nil
}
