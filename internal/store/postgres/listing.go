package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

// ListingRepo implements store.ListingRepository with sqlx.
type ListingRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewListingRepo returns a new ListingRepo.
func NewListingRepo(db *sqlx.DB, clk clock.Clock) *ListingRepo {
	return &ListingRepo{db: db, clock: clk}
}

func (r *ListingRepo) Create(ctx context.Context, l *store.Listing) error {
	now := r.clock.Now().UTC()
	err := r.db.QueryRowContext(ctx, pgschema.InsertListing,
		l.CardID, l.SellerID, l.Price, l.Status, now,
	).Scan(&l.ID)
	if err != nil {
		return pgschema.Classify("creating listing", err)
	}
	l.BuyerID = nil
	l.SoldAt = nil
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id int64) (*store.ListingDetail, error) {
	var row pgschema.ListingRow
	if err := r.db.GetContext(ctx, &row, pgschema.SelectListingByID, id); err != nil {
		return nil, pgschema.Classify(fmt.Sprintf("getting listing %d", id), err)
	}
	d := row.Detail()
	return &d, nil
}

func (r *ListingRepo) Update(ctx context.Context, l *store.Listing) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx, pgschema.UpdateListing,
		l.CardID, l.SellerID, l.Price, l.Status, now, l.ID, l.Version,
	)
	if err != nil {
		return pgschema.Classify("updating listing", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return r.missOrConflict(ctx, l.ID)
	}
	l.Version++
	l.UpdatedAt = now
	return nil
}

func (r *ListingRepo) MarkSold(ctx context.Context, l *store.Listing) error {
	if l.BuyerID == nil || l.SoldAt == nil {
		return store.Invalid("buyer", "sale requires a buyer and a timestamp")
	}
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx, pgschema.MarkListingSold,
		l.CardID, l.SellerID, l.Price, l.Status, *l.BuyerID, l.SoldAt.UTC(), now, l.ID, l.Version,
	)
	if err != nil {
		return pgschema.Classify("marking listing sold", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return r.missOrConflict(ctx, l.ID)
	}
	l.Version++
	l.UpdatedAt = now
	return nil
}

// missOrConflict explains a conditional update that matched no row.
func (r *ListingRepo) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, pgschema.ListingExists, id); err != nil {
		return pgschema.Classify("checking listing", err)
	}
	if !exists {
		return store.NotFound("listing", id)
	}
	return fmt.Errorf("listing %d: %w", id, store.ErrConflict)
}

func (r *ListingRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, pgschema.SoftDeleteListing, r.clock.Now().UTC(), id)
	if err != nil {
		return pgschema.Classify("deleting listing", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return store.NotFound("listing", id)
	}
	return nil
}

func (r *ListingRepo) ListByCard(ctx context.Context, cardID int64, state store.ListingState) ([]store.ListingDetail, error) {
	var rows []pgschema.ListingRow
	if err := r.db.SelectContext(ctx, &rows, pgschema.ListingsByCard(state), cardID); err != nil {
		return nil, pgschema.Classify(fmt.Sprintf("listing %s records", state), err)
	}
	return pgschema.Details(rows), nil
}

func (r *ListingRepo) List(ctx context.Context) ([]store.ListingDetail, error) {
	var rows []pgschema.ListingRow
	if err := r.db.SelectContext(ctx, &rows, pgschema.SelectAllListings); err != nil {
		return nil, pgschema.Classify("listing records", err)
	}
	return pgschema.Details(rows), nil
}
