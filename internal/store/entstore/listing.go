package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

// ListingRepo implements store.ListingRepository using database/sql.
type ListingRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewListingRepo returns a new ListingRepo.
func NewListingRepo(db *sql.DB, clk clock.Clock) *ListingRepo {
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
	if err := r.db.QueryRowContext(ctx, pgschema.SelectListingByID, id).Scan(row.Dest()...); err != nil {
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
	if !rowAffected(result) {
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
	if !rowAffected(result) {
		return r.missOrConflict(ctx, l.ID)
	}
	l.Version++
	l.UpdatedAt = now
	return nil
}

func (r *ListingRepo) missOrConflict(ctx context.Context, id int64) error {
	ok, err := exists(ctx, r.db, pgschema.ListingExists, id)
	if err != nil {
		return pgschema.Classify("checking listing", err)
	}
	if !ok {
		return store.NotFound("listing", id)
	}
	return fmt.Errorf("listing %d: %w", id, store.ErrConflict)
}

func (r *ListingRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, pgschema.SoftDeleteListing, r.clock.Now().UTC(), id)
	if err != nil {
		return pgschema.Classify("deleting listing", err)
	}
	if !rowAffected(result) {
		return store.NotFound("listing", id)
	}
	return nil
}

func (r *ListingRepo) ListByCard(ctx context.Context, cardID int64, state store.ListingState) ([]store.ListingDetail, error) {
	return r.query(ctx, fmt.Sprintf("listing %s records", state), pgschema.ListingsByCard(state), cardID)
}

func (r *ListingRepo) List(ctx context.Context) ([]store.ListingDetail, error) {
	return r.query(ctx, "listing records", pgschema.SelectAllListings)
}

func (r *ListingRepo) query(ctx context.Context, op, q string, args ...any) ([]store.ListingDetail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, pgschema.Classify(op, err)
	}
	defer rows.Close()

	var out []pgschema.ListingRow
	for rows.Next() {
		var row pgschema.ListingRow
		if err := rows.Scan(row.Dest()...); err != nil {
			return nil, pgschema.Classify("scanning listing row", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, pgschema.Classify(op, err)
	}
	return pgschema.Details(out), nil
}
