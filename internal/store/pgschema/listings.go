package pgschema

import (
	"time"

	"github.com/jensholdgaard/cardmarket/internal/store"
)

// ListingDetailColumns selects a listing with its card, seller and optional
// buyer. Aliases use sqlx's dotted nesting so ListingRow scans directly.
const ListingDetailColumns = `l.id, l.card_id, l.seller_id, l.buyer_id, l.price, l.sold_at, l.status,
	l.version, l.created_at, l.updated_at, l.deleted_at,
	c.id AS "card.id", c.name AS "card.name", c.type AS "card.type",
	c.description AS "card.description", c.race AS "card.race",
	c.archetype AS "card.archetype", c.image AS "card.image",
	c.version AS "card.version", c.created_at AS "card.created_at",
	c.updated_at AS "card.updated_at", c.deleted_at AS "card.deleted_at",
	s.id AS "seller.id", s.username AS "seller.username", s.email AS "seller.email",
	s.created_at AS "seller.created_at", s.deleted_at AS "seller.deleted_at",
	b.id AS "buyer.id", b.username AS "buyer.username", b.email AS "buyer.email",
	b.created_at AS "buyer.created_at", b.deleted_at AS "buyer.deleted_at"`

const listingDetailFrom = ` FROM listings l
	JOIN cards c ON c.id = l.card_id
	JOIN users s ON s.id = l.seller_id
	LEFT JOIN users b ON b.id = l.buyer_id
	WHERE l.deleted_at IS NULL AND c.deleted_at IS NULL`

// Listing statements.
const (
	InsertListing = `INSERT INTO listings (card_id, seller_id, price, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		RETURNING id`

	SelectListingByID = `SELECT ` + ListingDetailColumns + listingDetailFrom + ` AND l.id = $1`

	SelectAllListings = `SELECT ` + ListingDetailColumns + listingDetailFrom + ` ORDER BY l.id ASC`

	// SelectOpenListingsByCard is the Listed view, cheapest first.
	SelectOpenListingsByCard = `SELECT ` + ListingDetailColumns + listingDetailFrom + `
		AND l.card_id = $1 AND l.buyer_id IS NULL
		ORDER BY l.price ASC, l.id ASC`

	// SelectSalesByCard is the Sold view, oldest sale first.
	SelectSalesByCard = `SELECT ` + ListingDetailColumns + listingDetailFrom + `
		AND l.card_id = $1 AND l.buyer_id IS NOT NULL
		ORDER BY l.sold_at ASC, l.id ASC`

	UpdateListing = `UPDATE listings
		SET card_id = $1, seller_id = $2, price = $3, status = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND deleted_at IS NULL AND version = $7`

	// MarkListingSold only matches an unsold record at the expected version,
	// so at most one buyer can ever be attached.
	MarkListingSold = `UPDATE listings
		SET card_id = $1, seller_id = $2, price = $3, status = $4,
		    buyer_id = $5, sold_at = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL AND buyer_id IS NULL AND version = $9`

	// ListingExists reports whether an active record with id exists.
	ListingExists = `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1 AND deleted_at IS NULL)`

	SoftDeleteListing = `UPDATE listings SET deleted_at = $1, version = version + 1
		WHERE id = $2 AND deleted_at IS NULL`
)

// ListingsByCard returns the view statement for state.
func ListingsByCard(state store.ListingState) string {
	if state == store.StateSold {
		return SelectSalesByCard
	}
	return SelectOpenListingsByCard
}

// ListingRow is the scan target for ListingDetailColumns.
type ListingRow struct {
	store.Listing
	Card   store.Card `db:"card"`
	Seller store.User `db:"seller"`
	Buyer  BuyerRow   `db:"buyer"`
}

// BuyerRow holds the left-joined buyer columns.
type BuyerRow struct {
	ID        *int64     `db:"id"`
	Username  *string    `db:"username"`
	Email     *string    `db:"email"`
	CreatedAt *time.Time `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// Dest returns scan destinations for ListingDetailColumns.
func (r *ListingRow) Dest() []any {
	l, c, s, b := &r.Listing, &r.Card, &r.Seller, &r.Buyer
	return []any{
		&l.ID, &l.CardID, &l.SellerID, &l.BuyerID, &l.Price, &l.SoldAt, &l.Status,
		&l.Version, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt,
		&c.ID, &c.Name, &c.Type, &c.Description, &c.Race, &c.Archetype, &c.Image,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
		&s.ID, &s.Username, &s.Email, &s.CreatedAt, &s.DeletedAt,
		&b.ID, &b.Username, &b.Email, &b.CreatedAt, &b.DeletedAt,
	}
}

// Detail converts the row. A NULL buyer yields a nil Buyer.
func (r ListingRow) Detail() store.ListingDetail {
	d := store.ListingDetail{Listing: r.Listing, Card: r.Card, Seller: r.Seller}
	if r.Buyer.ID != nil {
		u := &store.User{ID: *r.Buyer.ID, DeletedAt: r.Buyer.DeletedAt}
		if r.Buyer.Username != nil {
			u.Username = *r.Buyer.Username
		}
		if r.Buyer.Email != nil {
			u.Email = *r.Buyer.Email
		}
		if r.Buyer.CreatedAt != nil {
			u.CreatedAt = *r.Buyer.CreatedAt
		}
		d.Buyer = u
	}
	return d
}

// Details converts rows in order.
func Details(rows []ListingRow) []store.ListingDetail {
	out := make([]store.ListingDetail, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Detail())
	}
	return out
}

// User statements.
const (
	UserColumns    = `id, username, email, created_at, deleted_at`
	SelectUserByID = `SELECT ` + UserColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	InsertUser     = `INSERT INTO users (username, email, created_at) VALUES ($1, $2, $3) RETURNING id`
)

// UserDest returns scan destinations for UserColumns.
func UserDest(u *store.User) []any {
	return []any{&u.ID, &u.Username, &u.Email, &u.CreatedAt, &u.DeletedAt}
}

// Event statements.
const (
	InsertEvent      = `INSERT INTO events (aggregate_id, type, data, version) VALUES ($1, $2, $3, $4)`
	EventColumns     = `id, aggregate_id, type, data, version, created_at`
	SelectEvents     = `SELECT ` + EventColumns + ` FROM events WHERE aggregate_id = $1 ORDER BY version ASC`
	SelectEventsType = `SELECT ` + EventColumns + ` FROM events WHERE type = $1 ORDER BY created_at ASC, id ASC`
)
