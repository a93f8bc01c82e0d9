package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Card is a catalog entry.
type Card struct {
	ID          int64      `db:"id"`
	Name        string     `db:"name"`
	Type        string     `db:"type"`
	Description *string    `db:"description"`
	Race        string     `db:"race"`
	Archetype   *string    `db:"archetype"`
	Image       string     `db:"image"`
	Version     int        `db:"version"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
}

// CardFilter restricts card queries. Each non-empty field must already be
// folded with textnorm.Fold and is matched as a substring of the folded
// column. Empty fields impose no constraint.
type CardFilter struct {
	Name      string
	Type      string
	Archetype string
}

// IsZero reports whether the filter matches every card.
func (f CardFilter) IsZero() bool {
	return f.Name == "" && f.Type == "" && f.Archetype == ""
}

// User is an externally managed identity referenced by listings.
type User struct {
	ID        int64      `db:"id"`
	Username  string     `db:"username"`
	Email     string     `db:"email"`
	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// Listing is a sale record as stored. A nil BuyerID means the card is still
// on offer; a set BuyerID and SoldAt mean the sale completed.
type Listing struct {
	ID        int64           `db:"id"`
	CardID    int64           `db:"card_id"`
	SellerID  int64           `db:"seller_id"`
	BuyerID   *int64          `db:"buyer_id"`
	Price     decimal.Decimal `db:"price"`
	SoldAt    *time.Time      `db:"sold_at"`
	Status    *string         `db:"status"`
	Version   int             `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
	DeletedAt *time.Time      `db:"deleted_at"`
}

// ListingDetail is a Listing with its card and users resolved.
type ListingDetail struct {
	Listing
	Card   Card
	Seller User
	Buyer  *User
}

// ListingState selects one side of the listed/sold partition.
type ListingState int

const (
	// StateListed selects records without a buyer, cheapest first.
	StateListed ListingState = iota
	// StateSold selects records with a buyer, oldest sale first.
	StateSold
)

func (s ListingState) String() string {
	switch s {
	case StateListed:
		return "listed"
	case StateSold:
		return "sold"
	default:
		return "unknown"
	}
}

// CardRepository defines card persistence operations. Soft-deleted cards are
// invisible to every read.
type CardRepository interface {
	Create(ctx context.Context, c *Card) error
	GetByID(ctx context.Context, id int64) (*Card, error)
	// Update writes c's mutable fields if the stored version still equals
	// c.Version, then bumps c.Version.
	Update(ctx context.Context, c *Card) error
	// Delete soft-deletes the card and its listing records.
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Card, error)
	Count(ctx context.Context, f CardFilter) (int, error)
	// Search returns one window of matching cards ordered by id.
	Search(ctx context.Context, f CardFilter, offset, limit int) ([]Card, error)
	// ListByArchetype returns cards whose archetype equals archetype exactly.
	ListByArchetype(ctx context.Context, archetype string) ([]Card, error)
	// RandomExcludingArchetype returns up to n cards in store-side random
	// order whose archetype differs from archetype, including cards with none.
	RandomExcludingArchetype(ctx context.Context, archetype string, n int) ([]Card, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// ListingRepository defines sale record persistence operations. Every read
// resolves the card, the seller and, when present, the buyer.
type ListingRepository interface {
	// Create stores l as an open listing; BuyerID and SoldAt are ignored.
	Create(ctx context.Context, l *Listing) error
	GetByID(ctx context.Context, id int64) (*ListingDetail, error)
	// Update writes card, seller, price and status under a version check.
	// Buyer and sale time are never touched.
	Update(ctx context.Context, l *Listing) error
	// MarkSold attaches l.BuyerID and l.SoldAt (and the other mutable fields)
	// in one conditional statement that only matches an unsold record at
	// l.Version. It returns ErrConflict when another writer got there first.
	MarkSold(ctx context.Context, l *Listing) error
	Delete(ctx context.Context, id int64) error
	ListByCard(ctx context.Context, cardID int64, state ListingState) ([]ListingDetail, error)
	List(ctx context.Context) ([]ListingDetail, error)
}

// UserRepository gives read access to the identity store.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	// Create exists for seeding and tests; identities are owned elsewhere.
	Create(ctx context.Context, u *User) error
}
