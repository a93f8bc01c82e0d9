package httpapi

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/market"
	"github.com/jensholdgaard/cardmarket/internal/store"
)

type cardResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description *string   `json:"description"`
	Race        string    `json:"race"`
	Archetype   *string   `json:"archetype"`
	Image       string    `json:"image"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func fromCard(c store.Card) cardResponse {
	return cardResponse{
		ID:          c.ID,
		Name:        c.Name,
		Type:        c.Type,
		Description: c.Description,
		Race:        c.Race,
		Archetype:   c.Archetype,
		Image:       c.Image,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func fromCards(cs []store.Card) []cardResponse {
	out := make([]cardResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, fromCard(c))
	}
	return out
}

type pageResponse struct {
	Items      []cardResponse `json:"items"`
	TotalCount int            `json:"totalCount"`
	TotalPages int            `json:"totalPages"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
}

func fromPage(p *catalog.Page) pageResponse {
	return pageResponse{
		Items:      fromCards(p.Items),
		TotalCount: p.TotalCount,
		TotalPages: p.TotalPages,
		Page:       p.Page,
		Limit:      p.Limit,
	}
}

// nullString tells an absent field apart from an explicit null.
type nullString struct {
	Set   bool
	Value *string
}

func (n *nullString) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// patch maps the field onto the service convention: nil keeps the stored
// value and an empty string clears it.
func (n nullString) patch() *string {
	if !n.Set {
		return nil
	}
	if n.Value == nil {
		empty := ""
		return &empty
	}
	return n.Value
}

type cardRequest struct {
	Name        *string    `json:"name"`
	Type        *string    `json:"type"`
	Description nullString `json:"description"`
	Race        *string    `json:"race"`
	Archetype   nullString `json:"archetype"`
	Image       *string    `json:"image"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (r cardRequest) toNewCard() catalog.NewCard {
	return catalog.NewCard{
		Name:        deref(r.Name),
		Type:        deref(r.Type),
		Description: r.Description.Value,
		Race:        deref(r.Race),
		Archetype:   r.Archetype.Value,
		Image:       deref(r.Image),
	}
}

func (r cardRequest) toPatch() catalog.CardPatch {
	return catalog.CardPatch{
		Name:        r.Name,
		Type:        r.Type,
		Description: r.Description.patch(),
		Race:        r.Race,
		Archetype:   r.Archetype.patch(),
		Image:       r.Image,
	}
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// listingResponse renders prices as strings so clients never round them.
type listingResponse struct {
	ID        int64         `json:"id"`
	State     string        `json:"state"`
	Card      cardResponse  `json:"card"`
	Seller    userResponse  `json:"seller"`
	Buyer     *userResponse `json:"buyer"`
	Price     string        `json:"price"`
	SoldAt    *time.Time    `json:"sold_at"`
	Status    *string       `json:"status"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func fromRecord(r market.Record) listingResponse {
	out := listingResponse{
		ID:        r.ID,
		State:     r.State.Name(),
		Card:      fromCard(r.Card),
		Seller:    userResponse{ID: r.Seller.ID, Username: r.Seller.Username},
		Price:     r.Price().StringFixed(2),
		Status:    r.Status,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Buyer != nil {
		out.Buyer = &userResponse{ID: r.Buyer.ID, Username: r.Buyer.Username}
	}
	if s, ok := r.State.(market.Sold); ok && !s.SoldAt.IsZero() {
		at := s.SoldAt
		out.SoldAt = &at
	}
	return out
}

func fromRecords(rs []market.Record) []listingResponse {
	out := make([]listingResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, fromRecord(r))
	}
	return out
}

type listingRequest struct {
	CardID   *int64           `json:"card_id"`
	SellerID *int64           `json:"seller_id"`
	Price    *decimal.Decimal `json:"price"`
	Status   nullString       `json:"status"`
	BuyerID  *int64           `json:"buyer_id"`
	SoldAt   *time.Time       `json:"sold_at"`
}

func orZero(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func (r listingRequest) toPatch() market.ListingPatch {
	return market.ListingPatch{
		CardID:   r.CardID,
		SellerID: r.SellerID,
		Price:    r.Price,
		Status:   r.Status.patch(),
		BuyerID:  r.BuyerID,
		SoldAt:   r.SoldAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
