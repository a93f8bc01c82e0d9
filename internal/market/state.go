package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/cardmarket/internal/store"
)

// State is the lifecycle position of a sale record: Listed or Sold.
type State interface {
	// Name is "listed" or "sold".
	Name() string
	isState()
}

// Listed is an open offer to sell.
type Listed struct {
	Price decimal.Decimal
}

// Sold is a completed sale.
type Sold struct {
	Price   decimal.Decimal
	BuyerID int64
	SoldAt  time.Time
}

func (Listed) Name() string { return "listed" }
func (Sold) Name() string   { return "sold" }
func (Listed) isState()     {}
func (Sold) isState()       {}

// stateOf derives the state from the nullable storage columns. A buyer
// without a stored timestamp still counts as sold; the zero SoldAt marks it.
func stateOf(l store.Listing) State {
	if l.BuyerID == nil {
		return Listed{Price: l.Price}
	}
	s := Sold{Price: l.Price, BuyerID: *l.BuyerID}
	if l.SoldAt != nil {
		s.SoldAt = *l.SoldAt
	}
	return s
}

// Record is a sale record with its references resolved.
type Record struct {
	ID        int64
	Card      store.Card
	Seller    store.User
	Buyer     *store.User
	Status    *string
	State     State
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Price returns the price regardless of state.
func (r Record) Price() decimal.Decimal {
	switch s := r.State.(type) {
	case Sold:
		return s.Price
	case Listed:
		return s.Price
	default:
		return decimal.Zero
	}
}

func recordOf(d store.ListingDetail) Record {
	return Record{
		ID:        d.ID,
		Card:      d.Card,
		Seller:    d.Seller,
		Buyer:     d.Buyer,
		Status:    d.Status,
		State:     stateOf(d.Listing),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func recordsOf(ds []store.ListingDetail) []Record {
	out := make([]Record, 0, len(ds))
	for _, d := range ds {
		out = append(out, recordOf(d))
	}
	return out
}
