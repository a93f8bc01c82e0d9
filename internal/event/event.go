package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	CardCreated Type = "card.created"
	CardUpdated Type = "card.updated"
	CardDeleted Type = "card.deleted"

	ListingCreated Type = "listing.created"
	ListingUpdated Type = "listing.updated"
	ListingSold    Type = "listing.sold"
	ListingDeleted Type = "listing.deleted"

	CatalogImported Type = "catalog.imported"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event for the aggregate at the given version, marshalling
// payload as its data.
func New(aggregateID string, t Type, version int, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %s payload: %w", t, err)
	}
	return Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        data,
		Version:     version,
	}, nil
}

// CardAggregate returns the aggregate id used for a card's events.
func CardAggregate(id int64) string { return fmt.Sprintf("card-%d", id) }

// ListingAggregate returns the aggregate id used for a listing's events.
func ListingAggregate(id int64) string { return fmt.Sprintf("listing-%d", id) }

// CardData is the payload for card events.
type CardData struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Race      string  `json:"race"`
	Archetype *string `json:"archetype,omitempty"`
}

// ListingData is the payload for ListingCreated and ListingUpdated events.
type ListingData struct {
	CardID   int64   `json:"card_id"`
	SellerID int64   `json:"seller_id"`
	Price    string  `json:"price"`
	Status   *string `json:"status,omitempty"`
}

// ListingSoldData is the payload for ListingSold events.
type ListingSoldData struct {
	CardID  int64     `json:"card_id"`
	BuyerID int64     `json:"buyer_id"`
	Price   string    `json:"price"`
	SoldAt  time.Time `json:"sold_at"`
}

// DeletedData is the payload for deletion events.
type DeletedData struct {
	DeletedBy int64 `json:"deleted_by,omitempty"`
}

// CatalogImportedData is the payload for CatalogImported events.
type CatalogImportedData struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Duration string `json:"duration"`
}
