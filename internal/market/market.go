// Package market runs the listing/sale state machine: sellers list cards,
// buyers complete sales, and each card's records are served as two disjoint
// ordered views.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/event"
	"github.com/jensholdgaard/cardmarket/internal/identity"
	"github.com/jensholdgaard/cardmarket/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/cardmarket/internal/market"

// maxPrice is the first value that does not fit NUMERIC(10,2).
var maxPrice = decimal.New(1, 8)

// Service handles listing and sale operations.
type Service struct {
	listings store.ListingRepository
	cards    store.CardRepository
	users    store.UserRepository
	events   event.Store
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	notifier SaleNotifier
	meter    metric.MeterProvider

	created   metric.Int64Counter
	sales     metric.Int64Counter
	conflicts metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier announces completed sales through n.
func WithNotifier(n SaleNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMeterProvider records marketplace counters on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp }
}

// NewService returns a new market Service.
func NewService(repos *store.Repositories, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, opts ...Option) (*Service, error) {
	s := &Service{
		listings: repos.Listings,
		cards:    repos.Cards,
		users:    repos.Users,
		events:   repos.Events,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer(instrumentationName),
		notifier: NopNotifier{},
		meter:    metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	m := s.meter.Meter(instrumentationName)
	var err error
	if s.created, err = m.Int64Counter("cardmarket.listings.created",
		metric.WithDescription("Listings put up for sale")); err != nil {
		return nil, fmt.Errorf("creating listings counter: %w", err)
	}
	if s.sales, err = m.Int64Counter("cardmarket.sales.completed",
		metric.WithDescription("Listings sold to a buyer")); err != nil {
		return nil, fmt.Errorf("creating sales counter: %w", err)
	}
	if s.conflicts, err = m.Int64Counter("cardmarket.listings.conflicts",
		metric.WithDescription("Writes rejected because another writer got there first")); err != nil {
		return nil, fmt.Errorf("creating conflicts counter: %w", err)
	}
	return s, nil
}

// NewListing holds the fields of a listing to create.
type NewListing struct {
	CardID   int64
	SellerID int64
	Price    *decimal.Decimal
	Status   *string
}

// ListingPatch is a partial listing update. A nil field keeps the stored
// value and an empty Status clears it. Supplying BuyerID on a listed record
// completes the sale, at SoldAt or now when SoldAt is nil.
type ListingPatch struct {
	CardID   *int64
	SellerID *int64
	Price    *decimal.Decimal
	Status   *string
	BuyerID  *int64
	SoldAt   *time.Time
}

// ValidatePrice checks that p is positive with at most two decimal places and
// fits NUMERIC(10,2).
func ValidatePrice(p decimal.Decimal) error {
	switch {
	case p.Sign() <= 0:
		return store.Invalid("price", "must be greater than zero")
	case !p.Equal(p.Round(2)):
		return store.Invalid("price", "must have at most two decimal places")
	case p.GreaterThanOrEqual(maxPrice):
		return store.Invalid("price", "must be below 100000000")
	}
	return nil
}

func normStatus(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// mustExist resolves the card and users a record references.
func (s *Service) mustExist(ctx context.Context, cardID int64, userIDs ...int64) error {
	if _, err := s.cards.GetByID(ctx, cardID); err != nil {
		return fmt.Errorf("resolving card: %w", err)
	}
	for _, id := range userIDs {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return fmt.Errorf("resolving user: %w", err)
		}
	}
	return nil
}

func listingData(l *store.Listing) event.ListingData {
	return event.ListingData{CardID: l.CardID, SellerID: l.SellerID, Price: l.Price.StringFixed(2), Status: l.Status}
}

func (s *Service) record(ctx context.Context, id int64, t event.Type, version int, payload any) {
	evt, err := event.New(event.ListingAggregate(id), t, version, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build listing event", slog.Any("error", err))
		return
	}
	event.Record(ctx, s.events, s.logger, evt)
}

// CreateListing puts a card up for sale. The new record is Listed.
func (s *Service) CreateListing(ctx context.Context, in NewListing) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateListing",
		trace.WithAttributes(
			attribute.Int64("card.id", in.CardID),
			attribute.Int64("seller.id", in.SellerID),
		),
	)
	defer span.End()

	switch {
	case in.CardID == 0:
		return nil, store.Invalid("card", "is required")
	case in.SellerID == 0:
		return nil, store.Invalid("seller", "is required")
	case in.Price == nil:
		return nil, store.Invalid("price", "is required")
	}
	if err := ValidatePrice(*in.Price); err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, in.CardID, in.SellerID); err != nil {
		return nil, err
	}

	l := &store.Listing{
		CardID:   in.CardID,
		SellerID: in.SellerID,
		Price:    *in.Price,
		Status:   normStatus(in.Status),
	}
	if err := s.listings.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("creating listing: %w", err)
	}

	s.created.Add(ctx, 1)
	s.record(ctx, l.ID, event.ListingCreated, l.Version, listingData(l))
	s.logger.InfoContext(ctx, "listing created",
		slog.Int64("listing_id", l.ID),
		slog.Int64("card_id", l.CardID),
		slog.Int64("seller_id", l.SellerID),
		slog.String("price", l.Price.StringFixed(2)),
	)
	return s.Get(ctx, l.ID)
}

// Get returns one record with its references resolved.
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Get",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	d, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting listing: %w", err)
	}
	r := recordOf(*d)
	return &r, nil
}

// Update merges p over the stored record. A buyer on a listed record moves it
// to Sold with a single conditional write, so at most one buyer ever wins.
// A buyer on a sold record is a conflict.
func (s *Service) Update(ctx context.Context, id int64, p ListingPatch) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Update",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	d, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading listing: %w", err)
	}
	l := d.Listing
	_, wasSold := stateOf(l).(Sold)

	if p.CardID != nil {
		l.CardID = *p.CardID
	}
	if p.SellerID != nil {
		l.SellerID = *p.SellerID
	}
	if p.Price != nil {
		if err := ValidatePrice(*p.Price); err != nil {
			return nil, err
		}
		l.Price = *p.Price
	}
	if p.Status != nil {
		l.Status = normStatus(p.Status)
	}
	if p.CardID != nil || p.SellerID != nil {
		if err := s.mustExist(ctx, l.CardID, l.SellerID); err != nil {
			return nil, err
		}
	}

	switch {
	case p.BuyerID != nil && wasSold:
		s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "already_sold")))
		return nil, fmt.Errorf("listing %d already sold: %w", id, store.ErrConflict)
	case p.BuyerID != nil:
		return s.sell(ctx, &l, *p.BuyerID, p.SoldAt)
	case p.SoldAt != nil && !wasSold:
		return nil, store.Invalid("sold_at", "requires a buyer")
	case p.SoldAt != nil:
		return nil, store.Invalid("sold_at", "cannot change once sold")
	}

	if err := s.listings.Update(ctx, &l); err != nil {
		s.countConflict(ctx, err, "update")
		return nil, fmt.Errorf("updating listing: %w", err)
	}

	s.record(ctx, l.ID, event.ListingUpdated, l.Version, listingData(&l))
	s.logger.InfoContext(ctx, "listing updated",
		slog.Int64("listing_id", l.ID),
		slog.Int("version", l.Version),
	)
	return s.Get(ctx, l.ID)
}

// Purchase sells a listed record to buyerID now.
func (s *Service) Purchase(ctx context.Context, id, buyerID int64) (*Record, error) {
	return s.Update(ctx, id, ListingPatch{BuyerID: &buyerID})
}

func (s *Service) sell(ctx context.Context, l *store.Listing, buyerID int64, at *time.Time) (*Record, error) {
	if buyerID == l.SellerID {
		return nil, store.Invalid("buyer", "cannot buy your own listing")
	}
	if _, err := s.users.GetByID(ctx, buyerID); err != nil {
		return nil, fmt.Errorf("resolving buyer: %w", err)
	}

	soldAt := s.clock.Now().UTC()
	if at != nil {
		soldAt = at.UTC()
	}
	l.BuyerID = &buyerID
	l.SoldAt = &soldAt

	if err := s.listings.MarkSold(ctx, l); err != nil {
		s.countConflict(ctx, err, "sell")
		return nil, fmt.Errorf("marking listing sold: %w", err)
	}

	s.sales.Add(ctx, 1)
	s.record(ctx, l.ID, event.ListingSold, l.Version, event.ListingSoldData{
		CardID:  l.CardID,
		BuyerID: buyerID,
		Price:   l.Price.StringFixed(2),
		SoldAt:  soldAt,
	})
	s.logger.InfoContext(ctx, "listing sold",
		slog.Int64("listing_id", l.ID),
		slog.Int64("buyer_id", buyerID),
		slog.String("price", l.Price.StringFixed(2)),
	)

	rec, err := s.Get(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.NotifySale(ctx, *rec); err != nil {
		s.logger.WarnContext(ctx, "failed to announce sale",
			slog.Int64("listing_id", l.ID),
			slog.Any("error", err),
		)
	}
	return rec, nil
}

func (s *Service) countConflict(ctx context.Context, err error, reason string) {
	if errors.Is(err, store.ErrConflict) {
		s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// Delete soft-deletes a record in any state.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "Service.Delete",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	d, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading listing: %w", err)
	}
	if err := s.listings.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting listing: %w", err)
	}

	actor, _ := identity.UserFrom(ctx)
	s.record(ctx, id, event.ListingDeleted, d.Version+1, event.DeletedData{DeletedBy: actor})
	s.logger.InfoContext(ctx, "listing deleted", slog.Int64("listing_id", id))
	return nil
}

// ListingsForCard returns the card's Listed records, cheapest first.
func (s *Service) ListingsForCard(ctx context.Context, cardID int64) ([]Record, error) {
	return s.byCard(ctx, "Service.ListingsForCard", cardID, store.StateListed)
}

// SalesForCard returns the card's Sold records, oldest sale first.
func (s *Service) SalesForCard(ctx context.Context, cardID int64) ([]Record, error) {
	return s.byCard(ctx, "Service.SalesForCard", cardID, store.StateSold)
}

func (s *Service) byCard(ctx context.Context, span string, cardID int64, state store.ListingState) ([]Record, error) {
	ctx, sp := s.tracer.Start(ctx, span,
		trace.WithAttributes(attribute.Int64("card.id", cardID)),
	)
	defer sp.End()

	ds, err := s.listings.ListByCard(ctx, cardID, state)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", state, err)
	}
	return recordsOf(ds), nil
}

// All returns every active record ordered by id.
func (s *Service) All(ctx context.Context) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.All")
	defer span.End()

	ds, err := s.listings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return recordsOf(ds), nil
}
