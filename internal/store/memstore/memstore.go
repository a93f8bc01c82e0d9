// Package memstore provides the "memory" store.Driver. It keeps every record
// in process memory and is used for local development and as the shared fake
// in service tests.
package memstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/event"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/textnorm"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return New(clk).Repositories(), nil
	})
}

// Store holds all tables behind one lock.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock

	cards    map[int64]*store.Card
	listings map[int64]*store.Listing
	users    map[int64]*store.User
	events   []event.Event

	nextCard, nextListing, nextUser, nextEvent int64
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:    clk,
		cards:    map[int64]*store.Card{},
		listings: map[int64]*store.Listing{},
		users:    map[int64]*store.User{},
	}
}

// Repositories exposes s through the store interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Cards:    (*CardRepo)(s),
		Listings: (*ListingRepo)(s),
		Users:    (*UserRepo)(s),
		Events:   (*EventStore)(s),
		Closer:   store.CloserFunc(func() error { return nil }),
		Ping:     func(context.Context) error { return nil },
	}
}

func (s *Store) now() time.Time { return s.clock.Now().UTC() }

func copyCard(c *store.Card) store.Card {
	out := *c
	out.Description = copyPtr(c.Description)
	out.Archetype = copyPtr(c.Archetype)
	out.DeletedAt = copyPtr(c.DeletedAt)
	return out
}

func copyListing(l *store.Listing) store.Listing {
	out := *l
	out.BuyerID = copyPtr(l.BuyerID)
	out.SoldAt = copyPtr(l.SoldAt)
	out.Status = copyPtr(l.Status)
	out.DeletedAt = copyPtr(l.DeletedAt)
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CardRepo implements store.CardRepository.
type CardRepo Store

func (r *CardRepo) s() *Store { return (*Store)(r) }

func (r *CardRepo) Create(_ context.Context, c *store.Card) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCard++
	now := s.now()
	c.ID = s.nextCard
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
	stored := copyCard(c)
	s.cards[c.ID] = &stored
	return nil
}

func (s *Store) activeCard(id int64) (*store.Card, bool) {
	c, ok := s.cards[id]
	if !ok || c.DeletedAt != nil {
		return nil, false
	}
	return c, true
}

func (r *CardRepo) GetByID(_ context.Context, id int64) (*store.Card, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.activeCard(id)
	if !ok {
		return nil, store.NotFound("card", id)
	}
	out := copyCard(c)
	return &out, nil
}

func (r *CardRepo) Update(_ context.Context, c *store.Card) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.activeCard(c.ID)
	if !ok {
		return store.NotFound("card", c.ID)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("card %d: %w", c.ID, store.ErrConflict)
	}
	c.Version++
	c.UpdatedAt = s.now()
	c.CreatedAt = cur.CreatedAt
	stored := copyCard(c)
	s.cards[c.ID] = &stored
	return nil
}

func (r *CardRepo) Delete(_ context.Context, id int64) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.activeCard(id)
	if !ok {
		return store.NotFound("card", id)
	}
	now := s.now()
	c.DeletedAt = &now
	c.Version++
	for _, l := range s.listings {
		if l.CardID == id && l.DeletedAt == nil {
			at := now
			l.DeletedAt = &at
		}
	}
	return nil
}

// filtered returns active cards matching pred, ordered by id.
func (s *Store) filtered(pred func(*store.Card) bool) []store.Card {
	out := []store.Card{}
	for _, c := range s.cards {
		if c.DeletedAt == nil && pred(c) {
			out = append(out, copyCard(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matches(f store.CardFilter) func(*store.Card) bool {
	return func(c *store.Card) bool {
		archetype := ""
		if c.Archetype != nil {
			archetype = *c.Archetype
		}
		return (f.Name == "" || textnorm.Contains(c.Name, f.Name)) &&
			(f.Type == "" || textnorm.Contains(c.Type, f.Type)) &&
			(f.Archetype == "" || textnorm.Contains(archetype, f.Archetype))
	}
}

func (r *CardRepo) List(_ context.Context) ([]store.Card, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(*store.Card) bool { return true }), nil
}

func (r *CardRepo) Count(_ context.Context, f store.CardFilter) (int, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filtered(matches(f))), nil
}

func (r *CardRepo) Search(_ context.Context, f store.CardFilter, offset, limit int) ([]store.Card, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.filtered(matches(f))
	if offset < 0 || offset >= len(all) {
		return []store.Card{}, nil
	}
	end := len(all)
	if limit < end-offset {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *CardRepo) ListByArchetype(_ context.Context, archetype string) ([]store.Card, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(c *store.Card) bool {
		return c.Archetype != nil && *c.Archetype == archetype
	}), nil
}

func (r *CardRepo) RandomExcludingArchetype(_ context.Context, archetype string, n int) ([]store.Card, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []store.Card{}, nil
	}
	others := s.filtered(func(c *store.Card) bool {
		return c.Archetype == nil || *c.Archetype != archetype
	})
	rand.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	if len(others) > n {
		others = others[:n]
	}
	return others, nil
}

func (r *CardRepo) ExistsByName(_ context.Context, name string) (bool, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cards {
		if c.DeletedAt == nil && c.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ListingRepo implements store.ListingRepository.
type ListingRepo Store

func (r *ListingRepo) s() *Store { return (*Store)(r) }

// checkRefs mirrors the foreign keys on listings.
func (s *Store) checkRefs(l *store.Listing) error {
	if _, ok := s.activeCard(l.CardID); !ok {
		return store.NotFound("card", l.CardID)
	}
	if _, ok := s.users[l.SellerID]; !ok {
		return store.NotFound("user", l.SellerID)
	}
	if l.BuyerID != nil {
		if _, ok := s.users[*l.BuyerID]; !ok {
			return store.NotFound("user", *l.BuyerID)
		}
	}
	return nil
}

func (r *ListingRepo) Create(_ context.Context, l *store.Listing) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	l.BuyerID = nil
	l.SoldAt = nil
	if err := s.checkRefs(l); err != nil {
		return fmt.Errorf("creating listing: %w", err)
	}
	s.nextListing++
	now := s.now()
	l.ID = s.nextListing
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	l.DeletedAt = nil
	stored := copyListing(l)
	s.listings[l.ID] = &stored
	return nil
}

func (s *Store) activeListing(id int64) (*store.Listing, bool) {
	l, ok := s.listings[id]
	if !ok || l.DeletedAt != nil {
		return nil, false
	}
	if _, ok := s.activeCard(l.CardID); !ok {
		return nil, false
	}
	return l, true
}

func (s *Store) detail(l *store.Listing) store.ListingDetail {
	d := store.ListingDetail{Listing: copyListing(l)}
	if c, ok := s.cards[l.CardID]; ok {
		d.Card = copyCard(c)
	}
	if u, ok := s.users[l.SellerID]; ok {
		d.Seller = *u
	}
	if l.BuyerID != nil {
		if u, ok := s.users[*l.BuyerID]; ok {
			b := *u
			d.Buyer = &b
		}
	}
	return d
}

func (r *ListingRepo) GetByID(_ context.Context, id int64) (*store.ListingDetail, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.activeListing(id)
	if !ok {
		return nil, store.NotFound("listing", id)
	}
	d := s.detail(l)
	return &d, nil
}

// write applies l over the stored record under the version check. When sold
// is set the stored record must not have a buyer yet.
func (s *Store) write(l *store.Listing, sold bool) error {
	cur, ok := s.activeListing(l.ID)
	if !ok {
		return store.NotFound("listing", l.ID)
	}
	if cur.Version != l.Version || (sold && cur.BuyerID != nil) {
		return fmt.Errorf("listing %d: %w", l.ID, store.ErrConflict)
	}
	if !sold {
		l.BuyerID = copyPtr(cur.BuyerID)
		l.SoldAt = copyPtr(cur.SoldAt)
	}
	if err := s.checkRefs(l); err != nil {
		return err
	}
	l.Version++
	l.UpdatedAt = s.now()
	l.CreatedAt = cur.CreatedAt
	stored := copyListing(l)
	s.listings[l.ID] = &stored
	return nil
}

func (r *ListingRepo) Update(_ context.Context, l *store.Listing) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(l, false)
}

func (r *ListingRepo) MarkSold(_ context.Context, l *store.Listing) error {
	if l.BuyerID == nil || l.SoldAt == nil {
		return store.Invalid("buyer", "sale requires a buyer and a timestamp")
	}
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(l, true)
}

func (r *ListingRepo) Delete(_ context.Context, id int64) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.activeListing(id)
	if !ok {
		return store.NotFound("listing", id)
	}
	now := s.now()
	l.DeletedAt = &now
	l.Version++
	return nil
}

func (r *ListingRepo) ListByCard(_ context.Context, cardID int64, state store.ListingState) ([]store.ListingDetail, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []store.ListingDetail{}
	for id, l := range s.listings {
		if _, ok := s.activeListing(id); !ok || l.CardID != cardID {
			continue
		}
		if (state == store.StateSold) != (l.BuyerID != nil) {
			continue
		}
		out = append(out, s.detail(l))
	}
	if state == store.StateSold {
		sort.Slice(out, func(i, j int) bool {
			a, b := soldAt(out[i]), soldAt(out[j])
			if !a.Equal(b) {
				return a.Before(b)
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sort.Slice(out, func(i, j int) bool {
			if c := out[i].Price.Cmp(out[j].Price); c != 0 {
				return c < 0
			}
			return out[i].ID < out[j].ID
		})
	}
	return out, nil
}

func soldAt(d store.ListingDetail) time.Time {
	if d.SoldAt == nil {
		return time.Time{}
	}
	return *d.SoldAt
}

func (r *ListingRepo) List(_ context.Context) ([]store.ListingDetail, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []store.ListingDetail{}
	for id, l := range s.listings {
		if _, ok := s.activeListing(id); ok {
			out = append(out, s.detail(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UserRepo implements store.UserRepository.
type UserRepo Store

func (r *UserRepo) s() *Store { return (*Store)(r) }

func (r *UserRepo) GetByID(_ context.Context, id int64) (*store.User, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, store.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

func (r *UserRepo) Create(_ context.Context, u *store.User) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return fmt.Errorf("creating user %q: %w", u.Username, store.ErrConflict)
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	u.CreatedAt = s.now()
	stored := *u
	s.users[u.ID] = &stored
	return nil
}

// EventStore implements event.Store.
type EventStore Store

func (r *EventStore) s() *Store { return (*Store)(r) }

func (r *EventStore) Append(_ context.Context, events ...event.Event) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, e := range s.events {
		seen[e.AggregateID+"#"+strconv.Itoa(e.Version)] = true
	}
	for _, e := range events {
		key := e.AggregateID + "#" + strconv.Itoa(e.Version)
		if seen[key] {
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, store.ErrConflict)
		}
		seen[key] = true
	}

	now := s.now()
	for _, e := range events {
		s.nextEvent++
		e.ID = strconv.FormatInt(s.nextEvent, 10)
		e.CreatedAt = now
		s.events = append(s.events, e)
	}
	return nil
}

func (r *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []event.Event{}
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []event.Event{}
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}
