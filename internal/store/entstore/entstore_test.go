package entstore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/entstore"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("cardmarket_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := pgschema.Migrate(ctx, db); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db
}

func TestEntStore_ListingLifecycle(t *testing.T) {
	db := newTestDB(t)
	repos := entstore.NewRepositories(db, clock.Real{})
	ctx := context.Background()

	seller := &store.User{Username: "seller", Email: "seller@example.com"}
	buyer := &store.User{Username: "buyer", Email: "buyer@example.com"}
	for _, u := range []*store.User{seller, buyer} {
		if err := repos.Users.Create(ctx, u); err != nil {
			t.Fatalf("Create user: %v", err)
		}
	}

	archetype := "Blue-Eyes"
	c := &store.Card{Name: "Blue-Eyes White Dragon", Type: "Normal Monster", Race: "Dragon", Archetype: &archetype, Image: "img/1"}
	if err := repos.Cards.Create(ctx, c); err != nil {
		t.Fatalf("Create card: %v", err)
	}

	cheap := &store.Listing{CardID: c.ID, SellerID: seller.ID, Price: decimal.RequireFromString("1.50")}
	dear := &store.Listing{CardID: c.ID, SellerID: seller.ID, Price: decimal.RequireFromString("7.00")}
	for _, l := range []*store.Listing{dear, cheap} {
		if err := repos.Listings.Create(ctx, l); err != nil {
			t.Fatalf("Create listing: %v", err)
		}
	}

	soldAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	dear.BuyerID = &buyer.ID
	dear.SoldAt = &soldAt
	if err := repos.Listings.MarkSold(ctx, dear); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	stale := *dear
	stale.Version = 1
	if err := repos.Listings.MarkSold(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second MarkSold error = %v, want ErrConflict", err)
	}

	open, err := repos.Listings.ListByCard(ctx, c.ID, store.StateListed)
	if err != nil {
		t.Fatalf("ListByCard(listed): %v", err)
	}
	if len(open) != 1 || open[0].ID != cheap.ID {
		t.Fatalf("listed = %+v, want only %d", open, cheap.ID)
	}

	sold, err := repos.Listings.ListByCard(ctx, c.ID, store.StateSold)
	if err != nil {
		t.Fatalf("ListByCard(sold): %v", err)
	}
	if len(sold) != 1 || sold[0].Buyer == nil || sold[0].Buyer.ID != buyer.ID {
		t.Fatalf("sold = %+v, want one sale to buyer %d", sold, buyer.ID)
	}
	if !sold[0].SoldAt.Equal(soldAt) {
		t.Errorf("SoldAt = %v, want %v", sold[0].SoldAt, soldAt)
	}
}

func TestEntStore_CardSearch(t *testing.T) {
	db := newTestDB(t)
	repos := entstore.NewRepositories(db, clock.Real{})
	ctx := context.Background()

	for _, name := range []string{"Ángel Caído", "Angel of Zera", "Kuriboh"} {
		c := &store.Card{Name: name, Type: "Effect Monster", Race: "Fairy", Image: "img"}
		if err := repos.Cards.Create(ctx, c); err != nil {
			t.Fatalf("Create card: %v", err)
		}
	}

	n, err := repos.Cards.Count(ctx, store.CardFilter{Name: "angel"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count(angel) = %d, want 2", n)
	}

	page, err := repos.Cards.Search(ctx, store.CardFilter{Name: "angel"}, 1, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page) != 1 || page[0].Name != "Angel of Zera" {
		t.Errorf("Search window = %+v, want [Angel of Zera]", page)
	}
}
