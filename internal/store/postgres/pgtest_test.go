package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

// newTestDB starts a Postgres container, applies the migrations, and returns
// a connected *sqlx.DB. The container is automatically terminated when the
// test ends.
func newTestDB(t *testing.T) *sqlx.DB {
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

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := pgschema.Migrate(ctx, db.DB); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	// A second run must be a no-op.
	if err := pgschema.Migrate(ctx, db.DB); err != nil {
		t.Fatalf("re-applying migrations: %v", err)
	}

	return db
}

func strPtr(s string) *string { return &s }

func seedUser(t *testing.T, repo store.UserRepository, name string) *store.User {
	t.Helper()
	u := &store.User{Username: name, Email: name + "@example.com"}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create user %s: %v", name, err)
	}
	return u
}

func seedCard(t *testing.T, repo store.CardRepository, name string, archetype *string) *store.Card {
	t.Helper()
	c := &store.Card{Name: name, Type: "Normal Monster", Race: "Dragon", Archetype: archetype, Image: "img/" + name}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("Create card %s: %v", name, err)
	}
	return c
}
