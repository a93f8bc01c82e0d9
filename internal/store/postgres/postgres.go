// Package postgres provides the "sqlx" store.Driver backed by Postgres.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

func init() {
	store.Register("sqlx", open)
}

// open is the store.Driver for the "sqlx" backend.
func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := pgschema.Migrate(ctx, db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}
	return NewRepositories(db, clk), nil
}

// NewRepositories wires every sqlx repository onto db.
func NewRepositories(db *sqlx.DB, clk clock.Clock) *store.Repositories {
	return &store.Repositories{
		Cards:    NewCardRepo(db, clk),
		Listings: NewListingRepo(db, clk),
		Users:    NewUserRepo(db, clk),
		Events:   NewEventStore(db),
		Closer:   store.CloserFunc(db.Close),
		Ping:     db.PingContext,
	}
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
