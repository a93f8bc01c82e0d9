// Package entstore provides a store.Driver backed by ent-style plain SQL
// executed through database/sql with OTEL instrumentation via otelsql.
//
// This implementation uses the same Postgres database and schema as the sqlx
// driver but accesses it through the standard database/sql interface, which is
// the approach ent uses under the hood.
package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

func init() {
	store.Register("ent", openEnt)
}

// openEnt is the store.Driver for the "ent" backend.
func openEnt(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := pgschema.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating ent database: %w", err)
		}
	}
	return NewRepositories(db, clk), nil
}

// NewRepositories wires every database/sql repository onto db.
func NewRepositories(db *sql.DB, clk clock.Clock) *store.Repositories {
	return &store.Repositories{
		Cards:    NewCardRepo(db, clk),
		Listings: NewListingRepo(db, clk),
		Users:    NewUserRepo(db, clk),
		Events:   NewEventStore(db),
		Closer:   store.CloserFunc(db.Close),
		Ping:     db.PingContext,
	}
}

// Connect opens and verifies a Postgres connection via database/sql with OTEL
// instrumentation. This is the connection style ent uses internally.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN()

	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("opening ent database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging ent database: %w", err)
	}

	return db, nil
}

// rowAffected reports whether a write touched any row.
func rowAffected(result sql.Result) bool {
	n, _ := result.RowsAffected()
	return n > 0
}

// exists runs a SELECT EXISTS statement.
func exists(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	var ok bool
	err := db.QueryRowContext(ctx, query, args...).Scan(&ok)
	return ok, err
}
