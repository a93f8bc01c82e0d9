package store_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/cardmarket/internal/store/entstore"
	_ "github.com/jensholdgaard/cardmarket/internal/store/memstore"
	_ "github.com/jensholdgaard/cardmarket/internal/store/postgres"
)

// fakeDriver is a store.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (*store.Repositories, error) {
	return &store.Repositories{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{name: "registered driver succeeds", driver: "test-driver"},
		{name: "memory driver succeeds", driver: "memory"},
		{name: "unknown driver fails", driver: "nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	for _, name := range []string{"ent", "memory", "sqlx"} {
		if !slices.Contains(store.Drivers(), name) {
			t.Errorf("driver %q not registered (have %v)", name, store.Drivers())
		}
	}

	// The SQL drivers fail to connect without a database, but the failure must
	// come from the connection rather than the registry.
	for _, driver := range []string{"sqlx", "ent"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: driver, Host: "127.0.0.1", Port: 1, SSLMode: "disable"}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if err == nil {
				t.Fatal("expected error (no DB running), got nil")
			}
			if strings.Contains(err.Error(), "unknown store driver") {
				t.Errorf("expected connection error, got unknown driver error: %v", err)
			}
		})
	}
}

func TestWrapOp(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name       string
		err        error
		wantOp     bool
		wantTarget error
	}{
		{name: "nil stays nil"},
		{name: "opaque error wrapped", err: cause, wantOp: true, wantTarget: cause},
		{name: "not found kept", err: store.NotFound("card", 3), wantTarget: store.ErrNotFound},
		{name: "conflict kept", err: store.ErrConflict, wantTarget: store.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.WrapOp("loading", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("WrapOp(nil) = %v", got)
				}
				return
			}
			var op *store.OpError
			if errors.As(got, &op) != tt.wantOp {
				t.Errorf("errors.As(*OpError) = %v, want %v (err %v)", !tt.wantOp, tt.wantOp, got)
			}
			if !errors.Is(got, tt.wantTarget) {
				t.Errorf("errors.Is(%v, %v) = false", got, tt.wantTarget)
			}
		})
	}

	var ve *store.ValidationError
	if err := store.WrapOp("creating", store.Invalid("price", "must be positive")); !errors.As(err, &ve) || ve.Field != "price" {
		t.Errorf("validation error not preserved: %v", err)
	}
}
