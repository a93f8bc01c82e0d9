package commands_test

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/cardmarket/internal/bot/commands"
	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/market"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/memstore"
)

func newHandlers(t *testing.T) (*commands.Handlers, *catalog.Service, *market.Service, int64) {
	t.Helper()
	tp := noop.NewTracerProvider()
	clk := clock.NewMock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	repos := memstore.New(clk).Repositories()

	cat := catalog.NewService(repos.Cards, repos.Events, slog.Default(), tp,
		config.CatalogConfig{DefaultLimit: 10, MaxLimit: 100},
		catalog.WithRand(rand.New(rand.NewPCG(7, 7))))
	mkt, err := market.NewService(repos, clk, slog.Default(), tp)
	if err != nil {
		t.Fatal(err)
	}
	seller := &store.User{Username: "kaiba", Email: "kaiba@example.com"}
	if err := repos.Users.Create(context.Background(), seller); err != nil {
		t.Fatal(err)
	}
	return commands.NewHandlers(cat, mkt, slog.Default(), tp), cat, mkt, seller.ID
}

func addCard(t *testing.T, cat *catalog.Service, name, archetype string) *store.Card {
	t.Helper()
	c, err := cat.Create(context.Background(), catalog.NewCard{
		Name: name, Type: "Monster", Race: "Dragon", Archetype: &archetype, Image: "/x.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSlashCommands(t *testing.T) {
	want := map[string]bool{"card": true, "price": true, "sample": true}
	for _, c := range commands.SlashCommands() {
		if !want[c.Name] {
			t.Errorf("unexpected command %q", c.Name)
		}
		delete(want, c.Name)
		if c.Description == "" {
			t.Errorf("command %q has no description", c.Name)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing commands: %v", want)
	}
}

func TestHandlers_Handle(t *testing.T) {
	h, cat, mkt, seller := newHandlers(t)
	ctx := context.Background()

	be := addCard(t, cat, "Blue-Eyes White Dragon", "Blue-Eyes")
	addCard(t, cat, "Blue-Eyes Shining Dragon", "Blue-Eyes")
	addCard(t, cat, "Dark Magician", "Dark Magician")

	for _, p := range []string{"12.50", "9.99"} {
		d := decimal.RequireFromString(p)
		if _, err := mkt.CreateListing(ctx, market.NewListing{CardID: be.ID, SellerID: seller, Price: &d}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		command string
		opts    map[string]commands.Option
		want    []string
	}{
		{name: "card matches", command: "card", opts: map[string]commands.Option{"name": {Str: "blue-eyes"}}, want: []string{"**2** cards", "Blue-Eyes White Dragon", "Blue-Eyes Shining Dragon"}},
		{name: "card no match", command: "card", opts: map[string]commands.Option{"name": {Str: "exodia"}}, want: []string{"No cards match"}},
		{name: "price cheapest", command: "price", opts: map[string]commands.Option{"card": {Str: "white dragon"}}, want: []string{"9.99", "kaiba", "2 listings"}},
		{name: "price unlisted", command: "price", opts: map[string]commands.Option{"card": {Str: "magician"}}, want: []string{"not listed"}},
		{name: "sample", command: "sample", opts: map[string]commands.Option{"archetype": {Str: "Blue-Eyes"}, "count": {Int: 2}}, want: []string{"Drew 2 cards"}},
		{name: "sample fills from others", command: "sample", opts: map[string]commands.Option{"archetype": {Str: "Dark Magician"}, "count": {Int: 3}}, want: []string{"Drew 3 cards"}},
		{name: "sample empty archetype", command: "sample", opts: map[string]commands.Option{"archetype": {Str: "Kuriboh"}}, want: []string{"No cards in archetype"}},
		{name: "sample missing archetype", command: "sample", opts: map[string]commands.Option{}, want: []string{"Invalid archetype"}},
		{name: "unknown", command: "trade", want: []string{"Unknown command"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Handle(ctx, tt.command, tt.opts)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("reply %q does not contain %q", got, w)
				}
			}
		})
	}
}

type failingCatalog struct{}

func (failingCatalog) Search(context.Context, catalog.Filters, catalog.PageRequest) (*catalog.Page, error) {
	return nil, &store.OpError{Op: "search", Err: errors.New("connection reset")}
}

func (failingCatalog) RandomSample(context.Context, int, string) ([]store.Card, error) {
	return nil, &store.OpError{Op: "sample", Err: errors.New("connection reset")}
}

func TestHandlers_HidesStoreErrors(t *testing.T) {
	h := commands.NewHandlers(failingCatalog{}, nil, slog.Default(), noop.NewTracerProvider())
	got := h.Handle(context.Background(), "card", map[string]commands.Option{"name": {Str: "x"}})
	if strings.Contains(got, "connection reset") {
		t.Errorf("reply leaks store error: %q", got)
	}
}
