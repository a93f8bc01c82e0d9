package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/health"
	"github.com/jensholdgaard/cardmarket/internal/httpapi"
	"github.com/jensholdgaard/cardmarket/internal/market"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/memstore"
)

type apiFixture struct {
	srv    *httptest.Server
	seller int64
	buyer  int64
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	tp := noop.NewTracerProvider()
	clk := clock.NewMock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	repos := memstore.New(clk).Repositories()

	cat := catalog.NewService(repos.Cards, repos.Events, slog.Default(), tp,
		config.CatalogConfig{DefaultLimit: 10, MaxLimit: 50},
		catalog.WithRand(rand.New(rand.NewPCG(1, 2))))
	mkt, err := market.NewService(repos, clk, slog.Default(), tp)
	if err != nil {
		t.Fatalf("market.NewService: %v", err)
	}

	f := &apiFixture{}
	for i, name := range []string{"seller", "buyer"} {
		u := &store.User{Username: name, Email: name + "@example.com"}
		if err := repos.Users.Create(context.Background(), u); err != nil {
			t.Fatalf("Create user: %v", err)
		}
		if i == 0 {
			f.seller = u.ID
		} else {
			f.buyer = u.ID
		}
	}

	hh := health.NewHandler(clk, health.Checker{Name: "database", Check: repos.Ping})
	hh.SetReady(true)
	f.srv = httptest.NewServer(httpapi.NewHandler(cat, mkt, slog.Default(), tp).Routes(hh))
	t.Cleanup(f.srv.Close)
	return f
}

// do sends a request as user (0 for anonymous) and decodes the body into out
// when out is non-nil.
func (f *apiFixture) do(t *testing.T, method, path string, user int64, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if user != 0 {
		req.Header.Set(httpapi.UserHeader, strconv.FormatInt(user, 10))
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type card struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Archetype *string `json:"archetype"`
	Version   int     `json:"version"`
}

type page struct {
	Items      []card `json:"items"`
	TotalCount int    `json:"totalCount"`
	TotalPages int    `json:"totalPages"`
}

type listing struct {
	ID     int64  `json:"id"`
	State  string `json:"state"`
	Price  string `json:"price"`
	Card   card   `json:"card"`
	Seller struct {
		ID int64 `json:"id"`
	} `json:"seller"`
	Buyer *struct {
		ID int64 `json:"id"`
	} `json:"buyer"`
	SoldAt *time.Time `json:"sold_at"`
}

func (f *apiFixture) createCard(t *testing.T, name, archetype string) card {
	t.Helper()
	body := map[string]any{"name": name, "type": "Monster", "race": "Dragon", "image": "/x.jpg"}
	if archetype != "" {
		body["archetype"] = archetype
	}
	var c card
	if code := f.do(t, http.MethodPost, "/cards", f.seller, body, &c); code != http.StatusCreated {
		t.Fatalf("POST /cards = %d, want 201", code)
	}
	return c
}

func TestAPI_RequiresUserForWrites(t *testing.T) {
	f := newAPI(t)
	body := map[string]any{"name": "X", "type": "T", "race": "R", "image": "i"}

	tests := []struct {
		name   string
		method string
		path   string
		header string
	}{
		{name: "create card", method: http.MethodPost, path: "/cards"},
		{name: "create listing", method: http.MethodPost, path: "/listings"},
		{name: "purchase", method: http.MethodPost, path: "/listings/1/purchase"},
		{name: "delete card", method: http.MethodDelete, path: "/cards/1"},
		{name: "non numeric user", method: http.MethodPost, path: "/cards", header: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_ = json.NewEncoder(&buf).Encode(body)
			req, _ := http.NewRequest(tt.method, f.srv.URL+tt.path, &buf)
			if tt.header != "" {
				req.Header.Set(httpapi.UserHeader, tt.header)
			}
			resp, err := f.srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestAPI_CardSearch(t *testing.T) {
	f := newAPI(t)
	f.createCard(t, "Ángel de Luz", "")
	f.createCard(t, "Angel Wing", "")
	for i := range 12 {
		f.createCard(t, fmt.Sprintf("Kuriboh %02d", i), "Kuriboh")
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantItems int
		wantTotal int
		wantPages int
	}{
		{name: "defaults", query: "", wantCode: 200, wantItems: 10, wantTotal: 14, wantPages: 2},
		{name: "second page", query: "?page=2", wantCode: 200, wantItems: 4, wantTotal: 14, wantPages: 2},
		{name: "past the end", query: "?page=9", wantCode: 200, wantItems: 0, wantTotal: 14, wantPages: 2},
		{name: "huge page", query: "?page=100000000000000000&limit=50", wantCode: 200, wantItems: 0, wantTotal: 14, wantPages: 1},
		{name: "diacritics", query: "?name=angel", wantCode: 200, wantItems: 2, wantTotal: 2, wantPages: 1},
		{name: "archetype", query: "?archetype=KURI&limit=5", wantCode: 200, wantItems: 5, wantTotal: 12, wantPages: 3},
		{name: "limit clamped", query: "?limit=999", wantCode: 200, wantItems: 14, wantTotal: 14, wantPages: 1},
		{name: "zero page", query: "?page=0", wantCode: 400},
		{name: "negative limit", query: "?limit=-1", wantCode: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p page
			code := f.do(t, http.MethodGet, "/cards"+tt.query, 0, nil, &p)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if code != 200 {
				return
			}
			if len(p.Items) != tt.wantItems || p.TotalCount != tt.wantTotal || p.TotalPages != tt.wantPages {
				t.Errorf("got %d items, total %d, pages %d; want %d/%d/%d",
					len(p.Items), p.TotalCount, p.TotalPages, tt.wantItems, tt.wantTotal, tt.wantPages)
			}
			if p.Items == nil {
				t.Error("items encoded as null, want []")
			}
		})
	}
}

func TestAPI_CardCRUD(t *testing.T) {
	f := newAPI(t)
	c := f.createCard(t, "Dark Magician", "Dark Magician")

	var got card
	if code := f.do(t, http.MethodGet, fmt.Sprintf("/cards/%d", c.ID), 0, nil, &got); code != 200 || got.Name != "Dark Magician" {
		t.Fatalf("GET = %d %+v", code, got)
	}

	var updated card
	code := f.do(t, http.MethodPut, fmt.Sprintf("/cards/%d", c.ID), f.seller, map[string]any{"archetype": ""}, &updated)
	if code != 200 || updated.Archetype != nil || updated.Version != 2 {
		t.Fatalf("PUT = %d %+v, want archetype cleared at version 2", code, updated)
	}

	if code := f.do(t, http.MethodPut, fmt.Sprintf("/cards/%d", c.ID), f.seller, map[string]any{"name": " "}, nil); code != 400 {
		t.Errorf("blank name = %d, want 400", code)
	}
	if code := f.do(t, http.MethodPost, "/cards", f.seller, `{"name":`, nil); code != 400 {
		t.Errorf("malformed body = %d, want 400", code)
	}
	if code := f.do(t, http.MethodDelete, fmt.Sprintf("/cards/%d", c.ID), f.seller, nil, nil); code != 204 {
		t.Errorf("DELETE = %d, want 204", code)
	}
	if code := f.do(t, http.MethodGet, fmt.Sprintf("/cards/%d", c.ID), 0, nil, nil); code != 404 {
		t.Errorf("GET after delete = %d, want 404", code)
	}
	if code := f.do(t, http.MethodGet, "/cards/abc", 0, nil, nil); code != 400 {
		t.Errorf("GET bad id = %d, want 400", code)
	}
}

func TestAPI_CardPatchNullVersusAbsent(t *testing.T) {
	f := newAPI(t)
	c := f.createCard(t, "Kuriboh", "Kuriboh")
	path := fmt.Sprintf("/cards/%d", c.ID)

	var kept card
	if code := f.do(t, http.MethodPut, path, f.seller, map[string]any{"name": "Winged Kuriboh"}, &kept); code != 200 {
		t.Fatalf("PUT name = %d", code)
	}
	if kept.Archetype == nil || *kept.Archetype != "Kuriboh" {
		t.Errorf("absent archetype changed to %v, want Kuriboh", kept.Archetype)
	}

	var cleared card
	if code := f.do(t, http.MethodPut, path, f.seller, map[string]any{"archetype": nil}, &cleared); code != 200 {
		t.Fatalf("PUT null archetype = %d", code)
	}
	if cleared.Archetype != nil || cleared.Name != "Winged Kuriboh" {
		t.Errorf("after null: %+v, want archetype cleared and name kept", cleared)
	}

	if code := f.do(t, http.MethodPut, path, f.seller, map[string]any{"archetype": 7}, nil); code != 400 {
		t.Errorf("numeric archetype = %d, want 400", code)
	}
}

func TestAPI_ListThenSell(t *testing.T) {
	f := newAPI(t)
	c := f.createCard(t, "Blue-Eyes White Dragon", "Blue-Eyes")

	var l listing
	code := f.do(t, http.MethodPost, "/listings", f.seller, map[string]any{"card_id": c.ID, "price": "9.99"}, &l)
	if code != http.StatusCreated {
		t.Fatalf("POST /listings = %d, want 201", code)
	}
	if l.State != "listed" || l.Price != "9.99" || l.Seller.ID != f.seller || l.Buyer != nil {
		t.Fatalf("created listing = %+v", l)
	}

	var sold listing
	if code := f.do(t, http.MethodPost, fmt.Sprintf("/listings/%d/purchase", l.ID), f.buyer, nil, &sold); code != 200 {
		t.Fatalf("purchase = %d, want 200", code)
	}
	if sold.State != "sold" || sold.Buyer == nil || sold.Buyer.ID != f.buyer || sold.SoldAt == nil {
		t.Fatalf("sold listing = %+v", sold)
	}
	if code := f.do(t, http.MethodPost, fmt.Sprintf("/listings/%d/purchase", l.ID), f.buyer, nil, nil); code != http.StatusConflict {
		t.Errorf("second purchase = %d, want 409", code)
	}

	var open, sales []listing
	f.do(t, http.MethodGet, fmt.Sprintf("/cards/%d/listings", c.ID), 0, nil, &open)
	f.do(t, http.MethodGet, fmt.Sprintf("/cards/%d/sales", c.ID), 0, nil, &sales)
	if len(open) != 0 || len(sales) != 1 || sales[0].ID != l.ID {
		t.Errorf("listings=%d sales=%d, want 0/1", len(open), len(sales))
	}
}

func TestAPI_ListingErrors(t *testing.T) {
	f := newAPI(t)
	c := f.createCard(t, "Kuriboh", "")
	var l listing
	f.do(t, http.MethodPost, "/listings", f.seller, map[string]any{"card_id": c.ID, "price": 2}, &l)

	tests := []struct {
		name     string
		method   string
		path     string
		user     int64
		body     any
		wantCode int
	}{
		{name: "zero price", method: http.MethodPost, path: "/listings", user: f.seller, body: map[string]any{"card_id": c.ID, "price": "0"}, wantCode: 400},
		{name: "three decimals", method: http.MethodPost, path: "/listings", user: f.seller, body: map[string]any{"card_id": c.ID, "price": "1.001"}, wantCode: 400},
		{name: "unknown card", method: http.MethodPost, path: "/listings", user: f.seller, body: map[string]any{"card_id": 999, "price": "1"}, wantCode: 404},
		{name: "created sold", method: http.MethodPost, path: "/listings", user: f.seller, body: map[string]any{"card_id": c.ID, "price": "1", "buyer_id": f.buyer}, wantCode: 400},
		{name: "own purchase", method: http.MethodPost, path: fmt.Sprintf("/listings/%d/purchase", l.ID), user: f.seller, wantCode: 400},
		{name: "sold_at without buyer", method: http.MethodPut, path: fmt.Sprintf("/listings/%d", l.ID), user: f.seller, body: map[string]any{"sold_at": "2024-06-01T10:00:00Z"}, wantCode: 400},
		{name: "unknown listing", method: http.MethodGet, path: "/listings/999", wantCode: 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := f.do(t, tt.method, tt.path, tt.user, tt.body, nil); code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
		})
	}

	if code := f.do(t, http.MethodDelete, fmt.Sprintf("/listings/%d", l.ID), f.seller, nil, nil); code != 204 {
		t.Errorf("DELETE = %d, want 204", code)
	}
	var all []listing
	f.do(t, http.MethodGet, "/listings", 0, nil, &all)
	if len(all) != 0 {
		t.Errorf("GET /listings returned %d after delete", len(all))
	}
}

func TestAPI_RandomCards(t *testing.T) {
	f := newAPI(t)
	f.createCard(t, "Blue-Eyes White Dragon", "Blue-Eyes")
	f.createCard(t, "Blue-Eyes Shining Dragon", "Blue-Eyes")
	for i := range 10 {
		f.createCard(t, fmt.Sprintf("Other %d", i), "Other")
	}

	var got []card
	if code := f.do(t, http.MethodGet, "/cards/random?archetype=Blue-Eyes&count=5", 0, nil, &got); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 5 {
		t.Fatalf("got %d cards, want 5", len(got))
	}
	seen := map[int64]bool{}
	for _, c := range got {
		if seen[c.ID] {
			t.Errorf("card %d drawn twice", c.ID)
		}
		seen[c.ID] = true
	}

	if code := f.do(t, http.MethodGet, "/cards/random?archetype=Nothing", 0, nil, &got); code != 200 || len(got) != 0 {
		t.Errorf("empty pool = %d with %d cards, want 200 and []", code, len(got))
	}
	if code := f.do(t, http.MethodGet, "/cards/random?count=5", 0, nil, nil); code != 400 {
		t.Errorf("missing archetype = %d, want 400", code)
	}
	if code := f.do(t, http.MethodGet, "/cards/random?archetype=Blue-Eyes&count=51", 0, nil, nil); code != 400 {
		t.Errorf("count above max = %d, want 400", code)
	}
	if code := f.do(t, http.MethodGet, "/cards/random?archetype=Other&count=x", 0, nil, nil); code != 400 {
		t.Errorf("bad count = %d, want 400", code)
	}
}

func TestAPI_Probes(t *testing.T) {
	f := newAPI(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if code := f.do(t, http.MethodGet, path, 0, nil, nil); code != 200 {
			t.Errorf("GET %s = %d, want 200", path, code)
		}
	}
}
