// Package httpapi exposes the catalog and marketplace over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/health"
	"github.com/jensholdgaard/cardmarket/internal/identity"
	"github.com/jensholdgaard/cardmarket/internal/market"
	"github.com/jensholdgaard/cardmarket/internal/store"
)

// defaultSampleCount is used when /cards/random has no count.
const defaultSampleCount = 5

// Handler binds the services to HTTP routes.
type Handler struct {
	catalog *catalog.Service
	market  *market.Service
	logger  *slog.Logger
	tp      trace.TracerProvider
}

// NewHandler returns a Handler.
func NewHandler(cat *catalog.Service, mkt *market.Service, logger *slog.Logger, tp trace.TracerProvider) *Handler {
	return &Handler{catalog: cat, market: mkt, logger: logger, tp: tp}
}

// Routes builds the router. The probes in hh are mounted at the root when
// hh is non-nil.
func (h *Handler) Routes(hh *health.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	if hh != nil {
		hh.Mount(r)
	}

	r.Route("/cards", func(r chi.Router) {
		r.Get("/", h.searchCards)
		r.Get("/all", h.allCards)
		r.Get("/random", h.randomCards)
		r.Get("/{id}", h.getCard)
		r.Get("/{id}/listings", h.cardListings)
		r.Get("/{id}/sales", h.cardSales)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Post("/", h.createCard)
			r.Put("/{id}", h.updateCard)
			r.Delete("/{id}", h.deleteCard)
		})
	})

	r.Route("/listings", func(r chi.Router) {
		r.Get("/", h.allListings)
		r.Get("/{id}", h.getListing)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Post("/", h.createListing)
			r.Put("/{id}", h.updateListing)
			r.Post("/{id}/purchase", h.purchase)
			r.Delete("/{id}", h.deleteListing)
		})
	})

	return otelhttp.NewHandler(r, "cardmarket", otelhttp.WithTracerProvider(h.tp))
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, store.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

func (h *Handler) searchCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := h.catalog.ParsePageRequest(q.Get("page"), q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.catalog.Search(r.Context(), catalog.Filters{
		Name:      q.Get("name"),
		Type:      q.Get("type"),
		Archetype: q.Get("archetype"),
	}, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromPage(p))
}

func (h *Handler) allCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.catalog.All(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromCards(cards))
}

func (h *Handler) randomCards(w http.ResponseWriter, r *http.Request) {
	count := defaultSampleCount
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, store.Invalid("count", "must be an integer"))
			return
		}
		count = n
	}
	cards, err := h.catalog.RandomSample(r.Context(), count, r.URL.Query().Get("archetype"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromCards(cards))
}

func (h *Handler) getCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromCard(*c))
}

func (h *Handler) createCard(w http.ResponseWriter, r *http.Request) {
	var body cardRequest
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.catalog.Create(r.Context(), body.toNewCard())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromCard(*c))
}

func (h *Handler) updateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body cardRequest
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.catalog.Update(r.Context(), id, body.toPatch())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromCard(*c))
}

func (h *Handler) deleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cardListings(w http.ResponseWriter, r *http.Request) {
	h.cardRecords(w, r, h.market.ListingsForCard)
}

func (h *Handler) cardSales(w http.ResponseWriter, r *http.Request) {
	h.cardRecords(w, r, h.market.SalesForCard)
}

func (h *Handler) cardRecords(w http.ResponseWriter, r *http.Request, view func(context.Context, int64) ([]market.Record, error)) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := view(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRecords(recs))
}

func (h *Handler) allListings(w http.ResponseWriter, r *http.Request) {
	recs, err := h.market.All(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRecords(recs))
}

func (h *Handler) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.market.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRecord(*rec))
}

// createListing lists a card. The seller defaults to the caller.
func (h *Handler) createListing(w http.ResponseWriter, r *http.Request) {
	var body listingRequest
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.BuyerID != nil || body.SoldAt != nil {
		h.writeError(w, r, store.Invalid("buyer", "new listings start unsold"))
		return
	}
	seller := orZero(body.SellerID)
	if seller == 0 {
		seller, _ = identity.UserFrom(r.Context())
	}
	rec, err := h.market.CreateListing(r.Context(), market.NewListing{
		CardID:   orZero(body.CardID),
		SellerID: seller,
		Price:    body.Price,
		Status:   body.Status.Value,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromRecord(*rec))
}

func (h *Handler) updateListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body listingRequest
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.market.Update(r.Context(), id, body.toPatch())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRecord(*rec))
}

// purchase sells the listing to the caller.
func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	buyer, _ := identity.UserFrom(r.Context())
	rec, err := h.market.Purchase(r.Context(), id, buyer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRecord(*rec))
}

func (h *Handler) deleteListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.market.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
