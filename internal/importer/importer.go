// Package importer seeds the catalog from the public YGOPRODeck card
// database.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/event"
	"github.com/jensholdgaard/cardmarket/internal/store"
)

// Catalog is the subset of catalog.Service the importer writes through.
type Catalog interface {
	ExistsByName(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, in catalog.NewCard) (*store.Card, error)
	Update(ctx context.Context, id int64, p catalog.CardPatch) (*store.Card, error)
}

// Importer fetches card data and creates the cards the catalog lacks.
type Importer struct {
	catalog Catalog
	events  event.Store
	client  *http.Client
	cfg     config.ImporterConfig
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New returns an Importer. A nil client gets a traced default client with
// the configured timeout.
func New(cat Catalog, events event.Store, client *http.Client, cfg config.ImporterConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Importer {
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
		}
	}
	return &Importer{
		catalog: cat,
		events:  events,
		client:  client,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/cardmarket/internal/importer"),
	}
}

// apiCard is one entry of the cardinfo.php response.
type apiCard struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Desc       string `json:"desc"`
	Race       string `json:"race"`
	Archetype  string `json:"archetype"`
	CardImages []struct {
		ImageURL string `json:"image_url"`
	} `json:"card_images"`
}

type apiResponse struct {
	Data  []apiCard `json:"data"`
	Error string    `json:"error"`
}

// Result summarizes one import run.
type Result struct {
	RunID    uuid.UUID
	Fetched  int
	Created  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

func (i *Importer) fetch(ctx context.Context) ([]apiCard, error) {
	u, err := url.Parse(i.cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("parsing source url: %w", err)
	}
	if i.cfg.MaxCards > 0 {
		q := u.Query()
		q.Set("num", strconv.Itoa(i.cfg.MaxCards))
		q.Set("offset", "0")
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching cards: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			i.logger.WarnContext(ctx, "failed to close response body", slog.Any("error", cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetching cards: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding cards: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("source error: %s", out.Error)
	}
	if i.cfg.MaxCards > 0 && len(out.Data) > i.cfg.MaxCards {
		out.Data = out.Data[:i.cfg.MaxCards]
	}
	return out.Data, nil
}

func sourceImage(c apiCard) string {
	if len(c.CardImages) == 0 {
		return ""
	}
	return c.CardImages[0].ImageURL
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// importOne creates a card unless one with the same name exists. With an
// image template the card is created first and its image set from the new
// id afterwards.
func (i *Importer) importOne(ctx context.Context, c apiCard) (created bool, err error) {
	exists, err := i.catalog.ExistsByName(ctx, c.Name)
	if err != nil {
		return false, fmt.Errorf("checking %q: %w", c.Name, err)
	}
	if exists {
		return false, nil
	}

	image := sourceImage(c)
	if image == "" && i.cfg.ImageTemplate == "" {
		return false, store.Invalid("image", "source has no image")
	}
	if image == "" {
		image = "pending"
	}

	card, err := i.catalog.Create(ctx, catalog.NewCard{
		Name:        c.Name,
		Type:        c.Type,
		Description: optional(c.Desc),
		Race:        c.Race,
		Archetype:   optional(c.Archetype),
		Image:       image,
	})
	if err != nil {
		return false, fmt.Errorf("creating %q: %w", c.Name, err)
	}

	if i.cfg.ImageTemplate != "" {
		ref := fmt.Sprintf(i.cfg.ImageTemplate, card.ID)
		if _, err := i.catalog.Update(ctx, card.ID, catalog.CardPatch{Image: &ref}); err != nil {
			return true, fmt.Errorf("setting image for %q: %w", c.Name, err)
		}
	}
	return true, nil
}

// Import runs a single import. Per-card failures are counted and logged; only
// a failed fetch aborts the run.
func (i *Importer) Import(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.New()}
	ctx, span := i.tracer.Start(ctx, "Importer.Import",
		trace.WithAttributes(attribute.String("import.run_id", res.RunID.String())),
	)
	defer span.End()

	start := i.clock.Now()
	cards, err := i.fetch(ctx)
	if err != nil {
		return res, err
	}
	res.Fetched = len(cards)

	for _, c := range cards {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, err := i.importOne(ctx, c)
		switch {
		case err != nil:
			res.Failed++
			i.logger.WarnContext(ctx, "failed to import card",
				slog.String("name", c.Name),
				slog.Any("error", err),
			)
			if created {
				res.Created++
			}
		case created:
			res.Created++
		default:
			res.Skipped++
		}
	}
	res.Duration = i.clock.Now().Sub(start)

	span.SetAttributes(
		attribute.Int("import.fetched", res.Fetched),
		attribute.Int("import.created", res.Created),
	)
	evt, err := event.New("import-"+res.RunID.String(), event.CatalogImported, 1, event.CatalogImportedData{
		Source:   i.cfg.SourceURL,
		Fetched:  res.Fetched,
		Created:  res.Created,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
		Duration: res.Duration.String(),
	})
	if err == nil {
		event.Record(ctx, i.events, i.logger, evt)
	}

	i.logger.InfoContext(ctx, "catalog import finished",
		slog.String("run_id", res.RunID.String()),
		slog.Int("fetched", res.Fetched),
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Run imports once and then every configured interval until ctx is done. A
// zero interval imports once. Failed runs are logged and retried on the next
// tick.
func (i *Importer) Run(ctx context.Context) error {
	if _, err := i.Import(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		i.logger.ErrorContext(ctx, "catalog import failed", slog.Any("error", err))
	}
	if i.cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(i.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := i.Import(ctx); err != nil && !errors.Is(err, context.Canceled) {
				i.logger.ErrorContext(ctx, "catalog import failed", slog.Any("error", err))
			}
		}
	}
}
