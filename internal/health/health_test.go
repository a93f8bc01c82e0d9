package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/health"
)

var testClk = clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

func serve(t *testing.T, h *health.Handler, path string) (int, health.Status) {
	t.Helper()
	r := chi.NewRouter()
	h.Mount(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var s health.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return rec.Code, s
}

func TestLivenessHandler(t *testing.T) {
	h := health.NewHandler(testClk)

	code, s := serve(t, h, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("got status %d, want %d", code, http.StatusOK)
	}
	if s.Status != "ok" {
		t.Errorf("got status %q, want %q", s.Status, "ok")
	}
	if s.Timestamp != "2024-06-01T12:00:00Z" {
		t.Errorf("got timestamp %q", s.Timestamp)
	}
	if s.Leader != nil {
		t.Errorf("leader reported before election: %v", *s.Leader)
	}

	h.SetLeader(true)
	if _, s := serve(t, h, "/healthz"); s.Leader == nil || !*s.Leader {
		t.Errorf("leader = %v, want true", s.Leader)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		ready      bool
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "not ready",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "ready no checkers",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "ready all checks pass",
			ready:      true,
			checkers:   []health.Checker{{Name: "database", Check: ok}, {Name: "discord", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"database": "ok", "discord": "ok"},
		},
		{
			name:       "ready but check fails",
			ready:      true,
			checkers:   []health.Checker{{Name: "database", Check: fail}, {Name: "discord", Check: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"database": "connection refused", "discord": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, tt.checkers...)
			h.SetReady(tt.ready)

			code, s := serve(t, h, "/readyz")
			if code != tt.wantCode {
				t.Errorf("got status %d, want %d", code, tt.wantCode)
			}
			if s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if s.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, s.Checks[name], want)
				}
			}
		})
	}
}
