package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jensholdgaard/cardmarket/internal/store"
)

func archetypeOf(c store.Card) string {
	if c.Archetype == nil {
		return ""
	}
	return *c.Archetype
}

func assertDistinct(t *testing.T, cards []store.Card) {
	t.Helper()
	seen := map[int64]bool{}
	for _, c := range cards {
		if seen[c.ID] {
			t.Errorf("card %d returned twice", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestService_RandomSampleFromLargePool(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	seedNames(t, svc, "Blue-Eyes", 8, strPtr("Blue-Eyes"))
	seedNames(t, svc, "Other", 5, strPtr("Red-Eyes"))

	got, err := svc.RandomSample(ctx, 5, "Blue-Eyes")
	if err != nil {
		t.Fatalf("RandomSample: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d cards, want 5", len(got))
	}
	assertDistinct(t, got)
	for _, c := range got {
		if archetypeOf(c) != "Blue-Eyes" {
			t.Errorf("card %q has archetype %q, want Blue-Eyes", c.Name, archetypeOf(c))
		}
	}
}

func TestService_RandomSampleCoversPool(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	seedNames(t, svc, "Blue-Eyes", 6, strPtr("Blue-Eyes"))

	seen := map[int64]bool{}
	for range 50 {
		got, err := svc.RandomSample(ctx, 2, "Blue-Eyes")
		if err != nil {
			t.Fatalf("RandomSample: %v", err)
		}
		for _, c := range got {
			seen[c.ID] = true
		}
	}
	if len(seen) != 6 {
		t.Errorf("50 draws reached %d of 6 pool cards", len(seen))
	}
}

// Sampling 5 "Blue-Eyes" from a catalog with 2 of them and 10 others.
func TestService_RandomSampleFallback(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	seedNames(t, svc, "Blue-Eyes", 2, strPtr("Blue-Eyes"))
	seedNames(t, svc, "Dark", 5, strPtr("Dark Magician"))
	seedNames(t, svc, "Plain", 5, nil)

	got, err := svc.RandomSample(ctx, 5, "Blue-Eyes")
	if err != nil {
		t.Fatalf("RandomSample: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d cards, want 5", len(got))
	}
	assertDistinct(t, got)
	for i, c := range got {
		isBlueEyes := archetypeOf(c) == "Blue-Eyes"
		if i < 2 && !isBlueEyes {
			t.Errorf("card %d = %q, want Blue-Eyes first", i, c.Name)
		}
		if i >= 2 && isBlueEyes {
			t.Errorf("card %d = %q, want a fallback card", i, c.Name)
		}
	}
}

func TestService_RandomSampleCatalogTooSmall(t *testing.T) {
	svc, _ := newService(t)
	seedNames(t, svc, "Blue-Eyes", 1, strPtr("Blue-Eyes"))
	seedNames(t, svc, "Other", 2, nil)

	got, err := svc.RandomSample(context.Background(), 10, "Blue-Eyes")
	if err != nil {
		t.Fatalf("RandomSample: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d cards, want all 3 in the catalog", len(got))
	}
}

func TestService_RandomSampleEmptyPool(t *testing.T) {
	svc, _ := newService(t)
	seedNames(t, svc, "Other", 5, strPtr("Red-Eyes"))

	got, err := svc.RandomSample(context.Background(), 3, "Blue-Eyes")
	if err != nil {
		t.Fatalf("RandomSample: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestService_RandomSampleExactArchetype(t *testing.T) {
	svc, _ := newService(t)
	seedNames(t, svc, "Blue-Eyes", 2, strPtr("Blue-Eyes"))

	got, err := svc.RandomSample(context.Background(), 2, "blue-eyes")
	if err != nil {
		t.Fatalf("RandomSample: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("archetype match is exact, got %d cards for a case variant", len(got))
	}
}

func TestService_RandomSampleValidation(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name      string
		count     int
		archetype string
		wantField string
	}{
		{name: "zero count", count: 0, archetype: "Blue-Eyes", wantField: "count"},
		{name: "negative count", count: -2, archetype: "Blue-Eyes", wantField: "count"},
		{name: "blank archetype", count: 3, archetype: "   ", wantField: "archetype"},
		{name: "count above max", count: testLimits.MaxLimit + 1, archetype: "Blue-Eyes", wantField: "count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RandomSample(context.Background(), tt.count, tt.archetype)
			var ve *store.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("error = %v, want ValidationError on %q", err, tt.wantField)
			}
		})
	}
}
