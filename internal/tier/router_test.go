package tier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"skyvault/internal/hotstore"
	"skyvault/internal/models"
)

var routerNow = time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)

func auctionAt(id string, end time.Time, sold bool) models.Auction {
	return models.Auction{UUID: id, Tag: "HYPERION", End: end, Sold: sold, HighestBid: 1000}
}

// hotBacked builds a router whose hot tier serves rows from a slice and
// whose cold tier serves canned months.
func hotBacked(hotRows []models.Auction, coldMonths map[string][]models.Auction, retention int) *Router {
	r := &Router{
		retentionMonths: retention,
		coldEnabled:     coldMonths != nil,
		now:             func() time.Time { return routerNow },
		hotRange: func(_ context.Context, _ string, t0, t1 time.Time, sold *bool, _ int) Stream {
			return newSliceStream(windowFilter(hotRows, t0, t1, sold))
		},
		hotByUUID: func(_ context.Context, id string) ([]models.Auction, error) {
			var out []models.Auction
			for _, a := range hotRows {
				if a.UUID == id {
					out = append(out, a)
				}
			}
			if len(out) == 0 {
				return nil, hotstore.ErrNotFound
			}
			return out, nil
		},
	}
	if coldMonths != nil {
		r.coldMonth = func(_ context.Context, _ string, y, m int) ([]models.Auction, error) {
			return coldMonths[fmt.Sprintf("%04d-%02d", y, m)], nil
		}
		r.coldLookup = func(_ context.Context, id string) ([]models.Auction, error) {
			var out []models.Auction
			for _, rows := range coldMonths {
				for _, a := range rows {
					if a.UUID == id {
						out = append(out, a)
					}
				}
			}
			return out, nil
		}
	}
	return r
}

func drain(t *testing.T, s Stream) []models.Auction {
	t.Helper()
	defer s.Close()
	var out []models.Auction
	for {
		a, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, a)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	return out
}

func TestFilteredAllHot(t *testing.T) {
	t.Parallel()

	rows := []models.Auction{
		auctionAt("a1", routerNow.Add(-1*time.Hour), true),
		auctionAt("a2", routerNow.Add(-2*time.Hour), true),
		auctionAt("a3", routerNow.Add(-3*time.Hour), false),
	}
	r := hotBacked(rows, map[string][]models.Auction{}, 3)

	got := drain(t, r.Filtered(context.Background(), "HYPERION", routerNow.Add(-24*time.Hour), routerNow, nil, nil, 0))
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].End.After(got[i-1].End) {
			t.Fatalf("rows out of order: %v after %v", got[i].End, got[i-1].End)
		}
	}
}

func TestFilteredSpansTiers(t *testing.T) {
	t.Parallel()

	// Hot holds the last three months; January is sealed cold.
	hotRows := []models.Auction{
		auctionAt("h1", routerNow.Add(-24*time.Hour), true),
		auctionAt("h2", routerNow.Add(-60*24*time.Hour), true),
	}
	cold := map[string][]models.Auction{
		"2023-01": {
			auctionAt("c1", time.Date(2023, 1, 20, 10, 0, 0, 0, time.UTC), true),
			auctionAt("c2", time.Date(2023, 1, 5, 10, 0, 0, 0, time.UTC), true),
		},
	}
	r := hotBacked(hotRows, cold, 3)

	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	got := drain(t, r.Filtered(context.Background(), "HYPERION", t0, routerNow, nil, nil, 0))
	if len(got) != 4 {
		t.Fatalf("got %d rows, want 4 across both tiers: %+v", len(got), ids(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].End.After(got[i-1].End) {
			t.Fatalf("merged stream out of order at %d", i)
		}
	}
	if got[0].UUID != "h1" || got[3].UUID != "c2" {
		t.Fatalf("order = %v", ids(got))
	}
}

func TestFilteredColdErrorElidesMonth(t *testing.T) {
	t.Parallel()

	hotRows := []models.Auction{auctionAt("h1", routerNow.Add(-time.Hour), true)}
	r := hotBacked(hotRows, map[string][]models.Auction{}, 3)
	r.coldMonth = func(context.Context, string, int, int) ([]models.Auction, error) {
		return nil, errors.New("bucket gone")
	}

	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	got := drain(t, r.Filtered(context.Background(), "HYPERION", t0, routerNow, nil, nil, 0))
	if len(got) != 1 || got[0].UUID != "h1" {
		t.Fatalf("got %v, want just the hot row", ids(got))
	}
}

func TestFilteredUnsealedMonthFallsBackToHot(t *testing.T) {
	t.Parallel()

	// A row from February is older than retention but never migrated; the
	// cold tier has no blob, so the router must still find it in hot.
	old := auctionAt("stale", time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC), true)
	r := hotBacked([]models.Auction{old}, map[string][]models.Auction{}, 3)

	t0 := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	got := drain(t, r.Filtered(context.Background(), "HYPERION", t0, t1, nil, nil, 0))
	if len(got) != 1 || got[0].UUID != "stale" {
		t.Fatalf("got %v, want the unmigrated row via fallback", ids(got))
	}
}

func TestFilteredLimitAndPredicate(t *testing.T) {
	t.Parallel()

	var rows []models.Auction
	for i := 0; i < 20; i++ {
		a := auctionAt(fmt.Sprintf("a%02d", i), routerNow.Add(-time.Duration(i+1)*time.Hour), i%2 == 0)
		rows = append(rows, a)
	}
	r := hotBacked(rows, nil, 3)

	sold := true
	pred := func(a *models.Auction) bool { return a.Sold }
	got := drain(t, r.Filtered(context.Background(), "HYPERION", routerNow.Add(-48*time.Hour), routerNow, &sold, pred, 5))
	if len(got) != 5 {
		t.Fatalf("limit ignored: got %d rows", len(got))
	}
	for _, a := range got {
		if !a.Sold {
			t.Fatalf("predicate ignored: %v", a.UUID)
		}
	}
}

func TestVersionsMergesTiers(t *testing.T) {
	t.Parallel()

	end := time.Date(2023, 1, 20, 10, 0, 0, 0, time.UTC)
	listed := auctionAt("dead-id", end, false)
	soldV := auctionAt("dead-id", end, true)
	r := hotBacked([]models.Auction{listed}, map[string][]models.Auction{"2023-01": {soldV, listed}}, 3)

	got, err := r.Versions(context.Background(), "dead-id")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d versions, want 2 (hot listing deduped against cold copy)", len(got))
	}

	if _, err := r.Versions(context.Background(), "missing"); err != hotstore.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSplitPoint(t *testing.T) {
	t.Parallel()

	r := hotBacked(nil, map[string][]models.Auction{}, 3)
	cutoff := r.RetentionCutoff()

	// Entirely inside retention: boundary collapses to t0.
	t0 := routerNow.Add(-24 * time.Hour)
	if got := r.splitPoint("HYPERION", t0, routerNow); !got.Equal(t0) {
		t.Errorf("split inside retention = %v, want %v", got, t0)
	}

	// Entirely before retention: boundary collapses to t1.
	oldT0 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	oldT1 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := r.splitPoint("HYPERION", oldT0, oldT1); !got.Equal(oldT1) {
		t.Errorf("split before retention = %v, want %v", got, oldT1)
	}

	// Straddling: boundary lands on a bucket edge at or before the cutoff.
	got := r.splitPoint("HYPERION", oldT0, routerNow)
	if got.After(cutoff) {
		t.Errorf("split %v is after cutoff %v", got, cutoff)
	}
	if got.Before(oldT0) || got.After(routerNow) {
		t.Errorf("split %v outside window", got)
	}
}

func ids(rows []models.Auction) []string {
	out := make([]string, len(rows))
	for i, a := range rows {
		out[i] = a.UUID
	}
	return out
}
