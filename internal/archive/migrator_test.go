package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"skyvault/internal/models"
)

var migNow = time.Date(2019, time.July, 10, 9, 0, 0, 0, time.UTC)

func monthAuction(tag string, monthStart time.Time, i int) models.Auction {
	return models.Auction{
		UUID:       fmt.Sprintf("%08x-aaaa-4000-8000-%012x", i+1, i+1),
		Tag:        tag,
		Seller:     "b1f2a3c4-0000-4000-8000-000000000001",
		HighestBid: int64(1000 + i),
		End:        monthStart.AddDate(0, 0, 2).Add(time.Duration(i) * time.Hour),
		Sold:       true,
	}
}

// archiveWorld fakes both stores behind the migrator's seams.
type archiveWorld struct {
	tags     []string
	hot      map[string][]models.Auction // live rows per tag
	cold     map[string][]models.Auction // sealed rows per tag|yyyy-mm
	deleted  [][]models.Auction
	collects int
	tamper   func([]models.Auction) []models.Auction // applied on read-back
}

func newArchiveWorld(tags ...string) *archiveWorld {
	return &archiveWorld{
		tags: tags,
		hot:  make(map[string][]models.Auction),
		cold: make(map[string][]models.Auction),
	}
}

func coldKey(tag string, year, month int) string {
	return fmt.Sprintf("%s|%04d-%02d", tag, year, month)
}

func (w *archiveWorld) migrator(retention int, dryRun bool) *Migrator {
	return &Migrator{
		retentionMonths: retention,
		dryRun:          dryRun,
		distinctTags:    func(context.Context) ([]string, error) { return w.tags, nil },
		collect: func(_ context.Context, tag string, t0, t1 time.Time) ([]models.Auction, error) {
			w.collects++
			var out []models.Auction
			for _, a := range w.hot[tag] {
				if a.End.After(t0) && !a.End.After(t1) {
					out = append(out, a)
				}
			}
			return out, nil
		},
		deleteRows: func(_ context.Context, rows []models.Auction) error {
			w.deleted = append(w.deleted, rows)
			return nil
		},
		monthExists: func(_ context.Context, tag string, year, month int) (bool, error) {
			_, ok := w.cold[coldKey(tag, year, month)]
			return ok, nil
		},
		storeMonth: func(_ context.Context, tag string, year, month int, records []models.Auction) error {
			w.cold[coldKey(tag, year, month)] = append([]models.Auction(nil), records...)
			return nil
		},
		getMonth: func(_ context.Context, tag string, year, month int) ([]models.Auction, error) {
			rows := w.cold[coldKey(tag, year, month)]
			if w.tamper != nil {
				return w.tamper(append([]models.Auction(nil), rows...)), nil
			}
			return rows, nil
		},
		now: func() time.Time { return migNow },
	}
}

func TestRunOnceSealsEligibleMonths(t *testing.T) {
	t.Parallel()

	jan := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2019, time.February, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2019, time.April, 1, 0, 0, 0, 0, time.UTC)

	w := newArchiveWorld("HYPERION")
	for i := 0; i < 3; i++ {
		w.hot["HYPERION"] = append(w.hot["HYPERION"], monthAuction("HYPERION", jan, i))
	}
	for i := 3; i < 5; i++ {
		w.hot["HYPERION"] = append(w.hot["HYPERION"], monthAuction("HYPERION", feb, i))
	}
	// inside the retention window: must not move
	for i := 5; i < 7; i++ {
		w.hot["HYPERION"] = append(w.hot["HYPERION"], monthAuction("HYPERION", apr, i))
	}

	// now is 2019-07-10, retention 3 months: january through march are due
	if err := w.migrator(3, false).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if got := len(w.cold[coldKey("HYPERION", 2019, 1)]); got != 3 {
		t.Fatalf("january blob has %d rows, want 3", got)
	}
	if got := len(w.cold[coldKey("HYPERION", 2019, 2)]); got != 2 {
		t.Fatalf("february blob has %d rows, want 2", got)
	}
	if _, ok := w.cold[coldKey("HYPERION", 2019, 3)]; ok {
		t.Fatal("empty march got a blob")
	}
	if _, ok := w.cold[coldKey("HYPERION", 2019, 4)]; ok {
		t.Fatal("april is inside retention but was sealed")
	}

	var deleted int
	for _, batch := range w.deleted {
		deleted += len(batch)
	}
	if deleted != 5 {
		t.Fatalf("deleted %d rows, want 5", deleted)
	}
}

func TestRunOnceSkipsSealedMonths(t *testing.T) {
	t.Parallel()

	jan := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	w := newArchiveWorld("HYPERION")
	w.hot["HYPERION"] = []models.Auction{monthAuction("HYPERION", jan, 0)}
	w.cold[coldKey("HYPERION", 2019, 1)] = []models.Auction{monthAuction("HYPERION", jan, 99)}

	if err := w.migrator(3, false).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// february and march were still scanned; january was not re-collected
	if w.collects != 2 {
		t.Fatalf("collect called %d times, want 2", w.collects)
	}
	if len(w.deleted) != 0 {
		t.Fatalf("deleted %d batches from an already-sealed month", len(w.deleted))
	}
}

func TestRunOnceDryRunDeletesNothing(t *testing.T) {
	t.Parallel()

	jan := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	w := newArchiveWorld("HYPERION")
	for i := 0; i < 4; i++ {
		w.hot["HYPERION"] = append(w.hot["HYPERION"], monthAuction("HYPERION", jan, i))
	}

	if err := w.migrator(3, true).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := len(w.cold[coldKey("HYPERION", 2019, 1)]); got != 4 {
		t.Fatalf("dry run sealed %d rows, want 4", got)
	}
	if len(w.deleted) != 0 {
		t.Fatalf("dry run deleted %d batches", len(w.deleted))
	}
}

func TestVerificationFailureKeepsHotRows(t *testing.T) {
	t.Parallel()

	jan := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		tamper func([]models.Auction) []models.Auction
	}{
		{"row missing", func(rows []models.Auction) []models.Auction { return rows[1:] }},
		{"uuid swapped", func(rows []models.Auction) []models.Auction {
			rows[0].UUID = "ffffffff-aaaa-4000-8000-00000000ffff"
			return rows
		}},
		{"price drifted", func(rows []models.Auction) []models.Auction {
			rows[2].HighestBid++
			return rows
		}},
		{"end drifted", func(rows []models.Auction) []models.Auction {
			rows[1].End = rows[1].End.Add(time.Minute)
			return rows
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := newArchiveWorld("HYPERION")
			for i := 0; i < 5; i++ {
				w.hot["HYPERION"] = append(w.hot["HYPERION"], monthAuction("HYPERION", jan, i))
			}
			w.tamper = tc.tamper

			err := w.migrator(3, false).RunOnce(context.Background())
			if !errors.Is(err, ErrVerificationFailed) {
				t.Fatalf("RunOnce error = %v, want verification failure", err)
			}
			if len(w.deleted) != 0 {
				t.Fatal("hot rows were deleted despite a failed verification")
			}
		})
	}
}

func TestRunOnceStopsOnCollectError(t *testing.T) {
	t.Parallel()

	w := newArchiveWorld("HYPERION")
	m := w.migrator(3, false)
	m.collect = func(context.Context, string, time.Time, time.Time) ([]models.Auction, error) {
		return nil, errors.New("read timeout")
	}
	err := m.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read timeout") {
		t.Fatalf("RunOnce error = %v, want collect failure", err)
	}
	if len(w.cold) != 0 {
		t.Fatal("a month was sealed from a failed collect")
	}
}
