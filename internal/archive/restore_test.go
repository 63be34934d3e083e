package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"skyvault/internal/hotstore"
	"skyvault/internal/models"
)

type restoreWorld struct {
	versions map[string][]models.Auction
	sql      map[string]models.Auction
	upserted []models.Auction
	deleted  []string
}

func newRestoreWorld() (*restoreWorld, *Restore) {
	w := &restoreWorld{
		versions: make(map[string][]models.Auction),
		sql:      make(map[string]models.Auction),
	}
	r := &Restore{
		versions: func(_ context.Context, id string) ([]models.Auction, error) {
			vs, ok := w.versions[id]
			if !ok {
				return nil, hotstore.ErrNotFound
			}
			return vs, nil
		},
		upsert: func(_ context.Context, a models.Auction) error {
			w.upserted = append(w.upserted, a)
			w.sql[a.UUID] = a
			return nil
		},
		fetchSQL: func(_ context.Context, uuid string) (models.Auction, error) {
			a, ok := w.sql[uuid]
			if !ok {
				return models.Auction{}, errors.New("legacy: auction not found")
			}
			return a, nil
		},
		deleteSQL: func(_ context.Context, uuid string) error {
			w.deleted = append(w.deleted, uuid)
			delete(w.sql, uuid)
			return nil
		},
	}
	return w, r
}

func restoreFixture() (models.Auction, models.Auction) {
	end := time.Date(2022, time.March, 4, 18, 0, 0, 0, time.UTC)
	listed := models.Auction{
		UUID:        "aaaabbbb-0000-4000-8000-000000000001",
		Tag:         "HYPERION",
		Seller:      "b1f2a3c4-0000-4000-8000-000000000001",
		StartingBid: 5_000_000,
		Category:    "WEAPON",
		Start:       end.Add(-48 * time.Hour),
		End:         end,
	}
	sold := listed
	sold.Sold = true
	sold.StartingBid = 0
	sold.Category = ""
	sold.HighestBid = 910_000_000
	return listed, sold
}

func TestPutCombinesVersionsIntoSQL(t *testing.T) {
	t.Parallel()

	listed, sold := restoreFixture()
	w, r := newRestoreWorld()
	w.versions[listed.UUID] = []models.Auction{listed, sold}

	got, err := r.Put(context.Background(), listed.UUID)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(w.upserted) != 1 {
		t.Fatalf("upserted %d rows, want 1", len(w.upserted))
	}
	if !got.Sold {
		t.Fatal("combined row lost the sold state")
	}
	if got.HighestBid != sold.HighestBid {
		t.Fatalf("HighestBid = %d, want %d", got.HighestBid, sold.HighestBid)
	}
	if got.StartingBid != listed.StartingBid {
		t.Fatalf("StartingBid = %d, want the listing's %d", got.StartingBid, listed.StartingBid)
	}
	if got.Category != "WEAPON" {
		t.Fatalf("Category = %q, want backfilled WEAPON", got.Category)
	}
}

func TestPutMissingAuction(t *testing.T) {
	t.Parallel()

	_, r := newRestoreWorld()
	_, err := r.Put(context.Background(), "aaaabbbb-0000-4000-8000-00000000dead")
	if !errors.Is(err, hotstore.ErrNotFound) {
		t.Fatalf("Put error = %v, want not-found", err)
	}
}

func TestDropDeletesMatchingRow(t *testing.T) {
	t.Parallel()

	listed, sold := restoreFixture()
	w, r := newRestoreWorld()
	w.versions[listed.UUID] = []models.Auction{listed, sold}

	if _, err := r.Put(context.Background(), listed.UUID); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Drop(context.Background(), listed.UUID); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if len(w.deleted) != 1 || w.deleted[0] != listed.UUID {
		t.Fatalf("deleted = %v, want [%s]", w.deleted, listed.UUID)
	}
}

func TestDropRefusesDivergentRow(t *testing.T) {
	t.Parallel()

	listed, sold := restoreFixture()
	w, r := newRestoreWorld()
	w.versions[listed.UUID] = []models.Auction{listed, sold}

	if _, err := r.Put(context.Background(), listed.UUID); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// somebody edited the SQL row since the restore
	row := w.sql[listed.UUID]
	row.HighestBid += 5
	w.sql[listed.UUID] = row

	err := r.Drop(context.Background(), listed.UUID)
	if !errors.Is(err, ErrRestoreMismatch) {
		t.Fatalf("Drop error = %v, want mismatch refusal", err)
	}
	if len(w.deleted) != 0 {
		t.Fatal("divergent row was deleted")
	}
}
