package archive

import (
	"context"
	"fmt"

	"skyvault/internal/legacy"
	"skyvault/internal/models"
	"skyvault/internal/query"
	"skyvault/internal/tier"
)

// ErrRestoreMismatch means the archived copy of an auction disagrees with
// the SQL row asked to be removed, so the removal is refused.
var ErrRestoreMismatch = fmt.Errorf("archive: restore copy does not match the sql row")

// Restore copies individual archived auctions back into the legacy SQL
// store for consumers that still read it, and removes them again once the
// archived copy is proven to match.
type Restore struct {
	versions  func(ctx context.Context, id string) ([]models.Auction, error)
	upsert    func(ctx context.Context, a models.Auction) error
	fetchSQL  func(ctx context.Context, uuid string) (models.Auction, error)
	deleteSQL func(ctx context.Context, uuid string) error
}

func NewRestore(router *tier.Router, sql *legacy.Store) *Restore {
	return &Restore{
		versions:  router.Versions,
		upsert:    sql.Upsert,
		fetchSQL:  sql.GetByUUID,
		deleteSQL: sql.Delete,
	}
}

// Put writes the combined view of all stored versions of the auction into
// the SQL store. Missing auctions surface the stores' not-found error.
func (r *Restore) Put(ctx context.Context, uuid string) (models.Auction, error) {
	versions, err := r.versions(ctx, uuid)
	if err != nil {
		return models.Auction{}, err
	}
	combined := query.CombineVersions(versions)
	if err := r.upsert(ctx, combined); err != nil {
		return models.Auction{}, err
	}
	return combined, nil
}

// Drop deletes the SQL row for the auction, but only after the archived
// copy matches it on uuid, price and end time. A divergent row stays put;
// somebody changed it since the restore and deleting would lose that.
func (r *Restore) Drop(ctx context.Context, uuid string) error {
	versions, err := r.versions(ctx, uuid)
	if err != nil {
		return err
	}
	archived := query.CombineVersions(versions)

	row, err := r.fetchSQL(ctx, uuid)
	if err != nil {
		return err
	}
	switch {
	case plainUUID(row.UUID) != plainUUID(archived.UUID):
		return fmt.Errorf("%w: uuid %s != %s", ErrRestoreMismatch, row.UUID, archived.UUID)
	case row.HighestBid != archived.HighestBid:
		return fmt.Errorf("%w: price %d != %d", ErrRestoreMismatch, row.HighestBid, archived.HighestBid)
	case row.End.UnixMilli() != archived.End.UnixMilli():
		return fmt.Errorf("%w: end %v != %v", ErrRestoreMismatch, row.End, archived.End)
	}
	return r.deleteSQL(ctx, uuid)
}
