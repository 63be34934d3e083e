package hotstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"

	"skyvault/internal/codec"
	"skyvault/internal/metrics"
	"skyvault/internal/models"
)

const auctionCols = `tag, time_key, is_sold, end, auction_uuid, item_name, category, tier, bin, count, starting_bid, highest_bid, seller, profile_id, highest_bidder, coop_members, start, item_created_at, item_bytes, nbt, enchantments, color, item_uid, item_uuid, bids`

const insertAuctionCQL = `INSERT INTO auctions (` + auctionCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertBidCQL = `INSERT INTO bids (bidder, timestamp, auction_uuid, amount, profile_id) VALUES (?, ?, ?, ?, ?)`

// deleteBatchSize bounds unlogged delete batches during archive cleanup.
const deleteBatchSize = 100

// retrofitWindow is how fresh a sparse sold event must be to attempt the
// listed-row lookup.
const retrofitWindow = 14 * 24 * time.Hour

func bindStored(s codec.StoredAuction) ([]interface{}, error) {
	packed, err := codec.PackBids(s.Bids)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		s.Tag, s.TimeKey, s.IsSold, s.End, s.UUID,
		s.ItemName, s.Category, s.Tier, s.Bin, s.Count,
		s.StartingBid, s.HighestBid,
		s.Seller, s.ProfileID, s.HighestBidder, s.CoopMembers,
		s.Start, s.ItemCreatedAt,
		s.ItemBytes, s.NBT, s.Enchantments,
		s.Color, s.ItemUID, s.ItemUUID, packed,
	}, nil
}

// existingSeller reads the seller column at the row's full primary key.
// The second return is false when the row has never been written.
func (s *Store) existingSeller(ctx context.Context, enc codec.StoredAuction) (gocql.UUID, bool, error) {
	var seller gocql.UUID
	err := s.session.Query(
		`SELECT seller FROM auctions WHERE tag = ? AND time_key = ? AND is_sold = ? AND end = ? AND auction_uuid = ?`,
		enc.Tag, enc.TimeKey, enc.IsSold, enc.End, enc.UUID,
	).WithContext(ctx).Scan(&seller)
	switch err {
	case nil:
		return seller, true, nil
	case gocql.ErrNotFound:
		return gocql.UUID{}, false, nil
	default:
		return gocql.UUID{}, false, fmt.Errorf("hotstore: exists check %s: %w", enc.UUID, err)
	}
}

// filterFresh drops rows that are already stored with the same seller, so a
// re-delivered record never re-writes. A row at the same coordinates with a
// different seller is kept; the batch timestamp settles the conflict.
func (s *Store) filterFresh(ctx context.Context, encoded []codec.StoredAuction) ([]codec.StoredAuction, error) {
	fresh := encoded[:0]
	for _, enc := range encoded {
		seller, found, err := s.sellerAt(ctx, enc)
		if err != nil {
			return nil, err
		}
		if found && seller == enc.Seller {
			metrics.AuctionsSkipped.Inc()
			continue
		}
		fresh = append(fresh, enc)
	}
	return fresh, nil
}

// InsertBatchSameTag writes a micro-batch of auctions sharing one tag as a
// single unlogged batch. Sparse sold events are retrofitted from their
// listed rows first, and rows already stored with the same seller are
// skipped. Bid table rows are not written here; the ingest layer batches
// those separately by bidder.
func (s *Store) InsertBatchSameTag(ctx context.Context, batch []models.Auction) error {
	if len(batch) == 0 {
		return nil
	}
	tag := batch[0].Tag
	for _, a := range batch[1:] {
		if a.Tag != tag {
			return fmt.Errorf("hotstore: mixed tags in batch: %q and %q", tag, a.Tag)
		}
	}

	s.retrofit(ctx, batch)

	encoded := make([]codec.StoredAuction, 0, len(batch))
	for _, a := range batch {
		enc, err := codec.Encode(a)
		if err != nil {
			return err
		}
		encoded = append(encoded, enc)
	}
	fresh, err := s.filterFresh(ctx, encoded)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}

	cqlBatch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	var stamp time.Time
	for _, enc := range fresh {
		args, err := bindStored(enc)
		if err != nil {
			return err
		}
		cqlBatch.Query(insertAuctionCQL, args...)
		if enc.Start.After(stamp) {
			stamp = enc.Start
		}
		for _, b := range enc.Bids {
			if b.Timestamp.After(stamp) {
				stamp = b.Timestamp
			}
		}
	}
	cqlBatch.WithTimestamp(stamp.UnixMicro())

	if err := s.session.ExecuteBatch(cqlBatch); err != nil {
		return fmt.Errorf("hotstore: insert batch tag=%s n=%d: %w", tag, len(fresh), err)
	}
	metrics.AuctionsInserted.Add(float64(len(fresh)))
	return nil
}

// BidEntry is one row for the bidder-partitioned table.
type BidEntry struct {
	AuctionUUID gocql.UUID
	Bid         codec.StoredBid
}

// InsertBids writes bid rows, typically pre-grouped by bidder so the batch
// lands on few partitions.
func (s *Store) InsertBids(ctx context.Context, entries []BidEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	var stamp time.Time
	for _, e := range entries {
		batch.Query(insertBidCQL, e.Bid.Bidder, e.Bid.Timestamp, e.AuctionUUID, e.Bid.Amount, e.Bid.ProfileID)
		if e.Bid.Timestamp.After(stamp) {
			stamp = e.Bid.Timestamp
		}
	}
	batch.WithTimestamp(stamp.UnixMicro())
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("hotstore: insert %d bids: %w", len(entries), err)
	}
	metrics.BidsInserted.Add(float64(len(entries)))
	return nil
}

// retrofit fills listing metadata into sold events that arrived without it.
// The listed row, if we ever saw it, lives in a bucket near the sale date.
// Failures only log: a sparse row is better than a dropped one.
func (s *Store) retrofit(ctx context.Context, batch []models.Auction) {
	now := time.Now().UTC()
	for i := range batch {
		a := &batch[i]
		if !a.Start.IsZero() || a.End.Before(now.Add(-retrofitWindow)) {
			continue
		}
		id, err := parseUUID(a.UUID)
		if err != nil {
			continue
		}
		tag := a.Tag
		if tag == "" {
			tag = codec.TagUnknown
		}
		key := codec.TimeKey(tag, a.End)
		found, err := s.fetchNearby(ctx, tag, key, id)
		if err != nil {
			log.Printf("[hotstore] retrofit %s: %v", a.UUID, err)
			continue
		}
		if found == nil {
			continue
		}
		applyRetrofit(a, *found)
	}
}

// fetchNearby looks for any version of the auction in the buckets
// [key-1, key+2], preferring one that carries listing metadata.
func (s *Store) fetchNearby(ctx context.Context, tag string, key int16, id gocql.UUID) (*models.Auction, error) {
	iter := s.session.Query(
		`SELECT `+auctionCols+` FROM auctions WHERE tag = ? AND time_key IN (?, ?, ?, ?) AND auction_uuid = ?`,
		tag, key-1, key, key+1, key+2, id,
	).WithContext(ctx).Iter()

	var best *models.Auction
	for {
		stored, ok, err := scanAuction(iter)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		a := codec.Decode(stored)
		if !a.Start.IsZero() {
			best = &a
			break
		}
		if best == nil {
			best = &a
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return best, nil
}

// applyRetrofit copies listing fields from an earlier version into a sparse
// pending record, never overwriting values the event already carried.
func applyRetrofit(pending *models.Auction, found models.Auction) {
	if pending.Start.IsZero() {
		pending.Start = found.Start
	}
	if pending.Count == 0 {
		pending.Count = found.Count
	}
	if pending.ItemCreatedAt.IsZero() {
		pending.ItemCreatedAt = found.ItemCreatedAt
	}
	if pending.ItemName == "" {
		pending.ItemName = found.ItemName
	}
	if pending.ProfileID == "" {
		pending.ProfileID = found.ProfileID
	}
	if !pending.Bin {
		pending.Bin = found.Bin
	}
	if pending.StartingBid == 0 {
		pending.StartingBid = found.StartingBid
	}
}

// DeleteRows removes the given auctions by full primary key, in bounded
// unlogged batches. Used by the archive migrator after verification.
func (s *Store) DeleteRows(ctx context.Context, rows []models.Auction) error {
	for chunk := 0; chunk < len(rows); chunk += deleteBatchSize {
		end := chunk + deleteBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		for _, a := range rows[chunk:end] {
			id, err := parseUUID(a.UUID)
			if err != nil {
				return fmt.Errorf("hotstore: delete %q: %w", a.UUID, err)
			}
			tag := a.Tag
			if tag == "" {
				tag = codec.TagUnknown
			}
			batch.Query(
				`DELETE FROM auctions WHERE tag = ? AND time_key = ? AND is_sold = ? AND end = ? AND auction_uuid = ?`,
				tag, codec.TimeKey(tag, a.End), a.Sold, a.End.UTC(), id,
			)
		}
		if err := s.session.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("hotstore: delete batch: %w", err)
		}
	}
	return nil
}

// WriteSummary upserts one daily aggregate. Concurrent writers for the same
// day produce identical rows, so last-writer-wins is harmless.
func (s *Store) WriteSummary(ctx context.Context, row models.SummaryRow) error {
	err := s.session.Query(
		`INSERT INTO summaries (tag, filter_key, end, start, filters, max, min, med, mean, mode, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Tag, row.FilterKey, row.End.UTC(), row.Start.UTC(), row.Filters,
		row.Max, row.Min, row.Median, row.Mean, row.Mode, row.Volume,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("hotstore: write summary %s/%s: %w", row.Tag, row.End.Format("2006-01-02"), err)
	}
	return nil
}

// ReadSummaries returns the cached aggregates for end dates in (after, until],
// newest first.
func (s *Store) ReadSummaries(ctx context.Context, tag, filterKey string, after, until time.Time) ([]models.SummaryRow, error) {
	iter := s.session.Query(
		`SELECT tag, filter_key, end, start, filters, max, min, med, mean, mode, volume FROM summaries WHERE tag = ? AND filter_key = ? AND end > ? AND end <= ?`,
		tag, filterKey, after.UTC(), until.UTC(),
	).WithContext(ctx).Iter()

	var out []models.SummaryRow
	var row models.SummaryRow
	for iter.Scan(&row.Tag, &row.FilterKey, &row.End, &row.Start, &row.Filters,
		&row.Max, &row.Min, &row.Median, &row.Mean, &row.Mode, &row.Volume) {
		out = append(out, row)
		row = models.SummaryRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("hotstore: read summaries %s: %w", tag, err)
	}
	return out, nil
}
