package hotstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"skyvault/internal/codec"
	"skyvault/internal/filter"
	"skyvault/internal/models"
)

// sellerLookback bounds the recent-by-seller scan window.
const sellerLookback = 30 * 24 * time.Hour

// parseUUID accepts dashed or bare-hex identifiers.
func parseUUID(s string) (gocql.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return gocql.UUID{}, err
	}
	return gocql.UUID(u), nil
}

// scanAuction reads one row from iter into a stored record. The bool is
// false when the iterator is exhausted.
func scanAuction(iter *gocql.Iter) (codec.StoredAuction, bool, error) {
	var s codec.StoredAuction
	var packed []byte
	ok := iter.Scan(
		&s.Tag, &s.TimeKey, &s.IsSold, &s.End, &s.UUID,
		&s.ItemName, &s.Category, &s.Tier, &s.Bin, &s.Count,
		&s.StartingBid, &s.HighestBid,
		&s.Seller, &s.ProfileID, &s.HighestBidder, &s.CoopMembers,
		&s.Start, &s.ItemCreatedAt,
		&s.ItemBytes, &s.NBT, &s.Enchantments,
		&s.Color, &s.ItemUID, &s.ItemUUID, &packed,
	)
	if !ok {
		return s, false, nil
	}
	bids, err := codec.UnpackBids(packed)
	if err != nil {
		return s, false, err
	}
	s.Bids = bids
	return s, true, nil
}

func collectAuctions(iter *gocql.Iter) ([]models.Auction, error) {
	var out []models.Auction
	for {
		stored, ok, err := scanAuction(iter)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, codec.Decode(stored))
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByUUID returns every stored version of an auction. A listing and a
// later sale land in different clustering positions, so two versions are
// normal. Returns ErrNotFound when no version exists.
func (s *Store) GetByUUID(ctx context.Context, id string) ([]models.Auction, error) {
	u, err := parseUUID(id)
	if err != nil {
		return nil, fmt.Errorf("hotstore: %w: %q is not a uuid", ErrNotFound, id)
	}
	iter := s.session.Query(
		`SELECT `+auctionCols+` FROM auctions WHERE auction_uuid = ?`, u,
	).WithContext(ctx).Iter()
	out, err := collectAuctions(iter)
	if err != nil {
		return nil, fmt.Errorf("hotstore: get %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// RecentBySeller returns auctions by one seller ending in
// [before-30d, before), newest first.
func (s *Store) RecentBySeller(ctx context.Context, seller string, before time.Time, limit int) ([]models.Auction, error) {
	u, err := parseUUID(seller)
	if err != nil {
		return nil, fmt.Errorf("hotstore: seller %q is not a uuid", seller)
	}
	before = before.UTC()
	iter := s.session.Query(
		`SELECT `+auctionCols+` FROM auctions WHERE seller = ? AND end >= ? AND end < ? LIMIT ? ALLOW FILTERING`,
		u, before.Add(-sellerLookback), before, limit,
	).WithContext(ctx).Iter()
	out, err := collectAuctions(iter)
	if err != nil {
		return nil, fmt.Errorf("hotstore: recent by seller %s: %w", seller, err)
	}
	return out, nil
}

// DailyPrices returns the sell prices of sold auctions for tag matching
// pred on the given UTC day.
func (s *Store) DailyPrices(ctx context.Context, tag string, day time.Time, pred filter.Predicate) ([]int64, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	sold := true
	it := s.Range(ctx, tag, day, day.Add(24*time.Hour), &sold, 0)
	defer it.Close()

	var prices []int64
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		if pred != nil && !pred(&a) {
			continue
		}
		prices = append(prices, a.SellPrice())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("hotstore: daily prices %s/%s: %w", tag, day.Format("2006-01-02"), err)
	}
	return prices, nil
}

// DistinctTags scans the partition index for every tag currently present.
// This walks all partitions, so it is reserved for the daily migrator.
func (s *Store) DistinctTags(ctx context.Context) ([]string, error) {
	iter := s.session.Query(`SELECT DISTINCT tag, time_key FROM auctions`).WithContext(ctx).Iter()
	seen := make(map[string]struct{})
	var tag string
	var key int16
	for iter.Scan(&tag, &key) {
		seen[tag] = struct{}{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("hotstore: distinct tags: %w", err)
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out, nil
}

// BidsByBidder returns a bidder's bid rows, newest first.
func (s *Store) BidsByBidder(ctx context.Context, bidder string, limit int) ([]models.Bid, []string, error) {
	u, err := parseUUID(bidder)
	if err != nil {
		return nil, nil, fmt.Errorf("hotstore: bidder %q is not a uuid", bidder)
	}
	iter := s.session.Query(
		`SELECT timestamp, auction_uuid, amount, profile_id FROM bids WHERE bidder = ? LIMIT ?`,
		u, limit,
	).WithContext(ctx).Iter()

	var bids []models.Bid
	var auctions []string
	var ts time.Time
	var auctionID, profile gocql.UUID
	var amount int64
	for iter.Scan(&ts, &auctionID, &amount, &profile) {
		bids = append(bids, models.Bid{
			Bidder:    bidder,
			ProfileID: uuid.UUID(profile).String(),
			Amount:    amount,
			Timestamp: ts,
		})
		auctions = append(auctions, uuid.UUID(auctionID).String())
	}
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("hotstore: bids by bidder %s: %w", bidder, err)
	}
	return bids, auctions, nil
}
