// Package query answers the read-side API: price summaries backed by a
// daily-aggregate cache, the recent-sales overview, filtered range streams
// and combined auction versions.
package query

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"skyvault/internal/filter"
	"skyvault/internal/hotstore"
	"skyvault/internal/metrics"
	"skyvault/internal/models"
	"skyvault/internal/tier"
)

const (
	summaryDays     = 7
	overviewSize    = 12
	overviewWindow  = time.Hour
	overviewRefetch = 14 * 24 * time.Hour
)

// PlayerResolver turns player uuids into display names. Implementations
// batch the lookup; a failed resolution leaves the name empty.
type PlayerResolver interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Engine is the read-side facade over the tier router and the summary
// cache. All exported methods are safe for concurrent use.
type Engine struct {
	players PlayerResolver
	sf      singleflight.Group
	now     func() time.Time

	// seams over the concrete stores, overridable in tests
	readDays     func(ctx context.Context, tag, filterKey string, after, until time.Time) ([]models.SummaryRow, error)
	writeDay     func(ctx context.Context, row models.SummaryRow) error
	dayPrices    func(ctx context.Context, tag string, day time.Time, pred filter.Predicate) ([]int64, error)
	rangeTier    func(ctx context.Context, tag string, t0, t1 time.Time, sold *bool, pred filter.Predicate, limit int) tier.Stream
	versions     func(ctx context.Context, id string) ([]models.Auction, error)
	sellerRecent func(ctx context.Context, seller string, before time.Time, limit int) ([]models.Auction, error)
	bidderBids   func(ctx context.Context, bidder string, limit int) ([]models.Bid, []string, error)
}

// NewEngine wires the engine over the hot store and the tier router.
// players may be nil; previews then carry no display names.
func NewEngine(hot *hotstore.Store, router *tier.Router, players PlayerResolver) *Engine {
	return &Engine{
		players:      players,
		now:          time.Now,
		readDays:     hot.ReadSummaries,
		writeDay:     hot.WriteSummary,
		dayPrices:    hot.DailyPrices,
		rangeTier:    router.Filtered,
		versions:     router.Versions,
		sellerRecent: hot.RecentBySeller,
		bidderBids:   hot.BidsByBidder,
	}
}

// Price aggregates sold auctions of tag matching filters over the trailing
// window into one summary.
func (e *Engine) Price(ctx context.Context, tag string, filters map[string]string, window time.Duration) (models.PriceSummary, error) {
	pred, err := filter.Compile(filters)
	if err != nil {
		return models.PriceSummary{}, err
	}
	until := e.now().UTC()
	sold := true
	s := e.rangeTier(ctx, tag, until.Add(-window), until, &sold, pred, 0)
	defer s.Close()

	var prices []int64
	for {
		a, ok := s.Next()
		if !ok {
			break
		}
		prices = append(prices, a.SellPrice())
	}
	if err := s.Err(); err != nil {
		return models.PriceSummary{}, fmt.Errorf("query: price %s: %w", tag, err)
	}
	st := Aggregate(prices)
	return models.PriceSummary{
		Max: st.Max, Min: st.Min, Median: st.Median,
		Mean: st.Mean, Mode: st.Mode, Volume: int64(st.Volume),
	}, nil
}

// History returns one aggregate row per day for tag under filters, newest
// first. Rows already in the summary table are served as-is; missing days
// are computed from the hot store and written back so the next caller
// reads instead of computing. Concurrent identical requests are collapsed
// in-process; across processes two writers produce identical rows.
func (e *Engine) History(ctx context.Context, tag string, filters map[string]string) ([]models.SummaryRow, error) {
	pred, err := filter.Compile(filters)
	if err != nil {
		return nil, err
	}
	start, end, err := e.summaryWindow(filters)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, nil
	}
	fkey := filter.Key(filters)

	key := tag + "\x00" + fkey + "\x00" + strconv.FormatInt(start.Unix(), 10) + "\x00" + strconv.FormatInt(end.Unix(), 10)
	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		return e.historyLocked(ctx, tag, fkey, filters, pred, start, end)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.SummaryRow), nil
}

func (e *Engine) historyLocked(ctx context.Context, tag, fkey string, filters map[string]string, pred filter.Predicate, start, end time.Time) ([]models.SummaryRow, error) {
	rows, err := e.readDays(ctx, tag, fkey, start, end)
	if err != nil {
		return nil, fmt.Errorf("query: summary read %s: %w", tag, err)
	}
	expected := int(end.Sub(start) / (24 * time.Hour))
	if len(rows) >= expected {
		sortDaysDesc(rows)
		return rows, nil
	}

	present := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		present[r.End.Unix()] = struct{}{}
	}
	stored := cleanFilters(filters)
	for day := end; day.After(start); day = day.AddDate(0, 0, -1) {
		if _, ok := present[day.Unix()]; ok {
			continue
		}
		// DailyPrices takes the day start; the row is keyed by its end.
		prices, err := e.dayPrices(ctx, tag, day.AddDate(0, 0, -1), pred)
		if err != nil {
			return nil, fmt.Errorf("query: summary compute %s: %w", tag, err)
		}
		st := Aggregate(prices)
		row := models.SummaryRow{
			Tag: tag, FilterKey: fkey,
			End: day, Start: day.AddDate(0, 0, -1),
			Filters: stored,
			Max:     st.Max, Min: st.Min, Median: st.Median,
			Mean: st.Mean, Mode: st.Mode, Volume: st.Volume,
		}
		if err := e.writeDay(ctx, row); err != nil {
			return nil, fmt.Errorf("query: summary write %s: %w", tag, err)
		}
		metrics.SummaryDaysComputed.Inc()
		rows = append(rows, row)
	}
	sortDaysDesc(rows)
	return rows, nil
}

// summaryWindow resolves the (start, end] day-aligned window from the
// reserved filter keys. end defaults to today's floor, start to seven days
// before end.
func (e *Engine) summaryWindow(filters map[string]string) (time.Time, time.Time, error) {
	end := e.now().UTC()
	if v, ok := filters[filter.KeyEndBefore]; ok {
		t, ok := parseTimeParam(v)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: EndBefore=%q is not a time", filter.ErrBadFilter, v)
		}
		end = t
	}
	end = end.Truncate(24 * time.Hour)

	start := end.AddDate(0, 0, -summaryDays)
	if v, ok := filters[filter.KeyEndAfter]; ok {
		t, ok := parseTimeParam(v)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: EndAfter=%q is not a time", filter.ErrBadFilter, v)
		}
		start = t.Truncate(24 * time.Hour)
	}
	return start, end, nil
}

// RecentOverview returns up to 12 previews of the most recent sells. The
// one-hour window is widened to fourteen days when it yields fewer than 12.
func (e *Engine) RecentOverview(ctx context.Context, tag string, filters map[string]string) ([]models.ItemPreview, error) {
	pred, err := filter.Compile(filters)
	if err != nil {
		return nil, err
	}
	rows, err := e.recentSold(ctx, tag, pred, overviewWindow)
	if err != nil {
		return nil, err
	}
	if len(rows) < overviewSize {
		rows, err = e.recentSold(ctx, tag, pred, overviewRefetch)
		if err != nil {
			return nil, err
		}
	}

	previews := make([]models.ItemPreview, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, a := range rows {
		previews = append(previews, models.ItemPreview{
			UUID:     a.UUID,
			ItemName: a.ItemName,
			Price:    a.SellPrice(),
			End:      a.End,
			Count:    a.Count,
		})
		ids = append(ids, a.HighestBidder)
	}
	if e.players != nil && len(ids) > 0 {
		names, err := e.players.Names(ctx, ids)
		if err != nil {
			log.Printf("[query] player names for %s overview: %v", tag, err)
		}
		for i := range previews {
			previews[i].PlayerName = names[ids[i]]
		}
	}
	return previews, nil
}

func (e *Engine) recentSold(ctx context.Context, tag string, pred filter.Predicate, window time.Duration) ([]models.Auction, error) {
	until := e.now().UTC()
	sold := true
	s := e.rangeTier(ctx, tag, until.Add(-window), until, &sold, pred, overviewSize)
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
		return nil, fmt.Errorf("query: recent %s: %w", tag, err)
	}
	return out, nil
}

// Filtered compiles filters and streams matching auctions with end in
// (t0, t1], newest first, across both tiers.
func (e *Engine) Filtered(ctx context.Context, tag string, filters map[string]string, t0, t1 time.Time, sold *bool, limit int) (tier.Stream, error) {
	pred, err := filter.Compile(filters)
	if err != nil {
		return nil, err
	}
	return e.rangeTier(ctx, tag, t0, t1, sold, pred, limit), nil
}

// Versions returns every stored version of an auction.
func (e *Engine) Versions(ctx context.Context, id string) ([]models.Auction, error) {
	return e.versions(ctx, id)
}

// Combined folds every stored version of an auction into one record.
func (e *Engine) Combined(ctx context.Context, id string) (models.Auction, error) {
	vs, err := e.versions(ctx, id)
	if err != nil {
		return models.Auction{}, err
	}
	return CombineVersions(vs), nil
}

// SellerAuctions returns one player's auctions from the last thirty days,
// newest first.
func (e *Engine) SellerAuctions(ctx context.Context, seller string, limit int) ([]models.Auction, error) {
	return e.sellerRecent(ctx, seller, e.now().UTC(), limit)
}

// BidderBids returns the bids one player placed, newest first, each joined
// with the auction it went on.
func (e *Engine) BidderBids(ctx context.Context, bidder string, limit int) ([]models.PlayerBid, error) {
	bids, auctions, err := e.bidderBids(ctx, bidder, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PlayerBid, len(bids))
	for i, b := range bids {
		out[i] = models.PlayerBid{
			AuctionUUID: auctions[i],
			Amount:      b.Amount,
			ProfileID:   b.ProfileID,
			Timestamp:   b.Timestamp,
		}
	}
	return out, nil
}

// CombineVersions folds several stored records of the same auction (one
// from listing, one from sale) into one view. Records whose seller equals
// their own uuid are ignored as corrupt. Bids are unioned treating equal
// amounts as the same bid; listing metadata comes from the first version
// carrying a non-default value.
func CombineVersions(versions []models.Auction) models.Auction {
	kept := versions[:0:0]
	for _, v := range versions {
		if sameUUID(v.Seller, v.UUID) {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		kept = append(kept, versions...)
	}
	if len(kept) == 0 {
		return models.Auction{}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Sold != kept[j].Sold {
			return kept[i].Sold
		}
		return kept[i].HighestBid > kept[j].HighestBid
	})

	out := kept[0]
	seen := make(map[int64]struct{})
	var bids []models.Bid
	for _, v := range kept {
		for _, b := range v.Bids {
			if _, dup := seen[b.Amount]; dup {
				continue
			}
			seen[b.Amount] = struct{}{}
			bids = append(bids, b)
		}
	}
	out.Bids = bids
	for _, v := range kept[1:] {
		if len(out.CoopMembers) == 0 {
			out.CoopMembers = v.CoopMembers
		}
		if out.StartingBid == 0 {
			out.StartingBid = v.StartingBid
		}
		if out.Category == "" {
			out.Category = v.Category
		}
		if out.Start.IsZero() {
			out.Start = v.Start
		}
		if isDefaultUUID(out.ProfileID) && !isDefaultUUID(v.ProfileID) {
			out.ProfileID = v.ProfileID
		}
	}
	return out
}

func cleanFilters(filters map[string]string) map[string]string {
	out := make(map[string]string, len(filters))
	for k, v := range filters {
		if k == filter.KeyEndAfter || k == filter.KeyEndBefore {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortDaysDesc(rows []models.SummaryRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].End.After(rows[j].End) })
}

func sameUUID(a, b string) bool {
	return a != "" && normalizeUUID(a) == normalizeUUID(b)
}

func normalizeUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}

func isDefaultUUID(s string) bool {
	switch normalizeUUID(s) {
	case "", "00000000000000000000000000000000":
		return true
	}
	return false
}

// parseTimeParam accepts unix seconds or a handful of date spellings.
func parseTimeParam(v string) (time.Time, bool) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
