package query

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"skyvault/internal/filter"
	"skyvault/internal/models"
	"skyvault/internal/tier"
)

var engineNow = time.Date(2023, 5, 10, 15, 0, 0, 0, time.UTC)

type fakeStream struct {
	rows []models.Auction
	pos  int
}

func (f *fakeStream) Next() (models.Auction, bool) {
	if f.pos >= len(f.rows) {
		return models.Auction{}, false
	}
	a := f.rows[f.pos]
	f.pos++
	return a, true
}

func (f *fakeStream) Err() error { return nil }
func (f *fakeStream) Close()     {}

// summaryFake backs the readDays/writeDay/dayPrices seams with maps and
// counts how often each is hit.
type summaryFake struct {
	rows     map[int64]models.SummaryRow // keyed by End.Unix()
	prices   map[int64][]int64           // keyed by day-start Unix()
	reads    int
	computes int
	written  int
}

func newSummaryFake() *summaryFake {
	return &summaryFake{
		rows:   make(map[int64]models.SummaryRow),
		prices: make(map[int64][]int64),
	}
}

func (s *summaryFake) bind(e *Engine) {
	e.readDays = func(_ context.Context, _, _ string, after, until time.Time) ([]models.SummaryRow, error) {
		s.reads++
		var out []models.SummaryRow
		for _, r := range s.rows {
			if r.End.After(after) && !r.End.After(until) {
				out = append(out, r)
			}
		}
		return out, nil
	}
	e.writeDay = func(_ context.Context, row models.SummaryRow) error {
		s.written++
		s.rows[row.End.Unix()] = row
		return nil
	}
	e.dayPrices = func(_ context.Context, _ string, day time.Time, _ filter.Predicate) ([]int64, error) {
		s.computes++
		return s.prices[day.Unix()], nil
	}
}

func newTestEngine() (*Engine, *summaryFake) {
	e := &Engine{now: func() time.Time { return engineNow }}
	f := newSummaryFake()
	f.bind(e)
	return e, f
}

func TestHistoryFillsMissingDays(t *testing.T) {
	t.Parallel()

	e, f := newTestEngine()
	// one sale of 100·(n+1) coins on each of the seven days
	day := engineNow.Truncate(24 * time.Hour)
	for i := 0; i < summaryDays; i++ {
		start := day.AddDate(0, 0, -(i + 1))
		f.prices[start.Unix()] = []int64{int64(100 * (i + 1))}
	}

	rows, err := e.History(context.Background(), "HYPERION", map[string]string{"Tier": "MYTHIC"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != summaryDays {
		t.Fatalf("got %d rows, want %d", len(rows), summaryDays)
	}
	if f.computes != summaryDays || f.written != summaryDays {
		t.Fatalf("first call computed %d wrote %d, want %d each", f.computes, f.written, summaryDays)
	}
	if !rows[0].End.Equal(day) {
		t.Errorf("newest row ends %v, want %v", rows[0].End, day)
	}
	if rows[0].Max != 100 || rows[0].Volume != 1 {
		t.Errorf("newest row = %+v, want max 100 volume 1", rows[0])
	}
	if got := rows[0].End.Sub(rows[0].Start); got != 24*time.Hour {
		t.Errorf("row spans %v, want 24h", got)
	}
	if rows[0].FilterKey != "Tier=MYTHIC" {
		t.Errorf("filter key = %q", rows[0].FilterKey)
	}

	// second call is served from the table alone
	if _, err := e.History(context.Background(), "HYPERION", map[string]string{"Tier": "MYTHIC"}); err != nil {
		t.Fatalf("History (cached): %v", err)
	}
	if f.computes != summaryDays {
		t.Fatalf("cached call recomputed: %d day aggregates", f.computes-summaryDays)
	}
}

func TestHistoryPartialCache(t *testing.T) {
	t.Parallel()

	e, f := newTestEngine()
	day := engineNow.Truncate(24 * time.Hour)
	for i := 0; i < 5; i++ {
		end := day.AddDate(0, 0, -i)
		f.rows[end.Unix()] = models.SummaryRow{Tag: "HYPERION", End: end, Start: end.AddDate(0, 0, -1), Volume: 3}
	}

	rows, err := e.History(context.Background(), "HYPERION", nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != summaryDays {
		t.Fatalf("got %d rows, want %d", len(rows), summaryDays)
	}
	if f.computes != 2 {
		t.Fatalf("computed %d days, want just the 2 missing", f.computes)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].End.After(rows[i-1].End) {
			t.Fatalf("rows out of order at %d", i)
		}
	}
}

func TestHistoryWindowBounds(t *testing.T) {
	t.Parallel()

	e, f := newTestEngine()
	end := time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC)
	after := end.AddDate(0, 0, -2)
	filters := map[string]string{
		filter.KeyEndBefore: fmt.Sprint(end.Unix()),
		filter.KeyEndAfter:  fmt.Sprint(after.Unix()),
	}

	rows, err := e.History(context.Background(), "HYPERION", filters)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows for a 2-day window, want 2", len(rows))
	}
	if !rows[0].End.Equal(end) || !rows[1].End.Equal(end.AddDate(0, 0, -1)) {
		t.Fatalf("rows end at %v and %v", rows[0].End, rows[1].End)
	}
	if f.reads != 1 {
		t.Fatalf("read summary table %d times, want 1", f.reads)
	}
}

func TestHistoryRejectsBadBounds(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	_, err := e.History(context.Background(), "HYPERION", map[string]string{filter.KeyEndBefore: "yesterday-ish"})
	if err == nil || !strings.Contains(err.Error(), "EndBefore") {
		t.Fatalf("err = %v, want EndBefore complaint", err)
	}
}

func TestPriceAggregatesWindow(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	var gotT0, gotT1 time.Time
	var gotSold *bool
	e.rangeTier = func(_ context.Context, _ string, t0, t1 time.Time, sold *bool, pred filter.Predicate, _ int) tier.Stream {
		gotT0, gotT1, gotSold = t0, t1, sold
		rows := []models.Auction{
			{UUID: "a", HighestBid: 300, Sold: true},
			{UUID: "b", HighestBid: 100, Sold: true},
			{UUID: "c", HighestBid: 300, Sold: true},
		}
		var kept []models.Auction
		for i := range rows {
			if pred == nil || pred(&rows[i]) {
				kept = append(kept, rows[i])
			}
		}
		return &fakeStream{rows: kept}
	}

	got, err := e.Price(context.Background(), "HYPERION", nil, 24*time.Hour)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	want := models.PriceSummary{Max: 300, Min: 100, Median: 300, Mean: 700.0 / 3.0, Mode: 300, Volume: 3}
	if got != want {
		t.Fatalf("Price = %+v, want %+v", got, want)
	}
	if gotSold == nil || !*gotSold {
		t.Error("price query did not restrict to sold auctions")
	}
	if !gotT1.Equal(engineNow) || !gotT0.Equal(engineNow.Add(-24*time.Hour)) {
		t.Errorf("window = (%v, %v]", gotT0, gotT1)
	}
}

func TestRecentOverviewFallback(t *testing.T) {
	t.Parallel()

	hourRows := make([]models.Auction, 3)
	fortnightRows := make([]models.Auction, 15)
	for i := range fortnightRows {
		fortnightRows[i] = models.Auction{
			UUID:          fmt.Sprintf("a%02d", i),
			ItemName:      "Hyperion",
			HighestBid:    int64(1000 + i),
			HighestBidder: fmt.Sprintf("b%02d", i),
			End:           engineNow.Add(-time.Duration(i) * time.Hour),
			Count:         1,
			Sold:          true,
		}
	}
	copy(hourRows, fortnightRows[:3])

	e, _ := newTestEngine()
	var windows []time.Duration
	e.rangeTier = func(_ context.Context, _ string, t0, t1 time.Time, _ *bool, _ filter.Predicate, limit int) tier.Stream {
		w := t1.Sub(t0)
		windows = append(windows, w)
		rows := fortnightRows
		if w <= time.Hour {
			rows = hourRows
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		return &fakeStream{rows: rows}
	}
	e.players = namesFake{"b00": "Technoblade", "b05": "Refraction"}

	got, err := e.RecentOverview(context.Background(), "HYPERION", nil)
	if err != nil {
		t.Fatalf("RecentOverview: %v", err)
	}
	if len(got) != overviewSize {
		t.Fatalf("got %d previews, want %d", len(got), overviewSize)
	}
	if len(windows) != 2 || windows[0] != overviewWindow || windows[1] != overviewRefetch {
		t.Fatalf("windows queried = %v", windows)
	}
	if got[0].PlayerName != "Technoblade" || got[5].PlayerName != "Refraction" {
		t.Errorf("player names not resolved: %+v", got[0])
	}
	if got[1].PlayerName != "" {
		t.Errorf("unresolved bidder got name %q", got[1].PlayerName)
	}
	if got[0].Price != 1000 {
		t.Errorf("preview price = %d, want highest bid", got[0].Price)
	}
}

func TestRecentOverviewEnoughWithinHour(t *testing.T) {
	t.Parallel()

	rows := make([]models.Auction, overviewSize)
	for i := range rows {
		rows[i] = models.Auction{UUID: fmt.Sprintf("a%02d", i), Sold: true, HighestBid: 5}
	}
	e, _ := newTestEngine()
	calls := 0
	e.rangeTier = func(_ context.Context, _ string, _, _ time.Time, _ *bool, _ filter.Predicate, _ int) tier.Stream {
		calls++
		return &fakeStream{rows: rows}
	}

	got, err := e.RecentOverview(context.Background(), "HYPERION", nil)
	if err != nil {
		t.Fatalf("RecentOverview: %v", err)
	}
	if len(got) != overviewSize || calls != 1 {
		t.Fatalf("got %d previews in %d calls, want %d in 1", len(got), calls, overviewSize)
	}
}

type namesFake map[string]string

func (n namesFake) Names(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := n[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func TestCombineVersions(t *testing.T) {
	t.Parallel()

	end := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	listed := models.Auction{
		UUID:        "11111111-1111-1111-1111-111111111111",
		Seller:      "22222222-2222-2222-2222-222222222222",
		Tag:         "HYPERION",
		Category:    "WEAPON",
		StartingBid: 50,
		Start:       end.Add(-48 * time.Hour),
		End:         end,
		ProfileID:   "33333333-3333-3333-3333-333333333333",
		CoopMembers: []string{"44444444-4444-4444-4444-444444444444"},
		Bids:        []models.Bid{{Bidder: "b1", Amount: 100, Timestamp: end.Add(-time.Hour)}},
	}
	soldV := models.Auction{
		UUID:       listed.UUID,
		Seller:     listed.Seller,
		Tag:        "HYPERION",
		End:        end,
		Sold:       true,
		HighestBid: 500,
		Bids: []models.Bid{
			{Bidder: "b2", Amount: 500, Timestamp: end},
			{Bidder: "b1", Amount: 100, Timestamp: end.Add(-time.Hour)},
		},
	}

	got := CombineVersions([]models.Auction{listed, soldV})
	if !got.Sold || got.HighestBid != 500 {
		t.Fatalf("combined is not the sold view: %+v", got)
	}
	if len(got.Bids) != 2 {
		t.Fatalf("got %d bids, want 2 after amount dedup", len(got.Bids))
	}
	if got.StartingBid != 50 || got.Category != "WEAPON" || got.Start.IsZero() {
		t.Errorf("listing metadata not backfilled: %+v", got)
	}
	if got.ProfileID != listed.ProfileID || len(got.CoopMembers) != 1 {
		t.Errorf("profile/coop not backfilled: %+v", got)
	}
}

func TestCombineVersionsSkipsCorrupt(t *testing.T) {
	t.Parallel()

	good := models.Auction{UUID: "1111", Seller: "2222", StartingBid: 9}
	corrupt := models.Auction{UUID: "1111", Seller: "1111", StartingBid: 777, Sold: true}

	got := CombineVersions([]models.Auction{corrupt, good})
	if got.StartingBid != 9 || got.Sold {
		t.Fatalf("corrupt version won the fold: %+v", got)
	}

	// nothing but corrupt versions: still answer rather than vanish
	got = CombineVersions([]models.Auction{corrupt})
	if got.UUID != "1111" {
		t.Fatalf("all-corrupt fold returned %+v", got)
	}
}
