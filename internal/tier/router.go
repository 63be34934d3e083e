// Package tier routes time-ranged reads between the hot and cold stores
// and merges the two into one end-descending stream.
package tier

import (
	"context"
	"log"
	"time"

	"skyvault/internal/codec"
	"skyvault/internal/coldstore"
	"skyvault/internal/filter"
	"skyvault/internal/hotstore"
	"skyvault/internal/models"
)

// DefaultRetentionMonths is how long data stays in the hot tier when the
// environment does not say otherwise.
const DefaultRetentionMonths = 3

// Router decides, bucket by bucket, which tier serves a window.
type Router struct {
	retentionMonths int
	coldEnabled     bool

	// seams over the concrete stores, overridable in tests
	hotRange   func(ctx context.Context, tag string, t0, t1 time.Time, sold *bool, limit int) Stream
	hotByUUID  func(ctx context.Context, id string) ([]models.Auction, error)
	coldMonth  func(ctx context.Context, tag string, year, month int) ([]models.Auction, error)
	coldLookup func(ctx context.Context, id string) ([]models.Auction, error)
	now        func() time.Time
}

// NewRouter wires the router over the concrete stores. cold may be nil when
// the archive tier is disabled; every read then goes to the hot store.
func NewRouter(hot *hotstore.Store, cold *coldstore.Store, retentionMonths int) *Router {
	if retentionMonths <= 0 {
		retentionMonths = DefaultRetentionMonths
	}
	r := &Router{
		retentionMonths: retentionMonths,
		coldEnabled:     cold != nil,
		hotRange: func(ctx context.Context, tag string, t0, t1 time.Time, sold *bool, limit int) Stream {
			return hot.Range(ctx, tag, t0, t1, sold, limit)
		},
		hotByUUID: hot.GetByUUID,
		now:       time.Now,
	}
	if cold != nil {
		r.coldMonth = cold.GetMonth
		r.coldLookup = cold.Lookup
	}
	return r
}

// RetentionCutoff is the boundary before which buckets are considered
// archive territory.
func (r *Router) RetentionCutoff() time.Time {
	return r.now().UTC().AddDate(0, -r.retentionMonths, 0)
}

// Filtered streams auctions of tag with end in (t0, t1] matching pred,
// newest first, spanning both tiers. limit 0 means unbounded.
func (r *Router) Filtered(ctx context.Context, tag string, t0, t1 time.Time, sold *bool, pred filter.Predicate, limit int) Stream {
	t0, t1 = t0.UTC(), t1.UTC()
	if t1.Before(t0) {
		return &limitStream{src: emptyStream{}}
	}
	var match func(*models.Auction) bool
	if pred != nil {
		match = pred
	}

	if !r.coldEnabled {
		return &limitStream{src: r.hotRange(ctx, tag, t0, t1, sold, 0), match: match, limit: limit}
	}

	boundary := r.splitPoint(tag, t0, t1)
	parts := make([]Stream, 0, 2)
	if boundary.Before(t1) {
		parts = append(parts, r.hotRange(ctx, tag, boundary, t1, sold, 0))
	}
	if boundary.After(t0) {
		parts = append(parts, &monthStream{
			ctx: ctx, r: r, tag: tag,
			t0: t0, t1: boundary, sold: sold,
			cursor: monthOf(boundary),
			floor:  monthOf(t0),
		})
	}
	return &limitStream{src: &concatStream{parts: parts}, match: match, limit: limit}
}

// splitPoint returns the instant separating hot from cold territory within
// (t0, t1]: the start of the oldest bucket still inside retention. Results
// clamp to the window, so boundary==t0 means all hot and boundary==t1
// means all cold.
func (r *Router) splitPoint(tag string, t0, t1 time.Time) time.Time {
	cutoff := r.RetentionCutoff()
	if !t0.Before(cutoff) {
		return t0
	}
	if t1.Before(cutoff) {
		return t1
	}
	// Align to the bucket grid: a straddling bucket is served hot.
	b := codec.KeyDate(tag, codec.TimeKey(tag, cutoff))
	if b.Before(t0) {
		return t0
	}
	if b.After(t1) {
		return t1
	}
	return b
}

// monthStream walks sealed months newest-first, loading one blob at a time.
// A month the migrator has not sealed yet falls back to the hot store, so a
// lagging migration never hides data. A failed cold read only elides that
// month.
type monthStream struct {
	ctx    context.Context
	r      *Router
	tag    string
	t0, t1 time.Time
	sold   *bool

	cursor time.Time // first day of the month to load next
	floor  time.Time // first day of the oldest month in range
	cur    Stream
	e      error
}

func (m *monthStream) Next() (models.Auction, bool) {
	for m.e == nil {
		if m.cur != nil {
			a, ok := m.cur.Next()
			if ok {
				return a, true
			}
			if err := m.cur.Err(); err != nil {
				m.e = err
				return models.Auction{}, false
			}
			m.cur.Close()
			m.cur = nil
			m.cursor = m.cursor.AddDate(0, -1, 0)
		}
		if m.cursor.Before(m.floor) {
			return models.Auction{}, false
		}
		m.cur = m.load()
	}
	return models.Auction{}, false
}

func (m *monthStream) load() Stream {
	y, mo := m.cursor.Year(), int(m.cursor.Month())
	records, err := m.r.coldMonth(m.ctx, m.tag, y, mo)
	if err != nil {
		log.Printf("[tier] cold month %s %04d/%02d unavailable: %v", m.tag, y, mo, err)
		return emptyStream{}
	}
	if records == nil {
		// not sealed yet; the rows are still hot
		lo, hi := m.clampToMonth()
		return m.r.hotRange(m.ctx, m.tag, lo, hi, m.sold, 0)
	}
	return newSliceStream(windowFilter(records, m.t0, m.t1, m.sold))
}

// clampToMonth intersects the stream window with the cursor month.
func (m *monthStream) clampToMonth() (time.Time, time.Time) {
	lo, hi := m.cursor, m.cursor.AddDate(0, 1, 0)
	if lo.Before(m.t0) {
		lo = m.t0
	}
	if hi.After(m.t1) {
		hi = m.t1
	}
	return lo, hi
}

func (m *monthStream) Err() error { return m.e }

func (m *monthStream) Close() {
	if m.cur != nil {
		m.cur.Close()
		m.cur = nil
	}
	m.floor = m.cursor.AddDate(0, 1, 0) // stop iteration
}

// Versions returns every stored version of an auction across both tiers,
// de-duplicated by clustering identity.
func (r *Router) Versions(ctx context.Context, id string) ([]models.Auction, error) {
	out, err := r.hotByUUID(ctx, id)
	if err != nil && err != hotstore.ErrNotFound {
		return nil, err
	}
	if r.coldEnabled {
		cold, err := r.coldLookup(ctx, id)
		if err != nil {
			log.Printf("[tier] cold lookup %s: %v", id, err)
		} else {
			out = append(out, cold...)
		}
	}
	if len(out) == 0 {
		return nil, hotstore.ErrNotFound
	}
	return dedupVersions(out), nil
}

type versionKey struct {
	sold bool
	end  int64
}

func dedupVersions(versions []models.Auction) []models.Auction {
	seen := make(map[versionKey]struct{}, len(versions))
	out := versions[:0:0]
	for _, v := range versions {
		k := versionKey{sold: v.Sold, end: v.End.UnixMilli()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
