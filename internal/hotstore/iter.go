package hotstore

import (
	"context"
	"time"

	"github.com/gocql/gocql"

	"skyvault/internal/codec"
	"skyvault/internal/models"
)

// auctionSource is one stream of stored rows ordered by end descending.
type auctionSource interface {
	next() (codec.StoredAuction, bool)
	err() error
	close()
}

// gocqlSource adapts a single CQL query. The driver pages internally, so
// rows stream without buffering the bucket.
type gocqlSource struct {
	iter *gocql.Iter
	e    error
	done bool
}

func (g *gocqlSource) next() (codec.StoredAuction, bool) {
	if g.e != nil || g.done {
		return codec.StoredAuction{}, false
	}
	s, ok, err := scanAuction(g.iter)
	if err != nil {
		g.e = err
		g.done = true
		g.iter.Close()
		return codec.StoredAuction{}, false
	}
	if !ok {
		g.done = true
		g.e = g.iter.Close()
		return codec.StoredAuction{}, false
	}
	return s, true
}

func (g *gocqlSource) err() error { return g.e }

func (g *gocqlSource) close() {
	if !g.done {
		g.done = true
		g.iter.Close()
	}
}

// mergeSource interleaves two end-descending streams into one. Used when a
// bucket must be read for both sold states, since the clustering order
// keys on is_sold first.
type mergeSource struct {
	a, b       auctionSource
	aCur, bCur codec.StoredAuction
	aOK, bOK   bool
	primed     bool
}

func (m *mergeSource) prime() {
	m.aCur, m.aOK = m.a.next()
	m.bCur, m.bOK = m.b.next()
	m.primed = true
}

func (m *mergeSource) next() (codec.StoredAuction, bool) {
	if !m.primed {
		m.prime()
	}
	switch {
	case m.aOK && (!m.bOK || !m.aCur.End.Before(m.bCur.End)):
		out := m.aCur
		m.aCur, m.aOK = m.a.next()
		return out, true
	case m.bOK:
		out := m.bCur
		m.bCur, m.bOK = m.b.next()
		return out, true
	default:
		return codec.StoredAuction{}, false
	}
}

func (m *mergeSource) err() error {
	if err := m.a.err(); err != nil {
		return err
	}
	return m.b.err()
}

func (m *mergeSource) close() {
	m.a.close()
	m.b.close()
}

// Iter is a lazy, finite, non-restartable stream of auctions for one tag,
// newest bucket first and end-descending within each bucket.
type Iter struct {
	ctx    context.Context
	store  *Store
	tag    string
	keys   []int16
	pos    int
	t0, t1 time.Time
	sold   *bool
	limit  int
	n      int
	src    auctionSource
	e      error
	closed bool
}

// Range streams auctions of tag with end in (t0, t1]. sold narrows to one
// sold state; nil reads both. limit 0 means unbounded.
func (s *Store) Range(ctx context.Context, tag string, t0, t1 time.Time, sold *bool, limit int) *Iter {
	if tag == "" {
		tag = codec.TagUnknown
	}
	return &Iter{
		ctx:   ctx,
		store: s,
		tag:   tag,
		keys:  codec.KeysForRange(tag, t0, t1),
		t0:    t0.UTC(),
		t1:    t1.UTC(),
		sold:  sold,
		limit: limit,
	}
}

// Next yields the next auction. It returns false when the stream is
// exhausted, the limit is reached, or an error occurred; check Err after.
func (it *Iter) Next() (models.Auction, bool) {
	if it.e != nil || it.closed {
		return models.Auction{}, false
	}
	if it.limit > 0 && it.n >= it.limit {
		return models.Auction{}, false
	}
	for {
		if it.src == nil {
			if it.pos >= len(it.keys) {
				return models.Auction{}, false
			}
			it.src = it.open(it.keys[it.pos])
			it.pos++
		}
		s, ok := it.src.next()
		if !ok {
			if err := it.src.err(); err != nil {
				it.e = err
				return models.Auction{}, false
			}
			it.src = nil
			continue
		}
		it.n++
		return codec.Decode(s), true
	}
}

// Err reports the first error the stream hit, if any.
func (it *Iter) Err() error { return it.e }

// Close releases the underlying query. Safe to call more than once.
func (it *Iter) Close() {
	if it.closed {
		return
	}
	it.closed = true
	if it.src != nil {
		it.src.close()
		it.src = nil
	}
}

func (it *Iter) open(key int16) auctionSource {
	q := func(soldVal bool) auctionSource {
		iter := it.store.session.Query(
			`SELECT `+auctionCols+` FROM auctions WHERE tag = ? AND time_key = ? AND is_sold = ? AND end > ? AND end <= ?`,
			it.tag, key, soldVal, it.t0, it.t1,
		).WithContext(it.ctx).Iter()
		return &gocqlSource{iter: iter}
	}
	if it.sold != nil {
		return q(*it.sold)
	}
	return &mergeSource{a: q(false), b: q(true)}
}
