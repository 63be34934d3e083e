package tier

import (
	"sort"
	"time"

	"skyvault/internal/models"
)

// Stream is a lazy, finite, non-restartable sequence of auctions ordered by
// end descending.
type Stream interface {
	Next() (models.Auction, bool)
	Err() error
	Close()
}

type emptyStream struct{}

func (emptyStream) Next() (models.Auction, bool) { return models.Auction{}, false }
func (emptyStream) Err() error                   { return nil }
func (emptyStream) Close()                       {}

// concatStream drains its parts in order. Parts are built so that every
// auction in part i ends after every auction in part i+1.
type concatStream struct {
	parts []Stream
	pos   int
	e     error
}

func (c *concatStream) Next() (models.Auction, bool) {
	for c.e == nil && c.pos < len(c.parts) {
		a, ok := c.parts[c.pos].Next()
		if ok {
			return a, true
		}
		if err := c.parts[c.pos].Err(); err != nil {
			c.e = err
			return models.Auction{}, false
		}
		c.parts[c.pos].Close()
		c.pos++
	}
	return models.Auction{}, false
}

func (c *concatStream) Err() error { return c.e }

func (c *concatStream) Close() {
	for ; c.pos < len(c.parts); c.pos++ {
		c.parts[c.pos].Close()
	}
}

// sliceStream serves pre-loaded records, sorting them end-descending once.
type sliceStream struct {
	rows []models.Auction
	pos  int
}

func newSliceStream(rows []models.Auction) *sliceStream {
	sort.Slice(rows, func(i, j int) bool { return rows[i].End.After(rows[j].End) })
	return &sliceStream{rows: rows}
}

func (s *sliceStream) Next() (models.Auction, bool) {
	if s.pos >= len(s.rows) {
		return models.Auction{}, false
	}
	out := s.rows[s.pos]
	s.pos++
	return out, true
}

func (s *sliceStream) Err() error { return nil }
func (s *sliceStream) Close()     {}

// limitStream applies a predicate and caps the total yielded.
type limitStream struct {
	src   Stream
	match func(*models.Auction) bool
	limit int
	n     int
}

func (l *limitStream) Next() (models.Auction, bool) {
	if l.limit > 0 && l.n >= l.limit {
		return models.Auction{}, false
	}
	for {
		a, ok := l.src.Next()
		if !ok {
			return models.Auction{}, false
		}
		if l.match != nil && !l.match(&a) {
			continue
		}
		l.n++
		return a, true
	}
}

func (l *limitStream) Err() error { return l.src.Err() }
func (l *limitStream) Close()     { l.src.Close() }

// windowFilter keeps rows with end in (t0, t1] and the wanted sold state.
func windowFilter(rows []models.Auction, t0, t1 time.Time, sold *bool) []models.Auction {
	out := rows[:0:0]
	for _, a := range rows {
		if !a.End.After(t0) || a.End.After(t1) {
			continue
		}
		if sold != nil && a.Sold != *sold {
			continue
		}
		out = append(out, a)
	}
	return out
}
