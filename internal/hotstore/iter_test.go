package hotstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"skyvault/internal/codec"
	"skyvault/internal/models"
)

// sliceSource feeds canned rows to the merge logic.
type sliceSource struct {
	rows []codec.StoredAuction
	pos  int
	e    error
}

func (s *sliceSource) next() (codec.StoredAuction, bool) {
	if s.pos >= len(s.rows) {
		return codec.StoredAuction{}, false
	}
	out := s.rows[s.pos]
	s.pos++
	return out, true
}

func (s *sliceSource) err() error { return s.e }
func (s *sliceSource) close()     {}

func rowAt(end time.Time) codec.StoredAuction {
	return codec.StoredAuction{End: end}
}

func TestMergeSourceOrdersByEndDescending(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	a := &sliceSource{rows: []codec.StoredAuction{
		rowAt(base.Add(9 * time.Hour)),
		rowAt(base.Add(5 * time.Hour)),
		rowAt(base.Add(1 * time.Hour)),
	}}
	b := &sliceSource{rows: []codec.StoredAuction{
		rowAt(base.Add(8 * time.Hour)),
		rowAt(base.Add(6 * time.Hour)),
	}}

	m := &mergeSource{a: a, b: b}
	var got []time.Time
	for {
		s, ok := m.next()
		if !ok {
			break
		}
		got = append(got, s.End)
	}
	if len(got) != 5 {
		t.Fatalf("merged %d rows, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].After(got[i-1]) {
			t.Fatalf("merge out of order at %d: %v after %v", i, got[i], got[i-1])
		}
	}
}

func TestMergeSourceOneSideEmpty(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	m := &mergeSource{
		a: &sliceSource{},
		b: &sliceSource{rows: []codec.StoredAuction{rowAt(base)}},
	}
	if s, ok := m.next(); !ok || !s.End.Equal(base) {
		t.Fatalf("next = %v, %v; want the single row", s.End, ok)
	}
	if _, ok := m.next(); ok {
		t.Fatalf("stream did not end")
	}
}

func TestMergeSourcePropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := &mergeSource{a: &sliceSource{e: boom}, b: &sliceSource{}}
	m.next()
	if !errors.Is(m.err(), boom) {
		t.Fatalf("err = %v, want boom", m.err())
	}
}

func TestApplyRetrofit(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	created := start.Add(-90 * 24 * time.Hour)
	found := models.Auction{
		Start:         start,
		Count:         3,
		ItemCreatedAt: created,
		ItemName:      "Aspect of the Dragons",
		ProfileID:     "3fa85f64-5717-4562-b3fc-2c963f66afa6",
		Bin:           true,
		StartingBid:   1000,
	}

	pending := models.Auction{HighestBid: 5000}
	applyRetrofit(&pending, found)

	if !pending.Start.Equal(start) || pending.Count != 3 || !pending.ItemCreatedAt.Equal(created) {
		t.Errorf("listing fields not copied: %+v", pending)
	}
	if pending.ItemName != found.ItemName || pending.ProfileID != found.ProfileID {
		t.Errorf("identity fields not copied: %+v", pending)
	}
	if !pending.Bin || pending.StartingBid != 1000 {
		t.Errorf("sale fields not copied: %+v", pending)
	}
	if pending.HighestBid != 5000 {
		t.Errorf("retrofit clobbered the sold amount")
	}

	// Fields the event already carried stay put.
	withName := models.Auction{ItemName: "Renamed Blade", Count: 1}
	applyRetrofit(&withName, found)
	if withName.ItemName != "Renamed Blade" || withName.Count != 1 {
		t.Errorf("retrofit overwrote present fields: %+v", withName)
	}
}

func TestBindStoredArity(t *testing.T) {
	t.Parallel()

	enc, err := codec.EncodeAt(models.Auction{
		UUID: "9d4b3a1c8e2f4d5a9b6c7d8e9f0a1b2c",
		Tag:  "HYPERION",
		End:  time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
	}, time.Date(2023, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	args, err := bindStored(enc)
	if err != nil {
		t.Fatalf("bindStored: %v", err)
	}
	if len(args) != 25 {
		t.Fatalf("bindStored returned %d args, insert statement has 25 placeholders", len(args))
	}
}

func TestRangeEmptyWindow(t *testing.T) {
	t.Parallel()

	s := &Store{}
	to := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	it := s.Range(context.Background(), "HYPERION", to.Add(time.Hour), to, nil, 10)
	if _, ok := it.Next(); ok {
		t.Fatalf("inverted window yielded a row")
	}
	if it.Err() != nil {
		t.Fatalf("Err = %v, want nil", it.Err())
	}
	it.Close()
}
