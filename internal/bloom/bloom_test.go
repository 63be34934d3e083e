package bloom

import (
	"crypto/rand"
	"testing"
)

func randomID(t *testing.T) [16]byte {
	t.Helper()
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return id
}

func TestSizing(t *testing.T) {
	t.Parallel()

	// Classic textbook values for n=1e6, p=1%.
	f := New(1_000_000, 0.01)
	if f.m != 9585059 {
		t.Errorf("m = %d, want 9585059", f.m)
	}
	if f.k != 7 {
		t.Errorf("k = %d, want 7", f.k)
	}

	if g := New(10, 0.5); g.k < 1 {
		t.Errorf("k = %d, must be at least 1", g.k)
	}
}

func TestMembership(t *testing.T) {
	t.Parallel()

	f := NewTag()
	ids := make([][16]byte, 200)
	for i := range ids {
		ids[i] = randomID(t)
		f.Add(ids[i])
	}
	for i, id := range ids {
		if !f.MayContain(id) {
			t.Fatalf("id %d missing after Add", i)
		}
	}

	// At 200 entries in a 1e6-capacity filter, false positives are
	// essentially impossible over a small probe set.
	misses := 0
	for i := 0; i < 1000; i++ {
		if !f.MayContain(randomID(t)) {
			misses++
		}
	}
	if misses < 990 {
		t.Errorf("only %d/1000 unknown ids rejected", misses)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a, b := NewTag(), NewTag()
	idA, idB := randomID(t), randomID(t)
	a.Add(idA)
	b.Add(idB)

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !a.MayContain(idA) || !a.MayContain(idB) {
		t.Errorf("merged filter lost members")
	}
	if a.Items() != 2 {
		t.Errorf("Items = %d after merge, want 2", a.Items())
	}

	if err := a.Merge(New(100, 0.01)); err == nil {
		t.Errorf("Merge accepted mismatched geometry")
	}
}

func TestEstimatedFPR(t *testing.T) {
	t.Parallel()

	f := NewTag()
	if got := f.EstimatedFPR(); got != 0 {
		t.Errorf("empty filter FPR = %v, want 0", got)
	}
	for i := 0; i < 1000; i++ {
		f.Add(randomID(t))
	}
	got := f.EstimatedFPR()
	if got <= 0 || got >= TagFPR {
		t.Errorf("lightly loaded FPR = %v, want in (0, %v)", got, TagFPR)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	f := NewTag()
	ids := make([][16]byte, 50)
	for i := range ids {
		ids[i] = randomID(t)
		f.Add(ids[i])
	}

	raw, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	g, err := UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if g.m != f.m || g.k != f.k {
		t.Fatalf("geometry changed: (%d,%d) vs (%d,%d)", g.m, g.k, f.m, f.k)
	}
	if g.Items() != 50 {
		t.Errorf("Items = %d after round trip, want 50", g.Items())
	}
	for i, id := range ids {
		if !g.MayContain(id) {
			t.Fatalf("id %d missing after round trip", i)
		}
	}

	if _, err := UnmarshalBinary(raw[:10]); err == nil {
		t.Errorf("UnmarshalBinary accepted truncated input")
	}
	raw[0] = 'X'
	if _, err := UnmarshalBinary(raw); err == nil {
		t.Errorf("UnmarshalBinary accepted bad magic")
	}
}

func TestPositionsDeterministic(t *testing.T) {
	t.Parallel()

	f := NewTag()
	id := randomID(t)
	p1 := f.positions(id)
	p2 := f.positions(id)
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("positions not deterministic: %v vs %v", p1, p2)
		}
		if p1[i] >= f.m {
			t.Fatalf("position %d out of range m=%d", p1[i], f.m)
		}
	}
}
