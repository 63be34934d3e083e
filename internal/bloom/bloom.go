// Package bloom implements the membership filters that let lookups skip
// cold-store months that cannot contain a given auction uuid.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Sizing for the two filter tiers. The master filter answers "was this uuid
// archived at all" across every tag; the per-tag filters narrow a hit down
// to one tag's blobs.
const (
	MasterCapacity = 100_000_000
	MasterFPR      = 0.001

	TagCapacity = 1_000_000
	TagFPR      = 0.01
)

const (
	marshalMagic   = "SVBF"
	marshalVersion = 1
)

// Filter is a fixed-size bloom filter over auction uuids. It tracks how
// many ids were added so operators can see how full an index is.
type Filter struct {
	m     uint64
	k     uint64
	added uint64
	bits  *bitset.BitSet
}

// New sizes a filter for the expected number of entries at the target false
// positive rate: m = ceil(-n*ln(p)/ln(2)^2), k = max(1, round(m/n*ln(2))).
func New(capacity uint64, fpr float64) *Filter {
	m := uint64(math.Ceil(-float64(capacity) * math.Log(fpr) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint64(math.Round(float64(m) / float64(capacity) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &Filter{m: m, k: k, bits: bitset.New(uint(m))}
}

// NewMaster returns a filter sized for the cross-tag master index.
func NewMaster() *Filter {
	return New(MasterCapacity, MasterFPR)
}

// NewTag returns a filter sized for a single tag's index.
func NewTag() *Filter {
	return New(TagCapacity, TagFPR)
}

// Add records id in the filter.
func (f *Filter) Add(id [16]byte) {
	for _, pos := range f.positions(id) {
		f.bits.Set(uint(pos))
	}
	f.added++
}

// Items returns the number of Add calls observed, including duplicates.
func (f *Filter) Items() uint64 {
	return f.added
}

// MayContain reports whether id might have been added. False means
// definitely absent.
func (f *Filter) MayContain(id [16]byte) bool {
	for _, pos := range f.positions(id) {
		if !f.bits.Test(uint(pos)) {
			return false
		}
	}
	return true
}

// positions derives the k bit positions from sha256 of the raw uuid bytes:
// h1 and h2 are the first and second 8 bytes read big-endian, position i is
// |h1 + i*h2| mod m.
func (f *Filter) positions(id [16]byte) []uint64 {
	sum := sha256.Sum256(id[:])
	h1 := int64(binary.BigEndian.Uint64(sum[0:8]))
	h2 := int64(binary.BigEndian.Uint64(sum[8:16]))
	out := make([]uint64, f.k)
	for i := uint64(0); i < f.k; i++ {
		combined := h1 + int64(i)*h2
		if combined < 0 {
			combined = -combined
		}
		out[i] = uint64(combined) % f.m
	}
	return out
}

// Merge ORs other into f. Both filters must have identical geometry.
func (f *Filter) Merge(other *Filter) error {
	if f.m != other.m || f.k != other.k {
		return fmt.Errorf("bloom: geometry mismatch: (m=%d,k=%d) vs (m=%d,k=%d)", f.m, f.k, other.m, other.k)
	}
	f.bits.InPlaceUnion(other.bits)
	f.added += other.added
	return nil
}

// EstimatedFPR estimates the current false positive rate from filter load:
// (set_bits/m)^k.
func (f *Filter) EstimatedFPR() float64 {
	return math.Pow(float64(f.bits.Count())/float64(f.m), float64(f.k))
}

// MarshalBinary serializes the filter with a versioned header so stored
// indexes survive process restarts.
func (f *Filter) MarshalBinary() ([]byte, error) {
	body, err := f.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bloom: marshal bitset: %w", err)
	}
	buf := make([]byte, 0, 4+1+8+8+8+len(body))
	buf = append(buf, marshalMagic...)
	buf = append(buf, marshalVersion)
	buf = binary.BigEndian.AppendUint64(buf, f.m)
	buf = binary.BigEndian.AppendUint64(buf, f.k)
	buf = binary.BigEndian.AppendUint64(buf, f.added)
	buf = append(buf, body...)
	return buf, nil
}

// UnmarshalBinary restores a filter serialized by MarshalBinary.
func UnmarshalBinary(data []byte) (*Filter, error) {
	if len(data) < 4+1+8+8+8 {
		return nil, fmt.Errorf("bloom: truncated filter (%d bytes)", len(data))
	}
	if string(data[:4]) != marshalMagic {
		return nil, fmt.Errorf("bloom: bad magic %q", data[:4])
	}
	if data[4] != marshalVersion {
		return nil, fmt.Errorf("bloom: unsupported version %d", data[4])
	}
	f := &Filter{
		m:     binary.BigEndian.Uint64(data[5:13]),
		k:     binary.BigEndian.Uint64(data[13:21]),
		added: binary.BigEndian.Uint64(data[21:29]),
		bits:  &bitset.BitSet{},
	}
	if f.m == 0 || f.k == 0 {
		return nil, fmt.Errorf("bloom: invalid geometry m=%d k=%d", f.m, f.k)
	}
	if err := f.bits.UnmarshalBinary(data[29:]); err != nil {
		return nil, fmt.Errorf("bloom: unmarshal bitset: %w", err)
	}
	return f, nil
}
