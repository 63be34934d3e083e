package coldstore

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"skyvault/internal/bloom"
	"skyvault/internal/models"
)

func parseID(s string) ([16]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, err
	}
	return [16]byte(u), nil
}

// canonicalUUID normalizes dashed and bare-hex spellings for comparison.
func canonicalUUID(s string) string {
	u, err := uuid.Parse(s)
	if err != nil {
		return strings.ToLower(s)
	}
	return u.String()
}

// Tag index object layout: the serialized bloom filter length-prefixed,
// followed by the (year, month) pairs that have blobs.
func marshalTagIndex(idx *tagIndex) ([]byte, error) {
	filterRaw, err := idx.filter.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 4+len(filterRaw)+2+3*len(idx.months))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(filterRaw)))
	buf = append(buf, filterRaw...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(idx.months)))
	for _, m := range idx.months {
		buf = binary.BigEndian.AppendUint16(buf, uint16(m.Year))
		buf = append(buf, byte(m.Month))
	}
	return buf, nil
}

func unmarshalTagIndex(raw []byte) (*tagIndex, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("truncated index (%d bytes)", len(raw))
	}
	filterLen := int(binary.BigEndian.Uint32(raw[:4]))
	if len(raw) < 4+filterLen+2 {
		return nil, fmt.Errorf("truncated index: filter length %d exceeds %d bytes", filterLen, len(raw))
	}
	f, err := bloom.UnmarshalBinary(raw[4 : 4+filterLen])
	if err != nil {
		return nil, err
	}
	idx := &tagIndex{filter: f}

	rest := raw[4+filterLen:]
	n := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < 3*n {
		return nil, fmt.Errorf("truncated index: %d months declared, %d bytes left", n, len(rest))
	}
	for i := 0; i < n; i++ {
		idx.months = append(idx.months, models.ArchivedMonth{
			Year:  int(binary.BigEndian.Uint16(rest[3*i : 3*i+2])),
			Month: int(rest[3*i+2]),
		})
	}
	return idx, nil
}
