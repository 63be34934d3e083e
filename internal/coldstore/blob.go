package coldstore

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"skyvault/internal/models"
)

// Blob layout: a small uncompressed header (so tooling can identify a blob
// without decompressing it), then gzip over an LZ4 frame over a msgpack
// array of auctions. The header stands in for object metadata, which not
// every object-store backend supports.
const (
	blobMagic   = "SVB1"
	blobVersion = 1
)

// BlobHeader describes a sealed month object.
type BlobHeader struct {
	Count int
	Year  int
	Month int
	Tag   string
}

func writeHeader(buf *bytes.Buffer, h BlobHeader) error {
	if len(h.Tag) > 255 {
		return fmt.Errorf("coldstore: tag %q too long for header", h.Tag)
	}
	buf.WriteString(blobMagic)
	buf.WriteByte(blobVersion)
	var fixed [7]byte
	binary.BigEndian.PutUint32(fixed[0:4], uint32(h.Count))
	binary.BigEndian.PutUint16(fixed[4:6], uint16(h.Year))
	fixed[6] = byte(h.Month)
	buf.Write(fixed[:])
	buf.WriteByte(byte(len(h.Tag)))
	buf.WriteString(h.Tag)
	return nil
}

// ReadHeader parses just the blob header from the front of raw.
func ReadHeader(raw []byte) (BlobHeader, int, error) {
	const fixedLen = 4 + 1 + 4 + 2 + 1 + 1
	if len(raw) < fixedLen {
		return BlobHeader{}, 0, fmt.Errorf("coldstore: blob too short (%d bytes)", len(raw))
	}
	if string(raw[:4]) != blobMagic {
		return BlobHeader{}, 0, fmt.Errorf("coldstore: bad blob magic %q", raw[:4])
	}
	if raw[4] != blobVersion {
		return BlobHeader{}, 0, fmt.Errorf("coldstore: unsupported blob version %d", raw[4])
	}
	h := BlobHeader{
		Count: int(binary.BigEndian.Uint32(raw[5:9])),
		Year:  int(binary.BigEndian.Uint16(raw[9:11])),
		Month: int(raw[11]),
	}
	tagLen := int(raw[12])
	if len(raw) < fixedLen+tagLen {
		return BlobHeader{}, 0, fmt.Errorf("coldstore: blob header truncated")
	}
	h.Tag = string(raw[fixedLen : fixedLen+tagLen])
	return h, fixedLen + tagLen, nil
}

func encodeBlob(tag string, year, month int, records []models.Auction) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeHeader(&buf, BlobHeader{Count: len(records), Year: year, Month: month, Tag: tag}); err != nil {
		return nil, err
	}

	gz := gzip.NewWriter(&buf)
	lz := lz4.NewWriter(gz)
	enc := msgpack.NewEncoder(lz)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("coldstore: encode %d records: %w", len(records), err)
	}
	if err := lz.Close(); err != nil {
		return nil, fmt.Errorf("coldstore: lz4 close: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("coldstore: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeBlob(raw []byte) (BlobHeader, []models.Auction, error) {
	h, offset, err := ReadHeader(raw)
	if err != nil {
		return BlobHeader{}, nil, err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw[offset:]))
	if err != nil {
		return h, nil, fmt.Errorf("coldstore: gunzip: %w", err)
	}
	defer gz.Close()

	dec := msgpack.NewDecoder(lz4.NewReader(gz))
	dec.SetCustomStructTag("json")
	var records []models.Auction
	if err := dec.Decode(&records); err != nil && err != io.EOF {
		return h, nil, fmt.Errorf("coldstore: decode blob: %w", err)
	}
	return h, records, nil
}
