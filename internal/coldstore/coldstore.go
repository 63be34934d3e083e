// Package coldstore is the object-storage tier: immutable monthly blobs per
// tag plus the hierarchical bloom indexes that make point lookups cheap.
package coldstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/thanos-io/objstore"

	"skyvault/internal/bloom"
	"skyvault/internal/metrics"
	"skyvault/internal/models"
)

const masterIndexKey = "index/master_bloom_0.bin"

// SanitizeTag makes a tag safe as an object-key segment.
func SanitizeTag(tag string) string {
	if tag == "" {
		return "unknown"
	}
	tag = strings.ReplaceAll(tag, "/", "_")
	return strings.ReplaceAll(tag, `\`, "_")
}

// BlobKey is the object key for one sealed month.
func BlobKey(tag string, year, month int) string {
	return fmt.Sprintf("auctions/%s/%04d/%02d.blob", SanitizeTag(tag), year, month)
}

func tagIndexKey(tag string) string {
	return "index/" + SanitizeTag(tag) + "/bloom.bin"
}

// tagIndex pairs a tag's bloom filter with the months that have blobs.
type tagIndex struct {
	filter *bloom.Filter
	months []models.ArchivedMonth
}

// Store reads and writes the cold tier. Index updates for one tag are
// serialized in-process; across processes the filter blob is
// last-writer-wins, which only ever widens the maybe-present set seen by
// stale readers after the subsequent blob scan.
type Store struct {
	bucket objstore.Bucket

	// newMaster builds an empty master filter when none is stored yet.
	newMaster func() *bloom.Filter

	mu       sync.Mutex
	master   *bloom.Filter
	tags     map[string]*tagIndex
	tagLocks map[string]*sync.Mutex
}

// New wraps an object-store bucket.
func New(bucket objstore.Bucket) *Store {
	return &Store{
		bucket:    bucket,
		newMaster: bloom.NewMaster,
		tags:      make(map[string]*tagIndex),
		tagLocks:  make(map[string]*sync.Mutex),
	}
}

func (s *Store) tagLock(tag string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tagLocks[tag]
	if !ok {
		l = &sync.Mutex{}
		s.tagLocks[tag] = l
	}
	return l
}

// StoreMonth seals one (tag, month) as an immutable blob and folds every
// uuid into the per-tag and master bloom indexes. Blob and index writes are
// not transactional; a reader racing the index refresh just falls back to
// a ranged scan.
func (s *Store) StoreMonth(ctx context.Context, tag string, year, month int, records []models.Auction) error {
	blob, err := encodeBlob(tag, year, month, records)
	if err != nil {
		return err
	}
	key := BlobKey(tag, year, month)
	if err := s.bucket.Upload(ctx, key, bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("coldstore: upload %s: %w", key, err)
	}

	ids := make([][16]byte, 0, len(records))
	for _, a := range records {
		id, err := parseID(a.UUID)
		if err != nil {
			return fmt.Errorf("coldstore: %s holds bad uuid %q", key, a.UUID)
		}
		ids = append(ids, id)
	}

	if err := s.updateTagIndex(ctx, tag, year, month, ids); err != nil {
		return err
	}
	if err := s.updateMaster(ctx, ids); err != nil {
		return err
	}
	log.Printf("[coldstore] sealed %s n=%d size=%d", key, len(records), len(blob))
	return nil
}

func (s *Store) updateTagIndex(ctx context.Context, tag string, year, month int, ids [][16]byte) error {
	lock := s.tagLock(SanitizeTag(tag))
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.loadTagIndex(ctx, tag)
	if err != nil {
		return err
	}
	if idx == nil {
		idx = &tagIndex{filter: bloom.NewTag()}
	}
	for _, id := range ids {
		idx.filter.Add(id)
	}
	idx.addMonth(year, month)

	raw, err := marshalTagIndex(idx)
	if err != nil {
		return err
	}
	if err := s.bucket.Upload(ctx, tagIndexKey(tag), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("coldstore: upload tag index %s: %w", tag, err)
	}
	s.mu.Lock()
	s.tags[SanitizeTag(tag)] = idx
	s.mu.Unlock()
	return nil
}

func (s *Store) updateMaster(ctx context.Context, ids [][16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.master == nil {
		m, err := s.fetchMaster(ctx)
		if err != nil {
			return err
		}
		s.master = m
	}
	for _, id := range ids {
		s.master.Add(id)
	}
	raw, err := s.master.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.bucket.Upload(ctx, masterIndexKey, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("coldstore: upload master index: %w", err)
	}
	return nil
}

// GetMonth reads one sealed month. A missing blob yields an empty list.
func (s *Store) GetMonth(ctx context.Context, tag string, year, month int) ([]models.Auction, error) {
	key := BlobKey(tag, year, month)
	rc, err := s.bucket.Get(ctx, key)
	if s.bucket.IsObjNotFoundErr(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coldstore: get %s: %w", key, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("coldstore: read %s: %w", key, err)
	}
	_, records, err := decodeBlob(raw)
	if err != nil {
		return nil, fmt.Errorf("coldstore: %s: %w", key, err)
	}
	return records, nil
}

// MonthExists reports whether the blob for (tag, year, month) is present.
func (s *Store) MonthExists(ctx context.Context, tag string, year, month int) (bool, error) {
	ok, err := s.bucket.Exists(ctx, BlobKey(tag, year, month))
	if err != nil {
		return false, fmt.Errorf("coldstore: head %s: %w", BlobKey(tag, year, month), err)
	}
	return ok, nil
}

// MayContain consults the master index only. False means the uuid was never
// archived; true means some tag's blobs may hold it.
func (s *Store) MayContain(ctx context.Context, id [16]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		m, err := s.fetchMaster(ctx)
		if err != nil {
			return false, err
		}
		s.master = m
	}
	return s.master.MayContain(id), nil
}

// Lookup finds every archived version of an auction: master filter first,
// then per-tag filters, then a scan of the months each positive tag has.
func (s *Store) Lookup(ctx context.Context, uuid string) ([]models.Auction, error) {
	id, err := parseID(uuid)
	if err != nil {
		return nil, fmt.Errorf("coldstore: %q is not a uuid", uuid)
	}
	maybe, err := s.MayContain(ctx, id)
	if err != nil {
		return nil, err
	}
	if !maybe {
		metrics.ColdLookups.WithLabelValues("master_miss").Inc()
		return nil, nil
	}

	tags, err := s.indexedTags(ctx)
	if err != nil {
		return nil, err
	}
	canonical := canonicalUUID(uuid)
	for _, tag := range tags {
		idx, err := s.loadTagIndex(ctx, tag)
		if err != nil {
			log.Printf("[coldstore] lookup: tag index %s: %v", tag, err)
			continue
		}
		if idx == nil || !idx.filter.MayContain(id) {
			continue
		}
		for _, m := range idx.months {
			records, err := s.GetMonth(ctx, tag, m.Year, m.Month)
			if err != nil {
				log.Printf("[coldstore] lookup: %s %04d/%02d: %v", tag, m.Year, m.Month, err)
				continue
			}
			var hits []models.Auction
			for _, a := range records {
				if canonicalUUID(a.UUID) == canonical {
					hits = append(hits, a)
				}
			}
			if len(hits) > 0 {
				metrics.ColdLookups.WithLabelValues("hit").Inc()
				return hits, nil
			}
		}
	}
	metrics.ColdLookups.WithLabelValues("false_positive").Inc()
	return nil, nil
}

// Months lists the sealed months for a tag, oldest first.
func (s *Store) Months(ctx context.Context, tag string) ([]models.ArchivedMonth, error) {
	idx, err := s.loadTagIndex(ctx, tag)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}
	out := make([]models.ArchivedMonth, len(idx.months))
	copy(out, idx.months)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

// indexedTags lists every tag that has a per-tag index object.
func (s *Store) indexedTags(ctx context.Context) ([]string, error) {
	var tags []string
	err := s.bucket.Iter(ctx, "index/", func(name string) error {
		if !strings.HasSuffix(name, "/") {
			return nil // the master filter object
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(name, "index/"), "/")
		if tag != "" {
			tags = append(tags, tag)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coldstore: list indexes: %w", err)
	}
	return tags, nil
}

// loadTagIndex returns the cached index for tag, fetching it on first use.
// A tag with no index yet yields nil.
func (s *Store) loadTagIndex(ctx context.Context, tag string) (*tagIndex, error) {
	key := SanitizeTag(tag)
	s.mu.Lock()
	if idx, ok := s.tags[key]; ok {
		s.mu.Unlock()
		return idx, nil
	}
	s.mu.Unlock()

	rc, err := s.bucket.Get(ctx, tagIndexKey(tag))
	if s.bucket.IsObjNotFoundErr(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coldstore: get tag index %s: %w", tag, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("coldstore: read tag index %s: %w", tag, err)
	}
	idx, err := unmarshalTagIndex(raw)
	if err != nil {
		return nil, fmt.Errorf("coldstore: tag index %s: %w", tag, err)
	}

	s.mu.Lock()
	s.tags[key] = idx
	s.mu.Unlock()
	return idx, nil
}

func (s *Store) fetchMaster(ctx context.Context) (*bloom.Filter, error) {
	rc, err := s.bucket.Get(ctx, masterIndexKey)
	if s.bucket.IsObjNotFoundErr(err) {
		return s.newMaster(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("coldstore: get master index: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("coldstore: read master index: %w", err)
	}
	f, err := bloom.UnmarshalBinary(raw)
	if err != nil {
		return nil, fmt.Errorf("coldstore: master index: %w", err)
	}
	return f, nil
}

func (t *tagIndex) addMonth(year, month int) {
	for _, m := range t.months {
		if m.Year == year && m.Month == month {
			return
		}
	}
	t.months = append(t.months, models.ArchivedMonth{Year: year, Month: month})
}
