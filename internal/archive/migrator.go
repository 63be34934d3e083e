// Package archive seals months of hot rows into cold blobs, verifies every
// blob against the source rows, and only then frees the hot-store space.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"skyvault/internal/coldstore"
	"skyvault/internal/hotstore"
	"skyvault/internal/metrics"
	"skyvault/internal/models"
)

// DefaultInterval is how often a full pass over tags and months runs.
const DefaultInterval = 24 * time.Hour

// archiveEpoch is the first month that can hold data. Nothing exists
// before it upstream.
var archiveEpoch = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrVerificationFailed means a sealed blob did not read back equal to the
// rows it was built from. The hot rows are never deleted in that case.
var ErrVerificationFailed = errors.New("archive: verification failed")

const verifySamples = 10

// Migrator moves every sealed month older than the retention window from
// the hot store into the cold store. Progress is implicit: a month whose
// blob exists is done, so a crashed run resumes by rescanning.
type Migrator struct {
	retentionMonths int
	dryRun          bool

	// seams over the concrete stores, overridable in tests
	distinctTags func(ctx context.Context) ([]string, error)
	collect      func(ctx context.Context, tag string, t0, t1 time.Time) ([]models.Auction, error)
	deleteRows   func(ctx context.Context, rows []models.Auction) error
	monthExists  func(ctx context.Context, tag string, year, month int) (bool, error)
	storeMonth   func(ctx context.Context, tag string, year, month int, records []models.Auction) error
	getMonth     func(ctx context.Context, tag string, year, month int) ([]models.Auction, error)
	now          func() time.Time
}

// NewMigrator wires the migrator over the concrete stores. With dryRun set
// it seals and verifies but deletes nothing.
func NewMigrator(hot *hotstore.Store, cold *coldstore.Store, retentionMonths int, dryRun bool) *Migrator {
	if retentionMonths <= 0 {
		retentionMonths = 3
	}
	return &Migrator{
		retentionMonths: retentionMonths,
		dryRun:          dryRun,
		distinctTags:    hot.DistinctTags,
		collect: func(ctx context.Context, tag string, t0, t1 time.Time) ([]models.Auction, error) {
			it := hot.Range(ctx, tag, t0, t1, nil, 0)
			defer it.Close()
			var rows []models.Auction
			for {
				a, ok := it.Next()
				if !ok {
					break
				}
				rows = append(rows, a)
			}
			return rows, it.Err()
		},
		deleteRows:  hot.DeleteRows,
		monthExists: cold.MonthExists,
		storeMonth:  cold.StoreMonth,
		getMonth:    cold.GetMonth,
		now:         time.Now,
	}
}

// Start runs one pass immediately, then one per interval until ctx is done.
// A failed pass is logged and retried at the next tick.
func (m *Migrator) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	log.Printf("[archive] migrator starting (interval %s, retention %d months, dry_run=%v)",
		interval, m.retentionMonths, m.dryRun)

	if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[archive] pass failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[archive] migrator stopping")
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[archive] pass failed: %v", err)
			}
		}
	}
}

// RunOnce walks every tag and every month from the epoch up to the
// retention cutoff, sealing whichever months are not in the cold store yet.
func (m *Migrator) RunOnce(ctx context.Context) error {
	tags, err := m.distinctTags(ctx)
	if err != nil {
		return fmt.Errorf("archive: distinct tags: %w", err)
	}
	cutoff := monthFloor(m.now().UTC().AddDate(0, -m.retentionMonths, 0))

	var sealed int
	for _, tag := range tags {
		for cur := archiveEpoch; cur.Before(cutoff); cur = cur.AddDate(0, 1, 0) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			year, month := cur.Year(), int(cur.Month())
			exists, err := m.monthExists(ctx, tag, year, month)
			if err != nil {
				return fmt.Errorf("archive: %s %04d/%02d exists: %w", tag, year, month, err)
			}
			if exists {
				continue
			}
			n, err := m.sealMonth(ctx, tag, cur)
			if err != nil {
				return err
			}
			if n > 0 {
				sealed++
			}
		}
	}
	if sealed > 0 {
		log.Printf("[archive] pass sealed %d months", sealed)
	}
	return nil
}

// sealMonth stores, verifies and (outside dry runs) deletes one month of
// one tag. Empty months are skipped without writing a blob.
func (m *Migrator) sealMonth(ctx context.Context, tag string, monthStart time.Time) (int, error) {
	year, month := monthStart.Year(), int(monthStart.Month())
	rows, err := m.collect(ctx, tag, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return 0, fmt.Errorf("archive: collect %s %04d/%02d: %w", tag, year, month, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := m.storeMonth(ctx, tag, year, month, rows); err != nil {
		return 0, fmt.Errorf("archive: store %s %04d/%02d: %w", tag, year, month, err)
	}
	if err := m.verify(ctx, tag, year, month, rows); err != nil {
		metrics.VerificationFailures.Inc()
		return 0, err
	}
	metrics.MonthsArchived.Inc()
	log.Printf("[archive] sealed %s %04d/%02d (%d rows)", tag, year, month, len(rows))

	if m.dryRun {
		return len(rows), nil
	}
	if err := m.deleteRows(ctx, rows); err != nil {
		return 0, fmt.Errorf("archive: delete hot rows %s %04d/%02d: %w", tag, year, month, err)
	}
	return len(rows), nil
}

// verify reads the freshly written blob back and compares it against the
// source rows: the counts, the exact uuid sets, and a handful of random
// rows field by field. Any difference fails the month and keeps the hot
// rows in place.
func (m *Migrator) verify(ctx context.Context, tag string, year, month int, rows []models.Auction) error {
	stored, err := m.getMonth(ctx, tag, year, month)
	if err != nil {
		return fmt.Errorf("archive: read back %s %04d/%02d: %w", tag, year, month, err)
	}
	fail := func(reason string) error {
		return fmt.Errorf("archive: %s %04d/%02d: %s: %w", tag, year, month, reason, ErrVerificationFailed)
	}
	if len(stored) != len(rows) {
		return fail(fmt.Sprintf("count %d != %d", len(stored), len(rows)))
	}

	byID := make(map[string]models.Auction, len(stored))
	for _, a := range stored {
		byID[plainUUID(a.UUID)] = a
	}
	if len(byID) != len(stored) {
		return fail("duplicate uuids in blob")
	}
	for _, a := range rows {
		if _, ok := byID[plainUUID(a.UUID)]; !ok {
			return fail(fmt.Sprintf("uuid %s missing from blob", a.UUID))
		}
	}

	for _, i := range rand.Perm(len(rows))[:min(verifySamples, len(rows))] {
		want := rows[i]
		got := byID[plainUUID(want.UUID)]
		switch {
		case got.HighestBid != want.HighestBid:
			return fail(fmt.Sprintf("uuid %s bid %d != %d", want.UUID, got.HighestBid, want.HighestBid))
		case plainUUID(got.Seller) != plainUUID(want.Seller):
			return fail(fmt.Sprintf("uuid %s seller mismatch", want.UUID))
		case got.End.UnixMilli() != want.End.UnixMilli():
			return fail(fmt.Sprintf("uuid %s end %v != %v", want.UUID, got.End, want.End))
		case got.Tag != want.Tag:
			return fail(fmt.Sprintf("uuid %s tag %q != %q", want.UUID, got.Tag, want.Tag))
		}
	}
	return nil
}

func plainUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}

func monthFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
