package ingest

import (
	"context"
	"log"
	"time"

	"skyvault/internal/models"
)

const (
	// paging and micro-batch shape of the historical migrator
	pageSize     = 2500
	histTagChunk = 12
	histBidChunk = 3

	auctionHighWater = 500
	bidHighWater     = 200
	checkpointLag    = 5 // pages the checkpoint trails behind enqueued work
)

// Source pages the legacy relational store being drained, by primary-key
// window [offset, offset+limit).
type Source interface {
	Page(ctx context.Context, offset int64, limit int) ([]models.Auction, error)
}

// Historical drains the legacy database into the hot store through the
// work queues. It is restartable: the persisted offset trails the
// enqueued pages by checkpointLag, and re-inserted rows are skipped by
// the hot store's exists-check.
type Historical struct {
	source   Source
	store    Store
	auctions *Queue
	bids     *Queue
	offsets  *OffsetTracker

	pause      time.Duration
	retryDelay time.Duration
}

func NewHistorical(source Source, store Store, auctions, bids *Queue, offsets *OffsetTracker) *Historical {
	return &Historical{
		source:     source,
		store:      store,
		auctions:   auctions,
		bids:       bids,
		offsets:    offsets,
		pause:      100 * time.Millisecond,
		retryDelay: 5 * time.Second,
	}
}

// Run pages from the persisted offset until the source is exhausted,
// then returns nil. Page read errors back off and retry the same window.
func (h *Historical) Run(ctx context.Context) error {
	offset := h.offsets.Current()
	log.Printf("[ingest] historical migration resuming at offset %d", offset)

	for {
		if err := h.backpressure(ctx); err != nil {
			return err
		}
		rows, err := h.source.Page(ctx, offset, pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[ingest] page at %d: %v", offset, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.retryDelay):
			}
			continue
		}
		if len(rows) == 0 {
			log.Printf("[ingest] historical migration complete at offset %d", offset)
			return nil
		}

		h.enqueuePage(rows)
		offset += pageSize

		checkpoint := offset - checkpointLag*pageSize
		if checkpoint > 0 {
			h.auctions.Push(Task{
				Name: "checkpoint",
				Run: func(ctx context.Context) error {
					return h.offsets.Advance(ctx, checkpoint)
				},
			})
		}
	}
}

// enqueuePage splits one page into tag micro-batches on the auction queue
// and bidder micro-batches on the bid queue.
func (h *Historical) enqueuePage(rows []models.Auction) {
	for _, chunk := range tagChunks(rows, histTagChunk) {
		chunk := chunk
		h.auctions.Push(Task{
			Name: "insert_auctions",
			Run: func(ctx context.Context) error {
				return h.store.InsertBatchSameTag(ctx, chunk)
			},
		})
	}

	for _, chunk := range bidderChunks(bidEntries(rows), histBidChunk) {
		chunk := chunk
		h.bids.Push(Task{
			Name: "insert_bids",
			Run: func(ctx context.Context) error {
				return h.store.InsertBids(ctx, chunk)
			},
		})
	}
}

// backpressure stalls paging while either queue is above its high-water
// mark so the migrator cannot outrun the pools.
func (h *Historical) backpressure(ctx context.Context) error {
	for h.auctions.Len() > auctionHighWater || h.bids.Len() > bidHighWater {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.pause):
		}
	}
	return nil
}
