package ingest

import (
	"context"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"skyvault/internal/codec"
	"skyvault/internal/hotstore"
	"skyvault/internal/models"
)

const (
	// fan-out shape of the live consumer
	liveTagChunk    = 10
	liveBidderChunk = 20
	fanOutDegree    = 10
)

// Store is the hot-store surface the ingest pipeline writes through.
type Store interface {
	InsertBatchSameTag(ctx context.Context, batch []models.Auction) error
	InsertBids(ctx context.Context, entries []hotstore.BidEntry) error
}

// SellConsumer lands bus batches in the hot store with bounded-degree
// fan-outs: tag groups for auction rows, bidder groups for bid rows.
type SellConsumer struct {
	store  Store
	degree int
}

func NewSellConsumer(store Store) *SellConsumer {
	return &SellConsumer{store: store, degree: fanOutDegree}
}

// InsertSells writes one decoded bus batch. A failing group logs and
// fails the whole call so the uncommitted bus batch is redelivered.
func (s *SellConsumer) InsertSells(ctx context.Context, batch []models.Auction) error {
	if len(batch) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.degree)
	for _, chunk := range tagChunks(batch, liveTagChunk) {
		chunk := chunk
		g.Go(func() error {
			if err := s.store.InsertBatchSameTag(gctx, chunk); err != nil {
				log.Printf("[ingest] tag group %s (%d rows): %v", chunk[0].Tag, len(chunk), err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	entries := bidEntries(batch)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.degree)
	for _, chunk := range bidderChunks(entries, liveBidderChunk) {
		chunk := chunk
		g.Go(func() error {
			if err := s.store.InsertBids(gctx, chunk); err != nil {
				log.Printf("[ingest] bidder group (%d bids): %v", len(chunk), err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// tagChunks groups a batch by tag and splits each group into slices of at
// most size. Group order is deterministic.
func tagChunks(batch []models.Auction, size int) [][]models.Auction {
	byTag := make(map[string][]models.Auction)
	for _, a := range batch {
		byTag[a.Tag] = append(byTag[a.Tag], a)
	}
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	var out [][]models.Auction
	for _, t := range tags {
		group := byTag[t]
		for len(group) > size {
			out = append(out, group[:size])
			group = group[size:]
		}
		out = append(out, group)
	}
	return out
}

// bidEntries flattens every bid of the batch into bidder-table rows.
// Rows that do not encode lose their bids with a log; the sibling rows
// still land.
func bidEntries(batch []models.Auction) []hotstore.BidEntry {
	var out []hotstore.BidEntry
	for _, a := range batch {
		if len(a.Bids) == 0 {
			continue
		}
		enc, err := codec.Encode(a)
		if err != nil {
			log.Printf("[ingest] bids of %q dropped: %v", a.UUID, err)
			continue
		}
		for _, b := range enc.Bids {
			out = append(out, hotstore.BidEntry{AuctionUUID: enc.UUID, Bid: b})
		}
	}
	return out
}

// bidderChunks groups entries by bidder and splits each group into slices
// of at most size, so one batch lands on few partitions.
func bidderChunks(entries []hotstore.BidEntry, size int) [][]hotstore.BidEntry {
	byBidder := make(map[string][]hotstore.BidEntry)
	var order []string
	for _, e := range entries {
		k := e.Bid.Bidder.String()
		if _, ok := byBidder[k]; !ok {
			order = append(order, k)
		}
		byBidder[k] = append(byBidder[k], e)
	}
	sort.Strings(order)

	var out [][]hotstore.BidEntry
	for _, k := range order {
		group := byBidder[k]
		for len(group) > size {
			out = append(out, group[:size])
			group = group[size:]
		}
		out = append(out, group)
	}
	return out
}
