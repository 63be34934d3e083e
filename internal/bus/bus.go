// Package bus consumes the auction firehose. Producers publish finished
// auctions on SOLD_AUCTION and fresh listings on NEW_AUCTION; both carry
// the same JSON payload.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"skyvault/internal/codec"
	"skyvault/internal/metrics"
	"skyvault/internal/models"
)

const (
	// DefaultGroupID is the consumer group shared by all replicas.
	DefaultGroupID = "sky-auctions"
	// DefaultBatch is how many messages are handed to the handler at once.
	DefaultBatch = 400

	flushAfter = 2 * time.Second
)

type Config struct {
	Brokers   []string
	GroupID   string
	SoldTopic string
	NewTopic  string
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.GroupID == "" {
		c.GroupID = DefaultGroupID
	}
	if c.SoldTopic == "" {
		c.SoldTopic = "SOLD_AUCTION"
	}
	if c.NewTopic == "" {
		c.NewTopic = "NEW_AUCTION"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatch
	}
	return c
}

// Handler processes one decoded batch. Returning an error aborts the
// consumer run; the uncommitted batch is redelivered on the next run.
type Handler func(ctx context.Context, batch []models.Auction) error

// Consumer reads both auction topics as one group member and hands the
// handler de-duplicatable batches.
type Consumer struct {
	reader *kafka.Reader
	batch  int

	// seams over the reader, overridable in tests
	fetch  func(ctx context.Context) (kafka.Message, error)
	commit func(ctx context.Context, msgs ...kafka.Message) error
}

func NewConsumer(cfg Config) (*Consumer, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bus: no brokers configured")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.SoldTopic, cfg.NewTopic},
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     500 * time.Millisecond,
	})
	return &Consumer{
		reader: r,
		batch:  cfg.BatchSize,
		fetch:  r.FetchMessage,
		commit: r.CommitMessages,
	}, nil
}

// Run fetches, decodes and hands off batches until ctx is done or the
// handler fails. Offsets commit only after the handler succeeds, so a
// crash replays the in-flight batch.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		batch, msgs, err := c.nextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bus: fetch: %w", err)
		}
		if len(batch) > 0 {
			if err := handle(ctx, batch); err != nil {
				log.Printf("[bus] batch of %d failed, leaving uncommitted: %v", len(batch), err)
				return err
			}
		}
		if err := c.commit(ctx, msgs...); err != nil {
			return fmt.Errorf("bus: commit: %w", err)
		}
	}
}

// nextBatch blocks for the first message, then keeps accumulating until
// the batch is full or the topic goes quiet for flushAfter.
func (c *Consumer) nextBatch(ctx context.Context) ([]models.Auction, []kafka.Message, error) {
	first, err := c.fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	msgs := []kafka.Message{first}

	flushCtx, cancel := context.WithTimeout(ctx, flushAfter)
	defer cancel()
	for len(msgs) < c.batch {
		m, err := c.fetch(flushCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			break
		}
		msgs = append(msgs, m)
	}

	batch := make([]models.Auction, 0, len(msgs))
	for _, m := range msgs {
		a, err := DecodeAuction(m.Value)
		if err != nil {
			// poison pill: drop it, or the group wedges on one message
			log.Printf("[bus] malformed message %s/%d@%d: %v", m.Topic, m.Partition, m.Offset, err)
			metrics.IngestErrors.WithLabelValues("decode").Inc()
			continue
		}
		batch = append(batch, a)
	}
	return batch, msgs, nil
}

func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// wireAuction is the producer's JSON shape. It matches the model except
// that enchantments arrive as a list with possible duplicate names.
type wireAuction struct {
	models.Auction
	Enchantments []models.Enchant `json:"enchantments"`
}

// DecodeAuction parses one bus payload into the canonical model.
func DecodeAuction(data []byte) (models.Auction, error) {
	var w wireAuction
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Auction{}, fmt.Errorf("bus: decode auction: %w", err)
	}
	a := w.Auction
	a.Enchantments = codec.FoldEnchantments(w.Enchantments)
	if a.UUID == "" {
		return models.Auction{}, fmt.Errorf("bus: auction without uuid")
	}
	return a, nil
}
