// Package legacy talks to the relational auction store being phased out.
// The historical migration drains it page by page; the restore endpoints
// write individual auctions back into it for consumers that still read SQL.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skyvault/internal/models"
)

// ErrNotFound is returned by point reads when no row matches.
var ErrNotFound = errors.New("legacy: auction not found")

type Store struct {
	db *pgxpool.Pool
}

func New(dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	// Recycle connections across deploys and kill orphaned queries. The
	// migration runs long SELECTs, so the statement timeout stays generous.
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := config.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["statement_timeout"] = "300000"
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// EnsureSchema creates the auctions table when it is missing. Against the
// real legacy database this is a no-op; it exists for fresh environments.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS auctions (
			id              BIGSERIAL PRIMARY KEY,
			uuid            TEXT NOT NULL,
			tag             TEXT NOT NULL,
			item_name       TEXT NOT NULL DEFAULT '',
			category        TEXT NOT NULL DEFAULT '',
			tier            TEXT NOT NULL DEFAULT '',
			bin             BOOLEAN NOT NULL DEFAULT FALSE,
			count           INTEGER NOT NULL DEFAULT 0,
			starting_bid    BIGINT NOT NULL DEFAULT 0,
			highest_bid     BIGINT NOT NULL DEFAULT 0,
			seller          TEXT NOT NULL DEFAULT '',
			profile_id      TEXT NOT NULL DEFAULT '',
			coop_members    JSONB,
			start_ts        TIMESTAMPTZ,
			end_ts          TIMESTAMPTZ,
			item_created_at TIMESTAMPTZ,
			item_bytes      BYTEA,
			flat_nbt        JSONB,
			enchantments    JSONB,
			bids            JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS auctions_uuid_idx ON auctions (uuid);
		CREATE INDEX IF NOT EXISTS auctions_end_idx ON auctions (end_ts);
	`)
	if err != nil {
		return fmt.Errorf("legacy: ensure schema: %w", err)
	}
	return nil
}

const auctionColumns = `uuid, tag, item_name, category, tier, bin, count,
	starting_bid, highest_bid, seller, profile_id, coop_members,
	start_ts, end_ts, item_created_at, item_bytes, flat_nbt, enchantments, bids`

// Page returns the rows with primary key in [offset, offset+limit), in key
// order. A window emptied by deletions restarts at the next live id, so a
// gap can hand back rows past the window boundary; the caller's offset
// catches up over the following calls and the hot store's exists-check
// absorbs the duplicate inserts. An empty result means the source is
// exhausted.
func (s *Store) Page(ctx context.Context, offset int64, limit int) ([]models.Auction, error) {
	var next *int64
	err := s.db.QueryRow(ctx, `SELECT MIN(id) FROM auctions WHERE id >= $1`, offset).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("legacy: page at %d: %w", offset, err)
	}
	if next == nil {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE id >= $1 AND id < $2
		ORDER BY id`,
		*next, *next+int64(limit))
	if err != nil {
		return nil, fmt.Errorf("legacy: page at %d: %w", offset, err)
	}
	defer rows.Close()

	var out []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("legacy: page at %d: %w", offset, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("legacy: page at %d: %w", offset, err)
	}
	return out, nil
}

// GetByUUID fetches one auction by its uuid.
func (s *Store) GetByUUID(ctx context.Context, uuid string) (models.Auction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE uuid = $1`,
		uuid)
	a, err := scanAuction(row)
	if err == pgx.ErrNoRows {
		return models.Auction{}, ErrNotFound
	}
	if err != nil {
		return models.Auction{}, fmt.Errorf("legacy: get %s: %w", uuid, err)
	}
	return a, nil
}

// Upsert writes one auction keyed by uuid. The restore path calls this to
// put an archived auction back where SQL consumers expect it.
func (s *Store) Upsert(ctx context.Context, a models.Auction) error {
	coop, _ := json.Marshal(a.CoopMembers)
	nbt, _ := json.Marshal(a.FlatNBT)
	ench, _ := json.Marshal(a.Enchantments)
	bids, _ := json.Marshal(a.Bids)

	_, err := s.db.Exec(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (uuid) DO UPDATE SET
			tag = EXCLUDED.tag,
			item_name = EXCLUDED.item_name,
			category = EXCLUDED.category,
			tier = EXCLUDED.tier,
			bin = EXCLUDED.bin,
			count = EXCLUDED.count,
			starting_bid = EXCLUDED.starting_bid,
			highest_bid = EXCLUDED.highest_bid,
			seller = EXCLUDED.seller,
			profile_id = EXCLUDED.profile_id,
			coop_members = EXCLUDED.coop_members,
			start_ts = EXCLUDED.start_ts,
			end_ts = EXCLUDED.end_ts,
			item_created_at = EXCLUDED.item_created_at,
			item_bytes = EXCLUDED.item_bytes,
			flat_nbt = EXCLUDED.flat_nbt,
			enchantments = EXCLUDED.enchantments,
			bids = EXCLUDED.bids`,
		a.UUID, a.Tag, a.ItemName, a.Category, a.Tier, a.Bin, a.Count,
		a.StartingBid, a.HighestBid, a.Seller, a.ProfileID, coop,
		a.Start, a.End, a.ItemCreatedAt, a.ItemBytes, nbt, ench, bids)
	if err != nil {
		return fmt.Errorf("legacy: upsert %s: %w", a.UUID, err)
	}
	return nil
}

// Delete removes one auction by uuid. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, uuid string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM auctions WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("legacy: delete %s: %w", uuid, err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (models.Auction, error) {
	var (
		a                     models.Auction
		coop, nbt, ench, bids []byte
		start, end, createdAt *time.Time
	)
	err := row.Scan(
		&a.UUID, &a.Tag, &a.ItemName, &a.Category, &a.Tier, &a.Bin, &a.Count,
		&a.StartingBid, &a.HighestBid, &a.Seller, &a.ProfileID, &coop,
		&start, &end, &createdAt, &a.ItemBytes, &nbt, &ench, &bids)
	if err != nil {
		return models.Auction{}, err
	}
	if start != nil {
		a.Start = start.UTC()
	}
	if end != nil {
		a.End = end.UTC()
	}
	if createdAt != nil {
		a.ItemCreatedAt = createdAt.UTC()
	}
	if len(coop) > 0 {
		_ = json.Unmarshal(coop, &a.CoopMembers)
	}
	if len(nbt) > 0 {
		_ = json.Unmarshal(nbt, &a.FlatNBT)
	}
	if len(ench) > 0 {
		_ = json.Unmarshal(ench, &a.Enchantments)
	}
	if len(bids) > 0 {
		_ = json.Unmarshal(bids, &a.Bids)
	}
	a.Sold = len(a.Bids) > 0 || a.HighestBid > 0
	return a, nil
}
