// Package hotstore is the wide-column tier: the live auction table
// partitioned by (tag, time_key), the bidder-partitioned bids table, and
// the summary-cache table for daily aggregates.
package hotstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/gocql/gocql"

	"skyvault/internal/codec"
)

// ErrNotFound is returned by point reads when no row matches.
var ErrNotFound = errors.New("hotstore: not found")

// Config carries the cluster connection settings.
type Config struct {
	Hosts             []string
	Keyspace          string
	User              string
	Password          string
	ReplicationClass  string
	ReplicationFactor int
	// CAPaths are PEM files appended to the root pool when TLS is on.
	CAPaths []string
}

func (c *Config) withDefaults() Config {
	out := *c
	if len(out.Hosts) == 0 {
		out.Hosts = []string{"localhost"}
	}
	if out.Keyspace == "" {
		out.Keyspace = "skyvault"
	}
	if out.ReplicationClass == "" {
		out.ReplicationClass = "SimpleStrategy"
	}
	if out.ReplicationFactor <= 0 {
		out.ReplicationFactor = 1
	}
	return out
}

// Store is a live handle to the hot tier. Safe for concurrent use.
type Store struct {
	session *gocql.Session

	// sellerAt reads the seller at a row's full coordinates. Swappable in
	// tests; nil only on an unconnected zero value.
	sellerAt func(ctx context.Context, enc codec.StoredAuction) (gocql.UUID, bool, error)
}

var keyspaceRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// New connects to the cluster, creating the keyspace and tables when they
// do not exist yet.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if !keyspaceRe.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("hotstore: invalid keyspace name %q", cfg.Keyspace)
	}
	if err := ensureKeyspace(cfg); err != nil {
		return nil, err
	}

	cluster, err := newCluster(cfg)
	if err != nil {
		return nil, err
	}
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("hotstore: connect %v: %w", cfg.Hosts, err)
	}

	s := &Store{session: session}
	s.sellerAt = s.existingSeller
	if err := s.ensureTables(); err != nil {
		session.Close()
		return nil, err
	}
	log.Printf("[hotstore] connected to %v keyspace=%s", cfg.Hosts, cfg.Keyspace)
	return s, nil
}

// Close releases the session.
func (s *Store) Close() {
	s.session.Close()
}

// Ping runs a trivial query to verify the session is healthy.
func (s *Store) Ping() error {
	return s.session.Query(`SELECT release_version FROM system.local`).Exec()
}

func newCluster(cfg Config) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 15 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{NumRetries: 3, Min: 100 * time.Millisecond, Max: 2 * time.Second}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	if cfg.User != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: cfg.User, Password: cfg.Password}
	}
	if len(cfg.CAPaths) > 0 {
		pool := x509.NewCertPool()
		for _, p := range cfg.CAPaths {
			pem, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("hotstore: read CA %s: %w", p, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("hotstore: no certificates in %s", p)
			}
		}
		cluster.SslOpts = &gocql.SslOptions{Config: &tls.Config{RootCAs: pool}}
	}
	return cluster, nil
}

func ensureKeyspace(cfg Config) error {
	cluster, err := newCluster(cfg)
	if err != nil {
		return err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("hotstore: connect %v: %w", cfg.Hosts, err)
	}
	defer session.Close()

	ddl := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': '%s', 'replication_factor': %d}`,
		cfg.Keyspace, cfg.ReplicationClass, cfg.ReplicationFactor)
	if err := session.Query(ddl).Exec(); err != nil {
		return fmt.Errorf("hotstore: create keyspace: %w", err)
	}
	return nil
}

func (s *Store) ensureTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auctions (
			tag text,
			time_key smallint,
			is_sold boolean,
			end timestamp,
			auction_uuid uuid,
			item_name text,
			category text,
			tier text,
			bin boolean,
			count int,
			starting_bid bigint,
			highest_bid bigint,
			seller uuid,
			profile_id uuid,
			highest_bidder uuid,
			coop_members list<uuid>,
			start timestamp,
			item_created_at timestamp,
			item_bytes blob,
			nbt map<text, text>,
			enchantments map<text, int>,
			color text,
			item_uid bigint,
			item_uuid uuid,
			bids blob,
			PRIMARY KEY ((tag, time_key), is_sold, end, auction_uuid)
		) WITH CLUSTERING ORDER BY (is_sold ASC, end DESC, auction_uuid DESC)`,
		`CREATE INDEX IF NOT EXISTS auctions_by_uuid ON auctions (auction_uuid)`,
		`CREATE INDEX IF NOT EXISTS auctions_by_item_uid ON auctions (item_uid)`,
		`CREATE INDEX IF NOT EXISTS auctions_by_seller ON auctions (seller)`,
		`CREATE INDEX IF NOT EXISTS auctions_by_bidder ON auctions (highest_bidder)`,
		`CREATE TABLE IF NOT EXISTS bids (
			bidder uuid,
			timestamp timestamp,
			auction_uuid uuid,
			amount bigint,
			profile_id uuid,
			PRIMARY KEY ((bidder), timestamp, auction_uuid)
		) WITH CLUSTERING ORDER BY (timestamp DESC, auction_uuid ASC)`,
		`CREATE INDEX IF NOT EXISTS bids_by_auction ON bids (auction_uuid)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			tag text,
			filter_key text,
			end timestamp,
			start timestamp,
			filters map<text, text>,
			max bigint,
			min bigint,
			med bigint,
			mean double,
			mode bigint,
			volume int,
			PRIMARY KEY ((tag, filter_key), end)
		) WITH CLUSTERING ORDER BY (end DESC)`,
	}
	for _, ddl := range stmts {
		if err := s.session.Query(ddl).Exec(); err != nil {
			return fmt.Errorf("hotstore: schema: %w", err)
		}
	}
	return nil
}
