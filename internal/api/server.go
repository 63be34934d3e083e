// Package api exposes the HTTP surface: auction lookups, price summaries,
// archive administration, the export hook and the live websocket feed.
// Handlers talk to the rest of the process through narrow interfaces so
// tests can run against fakes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skyvault/internal/export"
	"skyvault/internal/feed"
	"skyvault/internal/metrics"
	"skyvault/internal/models"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Engine answers read queries over the tiered store.
type Engine interface {
	Combined(ctx context.Context, uuid string) (models.Auction, error)
	Versions(ctx context.Context, uuid string) ([]models.Auction, error)
	Price(ctx context.Context, tag string, filters map[string]string, window time.Duration) (models.PriceSummary, error)
	History(ctx context.Context, tag string, filters map[string]string) ([]models.SummaryRow, error)
	RecentOverview(ctx context.Context, tag string, filters map[string]string) ([]models.ItemPreview, error)
	SellerAuctions(ctx context.Context, seller string, limit int) ([]models.Auction, error)
	BidderBids(ctx context.Context, bidder string, limit int) ([]models.PlayerBid, error)
}

// Archive reads sealed monthly blobs.
type Archive interface {
	Months(ctx context.Context, tag string) ([]models.ArchivedMonth, error)
	GetMonth(ctx context.Context, tag string, year, month int) ([]models.Auction, error)
}

// Migrator runs one hot-to-cold archival pass.
type Migrator interface {
	RunOnce(ctx context.Context) error
}

// Restorer moves archived auctions into and out of the relational store.
type Restorer interface {
	Put(ctx context.Context, uuid string) (models.Auction, error)
	Drop(ctx context.Context, uuid string) error
}

// Offsets exposes the historical import checkpoint.
type Offsets interface {
	Current() int64
	Set(ctx context.Context, n int64) error
}

// Exporter streams filtered auctions to a webhook as CSV.
type Exporter interface {
	Run(ctx context.Context, req export.Request) (int, error)
}

// Deps carries everything the handlers need. Nil fields disable the
// corresponding routes with a 503 instead of a panic.
type Deps struct {
	Engine      Engine
	Archive     Archive
	Migrator    Migrator
	Restore     Restorer
	Offsets     Offsets
	Exporter    Exporter
	Feed        *feed.Bus
	AdminSecret string
	Retention   int
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	started    time.Time

	migrateBusy atomic.Bool

	statusCache struct {
		mu        sync.Mutex
		payload   []byte
		expiresAt time.Time
	}
}

func NewServer(port string, deps Deps) *Server {
	r := mux.NewRouter()

	s := &Server{
		deps:    deps,
		started: time.Now(),
	}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)
	r.Use(metricsMiddleware)

	registerRoutes(r, s)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET", "OPTIONS")

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.statusCache.mu.Lock()
	if now.Before(s.statusCache.expiresAt) && len(s.statusCache.payload) > 0 {
		cached := append([]byte(nil), s.statusCache.payload...)
		s.statusCache.mu.Unlock()
		w.Write(cached)
		return
	}
	s.statusCache.mu.Unlock()

	payload, err := s.buildStatusPayload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.statusCache.mu.Lock()
	s.statusCache.payload = payload
	s.statusCache.expiresAt = time.Now().Add(10 * time.Second)
	s.statusCache.mu.Unlock()

	w.Write(payload)
}

func (s *Server) buildStatusPayload() ([]byte, error) {
	var importOffset int64
	if s.deps.Offsets != nil {
		importOffset = s.deps.Offsets.Current()
	}

	resp := map[string]interface{}{
		"status":            "ok",
		"commit":            BuildCommit,
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"import_offset":     importOffset,
		"retention_months":  s.deps.Retention,
		"migration_running": s.migrateBusy.Load(),
		"generated_at":      time.Now().UTC().Format(time.RFC3339),
	}

	return json.Marshal(resp)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
