package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"skyvault/internal/archive"
	"skyvault/internal/export"
	"skyvault/internal/filter"
	"skyvault/internal/hotstore"
	"skyvault/internal/legacy"
	"skyvault/internal/models"
)

const (
	priceCacheTTL   = 1800 * time.Second
	historyCacheTTL = 180 * time.Second

	// Price summaries answer over a day by default; the days parameter
	// widens the window up to two days.
	defaultPriceDays = 1.0
	maxPriceDays     = 2.0

	// Row caps for the player listings.
	defaultPlayerRows = 24
	maxPlayerRows     = 96
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// queryFilters turns the query string into the raw filter map. Paging and
// window-size parameters are not filters; EndAfter/EndBefore stay in the
// map because the query engine reads the window from there.
func queryFilters(r *http.Request) map[string]string {
	q := r.URL.Query()
	filters := make(map[string]string, len(q))
	for k, vs := range q {
		switch k {
		case "days", "limit", "page":
			continue
		}
		if len(vs) > 0 {
			filters[k] = vs[0]
		}
	}
	return filters
}

func parseDays(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultPriceDays, nil
	}
	days, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("days is not a number")
	}
	if days < 0 {
		days = 0
	}
	if days > maxPriceDays {
		days = maxPriceDays
	}
	return days, nil
}

func parseRows(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPlayerRows, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxPlayerRows {
		n = maxPlayerRows
	}
	return n, nil
}

// writeQueryError maps engine errors onto status codes: unknown auctions
// are 404, filter typos are the caller's fault, the rest is ours.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hotstore.ErrNotFound), errors.Is(err, legacy.ErrNotFound):
		writeError(w, http.StatusNotFound, "auction not found")
	case errors.Is(err, filter.ErrBadFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	id := mux.Vars(r)["uuid"]
	a, err := s.deps.Engine.Combined(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleAuctionVersions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	id := mux.Vars(r)["uuid"]
	versions, err := s.deps.Engine.Versions(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, versions)
}

func (s *Server) handleRecentOverview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	tag := mux.Vars(r)["tag"]
	previews, err := s.deps.Engine.RecentOverview(r.Context(), tag, queryFilters(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if previews == nil {
		previews = []models.ItemPreview{}
	}
	writeJSON(w, previews)
}

func (s *Server) handlePlayerAuctions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	id := mux.Vars(r)["uuid"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "player uuid is not valid")
		return
	}
	limit, err := parseRows(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auctions, err := s.deps.Engine.SellerAuctions(r.Context(), id, limit)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if auctions == nil {
		auctions = []models.Auction{}
	}
	writeJSON(w, auctions)
}

func (s *Server) handlePlayerBids(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	id := mux.Vars(r)["uuid"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "player uuid is not valid")
		return
	}
	limit, err := parseRows(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bids, err := s.deps.Engine.BidderBids(r.Context(), id, limit)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if bids == nil {
		bids = []models.PlayerBid{}
	}
	writeJSON(w, bids)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	tag := mux.Vars(r)["tag"]
	days, err := parseDays(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window := time.Duration(days * 24 * float64(time.Hour))
	summary, err := s.deps.Engine.Price(r.Context(), tag, queryFilters(r), window)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not configured")
		return
	}
	tag := mux.Vars(r)["tag"]
	rows, err := s.deps.Engine.History(r.Context(), tag, queryFilters(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if rows == nil {
		rows = []models.SummaryRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleRestorePut(w http.ResponseWriter, r *http.Request) {
	if s.deps.Restore == nil {
		writeError(w, http.StatusServiceUnavailable, "restore not configured")
		return
	}
	id := mux.Vars(r)["uuid"]
	a, err := s.deps.Restore.Put(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleRestoreDrop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Restore == nil {
		writeError(w, http.StatusServiceUnavailable, "restore not configured")
		return
	}
	id := mux.Vars(r)["uuid"]
	if err := s.deps.Restore.Drop(r.Context(), id); err != nil {
		if errors.Is(err, archive.ErrRestoreMismatch) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeQueryError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted", "uuid": id})
}

func (s *Server) handleImportOffset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Offsets == nil {
		writeError(w, http.StatusServiceUnavailable, "import tracking not configured")
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "id must be a non-negative integer")
		return
	}
	if err := s.deps.Offsets.Set(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "offset": id})
}

func (s *Server) handleArchiveMonths(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	tag := mux.Vars(r)["tag"]
	months, err := s.deps.Archive.Months(r.Context(), tag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if months == nil {
		months = []models.ArchivedMonth{}
	}
	writeJSON(w, months)
}

func (s *Server) handleArchiveMonth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil || year < 2019 || year > 9999 {
		writeError(w, http.StatusBadRequest, "year is out of range")
		return
	}
	month, err := strconv.Atoi(vars["month"])
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be 1..12")
		return
	}
	records, err := s.deps.Archive.GetMonth(r.Context(), vars["tag"], year, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		writeError(w, http.StatusNotFound, "month not sealed")
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleArchiveMigrate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Migrator == nil {
		writeError(w, http.StatusServiceUnavailable, "migrator not configured")
		return
	}
	if !s.migrateBusy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "migration already running")
		return
	}
	// Detached from the request context: a pass outlives any client.
	go func() {
		defer s.migrateBusy.Store(false)
		if err := s.deps.Migrator.RunOnce(context.Background()); err != nil {
			log.Printf("[api] manual archive pass: %v", err)
		}
	}()
	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export not configured")
		return
	}
	var req export.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	rows, err := s.deps.Exporter.Run(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrBadRequest), errors.Is(err, filter.ErrBadFilter):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, map[string]interface{}{"status": "delivered", "rows": rows})
}
