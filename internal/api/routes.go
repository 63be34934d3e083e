package api

import "github.com/gorilla/mux"

func registerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws/feed", s.handleFeed).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/auction/{uuid}", s.handleGetAuction).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/auction/{uuid}", s.handleAuctionVersions).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auctions/tag/{tag}/recent/overview", s.handleRecentOverview).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/player/{uuid}/auctions", s.handlePlayerAuctions).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/player/{uuid}/bids", s.handlePlayerBids).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/prices/item/price/{tag}", cachedHandler(priceCacheTTL, s.handlePrice)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/prices/item/price/{tag}/history", cachedHandler(historyCacheTTL, s.handleHistory)).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/restore/{uuid}", s.handleRestorePut).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/restore/{uuid}", s.handleRestoreDrop).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/api/archive/{tag}/months", s.handleArchiveMonths).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/archive/{tag}/{year}/{month}", s.handleArchiveMonth).Methods("GET", "OPTIONS")

	// Mutating admin surface. Guarded when an admin secret is configured.
	r.HandleFunc("/api/archive/migrate", s.adminOnly(s.handleArchiveMigrate)).Methods("POST", "OPTIONS")
	r.HandleFunc("/import/offset", s.adminOnly(s.handleImportOffset)).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/export", s.adminOnly(s.handleExport)).Methods("POST", "OPTIONS")
}
