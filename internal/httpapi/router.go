package httpapi

import "github.com/gorilla/mux"

// NewRouter builds the gorilla/mux router for s. Routing itself (load
// balancing, TLS, auth) is out of scope; this is the thinnest possible
// wiring — path and method matching only.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealthLiveness).Methods("GET", "OPTIONS")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/tickers", s.handleTickers).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/market-data", s.handleMarketData).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/health/history", s.handleHealthHistory).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/cache/status", s.handleCacheStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/cache/refresh", s.handleCacheRefresh).Methods("POST", "OPTIONS")

	r.HandleFunc("/api/stream/ticks", s.handleLiveStream).Methods("GET")

	return r
}
