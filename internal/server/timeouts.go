// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts.
//
// The ops listener is scraped and probed, never browsed, so the limits are
// tighter than a public site would use:
//
//   • ReadHeaderTimeout – abort slow-loris headers (5 s)
//   • WriteTimeout      – cap total response time (10 s)
//   • IdleTimeout       – close keep-alives on idle scrapers (60 s)
//
// This helper centralises those defaults so cmd/shardd doesn’t repeat
// boilerplate.

package server

import (
	"net/http"
	"time"
)

// New constructs an *http.Server with sensible defaults.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
