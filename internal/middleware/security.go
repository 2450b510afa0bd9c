// internal/middleware/security.go
//
// Response-header middleware for the ops surface.
//
// Injects headers on every response:
//
//   • X-Content-Type-Options  –  MIME-sniffing defence
//   • Cache-Control           –  pool snapshots and health are never cached
//   • X-Frame-Options         –  nothing here is meant to be framed
//
// Notes
// -----
// • Headers are set *before* next.ServeHTTP so they reach the client even
//   when the handler flushes early; a handler may still overwrite them.
// • Oxford commas, two spaces after periods.

package middleware

import "net/http"

// Security sets defensive headers for every response.
func Security(next http.Handler) http.Handler {
	const (
		nosn    = "nosniff"
		noStore = "no-store"
		xfo     = "DENY"
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", nosn)
		h.Set("Cache-Control", noStore)
		h.Set("X-Frame-Options", xfo)
		next.ServeHTTP(w, r)
	})
}
