package api

import (
	"net/http"
	"strings"
)

// docsCSP lets the Swagger UI and Redoc pages load their bundles from the
// CDN that go-openapi/runtime points them at.
const docsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com https://cdn.redoc.ly; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com https://fonts.googleapis.com; " +
	"font-src https://fonts.gstatic.com; img-src 'self' data: https:; worker-src blob:"

const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders is middleware that sets standard security response headers
// on every response. It should be placed early in the middleware chain.
// Responses carry student records, so nothing is cacheable.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")

		if strings.Contains(r.URL.Path, "/docs") || strings.Contains(r.URL.Path, "/redoc") {
			h.Set("Content-Security-Policy", docsCSP)
		} else {
			h.Set("Content-Security-Policy", apiCSP)
		}

		if requestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
