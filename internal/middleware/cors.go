package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// corsPolicy lets any origin fetch CDN assets, including ranged reads.
var corsPolicy = cors.New(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	AllowedHeaders: []string{"Range"},
	MaxAge:         86400,
})

// CORS answers preflight requests with 204 and adds CORS headers to every
// request that carries an Origin.
func CORS(next http.Handler) http.Handler {
	return corsPolicy.Handler(next)
}
