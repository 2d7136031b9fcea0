package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// RequireInternalSecret protects internal endpoints (the scheduled sync
// trigger, subscription maintenance) with a shared bearer secret. Returns
// 401 Unauthorized when the header is missing or does not match.
func RequireInternalSecret(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")

		if authHeader == "" {
			log.Println("Auth: No Authorization header present")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Parse Authorization header: "Bearer <token>" (RFC 7235). Scheme is
		// case-insensitive; strings.Fields tolerates extra whitespace.
		fields := strings.Fields(authHeader)
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
			log.Println("Auth: Invalid Authorization header format")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(fields[1]), []byte(secret)) != 1 {
			log.Println("Auth: Internal secret mismatch")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
