package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/assessrec-go/internal/logging"
)

// Bearer challenges sent with 401 responses.
const (
	challengeMissing = `Bearer realm="assessrec"`
	challengeInvalid = `Bearer realm="assessrec", error="invalid_token"`
)

// requireAPIKey guards next with a static bearer token. An empty key
// disables the check; New logs a warning in that case.
//
// Tokens are compared as SHA-256 digests so the comparison time depends on
// neither the token's content nor its length. Token values are never logged.
func requireAPIKey(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			logging.FromContext(r.Context()).Warn("auth: missing bearer token")
			w.Header().Set("WWW-Authenticate", challengeMissing)
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			logging.FromContext(r.Context()).Warn("auth: rejected token",
				slog.String("client", clientIP(r)),
			)
			w.Header().Set("WWW-Authenticate", challengeInvalid)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
