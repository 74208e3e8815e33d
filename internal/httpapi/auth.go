package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/j45k4/puppynet/internal/session"
)

var errInvalidCredentials = errors.New("invalid username or password")

type contextKey int

const tokenHashKey contextKey = iota

func tokenHashFromContext(ctx context.Context) string {
	th, _ := ctx.Value(tokenHashKey).(string)
	return th
}

// requireSession validates the bearer JWT against s.jwtSecret, then
// confirms the session it names is still live in the catalog (§3: the
// sessions table, not the JWT's own exp claim, is authoritative).
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		tokenHash, err := session.ParseJWT(s.jwtSecret, strings.TrimPrefix(header, prefix))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if _, err := s.store.LookupSession(tokenHash, time.Now()); err != nil {
			writeError(w, http.StatusUnauthorized, errors.New("session expired or revoked"))
			return
		}
		ctx := context.WithValue(r.Context(), tokenHashKey, tokenHash)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
