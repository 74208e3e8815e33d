// Package httpapi is the thin HTTP JSON façade named in SPEC_FULL.md §D's
// Module Map ("External Surface Glue"): a go-chi/chi/v5 router, wrapped in
// rs/cors, translating HTTP requests into internal/facade calls. It owns
// login/logout directly against internal/catalog and internal/session —
// the wire protocol's Authenticate/CreateToken request kinds are a
// peer-to-peer handshake concern the dispatcher never answers, so the
// HTTP-only login flow is this package's own responsibility. Grounded on
// the chi+cors stack declared for this purpose in SPEC_FULL.md §B.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/facade"
	"github.com/j45k4/puppynet/internal/session"
)

// Server holds the façade and catalog handles every handler needs.
type Server struct {
	facade    *facade.Facade
	store     *catalog.Store
	jwtSecret []byte
}

// NewRouter builds the complete chi.Mux for the HTTP surface, wrapping it
// in a permissive CORS policy (operator-run mesh agent, not a public
// multi-tenant service — §3's threat model is peers and browsers on the
// same trusted network).
func NewRouter(f *facade.Facade, store *catalog.Store, jwtSecret []byte) http.Handler {
	s := &Server{facade: f, store: store, jwtSecret: jwtSecret}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}).Handler)

	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/api/logout", s.handleLogout)

		r.Get("/api/dir", s.handleListDir)
		r.Get("/api/stat", s.handleStatFile)
		r.Get("/api/file", s.handleReadFile)
		r.Post("/api/file", s.handleWriteFile)
		r.Get("/api/cpus", s.handleListCpus)
		r.Get("/api/disks", s.handleListDisks)
		r.Get("/api/ifaces", s.handleListIfaces)
		r.Get("/api/files", s.handleFileEntries)
		r.Get("/api/thumbnail", s.handleThumbnail)

		r.Get("/api/perms", s.handleListPerms)
		r.Post("/api/grant", s.handleGrantAccess)
		r.Post("/api/users", s.handleCreateUser)

		r.Post("/api/scan", s.handleStartScan)
		r.Post("/api/update", s.handleUpdateSelf)

		r.Post("/api/shell", s.handleStartShell)
		r.Post("/api/shell/{id}/input", s.handleShellInput)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		log.WithFields(log.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Info("http request")
	})
}

// peerParam returns the "peer" query parameter, empty meaning "the local
// node" throughout this package's handlers (facade.Facade's own
// convention).
func peerParam(r *http.Request) string {
	return r.URL.Query().Get("peer")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSONBody(w, v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.WithError(err).Warn("http api error")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleLogin verifies a password against internal/catalog's users
// table, mints a session row and a JWT carrying its token hash (§3).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := s.store.GetUser(body.Username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errInvalidCredentials)
		return
	}
	ok, err := session.VerifyPassword(user.PasswordHash, body.Password)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, errInvalidCredentials)
		return
	}

	token, tokenHash, err := session.NewToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	now := time.Now()
	expiresAt := now.Add(session.DefaultTTL)
	if err := s.store.CreateSession(catalog.Session{
		TokenHash: tokenHash,
		Username:  user.Username,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	jwt, err := session.SignJWT(s.jwtSecret, user.Username, tokenHash, now, expiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_ = token // the raw token is never persisted nor needed once the JWT carries its hash
	writeJSON(w, http.StatusOK, map[string]string{"token": jwt})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tokenHash := tokenHashFromContext(r.Context())
	if err := s.store.DeleteSession(tokenHash); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
