// Package devserver is a local stand-in for the reconciliation backend. It
// implements the auth endpoints and a few API resources so the client can be
// exercised end to end without the real service.
package devserver

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Config configures a Server.
type Config struct {
	// Secret signs access tokens (HS256).
	Secret []byte
	// AccessTTL is the access token lifetime. Defaults to 15 minutes.
	AccessTTL time.Duration
	// RotateRefresh makes refresh tokens single-use: each refresh returns a new one.
	RotateRefresh bool
	// Users maps usernames to passwords.
	Users map[string]string
}

type accessClaims struct {
	Gen int64 `json:"gen"`
	jwt.RegisteredClaims
}

// Server is an http.Handler. The zero value is not usable; call New.
type Server struct {
	cfg    Config
	router *mux.Router

	mu          sync.Mutex
	refresh     map[string]string // refresh token -> username
	resetTokens map[string]string // reset token -> username
	generation  int64
	gate        chan struct{}

	refreshCalls atomic.Int32
	store        *ledger
}

// New returns a Server with the routes registered.
func New(cfg Config) *Server {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.Users == nil {
		cfg.Users = map[string]string{"admin": "admin"}
	}
	cfg.Users = maps.Clone(cfg.Users)

	s := &Server{
		cfg:         cfg,
		refresh:     make(map[string]string),
		resetTokens: make(map[string]string),
		store:       newLedger(),
	}

	r := mux.NewRouter()
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/reconciliations", s.handleCreateReconciliation).Methods(http.MethodPost)
	api.HandleFunc("/reconciliations/{id}", s.handleGetReconciliation).Methods(http.MethodGet)
	api.HandleFunc("/reconciliations/{id}", s.handleDeleteReconciliation).Methods(http.MethodDelete)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RefreshCalls reports how many refresh requests the server received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// InvalidateAccessTokens makes every access token issued so far fail with 401.
func (s *Server) InvalidateAccessTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// RevokeRefreshTokens forgets every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	clear(s.refresh)
	s.mu.Unlock()
}

// HoldRefresh blocks refresh requests until the returned release func is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// IssueTokens creates a credential pair for username without a password check.
func (s *Server) IssueTokens(username string) (access, refresh string, err error) {
	access, err = s.signAccess(username)
	if err != nil {
		return "", "", err
	}
	return access, s.newRefreshToken(username), nil
}

func (s *Server) signAccess(username string) (string, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	now := time.Now()
	claims := accessClaims{
		Gen: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

func (s *Server) parseAccess(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	if claims.Gen != gen {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

func (s *Server) newRefreshToken(username string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.refresh[token] = username
	s.mu.Unlock()
	return token
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			unauthorized(w, "Not authenticated")
			return
		}
		claims, err := s.parseAccess(raw)
		if err != nil {
			unauthorized(w, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), claims.Subject)))
	})
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// fieldError mirrors the validation error items the real backend emits.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeValidation(w http.ResponseWriter, errs []fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": errs})
}

func missing(field string) fieldError {
	return fieldError{Loc: []string{"body", field}, Msg: "Field required", Type: "missing"}
}
