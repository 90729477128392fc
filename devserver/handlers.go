package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type subjectKey struct{}

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	var errs []fieldError
	if req.Username == "" {
		errs = append(errs, missing("username"))
	}
	if req.Password == "" {
		errs = append(errs, missing("password"))
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	s.mu.Lock()
	want, ok := s.cfg.Users[req.Username]
	s.mu.Unlock()
	if !ok || want != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	access, refresh, err := s.IssueTokens(req.Username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.cfg.AccessTTL.Seconds()),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeValidation(w, []fieldError{missing("refresh_token")})
		return
	}

	s.mu.Lock()
	username, ok := s.refresh[req.RefreshToken]
	if ok && s.cfg.RotateRefresh {
		delete(s.refresh, req.RefreshToken)
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	access, err := s.signAccess(username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	resp := tokenPair{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(s.cfg.AccessTTL.Seconds()),
	}
	if s.cfg.RotateRefresh {
		resp.RefreshToken = s.newRefreshToken(username)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeValidation(w, []fieldError{missing("email")})
		return
	}

	s.mu.Lock()
	if _, ok := s.cfg.Users[req.Email]; ok {
		s.resetTokens[uuid.NewString()] = req.Email
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, a reset link has been sent",
	})
}

// ResetToken returns an outstanding reset token for username, if any.
func (s *Server) ResetToken(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, user := range s.resetTokens {
		if user == username {
			return token, true
		}
	}
	return "", false
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if len(req.NewPassword) < 8 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"details": map[string]any{
				"errors": []map[string]string{
					{"field": "new_password", "message": "must be at least 8 characters"},
				},
			},
			"message": "Validation failed",
		})
		return
	}

	s.mu.Lock()
	username, ok := s.resetTokens[req.Token]
	if ok {
		delete(s.resetTokens, req.Token)
		s.cfg.Users[username] = req.NewPassword
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired reset token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": subject(r.Context())})
}

// Transaction is one gateway-side payment record.
type Transaction struct {
	ID        string    `json:"id"`
	Gateway   string    `json:"gateway"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount_minor"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Matched   bool      `json:"matched"`
	CreatedAt time.Time `json:"created_at"`
}

// Reconciliation is a reconciliation run over one gateway and period.
type Reconciliation struct {
	ID          string    `json:"id"`
	Gateway     string    `json:"gateway"`
	PeriodStart string    `json:"period_start"`
	PeriodEnd   string    `json:"period_end"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ledger holds the sample resources served by the API routes.
type ledger struct {
	mu              sync.Mutex
	transactions    []Transaction
	reconciliations map[string]Reconciliation
}

func newLedger() *ledger {
	now := time.Now().UTC().Truncate(time.Second)
	return &ledger{
		transactions: []Transaction{
			{ID: "txn_001", Gateway: "stripe", Reference: "ch_3Nf1", Amount: 125000, Currency: "USD", Status: "settled", Matched: true, CreatedAt: now.Add(-48 * time.Hour)},
			{ID: "txn_002", Gateway: "stripe", Reference: "ch_3Nf2", Amount: 9900, Currency: "USD", Status: "settled", Matched: false, CreatedAt: now.Add(-30 * time.Hour)},
			{ID: "txn_003", Gateway: "adyen", Reference: "8815", Amount: 45000, Currency: "EUR", Status: "refunded", Matched: true, CreatedAt: now.Add(-6 * time.Hour)},
		},
		reconciliations: make(map[string]Reconciliation),
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway")

	s.store.mu.Lock()
	out := make([]Transaction, 0, len(s.store.transactions))
	for _, t := range s.store.transactions {
		if gateway == "" || t.Gateway == gateway {
			out = append(out, t)
		}
	}
	s.store.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": len(out)})
}

func (s *Server) handleCreateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gateway     string `json:"gateway"`
		PeriodStart string `json:"period_start"`
		PeriodEnd   string `json:"period_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	var errs []fieldError
	if req.Gateway == "" {
		errs = append(errs, missing("gateway"))
	}
	if req.PeriodStart == "" {
		errs = append(errs, missing("period_start"))
	}
	if req.PeriodEnd == "" {
		errs = append(errs, missing("period_end"))
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	rec := Reconciliation{
		ID:          uuid.NewString(),
		Gateway:     req.Gateway,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Status:      "pending",
		CreatedBy:   subject(r.Context()),
		CreatedAt:   time.Now().UTC(),
	}
	s.store.mu.Lock()
	s.store.reconciliations[rec.ID] = rec
	s.store.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.store.mu.Lock()
	rec, ok := s.store.reconciliations[id]
	s.store.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Reconciliation not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteReconciliation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.store.mu.Lock()
	_, ok := s.store.reconciliations[id]
	delete(s.store.reconciliations, id)
	s.store.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Reconciliation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reconciliations returns the stored reconciliations ordered by creation time.
func (s *Server) Reconciliations() []Reconciliation {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	out := make([]Reconciliation, 0, len(s.store.reconciliations))
	for _, rec := range s.store.reconciliations {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
