package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/thihaeung/balance-ledger/internal/accounts"
	"github.com/thihaeung/balance-ledger/internal/wallet"
)

// server is the thin HTTP edge. It resolves usernames and amounts from the
// request, calls the wallet service, and maps its outcomes to statuses; no
// business rules live here.
type server struct {
	service *wallet.Service
	logger  *zap.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := s.service.Register(r.Context(), req.Username, req.Password); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *server) handleLookup(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	acct, err := s.service.Lookup(r.Context(), username)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	// The credential hash never leaves the process.
	writeJSON(w, http.StatusOK, struct {
		Username string `json:"username"`
		Balance  int64  `json:"balance"`
	}{acct.Username, acct.Balance})
}

func (s *server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	s.handleAdjust(w, r, s.service.TopUp)
}

func (s *server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	s.handleAdjust(w, r, s.service.Purchase)
}

func (s *server) handleAdjust(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, username string, amount int64) error) {
	username := mux.Vars(r)["username"]

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := apply(r.Context(), username, req.Amount); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	entries, err := s.service.Transactions(r.Context(), username)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeFailure maps the service's expected-outcome errors to distinct
// statuses; anything unrecognized is a store-level fault and reports as a
// generic retryable error.
func (s *server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, accounts.ErrAccountExists):
		writeError(w, http.StatusConflict, "username already registered")
	case errors.Is(err, accounts.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, accounts.ErrContended):
		writeError(w, http.StatusServiceUnavailable, "account busy, retry")
	case errors.Is(err, wallet.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be positive")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "temporary error, retry")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
