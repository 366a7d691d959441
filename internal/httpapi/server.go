// Package httpapi exposes the mirroring engine over HTTP: a status probe,
// the account roster, the dispatch endpoint, and per-order mapping lookups.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mirrord/internal/domain"
	"mirrord/internal/engine"
	"mirrord/internal/store"
)

// Server serves the mirroring HTTP API.
type Server struct {
	dispatcher *engine.Dispatcher
	accounts   store.AccountStore
	mappings   store.MappingStore
	brokerName string
	dryRun     bool
	authToken  string
	log        *slog.Logger
}

// NewServer creates the API server. An empty authToken disables bearer
// authentication.
func NewServer(dispatcher *engine.Dispatcher, accounts store.AccountStore,
	mappings store.MappingStore, brokerName string, dryRun bool,
	authToken string, log *slog.Logger) *Server {

	return &Server{
		dispatcher: dispatcher,
		accounts:   accounts,
		mappings:   mappings,
		brokerName: brokerName,
		dryRun:     dryRun,
		authToken:  authToken,
		log:        log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", s.handleStatus)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("POST /orders/sync", s.handleSync)
	mux.HandleFunc("GET /orders/{id}/mappings", s.handleMappings)
}

// Handler returns an http.Handler with auth and CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.authMiddleware(mux))
}

// authMiddleware enforces the shared bearer token on every route except the
// status probe.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" || (r.Method == "GET" && r.URL.Path == "/") {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, StatusResponse{Status: "ok", Broker: s.brokerName, DryRun: s.dryRun})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.ListAccounts(r.Context())
	if err != nil {
		s.log.Error("listing accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	out := make([]AccountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountJSON{
			ID:       a.ID,
			Name:     a.Name,
			IsMaster: a.IsMaster,
			Enabled:  a.Enabled,
		})
	}
	writeJSON(w, AccountsResponse{Accounts: out})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	side, err := domain.ParseOrderSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order := &domain.MasterOrder{
		ID:         req.OrderID,
		Instrument: req.Instrument,
		Side:       side,
		Qty:        req.Quantity,
		Price:      req.Price,
	}

	results, err := s.dispatcher.Dispatch(r.Context(), order)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("dispatch failed", "master_order", req.OrderID, "error", err)
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	writeJSON(w, SyncResponse{MasterOrderID: order.ID, Results: results})
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	masterOrderID := r.PathValue("id")
	mappings, err := s.mappings.MappingsByMaster(r.Context(), masterOrderID)
	if err != nil {
		s.log.Error("listing mappings", "master_order", masterOrderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list mappings")
		return
	}

	out := make([]MappingJSON, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, convertMapping(m))
	}
	writeJSON(w, MappingsResponse{MasterOrderID: masterOrderID, Mappings: out})
}
