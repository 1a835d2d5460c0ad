// Package api wires the authentication engine into an HTTP surface:
// device-key registration, token issuance, key lifecycle, and a couple of
// protected routes demonstrating verdict consumption.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gobeyondidentity/perimeter/pkg/audit"
	"github.com/gobeyondidentity/perimeter/pkg/auth"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/gobeyondidentity/perimeter/pkg/fingerprint"
	"github.com/gobeyondidentity/perimeter/pkg/store"
	"github.com/gobeyondidentity/perimeter/pkg/token"
)

// Server is the HTTP API server.
type Server struct {
	store   *store.Store
	issuer  *token.Issuer
	logger  *slog.Logger
	emitter audit.EventEmitter
}

// NewServer creates a new API server.
func NewServer(s *store.Store, issuer *token.Issuer, logger *slog.Logger, emitter audit.EventEmitter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	return &Server{store: s, issuer: issuer, logger: logger, emitter: emitter}
}

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Registration and token issuance (bypassed in middleware; a device
	// has no key to prove possession of before registering one)
	mux.HandleFunc("POST /api/v1/devices/register", s.handleRegisterDevice)

	// Device key lifecycle (authenticated)
	mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", s.handleRevokeDevice)

	// Protected demo route exposing the request verdict
	mux.HandleFunc("GET /api/v1/whoami", s.handleWhoami)

	// Health routes (no auth required - bypassed in middleware)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
}

// ----- Registration -----

type registerRequest struct {
	AccountID   string                   `json:"accountId"`
	PublicKey   *dpop.JWK                `json:"publicKey"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
}

type registerResponse struct {
	DeviceKeyID string `json:"deviceKeyId"`
	Thumbprint  string `json:"thumbprint"`
	Token       string `json:"token"`
}

// handleRegisterDevice stores a device key and issues a bearer token bound
// to it. The thumbprint in the token is recomputed from the submitted key,
// never echoed from client input.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	if req.PublicKey == nil {
		writeError(w, http.StatusBadRequest, "publicKey is required")
		return
	}

	key, err := s.store.Register(r.Context(), req.AccountID, req.PublicKey, req.Fingerprint)
	if err != nil {
		if perr, ok := err.(*dpop.ProofError); ok {
			writeError(w, http.StatusBadRequest, perr.Message)
			return
		}
		s.logger.Error("device registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	tok, err := s.issuer.Issue(req.AccountID, key.Thumbprint, key.ID)
	if err != nil {
		s.logger.Error("token issuance failed", "device_key_id", key.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	s.emitter.Emit(audit.NewKeyRegistered(req.AccountID, key.ID, key.Thumbprint, auth.ClientIP(r)))

	writeJSON(w, http.StatusCreated, registerResponse{
		DeviceKeyID: key.ID,
		Thumbprint:  key.Thumbprint,
		Token:       tok,
	})
}

// ----- Device key lifecycle -----

type deviceResponse struct {
	ID         string     `json:"id"`
	Thumbprint string     `json:"thumbprint"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
	Active     bool       `json:"active"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	verdict := auth.VerdictFromContext(r.Context())
	if verdict == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	keys, err := s.store.ListByAccount(r.Context(), verdict.UserID)
	if err != nil {
		s.logger.Error("device list failed", "account", verdict.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	out := make([]deviceResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, deviceResponse{
			ID:         k.ID,
			Thumbprint: k.Thumbprint,
			CreatedAt:  k.CreatedAt,
			LastUsed:   k.LastUsed,
			Active:     k.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	verdict := auth.VerdictFromContext(r.Context())
	if verdict == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	key, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "device key not found")
		return
	}
	if key.AccountID != verdict.UserID {
		// Same response as not-found so key ids can't be probed across accounts.
		writeError(w, http.StatusNotFound, "device key not found")
		return
	}

	if err := s.store.Deactivate(r.Context(), id); err != nil {
		s.logger.Error("device revocation failed", "device_key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "revocation failed")
		return
	}

	s.emitter.Emit(audit.NewKeyRevoked(verdict.UserID, id, "revoked by owner"))
	w.WriteHeader(http.StatusNoContent)
}

// ----- Protected demo route -----

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	verdict := auth.VerdictFromContext(r.Context())
	if verdict == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// ----- Health -----

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ----- Helpers -----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
