package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/ledger"
	"github.com/tessara-labs/payguard/pkg/lifecycle"
	"github.com/tessara-labs/payguard/pkg/payguard"
	"github.com/tessara-labs/payguard/pkg/policy"
)

// Server exposes the guard engine over HTTP.
type Server struct {
	svc *payguard.Service
	log *slog.Logger
}

// NewServer creates a Server.
func NewServer(svc *payguard.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, log: log}
}

// Handler returns the routed handler with logging and rate limiting applied.
func (s *Server) Handler(rl *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/guards", s.handleListGuards)
	mux.HandleFunc("PUT /v1/guards/{id}", s.handlePutGuard)
	mux.HandleFunc("DELETE /v1/guards/{id}", s.handleDeleteGuard)
	mux.HandleFunc("POST /v1/intents", s.handleSubmitIntent)
	mux.HandleFunc("GET /v1/intents/{id}", s.handleGetIntent)
	mux.HandleFunc("POST /v1/intents/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/intents/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /v1/ledger", s.handleQueryLedger)
	mux.HandleFunc("POST /v1/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)

	var h http.Handler = mux
	if rl != nil {
		h = rl.Middleware(h)
	}
	return LogRequests(s.log, h)
}

func (s *Server) handleListGuards(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace")
	if workspace == "" {
		WriteBadRequest(w, "workspace query parameter is required")
		return
	}
	guards, err := s.svc.ListGuards(r.Context(), workspace)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guards)
}

// putGuardRequest carries the config as raw JSON so it can be schema-checked
// before decoding into the typed union.
type putGuardRequest struct {
	WorkspaceID string           `json:"workspace_id"`
	Name        string           `json:"name"`
	Type        policy.GuardType `json:"type"`
	Enabled     bool             `json:"enabled"`
	Position    int              `json:"position"`
	Config      json.RawMessage  `json:"config"`
}

func (s *Server) handlePutGuard(w http.ResponseWriter, r *http.Request) {
	var req putGuardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.WorkspaceID == "" {
		WriteBadRequest(w, "workspace_id is required")
		return
	}
	if err := policy.ValidateConfig(req.Type, req.Config); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	cfg, err := policy.DecodeConfig(req.Type, req.Config)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	g := policy.Guard{
		ID:          r.PathValue("id"),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Type:        req.Type,
		Enabled:     req.Enabled,
		Position:    req.Position,
		Config:      cfg,
	}
	if err := s.svc.PutGuard(r.Context(), g); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGuard(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace")
	if workspace == "" {
		WriteBadRequest(w, "workspace query parameter is required")
		return
	}
	if err := s.svc.DeleteGuard(r.Context(), workspace, r.PathValue("id")); err != nil {
		WriteFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitIntentRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	AgentID     string          `json:"agent_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Recipient   string          `json:"recipient"`
	SourceChain string          `json:"source_chain"`
	DestChain   string          `json:"dest_chain"`
}

type intentResponse struct {
	Intent *contracts.PaymentIntent `json:"intent"`
	Checks []contracts.CheckResult  `json:"checks,omitempty"`
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	intent, checks, err := s.svc.SubmitIntent(r.Context(), lifecycle.SubmitRequest{
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Recipient:   req.Recipient,
		SourceChain: req.SourceChain,
		DestChain:   req.DestChain,
	})
	if err != nil && intent == nil {
		WriteFault(w, err)
		return
	}
	// A settlement failure still yields a terminal intent; report the state.
	writeJSON(w, http.StatusCreated, intentResponse{Intent: intent, Checks: checks})
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := s.svc.GetIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{Intent: intent})
}

type resolveRequest struct {
	Approver string `json:"approver"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	intent, err := s.svc.ApproveIntent(r.Context(), r.PathValue("id"), req.Approver)
	if err != nil && intent == nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{Intent: intent})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	intent, err := s.svc.RejectIntent(r.Context(), r.PathValue("id"), req.Approver)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{Intent: intent})
}

type evaluateResponse struct {
	Checks           []contracts.CheckResult `json:"checks"`
	RequiresApproval bool                    `json:"requires_approval"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req submitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	intent := contracts.PaymentIntent{
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Recipient:   req.Recipient,
		SourceChain: req.SourceChain,
		DestChain:   req.DestChain,
	}
	checks, err := s.svc.EvaluateIntent(r.Context(), intent)
	if err != nil {
		WriteFault(w, err)
		return
	}
	needsApproval, err := s.svc.DecideApproval(r.Context(), intent)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Checks: checks, RequiresApproval: needsApproval})
}

func (s *Server) handleQueryLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		AgentID:       q.Get("agent_id"),
		IntentID:      q.Get("intent_id"),
		TransactionID: q.Get("transaction_id"),
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "start must be RFC 3339")
			return
		}
		f.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "end must be RFC 3339")
			return
		}
		f.End = &t
	}
	entries, err := s.svc.QueryLedger(r.Context(), f)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var a contracts.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if a.ID == "" {
		WriteBadRequest(w, "agent id is required")
		return
	}
	if err := s.svc.RegisterAgent(r.Context(), a); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
