// Package api is the thin HTTP translator over the platform: it validates
// requests, converts them to bus envelopes or store reads, and returns JSON.
// No business logic lives here.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/store"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// DefaultNamespace is assumed when a request omits the namespace.
const DefaultNamespace = "default"

// defaultListLimit bounds list endpoints when no limit is given.
const defaultListLimit = 100

// Server translates HTTP requests into bus and store operations.
type Server struct {
	bus       bus.Bus
	resources resource.Store
	stores    store.Stores
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer wires the translator over the bus, the resource store, and the
// operational stores.
func NewServer(b bus.Bus, resources resource.Store, stores store.Stores, opts ...Option) *Server {
	s := &Server{
		bus:       b,
		resources: resources,
		stores:    stores,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// Register installs all handlers on the mux:
//
//	GET  /healthz
//	GET  /metrics
//	POST /api/v1/cells/{name}/exec
//	GET  /api/v1/cells
//	GET  /api/v1/cells/{name}/events
//	GET  /api/v1/cells/{name}/budget
//	GET  /api/v1/cells/{name}/tree
//	GET  /api/v1/spawn-requests
//	POST /api/v1/spawn-requests/{id}/approve
//	POST /api/v1/spawn-requests/{id}/reject
//	GET  /api/v1/audit
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/cells/{name}/exec", s.handleExec)
	mux.HandleFunc("GET /api/v1/cells", s.handleListCells)
	mux.HandleFunc("GET /api/v1/cells/{name}/events", s.handleCellEvents)
	mux.HandleFunc("GET /api/v1/cells/{name}/budget", s.handleCellBudget)
	mux.HandleFunc("GET /api/v1/cells/{name}/tree", s.handleCellTree)

	mux.HandleFunc("GET /api/v1/spawn-requests", s.handleListSpawnRequests)
	mux.HandleFunc("POST /api/v1/spawn-requests/{id}/approve", s.decideSpawnRequest(store.SpawnApproved))
	mux.HandleFunc("POST /api/v1/spawn-requests/{id}/reject", s.decideSpawnRequest(store.SpawnRejected))

	mux.HandleFunc("GET /api/v1/audit", s.handleAudit)
}

// ----------------------------------------------------------------------------
// GET /healthz
// ----------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ----------------------------------------------------------------------------
// POST /api/v1/cells/{name}/exec
// ----------------------------------------------------------------------------

// ExecRequest is the request body for POST /api/v1/cells/{name}/exec.
type ExecRequest struct {
	// Message is the text delivered to the cell's inbox.
	Message string `json:"message"`

	// Namespace defaults to "default" when empty.
	Namespace string `json:"namespace,omitempty"`
}

// ExecResponse acknowledges an accepted message.
type ExecResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
}

// handleExec publishes a message envelope to the cell's inbox. Delivery is
// asynchronous; the response only confirms acceptance onto the bus.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := envelope.ValidateIdentifiers(namespace, name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	env := envelope.NewMessage("api", name, req.Message)
	data, err := env.Marshal()
	if err != nil {
		s.internalError(w, "encode envelope", err)
		return
	}
	if err := s.bus.Publish(r.Context(), envelope.InboxSubject(namespace, name), data); err != nil {
		s.internalError(w, "publish to inbox", err)
		return
	}

	s.logger.Info("message accepted", "cell", name, "namespace", namespace, "id", env.ID)
	writeJSON(w, http.StatusOK, ExecResponse{OK: true, MessageID: env.ID})
}

// ----------------------------------------------------------------------------
// GET /api/v1/cells
// ----------------------------------------------------------------------------

// handleListCells lists cell resources in a namespace.
func (s *Server) handleListCells(w http.ResponseWriter, r *http.Request) {
	namespace := queryNamespace(r)
	cells, err := s.resources.List(r.Context(), resource.KindCell, namespace, nil)
	if err != nil {
		s.internalError(w, "list cells", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cells": cells})
}

// ----------------------------------------------------------------------------
// GET /api/v1/cells/{name}/events
// ----------------------------------------------------------------------------

// handleCellEvents returns the cell's persisted event log, newest first.
func (s *Server) handleCellEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	namespace := queryNamespace(r)
	if err := envelope.ValidateIdentifiers(namespace, name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := s.stores.Events.ListEvents(r.Context(), namespace, name, queryLimit(r))
	if err != nil {
		s.internalError(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ----------------------------------------------------------------------------
// GET /api/v1/cells/{name}/budget
// ----------------------------------------------------------------------------

// BudgetResponse is the response body for GET /api/v1/cells/{name}/budget.
type BudgetResponse struct {
	Balance   *store.Balance       `json:"balance"`
	Available float64              `json:"available"`
	History   []store.JournalEntry `json:"history"`
}

// handleCellBudget returns the cell's ledger balance and recent journal.
func (s *Server) handleCellBudget(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	namespace := queryNamespace(r)
	if err := envelope.ValidateIdentifiers(namespace, name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cellID := resource.ObjectKey(namespace, name)
	balance, err := s.stores.Ledger.GetBalance(r.Context(), cellID)
	if err != nil {
		s.internalError(w, "get balance", err)
		return
	}
	if balance == nil {
		http.Error(w, "no budget record for "+cellID, http.StatusNotFound)
		return
	}
	history, err := s.stores.Ledger.GetHistory(r.Context(), cellID, queryLimit(r))
	if err != nil {
		s.internalError(w, "get history", err)
		return
	}
	writeJSON(w, http.StatusOK, BudgetResponse{
		Balance:   balance,
		Available: balance.Available(),
		History:   history,
	})
}

// ----------------------------------------------------------------------------
// GET /api/v1/cells/{name}/tree
// ----------------------------------------------------------------------------

// TreeResponse is the response body for GET /api/v1/cells/{name}/tree.
type TreeResponse struct {
	Node     *store.TreeNode  `json:"node"`
	Children []store.TreeNode `json:"children"`
}

// handleCellTree returns the cell's spawn-tree position and direct children.
func (s *Server) handleCellTree(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	namespace := queryNamespace(r)
	if err := envelope.ValidateIdentifiers(namespace, name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cellID := resource.ObjectKey(namespace, name)
	node, err := s.stores.Tree.Get(r.Context(), cellID)
	if err != nil {
		s.internalError(w, "get tree node", err)
		return
	}
	if node == nil {
		http.Error(w, "cell not in tree: "+cellID, http.StatusNotFound)
		return
	}
	children, err := s.stores.Tree.Children(r.Context(), cellID)
	if err != nil {
		s.internalError(w, "list children", err)
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{Node: node, Children: children})
}

// ----------------------------------------------------------------------------
// GET /api/v1/spawn-requests
// ----------------------------------------------------------------------------

// handleListSpawnRequests lists spawn requests, filtered by ?status=
// (default Pending).
func (s *Server) handleListSpawnRequests(w http.ResponseWriter, r *http.Request) {
	status := store.SpawnDecision(r.URL.Query().Get("status"))
	if status == "" {
		status = store.SpawnPending
	}
	switch status {
	case store.SpawnPending, store.SpawnApproved, store.SpawnRejected:
	default:
		http.Error(w, "status must be one of: Pending, Approved, Rejected", http.StatusBadRequest)
		return
	}

	reqs, err := s.stores.Spawns.ListSpawnRequests(r.Context(), status, queryLimit(r))
	if err != nil {
		s.internalError(w, "list spawn requests", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spawnRequests": reqs})
}

// ----------------------------------------------------------------------------
// POST /api/v1/spawn-requests/{id}/approve | /reject
// ----------------------------------------------------------------------------

// DecideRequest is the request body for spawn-request decisions.
type DecideRequest struct {
	// Actor identifies who decided; recorded in the audit log.
	Actor string `json:"actor,omitempty"`

	// Reason is required on reject, optional on approve.
	Reason string `json:"reason,omitempty"`
}

// DecideResponse is the response body for spawn-request decisions.
type DecideResponse struct {
	OK     bool                `json:"ok"`
	ID     string              `json:"id"`
	Status store.SpawnDecision `json:"status"`
}

// decideSpawnRequest resolves a pending request and records the decision in
// the audit log. A request already decided returns 409.
func (s *Server) decideSpawnRequest(decision store.SpawnDecision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req DecideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if decision == store.SpawnRejected && strings.TrimSpace(req.Reason) == "" {
			http.Error(w, "reason is required to reject", http.StatusBadRequest)
			return
		}
		actor := req.Actor
		if actor == "" {
			actor = "api"
		}

		existing, err := s.stores.Spawns.GetSpawnRequest(r.Context(), id)
		if err != nil {
			s.internalError(w, "get spawn request", err)
			return
		}
		if existing == nil {
			http.Error(w, "spawn request not found: "+id, http.StatusNotFound)
			return
		}
		if existing.Status != store.SpawnPending {
			http.Error(w, "spawn request already decided: "+string(existing.Status), http.StatusConflict)
			return
		}

		if err := s.stores.Spawns.DecideSpawnRequest(r.Context(), id, decision, req.Reason); err != nil {
			s.internalError(w, "decide spawn request", err)
			return
		}

		audit := &store.AuditEntry{
			Actor:   actor,
			Action:  "spawn_request_" + strings.ToLower(string(decision)),
			Subject: id,
			Detail:  req.Reason,
		}
		if err := s.stores.Audit.AppendAudit(r.Context(), audit); err != nil {
			// The decision stuck; the audit miss is logged, not surfaced.
			s.logger.Error("append audit", "request", id, "error", err)
		}

		s.logger.Info("spawn request decided",
			"request", id, "decision", decision, "actor", actor)
		writeJSON(w, http.StatusOK, DecideResponse{OK: true, ID: id, Status: decision})
	}
}

// ----------------------------------------------------------------------------
// GET /api/v1/audit
// ----------------------------------------------------------------------------

// handleAudit returns the most recent audit entries, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stores.Audit.ListAudit(r.Context(), queryLimit(r))
	if err != nil {
		s.internalError(w, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.logger.Error(what, "error", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func queryNamespace(r *http.Request) string {
	if ns := r.URL.Query().Get("namespace"); ns != "" {
		return ns
	}
	return DefaultNamespace
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
