// ABOUTME: HTTP API handlers for runbook CRUD and permission management
// ABOUTME: Enforces the authorize-then-fetch pattern on every listing endpoint

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/runbookhq/runbook-gateway/internal/auth"
	"github.com/runbookhq/runbook-gateway/internal/permissions"
	"github.com/runbookhq/runbook-gateway/internal/store"
)

// CreateRunbookRequest is the JSON request body for POST /api/runbooks.
type CreateRunbookRequest struct {
	Title string `json:"title"`
}

// UpdateRunbookRequest is the JSON request body for PATCH /api/runbooks/{id}.
type UpdateRunbookRequest struct {
	Title string `json:"title"`
}

// RunbookResponse is the JSON representation of a runbook.
type RunbookResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListRunbooksResponse is the JSON response for GET /api/runbooks.
type ListRunbooksResponse struct {
	Runbooks []RunbookResponse `json:"runbooks"`
}

// GrantRequest is the JSON request body for POST /api/runbooks/{id}/permissions.
type GrantRequest struct {
	UserID string `json:"user_id"`
}

// PermissionResponse is one entry in a runbook's permission listing.
type PermissionResponse struct {
	UserID    string `json:"user_id"`
	Level     string `json:"level"`
	GrantedBy string `json:"granted_by,omitempty"`
	GrantedAt string `json:"granted_at,omitempty"`
}

// ListPermissionsResponse is the JSON response for GET /api/runbooks/{id}/permissions.
type ListPermissionsResponse struct {
	RunbookID   string               `json:"runbook_id"`
	Permissions []PermissionResponse `json:"permissions"`
}

// MeResponse is the JSON response for GET /api/me.
type MeResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	Anonymous   bool   `json:"anonymous"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func runbookResponse(rb *store.Runbook) RunbookResponse {
	return RunbookResponse{
		ID:        rb.ID,
		Title:     rb.Title,
		OwnerID:   rb.OwnerID,
		CreatedAt: rb.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: rb.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleMe returns the authenticated caller's identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := auth.MustFromContext(r.Context()).Identity
	writeJSON(w, http.StatusOK, MeResponse{
		ID:          id.ID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Anonymous:   id.IsAnonymous,
	})
}

// handleRunbooks handles GET and POST /api/runbooks.
func (s *Server) handleRunbooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRunbooks(w, r)
	case http.MethodPost:
		s.handleCreateRunbook(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListRunbooks lists every runbook the caller can access,
// most-recently-updated first.
func (s *Server) handleListRunbooks(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context()).Identity

	opts := store.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}

	runbooks, err := s.queries.ListAccessible(r.Context(), id.ID, opts)
	if err != nil {
		s.logger.Error("listing runbooks failed", "user_id", id.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := ListRunbooksResponse{Runbooks: make([]RunbookResponse, 0, len(runbooks))}
	for _, rb := range runbooks {
		resp.Runbooks = append(resp.Runbooks, runbookResponse(rb))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateRunbook creates a runbook owned by the caller. The owner
// grant is written in the same transaction as the runbook row.
func (s *Server) handleCreateRunbook(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context()).Identity

	var req CreateRunbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "Untitled Runbook"
	}

	now := time.Now().UTC()
	rb := &store.Runbook{
		ID:        ulid.Make().String(),
		Title:     req.Title,
		OwnerID:   id.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateRunbook(r.Context(), rb); err != nil {
		s.logger.Error("creating runbook failed", "user_id", id.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, runbookResponse(rb))
}

// handleRunbookRoutes dispatches /api/runbooks/{id} and its subresources.
func (s *Server) handleRunbookRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runbooks/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	runbookID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleRunbook(w, r, runbookID)
	case len(parts) == 2 && parts[1] == "permissions":
		s.handlePermissions(w, r, runbookID)
	case len(parts) == 3 && parts[1] == "permissions":
		s.handleRevoke(w, r, runbookID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// requireLevel resolves the caller's level and checks it against want.
// Inaccessible and nonexistent runbooks are indistinguishable to the
// caller: both produce 404.
func (s *Server) requireLevel(w http.ResponseWriter, r *http.Request, runbookID string, want permissions.Level) (auth.Identity, bool) {
	id := auth.MustFromContext(r.Context()).Identity

	res := permissions.CheckOrDeny(r.Context(), s.provider, id.ID, runbookID, s.logger)
	if !res.HasAccess || !res.Level.Satisfies(want) {
		writeError(w, http.StatusNotFound, "not found")
		return id, false
	}
	return id, true
}

// handleRunbook handles GET, PATCH, and DELETE on a single runbook.
func (s *Server) handleRunbook(w http.ResponseWriter, r *http.Request, runbookID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.requireLevel(w, r, runbookID, permissions.LevelWriter); !ok {
			return
		}

		rb, err := s.store.GetRunbook(r.Context(), runbookID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, runbookResponse(rb))

	case http.MethodPatch:
		if _, ok := s.requireLevel(w, r, runbookID, permissions.LevelWriter); !ok {
			return
		}

		var req UpdateRunbookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}

		err := s.store.UpdateRunbookTitle(r.Context(), runbookID, req.Title)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		rb, err := s.store.GetRunbook(r.Context(), runbookID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, runbookResponse(rb))

	case http.MethodDelete:
		if _, ok := s.requireLevel(w, r, runbookID, permissions.LevelOwner); !ok {
			return
		}

		// Grant rows cascade with the runbook row.
		err := s.store.DeleteRunbook(r.Context(), runbookID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePermissions handles GET and POST /api/runbooks/{id}/permissions.
// Any collaborator may list; only the owner may grant.
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request, runbookID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.requireLevel(w, r, runbookID, permissions.LevelWriter); !ok {
			return
		}

		perms, err := s.provider.ListPermissions(r.Context(), runbookID)
		if err != nil {
			s.logger.Error("listing permissions failed", "runbook_id", runbookID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := ListPermissionsResponse{
			RunbookID:   runbookID,
			Permissions: make([]PermissionResponse, 0, len(perms)),
		}
		for _, p := range perms {
			pr := PermissionResponse{UserID: p.UserID, Level: string(p.Level), GrantedBy: p.GrantedBy}
			if !p.GrantedAt.IsZero() {
				pr.GrantedAt = p.GrantedAt.UTC().Format(time.RFC3339)
			}
			resp.Permissions = append(resp.Permissions, pr)
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		id, ok := s.requireLevel(w, r, runbookID, permissions.LevelOwner)
		if !ok {
			return
		}

		var req GrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if req.UserID == id.ID {
			// The owner already holds full rights; a self-grant would be a
			// silent downgrade path.
			writeError(w, http.StatusConflict, "cannot grant to the runbook owner")
			return
		}

		err := s.provider.GrantPermission(r.Context(), permissions.Grant{
			RunbookID: runbookID,
			UserID:    req.UserID,
			GrantedBy: id.ID,
		})
		if err != nil {
			s.logger.Error("granting permission failed", "runbook_id", runbookID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, PermissionResponse{
			UserID: req.UserID, Level: string(permissions.LevelWriter), GrantedBy: id.ID,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRevoke handles DELETE /api/runbooks/{id}/permissions/{userID}.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, runbookID, userID string) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, ok := s.requireLevel(w, r, runbookID, permissions.LevelOwner)
	if !ok {
		return
	}

	err := s.provider.RevokePermission(r.Context(), permissions.Revocation{
		RunbookID: runbookID,
		UserID:    userID,
		RevokedBy: id.ID,
	})
	switch {
	case errors.Is(err, permissions.ErrCannotRevokeOwner):
		writeError(w, http.StatusConflict, "cannot revoke the runbook owner")
	case errors.Is(err, permissions.ErrGrantNotFound):
		writeError(w, http.StatusNotFound, "grant not found")
	case err != nil:
		s.logger.Error("revoking permission failed", "runbook_id", runbookID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
