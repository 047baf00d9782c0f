// ABOUTME: Relationship-graph permission provider delegating to an external authorization service
// ABOUTME: Maps owner/writer to manage/write relations and unions both graph traversals

package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Relation names understood by the graph service. The owner level maps to
// the manage relation and writer maps to write; manage implies write on
// the service side.
const (
	relationManage = "manage"
	relationWrite  = "write"
)

// GraphProvider implements Provider against an external relationship-graph
// authorization service over its JSON RPC API. The client is initialized
// lazily exactly once and is safe for concurrent use.
type GraphProvider struct {
	endpoint        string
	token           string
	fullyConsistent bool
	logger          *slog.Logger

	initOnce sync.Once
	client   *http.Client
}

// NewGraphProvider creates a provider for the graph service at endpoint.
// When fullyConsistent is set, every read requests the service's strongest
// consistency mode; otherwise reads may be bounded-stale.
func NewGraphProvider(endpoint, token string, fullyConsistent bool) *GraphProvider {
	return &GraphProvider{
		endpoint:        strings.TrimSuffix(endpoint, "/"),
		token:           token,
		fullyConsistent: fullyConsistent,
		logger:          slog.Default().With("component", "permissions.graph"),
	}
}

// httpClient returns the shared client, initializing it on first use.
func (p *GraphProvider) httpClient() *http.Client {
	p.initOnce.Do(func() {
		p.client = &http.Client{Timeout: 10 * time.Second}
	})
	return p.client
}

// Request/response shapes of the graph service's JSON API.

type graphCheckRequest struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Permission      string `json:"permission"`
	SubjectID       string `json:"subject_id"`
	FullyConsistent bool   `json:"fully_consistent,omitempty"`
}

type graphCheckResponse struct {
	Allowed bool `json:"allowed"`
}

type graphResourcesRequest struct {
	SubjectID       string `json:"subject_id"`
	Permission      string `json:"permission"`
	ResourceType    string `json:"resource_type"`
	FullyConsistent bool   `json:"fully_consistent,omitempty"`
}

type graphResourcesResponse struct {
	ResourceIDs []string `json:"resource_ids"`
}

type graphSubjectsRequest struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Permission      string `json:"permission"`
	FullyConsistent bool   `json:"fully_consistent,omitempty"`
}

type graphSubjectsResponse struct {
	SubjectIDs []string `json:"subject_ids"`
}

type graphRelationshipRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Relation     string `json:"relation"`
	SubjectID    string `json:"subject_id"`
}

// post issues one JSON call against the graph service.
func (p *GraphProvider) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encoding graph request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("calling graph service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("graph service %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if respBody == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decoding graph response from %s: %w", path, err)
	}
	return nil
}

// check issues a point permission check.
func (p *GraphProvider) check(ctx context.Context, userID, runbookID, permission string) (bool, error) {
	var resp graphCheckResponse
	err := p.post(ctx, "/v1/permissions/check", graphCheckRequest{
		ResourceType:    "runbook",
		ResourceID:      runbookID,
		Permission:      permission,
		SubjectID:       userID,
		FullyConsistent: p.fullyConsistent,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// CheckPermission checks manage first and only falls through to write when
// the caller is not an owner, avoiding a redundant call.
func (p *GraphProvider) CheckPermission(ctx context.Context, userID, runbookID string) (Result, error) {
	manages, err := p.check(ctx, userID, runbookID, relationManage)
	if err != nil {
		return Result{}, err
	}
	if manages {
		return Result{HasAccess: true, Level: LevelOwner}, nil
	}

	writes, err := p.check(ctx, userID, runbookID, relationWrite)
	if err != nil {
		return Result{}, err
	}
	if writes {
		return Result{HasAccess: true, Level: LevelWriter}, nil
	}

	return Result{HasAccess: false, Level: LevelNone}, nil
}

// GrantPermission writes a write relation for the user.
func (p *GraphProvider) GrantPermission(ctx context.Context, g Grant) error {
	err := p.post(ctx, "/v1/relationships/write", graphRelationshipRequest{
		ResourceType: "runbook",
		ResourceID:   g.RunbookID,
		Relation:     relationWrite,
		SubjectID:    g.UserID,
	}, nil)
	if err != nil {
		return err
	}

	p.logger.Debug("granted writer relation", "runbook_id", g.RunbookID, "user_id", g.UserID, "granted_by", g.GrantedBy)
	return nil
}

// RevokePermission deletes the user's write relation. Owner relations are
// never deleted through revocation.
func (p *GraphProvider) RevokePermission(ctx context.Context, r Revocation) error {
	owner, err := p.check(ctx, r.UserID, r.RunbookID, relationManage)
	if err != nil {
		return err
	}
	if owner {
		return ErrCannotRevokeOwner
	}

	writes, err := p.check(ctx, r.UserID, r.RunbookID, relationWrite)
	if err != nil {
		return err
	}
	if !writes {
		return ErrGrantNotFound
	}

	err = p.post(ctx, "/v1/relationships/delete", graphRelationshipRequest{
		ResourceType: "runbook",
		ResourceID:   r.RunbookID,
		Relation:     relationWrite,
		SubjectID:    r.UserID,
	}, nil)
	if err != nil {
		return err
	}

	p.logger.Debug("revoked writer relation", "runbook_id", r.RunbookID, "user_id", r.UserID, "revoked_by", r.RevokedBy)
	return nil
}

// ListPermissions traverses subjects for manage and write. Owners come
// first; a subject reachable under both relations is listed once as owner.
// The graph backend records no grant metadata, so GrantedBy/GrantedAt are
// zero.
func (p *GraphProvider) ListPermissions(ctx context.Context, runbookID string) ([]UserPermission, error) {
	var owners graphSubjectsResponse
	err := p.post(ctx, "/v1/permissions/subjects", graphSubjectsRequest{
		ResourceType:    "runbook",
		ResourceID:      runbookID,
		Permission:      relationManage,
		FullyConsistent: p.fullyConsistent,
	}, &owners)
	if err != nil {
		return nil, err
	}

	var writers graphSubjectsResponse
	err = p.post(ctx, "/v1/permissions/subjects", graphSubjectsRequest{
		ResourceType:    "runbook",
		ResourceID:      runbookID,
		Permission:      relationWrite,
		FullyConsistent: p.fullyConsistent,
	}, &writers)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(owners.SubjectIDs))
	perms := []UserPermission{}
	for _, id := range owners.SubjectIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		perms = append(perms, UserPermission{UserID: id, Level: LevelOwner})
	}
	for _, id := range writers.SubjectIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		perms = append(perms, UserPermission{UserID: id, Level: LevelWriter})
	}
	return perms, nil
}

// IsOwner is a point manage check.
func (p *GraphProvider) IsOwner(ctx context.Context, userID, runbookID string) (bool, error) {
	return p.check(ctx, userID, runbookID, relationManage)
}

// ListAccessibleRunbooks traverses objects-for-subject under manage and,
// when writer access is also requested, under write. The union is
// de-duplicated with owner results taking precedence.
func (p *GraphProvider) ListAccessibleRunbooks(ctx context.Context, userID, resourceType string, levels []Level) ([]string, error) {
	if resourceType == "" {
		resourceType = "runbook"
	}

	wantOwner := len(levels) == 0
	wantWriter := len(levels) == 0
	for _, l := range levels {
		switch l {
		case LevelOwner:
			wantOwner = true
		case LevelWriter:
			wantWriter = true
		}
	}

	seen := map[string]bool{}
	ids := []string{}

	if wantOwner {
		var resp graphResourcesResponse
		err := p.post(ctx, "/v1/permissions/resources", graphResourcesRequest{
			SubjectID:       userID,
			Permission:      relationManage,
			ResourceType:    resourceType,
			FullyConsistent: p.fullyConsistent,
		}, &resp)
		if err != nil {
			return nil, err
		}
		for _, id := range resp.ResourceIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	if wantWriter {
		var resp graphResourcesResponse
		err := p.post(ctx, "/v1/permissions/resources", graphResourcesRequest{
			SubjectID:       userID,
			Permission:      relationWrite,
			ResourceType:    resourceType,
			FullyConsistent: p.fullyConsistent,
		}, &resp)
		if err != nil {
			return nil, err
		}
		for _, id := range resp.ResourceIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	return ids, nil
}

// FilterAccessibleRunbooks intersects candidates with one traversal rather
// than issuing a point check per candidate.
func (p *GraphProvider) FilterAccessibleRunbooks(ctx context.Context, userID string, runbookIDs []string) ([]string, error) {
	if len(runbookIDs) == 0 {
		return []string{}, nil
	}

	accessible, err := p.ListAccessibleRunbooks(ctx, userID, "runbook", nil)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(accessible))
	for _, id := range accessible {
		set[id] = true
	}

	filtered := []string{}
	for _, id := range runbookIDs {
		if set[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// Ensure GraphProvider implements Provider
var _ Provider = (*GraphProvider)(nil)
