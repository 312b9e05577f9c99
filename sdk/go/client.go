package slamsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal client for the SLAM /exec action endpoint.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. The server
	// only honours it when actor headers are allowed.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// SLA represents the API record model (partial).
type SLA struct {
	SLAID        string   `json:"slaId"`
	ParentSLAID  string   `json:"parentSlaId,omitempty"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	TeamID       string   `json:"teamId"`
	Status       string   `json:"status"`
	CurrentValue float64  `json:"currentValue"`
	TargetValue  *float64 `json:"targetValue,omitempty"`
	Frequency    string   `json:"frequency"`
	Tags         []string `json:"tags"`
	IsActive     bool     `json:"isActive"`
	RowVersion   int64    `json:"rowVersion"`
}

// Relationship links two records.
type Relationship struct {
	SourceSLAID      string `json:"sourceSlaId"`
	TargetSLAID      string `json:"targetSlaId"`
	RelationshipType string `json:"relationshipType"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	CreatedBy        string `json:"createdBy,omitempty"`
}

// Sort orders query results.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// Pagination selects a page of query results.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// QueryResult is one page of records.
type QueryResult struct {
	Data     []SLA `json:"data"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// BulkError reports one failed item of a bulk call.
type BulkError struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// BulkResult is the outcome of BulkCreate or BulkUpdate. IDs holds the
// created or updated ids.
type BulkResult struct {
	Success bool
	IDs     []string
	Errors  []BulkError
}

// BulkUpdateItem is one entry of BulkUpdate.
type BulkUpdateItem struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
}

// Permissions summarises what the caller may do.
type Permissions struct {
	ActorID   string `json:"actorId"`
	Role      string `json:"role"`
	CanView   bool   `json:"canView"`
	CanCreate bool   `json:"canCreate"`
	CanEdit   bool   `json:"canEdit"`
	CanDelete bool   `json:"canDelete"`
	IsAdmin   bool   `json:"isAdmin"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ActionError is returned when the server answers {success:false}.
type ActionError struct {
	Action  string
	Code    string
	Message string
	Details map[string]any
}

func (e *ActionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Action, e.Code, e.Message)
}

// IsConflict reports whether the action failed on a stale rowVersion.
func (e *ActionError) IsConflict() bool { return e.Code == "conflict" }

// Create inserts a record and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, data map[string]any) (SLA, error) {
	var resp struct {
		Data SLA `json:"data"`
	}
	err := c.exec(ctx, map[string]any{"action": "create", "data": data}, &resp)
	return resp.Data, err
}

// Read fetches one record with its relationships.
func (c *Client) Read(ctx context.Context, id string) (SLA, error) {
	var resp struct {
		Data SLA `json:"data"`
	}
	err := c.exec(ctx, map[string]any{"action": "read", "id": id}, &resp)
	return resp.Data, err
}

// Update applies a partial update. Pass rowVersion in updates for an
// optimistic check.
func (c *Client) Update(ctx context.Context, id string, updates map[string]any) (SLA, error) {
	var resp struct {
		Data SLA `json:"data"`
	}
	err := c.exec(ctx, map[string]any{"action": "update", "id": id, "updates": updates}, &resp)
	return resp.Data, err
}

// Delete soft-deletes a record. A nil rowVersion skips the version check.
func (c *Client) Delete(ctx context.Context, id string, rowVersion *int64) (SLA, error) {
	body := map[string]any{"action": "delete", "id": id}
	if rowVersion != nil {
		body["rowVersion"] = *rowVersion
	}
	var resp struct {
		Data SLA `json:"data"`
	}
	err := c.exec(ctx, body, &resp)
	return resp.Data, err
}

// Query returns a filtered, sorted page of records.
func (c *Client) Query(ctx context.Context, filters map[string]any, sort *Sort, page *Pagination) (QueryResult, error) {
	body := map[string]any{"action": "query"}
	if len(filters) > 0 {
		body["filters"] = filters
	}
	if sort != nil {
		body["sort"] = sort
	}
	if page != nil {
		body["pagination"] = page
	}
	var resp QueryResult
	err := c.exec(ctx, body, &resp)
	return resp, err
}

// BulkCreate inserts items one by one. Per-item failures are reported in
// the result and are not an error.
func (c *Client) BulkCreate(ctx context.Context, items []map[string]any) (BulkResult, error) {
	var resp struct {
		Created []string    `json:"created"`
		Errors  []BulkError `json:"errors"`
	}
	err := c.exec(ctx, map[string]any{"action": "bulkCreate", "items": items}, &resp)
	return BulkResult{Success: len(resp.Errors) == 0, IDs: resp.Created, Errors: resp.Errors}, err
}

// BulkUpdate applies each item's updates.
func (c *Client) BulkUpdate(ctx context.Context, items []BulkUpdateItem) (BulkResult, error) {
	var resp struct {
		Updated []string    `json:"updated"`
		Errors  []BulkError `json:"errors"`
	}
	err := c.exec(ctx, map[string]any{"action": "bulkUpdate", "items": items}, &resp)
	return BulkResult{Success: len(resp.Errors) == 0, IDs: resp.Updated, Errors: resp.Errors}, err
}

// CreateRelationship links source to target.
func (c *Client) CreateRelationship(ctx context.Context, rel Relationship) (Relationship, error) {
	var resp struct {
		Data Relationship `json:"data"`
	}
	err := c.exec(ctx, map[string]any{
		"action":           "createRelationship",
		"sourceSlaId":      rel.SourceSLAID,
		"targetSlaId":      rel.TargetSLAID,
		"relationshipType": rel.RelationshipType,
		"notes":            rel.Notes,
	}, &resp)
	return resp.Data, err
}

// DeleteRelationship removes a link.
func (c *Client) DeleteRelationship(ctx context.Context, source, target, relType string) error {
	return c.exec(ctx, map[string]any{
		"action":           "deleteRelationship",
		"sourceSlaId":      source,
		"targetSlaId":      target,
		"relationshipType": relType,
	}, nil)
}

// Permissions returns the caller's effective permissions.
func (c *Client) Permissions(ctx context.Context) (Permissions, error) {
	var resp struct {
		Data Permissions `json:"data"`
	}
	err := c.exec(ctx, map[string]any{"action": "getPermissions"}, &resp)
	return resp.Data, err
}

// exec posts one action. Bulk actions report success:false when any item
// failed, so those are decoded instead of turned into an ActionError.
func (c *Client) exec(ctx context.Context, body map[string]any, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "exec", body, &raw); err != nil {
		return err
	}
	var head struct {
		Success bool           `json:"success"`
		Error   string         `json:"error"`
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	var keys map[string]json.RawMessage
	_ = json.Unmarshal(raw, &keys)
	_, created := keys["created"]
	_, updated := keys["updated"]
	if !head.Success && !created && !updated {
		action, _ := body["action"].(string)
		return &ActionError{Action: action, Code: head.Code, Message: head.Error, Details: head.Details}
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
