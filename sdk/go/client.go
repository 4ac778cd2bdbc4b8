package projectsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal project service HTTP API client for stage staffing.
type Client struct {
	BaseURL     string
	BearerToken string
	// MemberID is sent as X-Member-Id when no bearer token is set.
	MemberID   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// RoleRequirement is a required (role, count) pair.
type RoleRequirement struct {
	Role  string `json:"role"`
	Count int    `json:"count"`
}

// Stage represents the API stage model.
type Stage struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Name      string            `json:"name"`
	Roles     []RoleRequirement `json:"roles"`
	Executors []string          `json:"executors"`
	Version   int               `json:"version"`
}

// Invitation represents a stage invitation.
type Invitation struct {
	ID          string  `json:"id"`
	StageID     string  `json:"stage_id"`
	AuthorID    *string `json:"author_id,omitempty"`
	InvitedID   string  `json:"invited_id"`
	Role        string  `json:"role,omitempty"`
	Status      string  `json:"status"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// RoleOutcome reports one requirement after fulfillment.
type RoleOutcome struct {
	Role      string `json:"role"`
	Required  int    `json:"required"`
	Current   int    `json:"current"`
	Invited   int    `json:"invited"`
	Remaining int    `json:"remaining"`
}

// Fulfillment is the result of a fulfillment pass.
type Fulfillment struct {
	Stage       Stage         `json:"stage"`
	Roles       []RoleOutcome `json:"roles"`
	Invitations []Invitation  `json:"invitations"`
	Fulfilled   bool          `json:"fulfilled"`
}

// DeleteResult reports what a stage deletion did.
type DeleteResult struct {
	StageID            string `json:"stage_id"`
	Action             string `json:"action"`
	TransferredTo      string `json:"transferred_to,omitempty"`
	TasksAffected      int64  `json:"tasks_affected"`
	InvitationsRemoved int64  `json:"invitations_removed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateStage creates a stage in a project.
func (c *Client) CreateStage(ctx context.Context, projectID, name string, roles []RoleRequirement, executors []string) (Stage, error) {
	body := map[string]any{
		"name":      name,
		"roles":     roles,
		"executors": executors,
	}
	var resp Stage
	endpoint := fmt.Sprintf("v1/projects/%s/stages", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// FulfillStage invites roster members until the stage's roles are covered.
func (c *Client) FulfillStage(ctx context.Context, stageID string) (Fulfillment, error) {
	var resp Fulfillment
	err := c.do(ctx, http.MethodPost, c.stagePath(stageID, "fulfill"), nil, &resp)
	return resp, err
}

// DeleteStage removes a stage; transferTo is only used by TRANSFER.
func (c *Client) DeleteStage(ctx context.Context, stageID, action, transferTo string) (DeleteResult, error) {
	q := url.Values{}
	q.Set("action", action)
	if transferTo != "" {
		q.Set("transfer_to", transferTo)
	}
	var resp DeleteResult
	err := c.do(ctx, http.MethodDelete, c.stagePath(stageID, "")+"?"+q.Encode(), nil, &resp)
	return resp, err
}

// SendInvitation invites a member to a stage on behalf of the caller.
func (c *Client) SendInvitation(ctx context.Context, stageID, invitedID string) (Invitation, error) {
	var resp Invitation
	err := c.do(ctx, http.MethodPost, c.stagePath(stageID, "invitations"), map[string]any{"invited_id": invitedID}, &resp)
	return resp, err
}

// Invitations lists invitations addressed to the caller. An empty status
// lists all of them.
func (c *Client) Invitations(ctx context.Context, status string) ([]Invitation, error) {
	endpoint := "v1/invitations"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Invitation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AcceptInvitation accepts one of the caller's pending invitations.
func (c *Client) AcceptInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	var resp Invitation
	endpoint := fmt.Sprintf("v1/invitations/%s/accept", url.PathEscape(invitationID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectInvitation rejects one of the caller's pending invitations.
func (c *Client) RejectInvitation(ctx context.Context, invitationID, reason string) (Invitation, error) {
	var resp Invitation
	endpoint := fmt.Sprintf("v1/invitations/%s/reject", url.PathEscape(invitationID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
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
	case c.MemberID != "":
		req.Header.Set("X-Member-Id", c.MemberID)
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

func (c *Client) stagePath(stageID, p string) string {
	endpoint := "v1/stages/" + url.PathEscape(stageID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
