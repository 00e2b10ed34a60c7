package client

import (
	"context"
	"fmt"
	"time"
)

// AuthzClient asks the authorization service yes/no questions. The engine
// never re-derives role arithmetic itself; the one piece of permission data it
// reads directly is the approver tier, which feeds the validation gate's
// eligibility check.
type AuthzClient struct {
	http  *httpClient
	retry RetryPolicy
}

// NewAuthzClient creates an authorization service client.
func NewAuthzClient(baseURL string, timeout time.Duration) *AuthzClient {
	return &AuthzClient{
		http:  newHTTPClient(baseURL, timeout),
		retry: DefaultRetryPolicy,
	}
}

type canPerformRequest struct {
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
}

type canPerformResponse struct {
	Allowed bool `json:"allowed"`
}

// CanPerform reports whether the actor may perform an action on a request.
func (c *AuthzClient) CanPerform(ctx context.Context, actorID, action, requestID string) (bool, error) {
	req := canPerformRequest{ActorID: actorID, Action: action, RequestID: requestID}

	var resp canPerformResponse
	if err := c.http.Post(ctx, "/api/v1/authz/check", req, &resp); err != nil {
		return false, fmt.Errorf("authorization check failed: %w", err)
	}
	return resp.Allowed, nil
}

type approverTierResponse struct {
	Tier int `json:"tier"`
}

// ApproverTier returns the permission tier of an approver. Idempotent read,
// retried with backoff.
func (c *AuthzClient) ApproverTier(ctx context.Context, approverID string) (int, error) {
	var resp approverTierResponse
	path := fmt.Sprintf("/api/v1/approvers/%s/tier", approverID)
	err := c.retry.Do(ctx, func() error {
		return c.http.Get(ctx, path, &resp)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve approver tier: %w", err)
	}
	return resp.Tier, nil
}
