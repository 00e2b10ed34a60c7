package client

import (
	"context"
	"fmt"
	"time"
)

// EvidenceClient checks document presence in the evidence store. Binary
// content never flows through this service; only presence matters here.
type EvidenceClient struct {
	http  *httpClient
	retry RetryPolicy
}

// NewEvidenceClient creates an evidence store client.
func NewEvidenceClient(baseURL string, timeout time.Duration) *EvidenceClient {
	return &EvidenceClient{
		http:  newHTTPClient(baseURL, timeout),
		retry: DefaultRetryPolicy,
	}
}

type hasEvidenceResponse struct {
	Present bool `json:"present"`
}

// HasEvidence reports whether evidence of the given kind exists for a request.
func (c *EvidenceClient) HasEvidence(ctx context.Context, requestID, kind string) (bool, error) {
	var resp hasEvidenceResponse
	path := fmt.Sprintf("/api/v1/evidence/check?request_id=%s&kind=%s", requestID, kind)
	err := c.retry.Do(ctx, func() error {
		return c.http.Get(ctx, path, &resp)
	})
	if err != nil {
		return false, fmt.Errorf("evidence check failed: %w", err)
	}
	return resp.Present, nil
}
