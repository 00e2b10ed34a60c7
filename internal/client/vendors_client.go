package client

import (
	"context"
	"fmt"
	"time"
)

// Vendor is the subset of the vendor directory record the engine reads.
type Vendor struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	IsApproved     bool       `json:"is_approved"`
	ApprovalExpiry *time.Time `json:"approval_expiry"`
	ApprovalReason string     `json:"approval_reason"`
}

// VendorsClient talks to the vendor directory. Reads feed the quote-count
// check; the only write is the completion-time trust mutation, which callers
// treat as non-fatal.
type VendorsClient struct {
	http  *httpClient
	retry RetryPolicy
}

// NewVendorsClient creates a vendor directory client.
func NewVendorsClient(baseURL string, timeout time.Duration) *VendorsClient {
	return &VendorsClient{
		http:  newHTTPClient(baseURL, timeout),
		retry: DefaultRetryPolicy,
	}
}

// GetVendor fetches a vendor record. Idempotent read, retried with backoff.
func (c *VendorsClient) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	var vendor Vendor
	path := fmt.Sprintf("/api/v1/vendors/%s", id)
	err := c.retry.Do(ctx, func() error {
		return c.http.Get(ctx, path, &vendor)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor %s: %w", id, err)
	}
	return &vendor, nil
}

// IsApproved reports whether a vendor currently holds unexpired trust approval.
func (c *VendorsClient) IsApproved(ctx context.Context, id string) (bool, error) {
	vendor, err := c.GetVendor(ctx, id)
	if err != nil {
		return false, err
	}
	if !vendor.IsApproved {
		return false, nil
	}
	if vendor.ApprovalExpiry != nil && vendor.ApprovalExpiry.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

type setApprovalRequest struct {
	Approved      bool      `json:"approved"`
	Expiry        time.Time `json:"expiry"`
	Reason        string    `json:"reason"`
	Justification string    `json:"justification,omitempty"`
}

// SetApproval updates a vendor's trust approval. Not retried: it mutates state.
func (c *VendorsClient) SetApproval(ctx context.Context, id string, approved bool, expiry time.Time, reason, justification string) error {
	req := setApprovalRequest{
		Approved:      approved,
		Expiry:        expiry,
		Reason:        reason,
		Justification: justification,
	}

	path := fmt.Sprintf("/api/v1/vendors/%s/approval", id)
	if err := c.http.Post(ctx, path, req, nil); err != nil {
		return fmt.Errorf("failed to set vendor approval: %w", err)
	}
	return nil
}
