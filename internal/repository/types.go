package repository

import (
	"time"

	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// ── Domain types for the procurement request workflow ─────────────────────────

// Quote is one vendor quote attached to a request. Position preserves
// submission order; ties on amount resolve to the lowest position.
type Quote struct {
	ID       string `json:"id"`
	VendorID string `json:"vendorId"`
	Amount   int64  `json:"amount"` // minor currency units
	Currency string `json:"currency"`
	Position int    `json:"position"`
}

// Request is the central procurement entity.
type Request struct {
	ID                    string          `json:"id"`
	Number                string          `json:"number"`
	OrganizationID        string          `json:"organizationId"`
	Amount                int64           `json:"amount"` // minor currency units
	Currency              string          `json:"currency"`
	Status                workflow.Status `json:"status"`
	PreferredQuoteID      *string         `json:"preferredQuoteId"`
	ApproverPrimaryID     *string         `json:"approverPrimaryId"`
	ApproverSecondaryID   *string         `json:"approverSecondaryId"`
	FinalPrice            *int64          `json:"finalPrice"`
	EstimatedDeliveryDate *string         `json:"estimatedDeliveryDate"` // YYYY-MM-DD
	Version               int             `json:"version"`
	Quotes                []Quote         `json:"quotes"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// LowestQuote returns the lowest-amount quote, first-submitted winning ties.
// Returns nil when the request carries no quotes.
func (r *Request) LowestQuote() *Quote {
	var lowest *Quote
	for i := range r.Quotes {
		q := &r.Quotes[i]
		if lowest == nil || q.Amount < lowest.Amount ||
			(q.Amount == lowest.Amount && q.Position < lowest.Position) {
			lowest = q
		}
	}
	return lowest
}

// QuoteByID returns the quote with the given id, or nil.
func (r *Request) QuoteByID(id string) *Quote {
	for i := range r.Quotes {
		if r.Quotes[i].ID == id {
			return &r.Quotes[i]
		}
	}
	return nil
}

// ApprovalState is the embedded approval sub-entity, one row per request.
// It is replaced wholesale on every coordinator write.
type ApprovalState struct {
	RequestID             string    `json:"requestId"`
	RequiresDual          bool      `json:"requiresDual"`
	FirstComplete         bool      `json:"firstComplete"`
	SecondComplete        bool      `json:"secondComplete"`
	FirstSelectedQuoteID  *string   `json:"firstSelectedQuoteId"`
	SecondSelectedQuoteID *string   `json:"secondSelectedQuoteId"`
	FirstJustification    *string   `json:"firstJustification"`
	SecondJustification   *string   `json:"secondJustification"`
	Conflict              bool      `json:"conflict"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// ApprovalHistoryEntry is one immutable record of an approval attempt.
type ApprovalHistoryEntry struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId"`
	ApproverID string    `json:"approverId"`
	Approved   bool      `json:"approved"`
	QuoteID    *string   `json:"quoteId"`
	Notes      *string   `json:"notes"`
	CreatedAt  time.Time `json:"timestamp"`
}

// OverrideKind names the validation failure an override bypasses. The string
// values are part of the audit contract and must not change.
type OverrideKind string

const (
	OverrideQuoteRequirement      OverrideKind = "quoteRequirement"
	OverrideProforma              OverrideKind = "proforma"
	OverrideProofOfPayment        OverrideKind = "proofOfPayment"
	OverridePODocument            OverrideKind = "poDocument"
	OverrideRuleValidation        OverrideKind = "ruleValidation"
	OverrideFinalPriceVariance    OverrideKind = "finalPriceVariance"
	OverrideDeliveryDocumentation OverrideKind = "deliveryDocumentation"
)

var validOverrideKinds = map[OverrideKind]bool{
	OverrideQuoteRequirement:      true,
	OverrideProforma:              true,
	OverrideProofOfPayment:        true,
	OverridePODocument:            true,
	OverrideRuleValidation:        true,
	OverrideFinalPriceVariance:    true,
	OverrideDeliveryDocumentation: true,
}

// IsValid reports whether k is a known override kind.
func (k OverrideKind) IsValid() bool { return validOverrideKinds[k] }

// Override is a justified, attributed bypass of a validation failure.
// At most one per (request, kind); re-creation replaces the previous record.
type Override struct {
	ID            string       `json:"id"`
	RequestID     string       `json:"requestId"`
	Kind          OverrideKind `json:"kind"`
	Justification string       `json:"justification"`
	ByActorID     string       `json:"byActorId"`
	CreatedAt     time.Time    `json:"atTimestamp"`
}

// StatusHistoryEntry is one immutable status transition record.
type StatusHistoryEntry struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId"`
	FromStatus workflow.Status `json:"fromStatus"`
	ToStatus   workflow.Status `json:"toStatus"`
	ActorID    string          `json:"actorId"`
	Notes      *string         `json:"notes"`
	CreatedAt  time.Time       `json:"timestamp"`
}

// TransitionCommit describes the single atomic write of a status transition:
// the status/version update plus the history append. Optional fields are
// applied in the same transaction when set.
type TransitionCommit struct {
	RequestID       string
	From            workflow.Status
	To              workflow.Status
	ActorID         string
	Notes           *string
	ExpectedVersion int

	// Optional same-transaction field updates.
	NewNumber             *string
	FinalPrice            *int64
	EstimatedDeliveryDate *string
}
