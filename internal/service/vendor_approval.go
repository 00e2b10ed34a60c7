package service

import (
	"context"
	"time"

	"github.com/procurehq/be-proc-requests/internal/config"
	"github.com/procurehq/be-proc-requests/internal/logger"
)

// Vendor approval reasons written to the vendor directory at completion.
const (
	ApprovalReasonThreeQuote = "auto_3quote"
	ApprovalReasonCompleted  = "auto_completed"
	ApprovalReasonManual     = "manual"
)

// CompletionInput is what the calculator needs from a request that is about to
// complete.
type CompletionInput struct {
	RequestID      string
	VendorID       string
	UsedThreeQuote bool // the request carried at least three quotes
	Satisfactory   bool
	Overridden     bool // delivery marked unsatisfactory but overridden
}

// CompletionDecision is the calculator's verdict on vendor trust.
type CompletionDecision struct {
	Approve bool
	Expiry  time.Time
	Reason  string
}

// VendorApprovalCalculator derives vendor trust from completed requests. A
// satisfactory three-quote completion grants the longest approval window, a
// plain satisfactory completion a shorter one, and an overridden
// unsatisfactory completion the shortest, marked manual. An unsatisfactory
// completion without override grants nothing.
type VendorApprovalCalculator struct {
	vendors VendorDirectory
	cfg     config.VendorApprovalConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewVendorApprovalCalculator creates a calculator writing through the given
// directory.
func NewVendorApprovalCalculator(vendors VendorDirectory, cfg config.VendorApprovalConfig, log *logger.Logger) *VendorApprovalCalculator {
	return &VendorApprovalCalculator{vendors: vendors, cfg: cfg, log: log, now: time.Now}
}

// Decide computes the trust outcome for a completion. Pure: no I/O.
func (c *VendorApprovalCalculator) Decide(now time.Time, in CompletionInput) CompletionDecision {
	switch {
	case in.Satisfactory && in.UsedThreeQuote:
		return CompletionDecision{
			Approve: true,
			Expiry:  now.AddDate(0, c.cfg.ThreeQuoteMonths, 0),
			Reason:  ApprovalReasonThreeQuote,
		}
	case in.Satisfactory:
		return CompletionDecision{
			Approve: true,
			Expiry:  now.AddDate(0, c.cfg.CompletedMonths, 0),
			Reason:  ApprovalReasonCompleted,
		}
	case in.Overridden:
		return CompletionDecision{
			Approve: true,
			Expiry:  now.AddDate(0, c.cfg.ManualMonths, 0),
			Reason:  ApprovalReasonManual,
		}
	default:
		return CompletionDecision{Approve: false}
	}
}

// Apply computes the decision and writes it to the vendor directory. Directory
// failures never block completion; the returned warning is surfaced to the
// caller instead.
func (c *VendorApprovalCalculator) Apply(ctx context.Context, in CompletionInput, justification string) (warning string) {
	if in.VendorID == "" {
		return ""
	}

	decision := c.Decide(c.now(), in)
	if !decision.Approve {
		c.log.Info().
			Str("request_id", in.RequestID).
			Str("vendor_id", in.VendorID).
			Msg("vendor approval: unsatisfactory completion, no trust granted")
		return ""
	}

	err := c.vendors.SetApproval(ctx, in.VendorID, true, decision.Expiry, decision.Reason, justification)
	if err != nil {
		c.log.Warn().Err(err).
			Str("request_id", in.RequestID).
			Str("vendor_id", in.VendorID).
			Str("reason", decision.Reason).
			Msg("vendor approval: directory update failed, completing anyway")
		return "vendor approval update failed: " + err.Error()
	}

	c.log.Info().
		Str("request_id", in.RequestID).
		Str("vendor_id", in.VendorID).
		Str("reason", decision.Reason).
		Time("expiry", decision.Expiry).
		Msg("vendor approval: trust granted")
	return ""
}
