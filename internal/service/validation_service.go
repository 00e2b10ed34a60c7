package service

import (
	"fmt"

	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/rules"
)

// Cardinality is the approval mode a request resolves to at submission time.
type Cardinality string

const (
	CardinalitySingle Cardinality = "SINGLE"
	CardinalityDual   Cardinality = "DUAL"
)

// Evidence kinds checked against the evidence store before ORDERED.
const (
	EvidenceProforma       = "proforma"
	EvidenceProofOfPayment = "proof_of_payment"
	EvidencePODocument     = "po_document"
)

// Failure is one unmet validation requirement. OverrideKind is empty for hard
// failures that no override can bypass.
type Failure struct {
	Code         string                  `json:"code"`
	Description  string                  `json:"description"`
	OverrideKind repository.OverrideKind `json:"overrideKind,omitempty"`
}

// Overridable reports whether an override of the right kind bypasses this
// failure.
func (f Failure) Overridable() bool { return f.OverrideKind != "" }

// GateResult is the outcome of a validation pass.
type GateResult struct {
	Cardinality Cardinality
	Failures    []Failure
}

// OK reports whether the gate passed.
func (r GateResult) OK() bool { return len(r.Failures) == 0 }

// SubmissionInput carries everything the submission gate evaluates. All
// external reads happen before the gate runs; the gate itself is deterministic.
type SubmissionInput struct {
	Request                 *repository.Request
	Rules                   rules.Set
	PreferredVendorApproved bool
	// ApproverTiers maps assigned approver IDs to their permission tier.
	ApproverTiers map[string]int
	Overrides     map[repository.OverrideKind]*repository.Override
}

// OrderInput carries everything the order gate evaluates.
type OrderInput struct {
	Request               *repository.Request
	Rules                 rules.Set
	Evidence              map[string]bool
	FinalPrice            *int64
	EstimatedDeliveryDate *string
	Overrides             map[repository.OverrideKind]*repository.Override
}

// Gate runs the threshold validation checks that guard IN_QUEUE ->
// PENDING_APPROVAL and APPROVED -> ORDERED. It is pure over its inputs; rule
// and evidence lookups are the caller's job.
type Gate struct {
	log *logger.Logger
}

// NewGate creates a validation gate.
func NewGate(log *logger.Logger) *Gate {
	return &Gate{log: log}
}

// EvaluateSubmission runs the pre-approval checks: approval cardinality,
// approver eligibility, and the quote-count requirement. Eligibility failures
// are hard; the quote-count failure may be bypassed by a quoteRequirement or
// ruleValidation override.
func (g *Gate) EvaluateSubmission(in SubmissionInput) GateResult {
	req := in.Request
	res := GateResult{Cardinality: CardinalitySingle}

	dualFloor, hasDualFloor := in.Rules.Get(rules.KindDualApprovalFloor)
	if !hasDualFloor {
		// Fail open to SINGLE on this one gap: an org without rule 3 has opted
		// out of dual approval, but the gap is still worth surfacing.
		g.log.Warn().
			Str("request_id", req.ID).
			Str("organization_id", req.OrganizationID).
			Msg("gate: no dual-approval floor configured, treating request as single-approval")
	} else {
		g.warnCurrencyMismatch(req, dualFloor)
		if req.Amount > dualFloor.Threshold {
			res.Cardinality = CardinalityDual
		}
	}

	if req.ApproverPrimaryID == nil {
		res.Failures = append(res.Failures, Failure{
			Code:        "primary_approver_missing",
			Description: "request has no primary approver assigned",
		})
	} else if f := g.checkEligibility(in, *req.ApproverPrimaryID, "primary"); f != nil {
		res.Failures = append(res.Failures, *f)
	}

	if res.Cardinality == CardinalityDual {
		if req.ApproverSecondaryID == nil {
			res.Failures = append(res.Failures, Failure{
				Code: "secondary_approver_missing",
				Description: fmt.Sprintf("amount %d exceeds the dual-approval floor %d but no secondary approver is assigned",
					req.Amount, dualFloor.Threshold),
			})
		} else if f := g.checkEligibility(in, *req.ApproverSecondaryID, "secondary"); f != nil {
			res.Failures = append(res.Failures, *f)
		}

		if len(req.Quotes) < 3 && !in.PreferredVendorApproved {
			res.Failures = append(res.Failures, Failure{
				Code: "insufficient_quotes",
				Description: fmt.Sprintf("dual-approval requests require at least 3 quotes, got %d, and the preferred vendor holds no trust approval",
					len(req.Quotes)),
				OverrideKind: repository.OverrideQuoteRequirement,
			})
		}
	}

	res.Failures = suppressOverridden(res.Failures, in.Overrides, true)
	return res
}

// checkEligibility applies the tier limits: tiers 1 and 2 approve any amount,
// tiers 4 and 6 approve only up to the single-approval ceiling, everything
// else is ineligible. Never overridable.
func (g *Gate) checkEligibility(in SubmissionInput, approverID, role string) *Failure {
	tier, ok := in.ApproverTiers[approverID]
	if !ok {
		return &Failure{
			Code:        "approver_tier_unknown",
			Description: fmt.Sprintf("%s approver %s has no resolvable permission tier", role, approverID),
		}
	}

	switch tier {
	case 1, 2:
		return nil
	case 4, 6:
		ceiling, ok := in.Rules.Get(rules.KindSingleApprovalCeiling)
		if !ok {
			return &Failure{
				Code:        "approver_ineligible",
				Description: fmt.Sprintf("%s approver %s (tier %d) is capped by the single-approval ceiling, which is not configured", role, approverID, tier),
			}
		}
		g.warnCurrencyMismatch(in.Request, ceiling)
		if in.Request.Amount > ceiling.Threshold {
			return &Failure{
				Code: "approver_ineligible",
				Description: fmt.Sprintf("%s approver %s (tier %d) may approve at most %d, request amount is %d",
					role, approverID, tier, ceiling.Threshold, in.Request.Amount),
			}
		}
		return nil
	default:
		return &Failure{
			Code:        "approver_ineligible",
			Description: fmt.Sprintf("%s approver %s holds tier %d, which cannot approve requests", role, approverID, tier),
		}
	}
}

// EvaluateOrder runs the pre-order checks: payment evidence, purchase order
// document, estimated delivery date, and final price variance. Every failure
// here has a matching override kind.
func (g *Gate) EvaluateOrder(in OrderInput) GateResult {
	req := in.Request
	res := GateResult{}

	if ceiling, ok := in.Rules.Get(rules.KindSingleApprovalCeiling); ok && req.Amount > ceiling.Threshold {
		g.warnCurrencyMismatch(req, ceiling)
		if !in.Evidence[EvidenceProforma] {
			res.Failures = append(res.Failures, Failure{
				Code:         "proforma_missing",
				Description:  fmt.Sprintf("amount %d exceeds %d and requires a proforma invoice", req.Amount, ceiling.Threshold),
				OverrideKind: repository.OverrideProforma,
			})
		}
		if !in.Evidence[EvidenceProofOfPayment] {
			res.Failures = append(res.Failures, Failure{
				Code:         "proof_of_payment_missing",
				Description:  fmt.Sprintf("amount %d exceeds %d and requires proof of payment", req.Amount, ceiling.Threshold),
				OverrideKind: repository.OverrideProofOfPayment,
			})
		}
	}

	if floor, ok := in.Rules.PODocFloor(); ok && req.Amount > floor.Threshold {
		if !in.Evidence[EvidencePODocument] {
			res.Failures = append(res.Failures, Failure{
				Code:         "po_document_missing",
				Description:  fmt.Sprintf("amount %d exceeds %d and requires a purchase order document", req.Amount, floor.Threshold),
				OverrideKind: repository.OverridePODocument,
			})
		}
	}

	if in.EstimatedDeliveryDate == nil || *in.EstimatedDeliveryDate == "" {
		res.Failures = append(res.Failures, Failure{
			Code:         "estimated_delivery_date_missing",
			Description:  "an estimated delivery date is required before ordering",
			OverrideKind: repository.OverrideDeliveryDocumentation,
		})
	}

	if f := g.checkVariance(in); f != nil {
		res.Failures = append(res.Failures, *f)
	}

	res.Failures = suppressOverridden(res.Failures, in.Overrides, false)
	return res
}

// checkVariance compares the final price against the approved amount. The
// comparison is cross-multiplied so fractional percentages are not truncated
// away.
func (g *Gate) checkVariance(in OrderInput) *Failure {
	if in.FinalPrice == nil || in.Request.Amount <= 0 {
		return nil
	}
	final, amount := *in.FinalPrice, in.Request.Amount
	delta := final - amount

	if up, ok := in.Rules.Get(rules.KindPriceVarianceUpward); ok && delta > 0 {
		if delta*100 > up.Threshold*amount {
			return &Failure{
				Code: "price_variance_exceeded",
				Description: fmt.Sprintf("final price %d is more than %d%% above the approved amount %d",
					final, up.Threshold, amount),
				OverrideKind: repository.OverrideFinalPriceVariance,
			}
		}
	}
	if down, ok := in.Rules.Get(rules.KindPriceVarianceDownward); ok && delta < 0 {
		if -delta*100 > down.Threshold*amount {
			return &Failure{
				Code: "price_variance_exceeded",
				Description: fmt.Sprintf("final price %d is more than %d%% below the approved amount %d",
					final, down.Threshold, amount),
				OverrideKind: repository.OverrideFinalPriceVariance,
			}
		}
	}
	return nil
}

// suppressOverridden drops overridable failures covered by a recorded override.
// In the submission gate a ruleValidation override additionally covers any
// overridable failure.
func suppressOverridden(failures []Failure, overrides map[repository.OverrideKind]*repository.Override, allowRuleValidation bool) []Failure {
	if len(failures) == 0 || len(overrides) == 0 {
		return failures
	}
	kept := failures[:0]
	for _, f := range failures {
		if f.Overridable() {
			if _, ok := overrides[f.OverrideKind]; ok {
				continue
			}
			if allowRuleValidation {
				if _, ok := overrides[repository.OverrideRuleValidation]; ok {
					continue
				}
			}
		}
		kept = append(kept, f)
	}
	return kept
}

func (g *Gate) warnCurrencyMismatch(req *repository.Request, r rules.Rule) {
	if r.Currency != "" && req.Currency != "" && r.Currency != req.Currency {
		g.log.Warn().
			Str("request_id", req.ID).
			Int("rule_number", r.Number).
			Str("rule_currency", r.Currency).
			Str("request_currency", req.Currency).
			Msg("gate: rule currency differs from request currency, comparing verbatim")
	}
}
