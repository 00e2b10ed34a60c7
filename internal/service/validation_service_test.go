package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/rules"
)

func testRules(rows ...rules.Rule) rules.Set {
	return rules.Resolve(rows)
}

// standardRules: ceiling 50k, dual floor 200k, PO doc floor 500k, variance 10%/20%.
func standardRules() rules.Set {
	return testRules(
		rules.Rule{Number: 1, Threshold: 50_000, Currency: "EUR"},
		rules.Rule{Number: 3, Threshold: 200_000, Currency: "EUR"},
		rules.Rule{Number: 5, Threshold: 500_000, Currency: "EUR"},
		rules.Rule{Number: 6, Threshold: 10, Currency: "EUR"},
		rules.Rule{Number: 7, Threshold: 20, Currency: "EUR"},
	)
}

func gateRequest(amount int64) *repository.Request {
	return &repository.Request{
		ID:                "req-1",
		Number:            "PR-001",
		OrganizationID:    "org-1",
		Amount:            amount,
		Currency:          "EUR",
		ApproverPrimaryID: strptr("alice"),
		Quotes: []repository.Quote{
			{ID: "q1", VendorID: "v1", Amount: amount, Position: 0},
			{ID: "q2", VendorID: "v2", Amount: amount + 100, Position: 1},
			{ID: "q3", VendorID: "v3", Amount: amount + 200, Position: 2},
		},
	}
}

func failureCodes(failures []Failure) []string {
	codes := make([]string, len(failures))
	for i, f := range failures {
		codes[i] = f.Code
	}
	return codes
}

func TestGate_Cardinality(t *testing.T) {
	g := NewGate(logger.Nop())
	tiers := map[string]int{"alice": 1, "bob": 1}

	t.Run("at or below the dual floor stays single", func(t *testing.T) {
		req := gateRequest(200_000)
		res := g.EvaluateSubmission(SubmissionInput{Request: req, Rules: standardRules(), ApproverTiers: tiers})
		assert.Equal(t, CardinalitySingle, res.Cardinality)
		assert.True(t, res.OK())
	})

	t.Run("above the dual floor requires dual", func(t *testing.T) {
		req := gateRequest(200_001)
		req.ApproverSecondaryID = strptr("bob")
		res := g.EvaluateSubmission(SubmissionInput{Request: req, Rules: standardRules(), ApproverTiers: tiers})
		assert.Equal(t, CardinalityDual, res.Cardinality)
		assert.True(t, res.OK())
	})

	t.Run("no dual floor configured falls back to single", func(t *testing.T) {
		req := gateRequest(10_000_000)
		res := g.EvaluateSubmission(SubmissionInput{
			Request: req,
			Rules:   testRules(rules.Rule{Number: 1, Threshold: 50_000}),
			ApproverTiers: map[string]int{"alice": 1},
		})
		assert.Equal(t, CardinalitySingle, res.Cardinality)
		assert.True(t, res.OK())
	})

	t.Run("dual without a secondary approver fails", func(t *testing.T) {
		req := gateRequest(300_000)
		res := g.EvaluateSubmission(SubmissionInput{Request: req, Rules: standardRules(), ApproverTiers: tiers})
		require.False(t, res.OK())
		assert.Contains(t, failureCodes(res.Failures), "secondary_approver_missing")
	})
}

func TestGate_ApproverEligibility(t *testing.T) {
	g := NewGate(logger.Nop())

	t.Run("tier 1 and 2 approve any amount", func(t *testing.T) {
		for _, tier := range []int{1, 2} {
			req := gateRequest(100_000)
			res := g.EvaluateSubmission(SubmissionInput{
				Request:       req,
				Rules:         standardRules(),
				ApproverTiers: map[string]int{"alice": tier},
			})
			assert.True(t, res.OK(), "tier %d", tier)
		}
	})

	t.Run("tier 4 and 6 capped at the single-approval ceiling", func(t *testing.T) {
		for _, tier := range []int{4, 6} {
			req := gateRequest(50_000)
			res := g.EvaluateSubmission(SubmissionInput{
				Request:       req,
				Rules:         standardRules(),
				ApproverTiers: map[string]int{"alice": tier},
			})
			assert.True(t, res.OK(), "tier %d at ceiling", tier)

			req = gateRequest(50_001)
			res = g.EvaluateSubmission(SubmissionInput{
				Request:       req,
				Rules:         standardRules(),
				ApproverTiers: map[string]int{"alice": tier},
			})
			require.False(t, res.OK(), "tier %d above ceiling", tier)
			assert.Contains(t, failureCodes(res.Failures), "approver_ineligible")
		}
	})

	t.Run("other tiers never approve", func(t *testing.T) {
		req := gateRequest(100)
		res := g.EvaluateSubmission(SubmissionInput{
			Request:       req,
			Rules:         standardRules(),
			ApproverTiers: map[string]int{"alice": 3},
		})
		require.False(t, res.OK())
		assert.Contains(t, failureCodes(res.Failures), "approver_ineligible")
	})

	t.Run("eligibility failures are never overridable", func(t *testing.T) {
		req := gateRequest(100_000)
		overrides := map[repository.OverrideKind]*repository.Override{
			repository.OverrideRuleValidation: {Kind: repository.OverrideRuleValidation},
		}
		res := g.EvaluateSubmission(SubmissionInput{
			Request:       req,
			Rules:         standardRules(),
			ApproverTiers: map[string]int{"alice": 4},
			Overrides:     overrides,
		})
		require.False(t, res.OK())
		assert.False(t, res.Failures[0].Overridable())
	})

	t.Run("missing primary approver fails", func(t *testing.T) {
		req := gateRequest(1000)
		req.ApproverPrimaryID = nil
		res := g.EvaluateSubmission(SubmissionInput{Request: req, Rules: standardRules()})
		require.False(t, res.OK())
		assert.Contains(t, failureCodes(res.Failures), "primary_approver_missing")
	})
}

func TestGate_QuoteRequirement(t *testing.T) {
	g := NewGate(logger.Nop())
	tiers := map[string]int{"alice": 1, "bob": 2}

	dualReq := func() *repository.Request {
		req := gateRequest(300_000)
		req.ApproverSecondaryID = strptr("bob")
		req.Quotes = req.Quotes[:2]
		req.PreferredQuoteID = strptr("q1")
		return req
	}

	t.Run("dual with fewer than three quotes fails", func(t *testing.T) {
		res := g.EvaluateSubmission(SubmissionInput{Request: dualReq(), Rules: standardRules(), ApproverTiers: tiers})
		require.False(t, res.OK())
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "insufficient_quotes", res.Failures[0].Code)
		assert.Equal(t, repository.OverrideQuoteRequirement, res.Failures[0].OverrideKind)
	})

	t.Run("trust-approved preferred vendor waives the requirement", func(t *testing.T) {
		res := g.EvaluateSubmission(SubmissionInput{
			Request:                 dualReq(),
			Rules:                   standardRules(),
			ApproverTiers:           tiers,
			PreferredVendorApproved: true,
		})
		assert.True(t, res.OK())
	})

	t.Run("quoteRequirement override suppresses the failure", func(t *testing.T) {
		res := g.EvaluateSubmission(SubmissionInput{
			Request:       dualReq(),
			Rules:         standardRules(),
			ApproverTiers: tiers,
			Overrides: map[repository.OverrideKind]*repository.Override{
				repository.OverrideQuoteRequirement: {Kind: repository.OverrideQuoteRequirement},
			},
		})
		assert.True(t, res.OK())
	})

	t.Run("ruleValidation override also suppresses it", func(t *testing.T) {
		res := g.EvaluateSubmission(SubmissionInput{
			Request:       dualReq(),
			Rules:         standardRules(),
			ApproverTiers: tiers,
			Overrides: map[repository.OverrideKind]*repository.Override{
				repository.OverrideRuleValidation: {Kind: repository.OverrideRuleValidation},
			},
		})
		assert.True(t, res.OK())
	})
}

// The submission gate only ever adds requirements as the amount grows: with
// every other input fixed, a pass at some amount implies a pass at any lower
// amount. Swept across every threshold boundary, a failure must never flip
// back to a pass.
func TestGate_SubmissionMonotonicity(t *testing.T) {
	g := NewGate(logger.Nop())
	tiers := map[string]int{"alice": 4, "bob": 1}

	passAt := func(amount int64) bool {
		req := gateRequest(amount)
		req.ApproverSecondaryID = strptr("bob")
		req.Quotes = req.Quotes[:2] // quote-count check fires once dual kicks in
		res := g.EvaluateSubmission(SubmissionInput{
			Request:       req,
			Rules:         standardRules(),
			ApproverTiers: tiers,
		})
		return res.OK()
	}

	amounts := []int64{
		1, 1_000, 49_999, 50_000, 50_001, // single-approval ceiling (tier-4 cap)
		199_999, 200_000, 200_001, // dual-approval floor
		499_999, 500_000, 500_001, 1_000_000,
	}

	assert.True(t, passAt(amounts[0]), "smallest amount must pass")

	failedAt := int64(0)
	for _, amount := range amounts {
		ok := passAt(amount)
		if failedAt != 0 {
			assert.False(t, ok, "gate passed at %d after failing at %d", amount, failedAt)
		} else if !ok {
			failedAt = amount
		}
	}
	assert.Equal(t, int64(50_001), failedAt, "first failure should sit just above the ceiling")
}

func TestGate_Order(t *testing.T) {
	g := NewGate(logger.Nop())
	delivery := strptr("2026-09-15")

	t.Run("below all thresholds only needs a delivery date", func(t *testing.T) {
		req := gateRequest(10_000)
		res := g.EvaluateOrder(OrderInput{Request: req, Rules: standardRules(), EstimatedDeliveryDate: delivery})
		assert.True(t, res.OK())
	})

	t.Run("above the ceiling requires proforma and proof of payment", func(t *testing.T) {
		req := gateRequest(60_000)
		res := g.EvaluateOrder(OrderInput{Request: req, Rules: standardRules(), EstimatedDeliveryDate: delivery})
		require.False(t, res.OK())
		codes := failureCodes(res.Failures)
		assert.Contains(t, codes, "proforma_missing")
		assert.Contains(t, codes, "proof_of_payment_missing")

		res = g.EvaluateOrder(OrderInput{
			Request:               req,
			Rules:                 standardRules(),
			Evidence:              map[string]bool{EvidenceProforma: true, EvidenceProofOfPayment: true},
			EstimatedDeliveryDate: delivery,
		})
		assert.True(t, res.OK())
	})

	t.Run("above the PO doc floor requires the PO document", func(t *testing.T) {
		req := gateRequest(600_000)
		res := g.EvaluateOrder(OrderInput{
			Request:               req,
			Rules:                 standardRules(),
			Evidence:              map[string]bool{EvidenceProforma: true, EvidenceProofOfPayment: true},
			EstimatedDeliveryDate: delivery,
		})
		require.False(t, res.OK())
		assert.Contains(t, failureCodes(res.Failures), "po_document_missing")
	})

	t.Run("PO doc floor falls back to the dual floor", func(t *testing.T) {
		set := testRules(rules.Rule{Number: 3, Threshold: 200_000})
		req := gateRequest(250_000)
		res := g.EvaluateOrder(OrderInput{Request: req, Rules: set, EstimatedDeliveryDate: delivery})
		require.False(t, res.OK())
		assert.Contains(t, failureCodes(res.Failures), "po_document_missing")
	})

	t.Run("missing delivery date is overridable via deliveryDocumentation", func(t *testing.T) {
		req := gateRequest(10_000)
		res := g.EvaluateOrder(OrderInput{Request: req, Rules: standardRules()})
		require.False(t, res.OK())
		assert.Equal(t, repository.OverrideDeliveryDocumentation, res.Failures[0].OverrideKind)

		res = g.EvaluateOrder(OrderInput{
			Request: req,
			Rules:   standardRules(),
			Overrides: map[repository.OverrideKind]*repository.Override{
				repository.OverrideDeliveryDocumentation: {Kind: repository.OverrideDeliveryDocumentation},
			},
		})
		assert.True(t, res.OK())
	})

	t.Run("evidence overrides suppress their own kind only", func(t *testing.T) {
		req := gateRequest(60_000)
		res := g.EvaluateOrder(OrderInput{
			Request:               req,
			Rules:                 standardRules(),
			EstimatedDeliveryDate: delivery,
			Overrides: map[repository.OverrideKind]*repository.Override{
				repository.OverrideProforma: {Kind: repository.OverrideProforma},
			},
		})
		require.False(t, res.OK())
		codes := failureCodes(res.Failures)
		assert.NotContains(t, codes, "proforma_missing")
		assert.Contains(t, codes, "proof_of_payment_missing")
	})
}

func TestGate_PriceVariance(t *testing.T) {
	g := NewGate(logger.Nop())
	delivery := strptr("2026-09-15")

	check := func(amount, final int64) GateResult {
		req := gateRequest(amount)
		return g.EvaluateOrder(OrderInput{
			Request:               req,
			Rules:                 standardRules(),
			EstimatedDeliveryDate: delivery,
			FinalPrice:            int64ptr(final),
		})
	}

	t.Run("within tolerance passes", func(t *testing.T) {
		assert.True(t, check(10_000, 11_000).OK(), "exactly +10%")
		assert.True(t, check(10_000, 8_000).OK(), "exactly -20%")
		assert.True(t, check(10_000, 10_000).OK(), "no variance")
	})

	t.Run("above upward tolerance fails", func(t *testing.T) {
		res := check(10_000, 11_001)
		require.False(t, res.OK())
		assert.Equal(t, "price_variance_exceeded", res.Failures[0].Code)
		assert.Equal(t, repository.OverrideFinalPriceVariance, res.Failures[0].OverrideKind)
	})

	t.Run("below downward tolerance fails", func(t *testing.T) {
		res := check(10_000, 7_999)
		require.False(t, res.OK())
		assert.Equal(t, "price_variance_exceeded", res.Failures[0].Code)
	})

	t.Run("finalPriceVariance override suppresses it", func(t *testing.T) {
		req := gateRequest(10_000)
		res := g.EvaluateOrder(OrderInput{
			Request:               req,
			Rules:                 standardRules(),
			EstimatedDeliveryDate: delivery,
			FinalPrice:            int64ptr(15_000),
			Overrides: map[repository.OverrideKind]*repository.Override{
				repository.OverrideFinalPriceVariance: {Kind: repository.OverrideFinalPriceVariance},
			},
		})
		assert.True(t, res.OK())
	})

	t.Run("no variance rules means no bound", func(t *testing.T) {
		set := testRules(rules.Rule{Number: 3, Threshold: 200_000})
		req := gateRequest(10_000)
		res := g.EvaluateOrder(OrderInput{
			Request:               req,
			Rules:                 set,
			EstimatedDeliveryDate: delivery,
			FinalPrice:            int64ptr(50_000),
		})
		assert.True(t, res.OK())
	})
}
