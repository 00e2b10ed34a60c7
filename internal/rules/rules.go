// Package rules resolves the organization rule registry into typed thresholds.
//
// The registry stores rules by bare number (1, 2, 3, 5, 6, 7). Numbers are
// mapped to kinds exactly once at load time so the workflow engine never
// matches on raw numbers.
package rules

// Kind identifies what a threshold rule controls.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSingleApprovalCeiling (rule 1): amounts above it require supporting
	// payment documents; approver tiers 4/6 may approve only up to it.
	KindSingleApprovalCeiling
	// KindDualApprovalFloor (rule 3): amounts above it require two approvers.
	KindDualApprovalFloor
	// KindHighValuePODocFloor (rule 5): amounts above it require a purchase
	// order document. Falls back to the dual-approval floor when absent.
	KindHighValuePODocFloor
	// KindPriceVarianceUpward (rule 6): tolerated upward final-price variance, percent.
	KindPriceVarianceUpward
	// KindPriceVarianceDownward (rule 7): tolerated downward final-price variance, percent.
	KindPriceVarianceDownward
)

func (k Kind) String() string {
	switch k {
	case KindSingleApprovalCeiling:
		return "single_approval_ceiling"
	case KindDualApprovalFloor:
		return "dual_approval_floor"
	case KindHighValuePODocFloor:
		return "high_value_po_doc_floor"
	case KindPriceVarianceUpward:
		return "price_variance_upward"
	case KindPriceVarianceDownward:
		return "price_variance_downward"
	}
	return "unknown"
}

// KindFromNumber maps a registry rule number to its kind. Unmapped numbers
// (including the retired rule 2) resolve to KindUnknown and are ignored.
func KindFromNumber(n int) Kind {
	switch n {
	case 1:
		return KindSingleApprovalCeiling
	case 3:
		return KindDualApprovalFloor
	case 5:
		return KindHighValuePODocFloor
	case 6:
		return KindPriceVarianceUpward
	case 7:
		return KindPriceVarianceDownward
	}
	return KindUnknown
}

// Rule is one registry row. Threshold is in minor currency units for amount
// rules and in whole percent for the variance rules.
type Rule struct {
	Number    int    `json:"number"`
	Threshold int64  `json:"threshold"`
	Currency  string `json:"currency"`
}

// Set is the typed, resolved rule set for one organization.
type Set struct {
	byKind map[Kind]Rule
}

// Resolve builds a Set from raw registry rows. Later duplicates of the same
// kind win, matching registry ordering semantics.
func Resolve(raw []Rule) Set {
	s := Set{byKind: make(map[Kind]Rule, len(raw))}
	for _, r := range raw {
		kind := KindFromNumber(r.Number)
		if kind == KindUnknown {
			continue
		}
		s.byKind[kind] = r
	}
	return s
}

// Get returns the rule for a kind, if configured.
func (s Set) Get(k Kind) (Rule, bool) {
	r, ok := s.byKind[k]
	return r, ok
}

// Has reports whether a kind is configured.
func (s Set) Has(k Kind) bool {
	_, ok := s.byKind[k]
	return ok
}

// PODocFloor returns the threshold above which a purchase order document is
// required. Uses the dedicated floor when configured, else the dual-approval
// floor.
func (s Set) PODocFloor() (Rule, bool) {
	if r, ok := s.Get(KindHighValuePODocFloor); ok {
		return r, true
	}
	return s.Get(KindDualApprovalFloor)
}

// Len returns the number of resolved rules.
func (s Set) Len() int { return len(s.byKind) }
