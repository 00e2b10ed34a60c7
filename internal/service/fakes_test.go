package service

import (
	"context"
	"fmt"
	"time"

	"github.com/procurehq/be-proc-requests/internal/config"
	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/rules"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// In-memory fakes for the store and collaborator interfaces.

type fakeRequestStore struct {
	requests map[string]*repository.Request
	history  []*repository.StatusHistoryEntry
	seq      int
}

func newFakeRequestStore(reqs ...*repository.Request) *fakeRequestStore {
	s := &fakeRequestStore{requests: make(map[string]*repository.Request)}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return s
}

func (s *fakeRequestStore) GetByID(_ context.Context, id string) (*repository.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("request", id)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeRequestStore) CommitTransition(_ context.Context, c repository.TransitionCommit) (*repository.StatusHistoryEntry, error) {
	r, ok := s.requests[c.RequestID]
	if !ok {
		return nil, errors.NotFound("request", c.RequestID)
	}
	if r.Version != c.ExpectedVersion {
		return nil, errors.New(errors.ErrCodeConflict, "request was modified concurrently")
	}
	r.Status = c.To
	r.Version++
	if c.NewNumber != nil {
		r.Number = *c.NewNumber
	}
	if c.FinalPrice != nil {
		r.FinalPrice = c.FinalPrice
	}
	if c.EstimatedDeliveryDate != nil {
		r.EstimatedDeliveryDate = c.EstimatedDeliveryDate
	}
	s.seq++
	entry := &repository.StatusHistoryEntry{
		ID:         fmt.Sprintf("h-%d", s.seq),
		RequestID:  c.RequestID,
		FromStatus: c.From,
		ToStatus:   c.To,
		ActorID:    c.ActorID,
		Notes:      c.Notes,
		CreatedAt:  time.Now(),
	}
	s.history = append(s.history, entry)
	return entry, nil
}

func (s *fakeRequestStore) ListHistory(_ context.Context, requestID string) ([]*repository.StatusHistoryEntry, error) {
	var out []*repository.StatusHistoryEntry
	for _, e := range s.history {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeRequestStore) LastHistoryEntry(_ context.Context, requestID string) (*repository.StatusHistoryEntry, error) {
	var last *repository.StatusHistoryEntry
	for _, e := range s.history {
		if e.RequestID == requestID {
			last = e
		}
	}
	return last, nil
}

func (s *fakeRequestStore) LastActiveStatus(_ context.Context, requestID string) (workflow.Status, error) {
	last := workflow.StatusSubmitted
	for _, e := range s.history {
		if e.RequestID == requestID && e.ToStatus.IsActive() {
			last = e.ToStatus
		}
	}
	return last, nil
}

func (s *fakeRequestStore) ListPendingForApprover(_ context.Context, organizationID, approverID string) ([]*repository.Request, error) {
	var out []*repository.Request
	for _, r := range s.requests {
		if r.Status != workflow.StatusPendingApproval {
			continue
		}
		if organizationID != "" && r.OrganizationID != organizationID {
			continue
		}
		if (r.ApproverPrimaryID != nil && *r.ApproverPrimaryID == approverID) ||
			(r.ApproverSecondaryID != nil && *r.ApproverSecondaryID == approverID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeApprovalStore struct {
	states  map[string]*repository.ApprovalState
	history []*repository.ApprovalHistoryEntry
	seq     int
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{states: make(map[string]*repository.ApprovalState)}
}

func (s *fakeApprovalStore) GetState(_ context.Context, requestID string) (*repository.ApprovalState, error) {
	st, ok := s.states[requestID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *fakeApprovalStore) CreateState(_ context.Context, requestID string, requiresDual bool) (*repository.ApprovalState, error) {
	if _, ok := s.states[requestID]; ok {
		return nil, errors.New(errors.ErrCodeConflict, "approval state already exists for request")
	}
	st := &repository.ApprovalState{RequestID: requestID, RequiresDual: requiresDual, CreatedAt: time.Now()}
	s.states[requestID] = st
	cp := *st
	return &cp, nil
}

func (s *fakeApprovalStore) ReplaceState(_ context.Context, state *repository.ApprovalState) error {
	if _, ok := s.states[state.RequestID]; !ok {
		return errors.NotFound("approval_state", state.RequestID)
	}
	cp := *state
	cp.UpdatedAt = time.Now()
	s.states[state.RequestID] = &cp
	return nil
}

func (s *fakeApprovalStore) AppendHistory(_ context.Context, entry *repository.ApprovalHistoryEntry) error {
	s.seq++
	entry.ID = fmt.Sprintf("ah-%d", s.seq)
	entry.CreatedAt = time.Now()
	cp := *entry
	s.history = append(s.history, &cp)
	return nil
}

func (s *fakeApprovalStore) ListHistory(_ context.Context, requestID string) ([]*repository.ApprovalHistoryEntry, error) {
	var out []*repository.ApprovalHistoryEntry
	for _, e := range s.history {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeOverrideStore struct {
	byRequest map[string]map[repository.OverrideKind]*repository.Override
	seq       int
}

func newFakeOverrideStore() *fakeOverrideStore {
	return &fakeOverrideStore{byRequest: make(map[string]map[repository.OverrideKind]*repository.Override)}
}

func (s *fakeOverrideStore) Upsert(_ context.Context, o *repository.Override) error {
	m, ok := s.byRequest[o.RequestID]
	if !ok {
		m = make(map[repository.OverrideKind]*repository.Override)
		s.byRequest[o.RequestID] = m
	}
	s.seq++
	o.ID = fmt.Sprintf("ov-%d", s.seq)
	o.CreatedAt = time.Now()
	cp := *o
	m[o.Kind] = &cp
	return nil
}

func (s *fakeOverrideStore) ListByRequest(_ context.Context, requestID string) (map[repository.OverrideKind]*repository.Override, error) {
	out := make(map[repository.OverrideKind]*repository.Override)
	for k, v := range s.byRequest[requestID] {
		cp := *v
		out[k] = &cp
	}
	return out, nil
}

func (s *fakeOverrideStore) Clear(_ context.Context, requestID string, kind repository.OverrideKind) error {
	delete(s.byRequest[requestID], kind)
	return nil
}

type fakeRuleSource struct {
	set rules.Set
	err error
}

func (s *fakeRuleSource) GetRules(context.Context, string) (rules.Set, error) {
	return s.set, s.err
}

type fakeAuthorizer struct {
	denied  map[string]bool // action -> denied
	tiers   map[string]int
	err     error
	tierErr error
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{denied: make(map[string]bool), tiers: make(map[string]int)}
}

func (a *fakeAuthorizer) CanPerform(_ context.Context, _, action, _ string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return !a.denied[action], nil
}

func (a *fakeAuthorizer) ApproverTier(_ context.Context, approverID string) (int, error) {
	if a.tierErr != nil {
		return 0, a.tierErr
	}
	tier, ok := a.tiers[approverID]
	if !ok {
		return 0, errors.NotFound("approver", approverID)
	}
	return tier, nil
}

type fakeEvidenceSource struct {
	present map[string]bool // kind -> present
	err     error
}

func (s *fakeEvidenceSource) HasEvidence(_ context.Context, _, kind string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.present[kind], nil
}

type fakeVendorDirectory struct {
	approved map[string]bool
	getErr   error
	setErr   error

	setCalls []vendorSetCall
}

type vendorSetCall struct {
	VendorID string
	Approved bool
	Expiry   time.Time
	Reason   string
}

func (d *fakeVendorDirectory) IsApproved(_ context.Context, vendorID string) (bool, error) {
	if d.getErr != nil {
		return false, d.getErr
	}
	return d.approved[vendorID], nil
}

func (d *fakeVendorDirectory) SetApproval(_ context.Context, vendorID string, approved bool, expiry time.Time, reason, _ string) error {
	if d.setErr != nil {
		return d.setErr
	}
	d.setCalls = append(d.setCalls, vendorSetCall{VendorID: vendorID, Approved: approved, Expiry: expiry, Reason: reason})
	return nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) PublishStatusChange(_ context.Context, _ string, _, to workflow.Status, _, _ string) {
	n.events = append(n.events, "status:"+string(to))
}

func (n *fakeNotifier) PublishApprovalEvent(_ context.Context, eventType, _, _ string, _ map[string]any) {
	n.events = append(n.events, eventType)
}

// testEnv wires every service against fakes.
type testEnv struct {
	requests  *fakeRequestStore
	approvals *fakeApprovalStore
	overrides *fakeOverrideStore
	rules     *fakeRuleSource
	authz     *fakeAuthorizer
	evidence  *fakeEvidenceSource
	vendors   *fakeVendorDirectory
	notifier  *fakeNotifier

	transitions *TransitionService
	approval    *ApprovalService
	override    *OverrideService
}

func newTestEnv(reqs ...*repository.Request) *testEnv {
	env := &testEnv{
		requests:  newFakeRequestStore(reqs...),
		approvals: newFakeApprovalStore(),
		overrides: newFakeOverrideStore(),
		rules:     &fakeRuleSource{},
		authz:     newFakeAuthorizer(),
		evidence:  &fakeEvidenceSource{present: make(map[string]bool)},
		vendors:   &fakeVendorDirectory{approved: make(map[string]bool)},
		notifier:  &fakeNotifier{},
	}

	log := logger.Nop()
	locker := NewRequestLocker()
	gate := NewGate(log)
	calc := NewVendorApprovalCalculator(env.vendors, config.VendorApprovalConfig{
		ThreeQuoteMonths: 12,
		CompletedMonths:  6,
		ManualMonths:     3,
	}, log)

	env.transitions = NewTransitionService(
		env.requests, env.approvals, env.overrides,
		env.rules, env.authz, env.evidence, env.vendors,
		env.notifier, gate, calc, locker, log)
	env.approval = NewApprovalService(
		env.requests, env.approvals, env.authz, env.notifier, env.transitions, locker, log)
	env.override = NewOverrideService(
		env.requests, env.overrides, env.authz, env.notifier, locker, log)
	return env
}

func strptr(s string) *string { return &s }

func int64ptr(n int64) *int64 { return &n }

func boolptr(b bool) *bool { return &b }
