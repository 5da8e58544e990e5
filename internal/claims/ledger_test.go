package claims_test

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	authority     = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	policyManager = uuid.MustParse("00000000-0000-0000-0000-00000000a002")
	assessor      = uuid.MustParse("00000000-0000-0000-0000-00000000a003")
	customer      = uuid.MustParse("00000000-0000-0000-0000-0000000c0001")
	provider      = uuid.MustParse("00000000-0000-0000-0000-0000000011a1")
	day0          = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evidence      = claims.Digest{0xde, 0xad, 0xbe, 0xef}
)

type fixture struct {
	ledger   *claims.Ledger
	pool     *pool.CapitalPool
	registry *policy.MemoryRegistry
}

func newFixture(t *testing.T, enforce bool) *fixture {
	t.Helper()

	reg := policy.NewMemoryRegistry()
	reg.Upsert(policy.Policy{
		ID:            1,
		Owner:         customer,
		CoverageType:  policy.CoverageTheftOnly,
		InsuredValue:  1000,
		DeductibleBps: 1000,
		Status:        policy.StatusActive,
	})
	reg.Upsert(policy.Policy{
		ID:            2,
		Owner:         customer,
		CoverageType:  policy.CoverageTheftAndLoss,
		InsuredValue:  5000,
		DeductibleBps: 0,
		Status:        policy.StatusActive,
	})
	reg.Upsert(policy.Policy{
		ID:           3,
		Owner:        customer,
		CoverageType: policy.CoverageTheftAndLoss,
		InsuredValue: 5000,
		Status:       policy.StatusExpired,
	})

	p := pool.NewCapitalPool()
	if err := p.Initialize(authority, policyManager, 0, day0); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Deposit(provider, 10_000, pool.AssetA, day0); err != nil {
		t.Fatal(err)
	}
	if _, err := p.RecordPremium(policyManager, 10_000); err != nil {
		t.Fatal(err)
	}

	l := claims.NewLedger(reg, p, claims.Options{
		EnforcePayoutLimits: enforce,
		Logger:              zerolog.Nop(),
	})
	if err := l.Initialize(authority, assessor, 2000, 3000, day0); err != nil {
		t.Fatal(err)
	}
	return &fixture{ledger: l, pool: p, registry: reg}
}

func (f *fixture) mustSubmit(t *testing.T, policyID uint64, typ claims.Type, amount uint64) claims.Claim {
	t.Helper()
	c, err := f.ledger.Submit(customer, policyID, typ, evidence, amount, day0)
	if err != nil {
		t.Fatalf("Submit(policy=%d, amount=%d): %v", policyID, amount, err)
	}
	return c
}

func (f *fixture) mustApprove(t *testing.T, claimID uint64) {
	t.Helper()
	if _, err := f.ledger.ManualAdjudicate(authority, claimID, true, day0); err != nil {
		t.Fatalf("ManualAdjudicate(%d): %v", claimID, err)
	}
}

// ============================================================================
// Test: Submit
// ============================================================================

func TestSubmit_DeductibleApplied(t *testing.T) {
	f := newFixture(t, true)

	c := f.mustSubmit(t, 1, claims.TypeTheft, 500)
	if c.Amount != 450 {
		t.Errorf("payout: got %d, want 450", c.Amount)
	}
	if c.ID != 1 || c.Status != claims.StatusSubmitted {
		t.Errorf("got id=%d status=%s, want 1/Submitted", c.ID, c.Status)
	}
	if f.ledger.State().TotalClaims != 1 {
		t.Errorf("total claims: got %d, want 1", f.ledger.State().TotalClaims)
	}
}

func TestSubmit_PayoutBoundedByInsuredValue(t *testing.T) {
	f := newFixture(t, true)

	// 10000 - 10% = 9000 > 1000 insured.
	_, err := f.ledger.Submit(customer, 1, claims.TypeTheft, evidence, 10_000, day0)
	if !errors.Is(err, errs.ErrPayoutExceedsInsuredValue) {
		t.Fatalf("got %v, want ErrPayoutExceedsInsuredValue", err)
	}
	if f.ledger.State().TotalClaims != 0 {
		t.Error("failed submit must not consume a claim id")
	}
}

func TestSubmit_Preconditions(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name   string
		caller uuid.UUID
		policy uint64
		typ    claims.Type
		amount uint64
		want   error
	}{
		{"zero amount", customer, 1, claims.TypeTheft, 0, errs.ErrInvalidAmount},
		{"inactive policy", customer, 3, claims.TypeTheft, 10, errs.ErrPolicyNotActive},
		{"loss on theft-only", customer, 1, claims.TypeLoss, 10, errs.ErrClaimTypeNotCovered},
		{"unknown policy", customer, 99, claims.TypeTheft, 10, errs.ErrPolicyNotFound},
		{"not the owner", provider, 1, claims.TypeTheft, 10, errs.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Submit(tt.caller, tt.policy, tt.typ, evidence, tt.amount, day0)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmit_OneLiveClaimPerPolicy(t *testing.T) {
	f := newFixture(t, true)
	first := f.mustSubmit(t, 2, claims.TypeLoss, 100)

	_, err := f.ledger.Submit(customer, 2, claims.TypeTheft, evidence, 100, day0)
	if !errors.Is(err, errs.ErrPolicyAlreadyClaimed) {
		t.Fatalf("got %v, want ErrPolicyAlreadyClaimed", err)
	}

	// A rejection frees the policy.
	if _, err := f.ledger.Reject(authority, first.ID, "duplicate evidence", day0); err != nil {
		t.Fatal(err)
	}
	second := f.mustSubmit(t, 2, claims.TypeTheft, 100)
	if second.ID != 2 {
		t.Errorf("claim ids must keep increasing: got %d, want 2", second.ID)
	}
}

func TestSubmit_AfterPayoutPolicyIsClaimed(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)
	f.mustApprove(t, c.ID)
	if _, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0); err != nil {
		t.Fatal(err)
	}

	p, _ := f.registry.Policy(2)
	if p.ClaimCount != 1 || p.Status != policy.StatusClaimed {
		t.Errorf("policy: got count=%d status=%s, want 1/Claimed", p.ClaimCount, p.Status)
	}
	if _, err := f.ledger.Submit(customer, 2, claims.TypeLoss, evidence, 10, day0); !errors.Is(err, errs.ErrPolicyNotActive) {
		t.Errorf("got %v, want ErrPolicyNotActive", err)
	}
}

// ============================================================================
// Test: Automated assessment
// ============================================================================

func TestAutomatedAssessment_Transitions(t *testing.T) {
	tests := []struct {
		decision   claims.Decision
		confidence uint8
		want       claims.Status
	}{
		{claims.DecisionApproved, 80, claims.StatusUnderReview},
		{claims.DecisionApproved, 79, claims.StatusSubmitted},
		{claims.DecisionRejected, 10, claims.StatusUnderReview},
		{claims.DecisionManualReview, 0, claims.StatusUnderReview},
		{claims.DecisionPending, 100, claims.StatusSubmitted},
	}
	for _, tt := range tests {
		t.Run(tt.decision.String(), func(t *testing.T) {
			f := newFixture(t, true)
			c := f.mustSubmit(t, 2, claims.TypeLoss, 100)

			got, err := f.ledger.AutomatedAssessment(assessor, c.ID, tt.decision, tt.confidence)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.want {
				t.Errorf("confidence %d: got %s, want %s", tt.confidence, got.Status, tt.want)
			}
			if got.Decision != tt.decision || got.Confidence != tt.confidence {
				t.Errorf("assessment not recorded: %+v", got)
			}
		})
	}
}

func TestAutomatedAssessment_Errors(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)

	if _, err := f.ledger.AutomatedAssessment(assessor, c.ID, claims.DecisionApproved, 101); !errors.Is(err, errs.ErrInvalidConfidence) {
		t.Errorf("confidence 101: got %v, want ErrInvalidConfidence", err)
	}
	if _, err := f.ledger.AutomatedAssessment(customer, c.ID, claims.DecisionApproved, 90); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("customer caller: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.ledger.AutomatedAssessment(assessor, 42, claims.DecisionApproved, 90); !errors.Is(err, errs.ErrClaimNotFound) {
		t.Errorf("unknown claim: got %v, want ErrClaimNotFound", err)
	}

	if _, err := f.ledger.AutomatedAssessment(assessor, c.ID, claims.DecisionManualReview, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.AutomatedAssessment(assessor, c.ID, claims.DecisionApproved, 90); !errors.Is(err, errs.ErrInvalidClaimStatus) {
		t.Errorf("second assessment: got %v, want ErrInvalidClaimStatus", err)
	}
}

// ============================================================================
// Test: Manual adjudication
// ============================================================================

func TestManualAdjudicate_FromUnderReview(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)
	if _, err := f.ledger.AutomatedAssessment(assessor, c.ID, claims.DecisionApproved, 95); err != nil {
		t.Fatal(err)
	}

	got, err := f.ledger.ManualAdjudicate(authority, c.ID, true, day0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != claims.StatusApproved {
		t.Errorf("got %s, want Approved", got.Status)
	}
	if got.Reviewer == nil || *got.Reviewer != authority {
		t.Error("reviewer not recorded")
	}
	if got.ReviewedAt == nil || !got.ReviewedAt.Equal(day0.Add(time.Minute)) {
		t.Error("review time not recorded")
	}
}

func TestManualAdjudicate_RejectCounts(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)

	got, err := f.ledger.ManualAdjudicate(authority, c.ID, false, day0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != claims.StatusRejected || f.ledger.State().RejectedClaims != 1 {
		t.Errorf("got status=%s rejected=%d", got.Status, f.ledger.State().RejectedClaims)
	}

	if _, err := f.ledger.ManualAdjudicate(authority, c.ID, true, day0); !errors.Is(err, errs.ErrInvalidClaimStatus) {
		t.Errorf("rejected is terminal: got %v", err)
	}
}

func TestManualAdjudicate_AuthorityOnly(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)

	if _, err := f.ledger.ManualAdjudicate(assessor, c.ID, true, day0); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if _, err := f.ledger.Reject(customer, c.ID, "nope", day0); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestReject_RecordsReason(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)

	got, err := f.ledger.Reject(authority, c.ID, "evidence predates policy", day0)
	if err != nil {
		t.Fatal(err)
	}
	if got.RejectReason != "evidence predates policy" {
		t.Errorf("reason: got %q", got.RejectReason)
	}
}

// ============================================================================
// Test: Payout
// ============================================================================

func TestExecutePayout_PaysFromPool(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 1, claims.TypeTheft, 500)
	f.mustApprove(t, c.ID)

	res, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0)
	if err != nil {
		t.Fatalf("ExecutePayout: %v", err)
	}
	if res.Amount != 450 || res.TotalPaidOut != 450 || res.DailyAutoPaid != 450 {
		t.Errorf("got %+v", res)
	}
	if res.PayoutRef != claims.PayoutRef(c.ID) {
		t.Error("payout ref must be derived from the claim id")
	}

	got, _ := f.ledger.Claim(c.ID)
	if got.Status != claims.StatusPaid || got.PayoutRef == nil {
		t.Errorf("claim: got status=%s ref=%v", got.Status, got.PayoutRef)
	}
	s := f.pool.State()
	if s.CapitalA != 9550 || s.ClaimsPaid != 450 {
		t.Errorf("pool: got capital=%d claims=%d, want 9550/450", s.CapitalA, s.ClaimsPaid)
	}
	if f.ledger.State().ApprovedClaims != 1 {
		t.Errorf("approved: got %d, want 1", f.ledger.State().ApprovedClaims)
	}
}

func TestExecutePayout_OnlyApprovedOnce(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)

	if _, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0); !errors.Is(err, errs.ErrClaimNotApproved) {
		t.Errorf("submitted: got %v, want ErrClaimNotApproved", err)
	}

	f.mustApprove(t, c.ID)
	if _, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0); !errors.Is(err, errs.ErrClaimAlreadyPaid) {
		t.Errorf("second payout: got %v, want ErrClaimAlreadyPaid", err)
	}
	if f.pool.State().ClaimsPaid != 100 {
		t.Errorf("claims paid: got %d, want 100", f.pool.State().ClaimsPaid)
	}
}

func TestExecutePayout_PoolFailureLeavesClaimApproved(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)
	f.mustApprove(t, c.ID)

	// Nothing deposited on the SOL leg.
	_, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetB, day0)
	if !errors.Is(err, errs.ErrInsufficientPoolLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientPoolLiquidity", err)
	}
	got, _ := f.ledger.Claim(c.ID)
	if got.Status != claims.StatusApproved || got.PayoutRef != nil {
		t.Errorf("claim mutated: %+v", got)
	}
	if s := f.ledger.State(); s.TotalPaidOut != 0 || s.DailyAutoPaid != 0 {
		t.Errorf("totals mutated: %+v", s)
	}
}

func TestExecutePayout_ClaimCountSaturatedBeforeDisburse(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 100)
	f.mustApprove(t, c.ID)

	// The policy counter cannot absorb another payout.
	f.registry.Upsert(policy.Policy{
		ID:           2,
		Owner:        customer,
		CoverageType: policy.CoverageTheftAndLoss,
		InsuredValue: 5000,
		Status:       policy.StatusActive,
		ClaimCount:   ^uint8(0),
	})
	before := f.pool.State()

	_, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0)
	if !errors.Is(err, errs.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
	if after := f.pool.State(); after != before {
		t.Errorf("pool moved funds: got %+v, want %+v", after, before)
	}
	got, _ := f.ledger.Claim(c.ID)
	if got.Status != claims.StatusApproved || got.PayoutRef != nil {
		t.Errorf("claim mutated: %+v", got)
	}
	if s := f.ledger.State(); s.TotalPaidOut != 0 || s.DailyAutoPaid != 0 {
		t.Errorf("totals mutated: %+v", s)
	}
}

func TestExecutePayout_LimitGate(t *testing.T) {
	f := newFixture(t, true)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 2500) // max auto payout is 2000
	f.mustApprove(t, c.ID)

	_, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0)
	if !errors.Is(err, errs.ErrPayoutLimitExceeded) {
		t.Fatalf("got %v, want ErrPayoutLimitExceeded", err)
	}

	if _, err := f.ledger.OverridePayoutLimits(authority, c.ID); err != nil {
		t.Fatal(err)
	}
	res, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0)
	if err != nil {
		t.Fatalf("after override: %v", err)
	}
	if !res.OverMax || !res.Overridden {
		t.Errorf("got %+v, want over-max and overridden", res)
	}
}

func TestExecutePayout_AdvisoryWhenNotEnforced(t *testing.T) {
	f := newFixture(t, false)
	c := f.mustSubmit(t, 2, claims.TypeLoss, 2500)
	f.mustApprove(t, c.ID)

	res, err := f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, day0)
	if err != nil {
		t.Fatalf("ExecutePayout: %v", err)
	}
	if !res.OverMax || res.Overridden {
		t.Errorf("got %+v", res)
	}
}

func TestExecutePayout_DailyBucketResets(t *testing.T) {
	f := newFixture(t, true)
	if err := f.ledger.UpdatePayoutLimits(authority, 2000, 1500); err != nil {
		t.Fatal(err)
	}

	reg := f.registry
	for id := uint64(10); id <= 12; id++ {
		reg.Upsert(policy.Policy{ID: id, Owner: customer, CoverageType: policy.CoverageTheftAndLoss,
			InsuredValue: 5000, Status: policy.StatusActive})
	}
	pay := func(policyID uint64, at time.Time) error {
		c, err := f.ledger.Submit(customer, policyID, claims.TypeLoss, evidence, 1000, at)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.ManualAdjudicate(authority, c.ID, true, at); err != nil {
			t.Fatal(err)
		}
		_, err = f.ledger.ExecutePayout(authority, c.ID, pool.AssetA, at)
		return err
	}

	if err := pay(10, day0); err != nil {
		t.Fatal(err)
	}
	if err := pay(11, day0.Add(time.Hour)); !errors.Is(err, errs.ErrPayoutLimitExceeded) {
		t.Fatalf("same day: got %v, want ErrPayoutLimitExceeded", err)
	}
	if err := pay(12, day0.Add(24*time.Hour)); err != nil {
		t.Fatalf("next day: %v", err)
	}
	s := f.ledger.State()
	if s.DailyAutoPaid != 1000 || s.LastResetDay != claims.DayIndex(day0)+1 {
		t.Errorf("bucket: got paid=%d day=%d", s.DailyAutoPaid, s.LastResetDay)
	}
}

func TestUpdatePayoutLimits_AuthorityOnly(t *testing.T) {
	f := newFixture(t, true)
	if err := f.ledger.UpdatePayoutLimits(assessor, 1, 1); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

// ============================================================================
// Test: Restore
// ============================================================================

func TestRestore_RebuildsLivePolicies(t *testing.T) {
	f := newFixture(t, true)
	f.mustSubmit(t, 2, claims.TypeLoss, 100)

	l := claims.NewLedger(f.registry, f.pool, claims.Options{Logger: zerolog.Nop()})
	l.Restore(f.ledger.State(), f.ledger.Claims())

	if _, err := l.Submit(customer, 2, claims.TypeLoss, evidence, 100, day0); !errors.Is(err, errs.ErrPolicyAlreadyClaimed) {
		t.Errorf("got %v, want ErrPolicyAlreadyClaimed", err)
	}
}
