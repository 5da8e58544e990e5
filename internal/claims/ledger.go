package claims

import (
	"CoverLedger/internal/errs"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// AutoEscalateConfidence is the minimum scorer confidence for an automated
// approval to move a claim into UnderReview.
const AutoEscalateConfidence = 80

// payoutNamespace derives deterministic payout references from claim IDs.
var payoutNamespace = uuid.MustParse("6f1c9c0e-3a52-4d8e-9a57-0c3a0f1f6b21")

// Disburser pays claims out of pool capital. Implemented by
// *pool.CapitalPool.
type Disburser interface {
	Disburse(amount uint64, asset pool.Asset, claimant uuid.UUID, now time.Time) (pool.DisburseResult, error)
}

// Options configures a Ledger.
type Options struct {
	// EnforcePayoutLimits turns the auto-payout ceiling and daily limit
	// into blocking gates. When false they are only logged.
	EnforcePayoutLimits bool
	Logger              zerolog.Logger
}

// Ledger drives claims through their lifecycle and executes payouts
// against the pool. Operations are all-or-nothing: every check and every
// checked total is computed before anything is written.
// Not thread-safe: the engine serializes all calls.
type Ledger struct {
	initialized bool
	state       State
	claims      map[uint64]*Claim

	// livePolicies maps a policy to its non-rejected claim.
	livePolicies map[uint64]uint64

	registry  policy.Registry
	disburser Disburser
	enforce   bool
	logger    zerolog.Logger
}

func NewLedger(registry policy.Registry, disburser Disburser, opts Options) *Ledger {
	return &Ledger{
		claims:       make(map[uint64]*Claim),
		livePolicies: make(map[uint64]uint64),
		registry:     registry,
		disburser:    disburser,
		enforce:      opts.EnforcePayoutLimits,
		logger:       opts.Logger,
	}
}

// PayoutResult is returned by ExecutePayout.
type PayoutResult struct {
	ClaimID       uint64     `json:"claim_id"`
	Amount        uint64     `json:"amount"`
	Asset         pool.Asset `json:"asset"`
	PayoutRef     uuid.UUID  `json:"payout_ref"`
	TotalPaidOut  uint64     `json:"total_paid_out"`
	DailyAutoPaid uint64     `json:"daily_auto_paid"`
	OverMax       bool       `json:"over_max_auto_payout"`
	OverDaily     bool       `json:"over_daily_limit"`
	Overridden    bool       `json:"limit_overridden"`
}

// Initialize sets the authority, the automated assessor and payout limits.
func (l *Ledger) Initialize(authority, assessor uuid.UUID, maxAutoPayout, dailyLimit uint64, now time.Time) error {
	if l.initialized {
		return errs.ErrAlreadyInitialized
	}
	l.state = State{
		Authority:            authority,
		Assessor:             assessor,
		MaxAutoPayout:        maxAutoPayout,
		DailyAutoPayoutLimit: dailyLimit,
		LastResetDay:         DayIndex(now),
	}
	l.initialized = true
	return nil
}

// Submit files a claim against policyID on behalf of the policy owner.
// The payout is the claimed amount less the policy deductible and must not
// exceed the insured value.
func (l *Ledger) Submit(caller uuid.UUID, policyID uint64, claimType Type, digest Digest, claimedAmount uint64, now time.Time) (Claim, error) {
	if !l.initialized {
		return Claim{}, errs.ErrNotInitialized
	}
	if claimedAmount == 0 {
		return Claim{}, errs.ErrInvalidAmount
	}

	p, err := l.registry.Policy(policyID)
	if err != nil {
		return Claim{}, err
	}
	if caller != p.Owner {
		return Claim{}, eris.Wrapf(errs.ErrUnauthorized, "caller is not the owner of policy %d", policyID)
	}
	if p.Status != policy.StatusActive {
		return Claim{}, eris.Wrapf(errs.ErrPolicyNotActive, "policy %d is %s", policyID, p.Status)
	}
	if p.ClaimCount > 0 {
		return Claim{}, eris.Wrapf(errs.ErrPolicyAlreadyClaimed, "policy %d", policyID)
	}
	if existing, ok := l.livePolicies[policyID]; ok {
		return Claim{}, eris.Wrapf(errs.ErrPolicyAlreadyClaimed, "policy %d has open claim %d", policyID, existing)
	}
	if p.CoverageType == policy.CoverageTheftOnly && claimType != TypeTheft {
		return Claim{}, eris.Wrapf(errs.ErrClaimTypeNotCovered, "%s claim on %s policy", claimType, p.CoverageType)
	}

	payout, err := PayoutAmount(claimedAmount, p.DeductibleBps)
	if err != nil {
		return Claim{}, err
	}
	if payout > p.InsuredValue {
		return Claim{}, eris.Wrapf(errs.ErrPayoutExceedsInsuredValue,
			"payout %d, insured value %d", payout, p.InsuredValue)
	}

	id, err := fpmath.Add(l.state.TotalClaims, 1)
	if err != nil {
		return Claim{}, err
	}

	c := &Claim{
		ID:             id,
		PolicyID:       policyID,
		Customer:       caller,
		Type:           claimType,
		Amount:         payout,
		EvidenceDigest: digest,
		SubmittedAt:    now.UTC(),
		Status:         StatusSubmitted,
		Decision:       DecisionPending,
	}
	l.claims[id] = c
	l.livePolicies[policyID] = id
	l.state.TotalClaims = id

	return *c, nil
}

// PayoutAmount applies a deductible: claimed - claimed*bps/10000.
func PayoutAmount(claimed uint64, deductibleBps uint16) (uint64, error) {
	deductible, err := fpmath.ApplyBps(claimed, deductibleBps)
	if err != nil {
		return 0, err
	}
	return fpmath.Sub(claimed, deductible)
}

// AutomatedAssessment records the scorer's verdict on a Submitted claim.
// Approved with confidence >= 80, Rejected and ManualReview escalate to
// UnderReview; a low-confidence approval or Pending leaves the claim
// Submitted so it must be adjudicated manually.
func (l *Ledger) AutomatedAssessment(caller uuid.UUID, claimID uint64, decision Decision, confidence uint8) (Claim, error) {
	if !l.initialized {
		return Claim{}, errs.ErrNotInitialized
	}
	if caller != l.state.Assessor && caller != l.state.Authority {
		return Claim{}, errs.ErrUnauthorized
	}
	if confidence > 100 {
		return Claim{}, eris.Wrapf(errs.ErrInvalidConfidence, "confidence %d", confidence)
	}
	c, err := l.claim(claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusSubmitted {
		return Claim{}, eris.Wrapf(errs.ErrInvalidClaimStatus, "claim %d is %s", claimID, c.Status)
	}

	c.Decision = decision
	c.Confidence = confidence
	switch {
	case decision == DecisionApproved && confidence >= AutoEscalateConfidence,
		decision == DecisionRejected,
		decision == DecisionManualReview:
		c.Status = StatusUnderReview
	}
	return *c, nil
}

// ManualAdjudicate approves or rejects a Submitted or UnderReview claim.
func (l *Ledger) ManualAdjudicate(caller uuid.UUID, claimID uint64, approve bool, now time.Time) (Claim, error) {
	if approve {
		return l.adjudicate(caller, claimID, StatusApproved, "", now)
	}
	return l.adjudicate(caller, claimID, StatusRejected, "", now)
}

// Reject rejects a claim with a human-readable reason.
func (l *Ledger) Reject(caller uuid.UUID, claimID uint64, reason string, now time.Time) (Claim, error) {
	return l.adjudicate(caller, claimID, StatusRejected, reason, now)
}

func (l *Ledger) adjudicate(caller uuid.UUID, claimID uint64, to Status, reason string, now time.Time) (Claim, error) {
	if err := l.authorize(caller); err != nil {
		return Claim{}, err
	}
	c, err := l.claim(claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusSubmitted && c.Status != StatusUnderReview {
		return Claim{}, eris.Wrapf(errs.ErrInvalidClaimStatus, "claim %d is %s", claimID, c.Status)
	}

	rejected := l.state.RejectedClaims
	if to == StatusRejected {
		if rejected, err = fpmath.Add(rejected, 1); err != nil {
			return Claim{}, err
		}
	}

	reviewer := caller
	reviewedAt := now.UTC()
	c.Status = to
	c.Reviewer = &reviewer
	c.ReviewedAt = &reviewedAt
	if to == StatusRejected {
		c.RejectReason = reason
		delete(l.livePolicies, c.PolicyID)
	}
	l.state.RejectedClaims = rejected

	return *c, nil
}

// OverridePayoutLimits lets an Approved claim bypass the payout limit gate.
func (l *Ledger) OverridePayoutLimits(caller uuid.UUID, claimID uint64) (Claim, error) {
	if err := l.authorize(caller); err != nil {
		return Claim{}, err
	}
	c, err := l.claim(claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusApproved {
		return Claim{}, eris.Wrapf(errs.ErrClaimNotApproved, "claim %d is %s", claimID, c.Status)
	}
	c.LimitOverride = true
	return *c, nil
}

// ExecutePayout disburses an Approved claim from the pool in asset and
// marks it Paid. Over-limit payouts are refused while limits are enforced,
// unless the claim carries an override.
func (l *Ledger) ExecutePayout(caller uuid.UUID, claimID uint64, asset pool.Asset, now time.Time) (PayoutResult, error) {
	if err := l.authorize(caller); err != nil {
		return PayoutResult{}, err
	}
	c, err := l.claim(claimID)
	if err != nil {
		return PayoutResult{}, err
	}
	if c.PayoutRef != nil || c.Status == StatusPaid {
		return PayoutResult{}, eris.Wrapf(errs.ErrClaimAlreadyPaid, "claim %d", claimID)
	}
	if c.Status != StatusApproved {
		return PayoutResult{}, eris.Wrapf(errs.ErrClaimNotApproved, "claim %d is %s", claimID, c.Status)
	}
	// MarkClaimed runs after the funds move and may not fail there, so its
	// preconditions are checked now.
	p, err := l.registry.Policy(c.PolicyID)
	if err != nil {
		return PayoutResult{}, err
	}
	if p.ClaimCount == ^uint8(0) {
		return PayoutResult{}, eris.Wrapf(errs.ErrOverflow, "policy %d claim count", c.PolicyID)
	}

	day := DayIndex(now)
	dailyPaid := l.state.DailyAutoPaid
	resetDay := l.state.LastResetDay
	if day > resetDay {
		dailyPaid = 0
		resetDay = day
	}

	nextDaily, err := fpmath.Add(dailyPaid, c.Amount)
	if err != nil {
		return PayoutResult{}, err
	}
	overMax := c.Amount > l.state.MaxAutoPayout
	overDaily := nextDaily > l.state.DailyAutoPayoutLimit

	if overMax || overDaily {
		if l.enforce && !c.LimitOverride {
			return PayoutResult{}, eris.Wrapf(errs.ErrPayoutLimitExceeded,
				"claim %d amount %d (max %d), daily %d (limit %d)",
				claimID, c.Amount, l.state.MaxAutoPayout, nextDaily, l.state.DailyAutoPayoutLimit)
		}
		l.logger.Warn().
			Uint64("claim_id", claimID).
			Uint64("amount", c.Amount).
			Bool("over_max_auto_payout", overMax).
			Bool("over_daily_limit", overDaily).
			Bool("override", c.LimitOverride).
			Msg("payout above auto-payout limits")
	}

	approved, err := fpmath.Add(l.state.ApprovedClaims, 1)
	if err != nil {
		return PayoutResult{}, err
	}
	totalPaid, err := fpmath.Add(l.state.TotalPaidOut, c.Amount)
	if err != nil {
		return PayoutResult{}, err
	}

	if _, err := l.disburser.Disburse(c.Amount, asset, c.Customer, now); err != nil {
		return PayoutResult{}, eris.Wrapf(err, "disburse claim %d", claimID)
	}

	// Funds have moved; nothing below may fail.
	ref := PayoutRef(claimID)
	paidAt := now.UTC()
	c.Status = StatusPaid
	c.PayoutRef = &ref
	c.PayoutAsset = asset
	c.PaidAt = &paidAt

	l.state.ApprovedClaims = approved
	l.state.TotalPaidOut = totalPaid
	l.state.DailyAutoPaid = nextDaily
	l.state.LastResetDay = resetDay

	if err := l.registry.MarkClaimed(c.PolicyID); err != nil {
		panic(fmt.Sprintf("FATAL: mark policy %d claimed after payout: %v", c.PolicyID, err))
	}

	return PayoutResult{
		ClaimID:       claimID,
		Amount:        c.Amount,
		Asset:         asset,
		PayoutRef:     ref,
		TotalPaidOut:  totalPaid,
		DailyAutoPaid: nextDaily,
		OverMax:       overMax,
		OverDaily:     overDaily,
		Overridden:    c.LimitOverride && (overMax || overDaily),
	}, nil
}

// PayoutRef is the deterministic payout reference for a claim.
func PayoutRef(claimID uint64) uuid.UUID {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], claimID)
	return uuid.NewSHA1(payoutNamespace, b[:])
}

// UpdatePayoutLimits replaces the auto-payout ceiling and the daily limit.
func (l *Ledger) UpdatePayoutLimits(caller uuid.UUID, maxAutoPayout, dailyLimit uint64) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	l.state.MaxAutoPayout = maxAutoPayout
	l.state.DailyAutoPayoutLimit = dailyLimit
	return nil
}

func (l *Ledger) authorize(caller uuid.UUID) error {
	if !l.initialized {
		return errs.ErrNotInitialized
	}
	if caller != l.state.Authority {
		return errs.ErrUnauthorized
	}
	return nil
}

func (l *Ledger) claim(id uint64) (*Claim, error) {
	c, ok := l.claims[id]
	if !ok {
		return nil, eris.Wrapf(errs.ErrClaimNotFound, "claim %d", id)
	}
	return c, nil
}

// === Queries ===

func (l *Ledger) Initialized() bool {
	return l.initialized
}

func (l *Ledger) State() State {
	return l.state
}

// Claim returns a copy of the claim.
func (l *Ledger) Claim(id uint64) (Claim, error) {
	c, err := l.claim(id)
	if err != nil {
		return Claim{}, err
	}
	return *c, nil
}

// Claims returns copies of all claims ordered by ID.
func (l *Ledger) Claims() []Claim {
	out := make([]Claim, 0, len(l.claims))
	for _, c := range l.claims {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountByStatus tallies claims per status.
func (l *Ledger) CountByStatus() map[Status]int {
	out := make(map[Status]int)
	for _, c := range l.claims {
		out[c.Status]++
	}
	return out
}

// Restore replaces all claims data (checkpoint recovery).
func (l *Ledger) Restore(state State, claims []Claim) {
	l.state = state
	l.initialized = true
	l.claims = make(map[uint64]*Claim, len(claims))
	l.livePolicies = make(map[uint64]uint64)
	for i := range claims {
		c := claims[i]
		l.claims[c.ID] = &c
		if c.Status != StatusRejected {
			l.livePolicies[c.PolicyID] = c.ID
		}
	}
}
