package core_test

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/core"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

var (
	authority     = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	policyManager = uuid.MustParse("00000000-0000-0000-0000-00000000a002")
	assessor      = uuid.MustParse("00000000-0000-0000-0000-00000000a003")
	customer      = uuid.MustParse("00000000-0000-0000-0000-0000000c0001")
	provider      = uuid.MustParse("00000000-0000-0000-0000-0000000011a1")
	baseTime      = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type harness struct {
	t       *testing.T
	engine  *core.Engine
	persist chan core.Output
	publish chan core.Output
	n       int
}

// newHarness creates an Engine with buffered channels and no DB checker.
func newHarness(t *testing.T, enforce bool) *harness {
	t.Helper()
	persist := make(chan core.Output, 1024)
	publish := make(chan core.Output, 1024)
	e, err := core.NewEngine(core.Options{
		IdempotencyCacheSize: 128,
		EnforcePayoutLimits:  enforce,
		Metrics:              observability.NewMetrics(prometheus.NewRegistry()),
		Logger:               zerolog.Nop(),
		PersistChan:          persist,
		PublishChan:          publish,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &harness{t: t, engine: e, persist: persist, publish: publish}
}

// meta returns a fresh request id and a timestamp one second after the last.
func (h *harness) meta(caller uuid.UUID) event.Meta {
	h.n++
	return event.Meta{
		RequestID: fmt.Sprintf("req-%d", h.n),
		Caller:    caller,
		Time:      baseTime.Add(time.Duration(h.n) * time.Second),
	}
}

func (h *harness) mustApply(cmd event.Command) core.Receipt {
	h.t.Helper()
	r, err := h.engine.Apply(cmd)
	if err != nil {
		h.t.Fatalf("Apply(%s): %v", cmd.CommandType(), err)
	}
	return r
}

// bootstrap initializes both subsystems, funds the pool and syncs one
// theft-and-loss policy owned by customer.
func (h *harness) bootstrap() {
	h.t.Helper()
	h.mustApply(&event.InitializePool{Meta: h.meta(authority), PolicyManager: policyManager, LPFeeBps: 1000})
	h.mustApply(&event.InitializeClaims{Meta: h.meta(authority), Assessor: assessor, MaxAutoPayout: 5000, DailyLimit: 20000})
	h.mustApply(&event.Deposit{Meta: h.meta(provider), Amount: 100_000, Asset: pool.AssetA})
	h.mustApply(&event.RecordPremium{Meta: h.meta(policyManager), Amount: 10_000})
	h.mustApply(&event.SyncPolicy{Meta: h.meta(policyManager), Policy: policy.Policy{
		ID:            1,
		Owner:         customer,
		CoverageType:  policy.CoverageTheftAndLoss,
		InsuredValue:  8000,
		DeductibleBps: 500,
		Status:        policy.StatusActive,
	}})
}

// ============================================================================
// Test: Full claim lifecycle through the engine
// ============================================================================

func TestEngine_ClaimLifecycle(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()

	r := h.mustApply(&event.SubmitClaim{Meta: h.meta(customer), PolicyID: 1, ClaimType: claims.TypeLoss, ClaimedAmount: 4000})
	var submitted struct {
		Claim claims.Claim `json:"claim"`
	}
	if err := json.Unmarshal(r.Envelope.Result, &submitted); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if submitted.Claim.Amount != 3800 {
		t.Errorf("payout: got %d, want 3800", submitted.Claim.Amount)
	}
	claimID := submitted.Claim.ID

	h.mustApply(&event.AutomatedAssessment{Meta: h.meta(assessor), ClaimID: claimID, Decision: claims.DecisionApproved, Confidence: 92})
	h.mustApply(&event.ManualAdjudicate{Meta: h.meta(authority), ClaimID: claimID, Approve: true})
	h.mustApply(&event.ExecutePayout{Meta: h.meta(authority), ClaimID: claimID, Asset: pool.AssetA})

	c, err := h.engine.Claim(claimID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != claims.StatusPaid {
		t.Errorf("status: got %s, want Paid", c.Status)
	}

	s, _ := h.engine.PoolState()
	if s.CapitalA != 96_200 || s.ClaimsPaid != 3800 {
		t.Errorf("pool: got capital=%d claims=%d", s.CapitalA, s.ClaimsPaid)
	}
	p, _ := h.engine.Policy(1)
	if p.Status != policy.StatusClaimed {
		t.Errorf("policy status: got %s, want Claimed", p.Status)
	}
}

// ============================================================================
// Test: Envelope chain and outputs
// ============================================================================

func TestEngine_EnvelopesAreHashChained(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()

	var prev *event.Envelope
	for i := 0; i < 5; i++ {
		out := <-h.persist
		env := out.Envelope
		if env.Sequence != int64(i) {
			t.Fatalf("sequence: got %d, want %d", env.Sequence, i)
		}
		if prev != nil && env.PrevHash != prev.StateHash {
			t.Errorf("envelope %d does not chain to %d", env.Sequence, prev.Sequence)
		}
		prev = env
	}
	if h.engine.GetStateHash() != prev.StateHash {
		t.Error("chain tip should equal the last envelope hash")
	}
	if len(h.publish) != 5 {
		t.Errorf("publish channel: got %d outputs, want 5", len(h.publish))
	}
}

func TestEngine_DepositJournaled(t *testing.T) {
	h := newHarness(t, true)
	h.mustApply(&event.InitializePool{Meta: h.meta(authority), PolicyManager: policyManager})
	<-h.persist

	h.mustApply(&event.Deposit{Meta: h.meta(provider), Amount: 500, Asset: pool.AssetB})
	out := <-h.persist
	if len(out.Batches) != 1 || len(out.Batches[0].Journals) != 1 {
		t.Fatalf("got %d batches, want 1 with 1 journal", len(out.Batches))
	}
	if out.Batches[0].Sequence != out.Envelope.Sequence {
		t.Error("batch sequence should match envelope sequence")
	}
}

func TestEngine_Deterministic(t *testing.T) {
	run := func() [32]byte {
		h := newHarness(t, true)
		h.bootstrap()
		h.mustApply(&event.Withdraw{Meta: h.meta(provider), Shares: 1000, Asset: pool.AssetA})
		return h.engine.GetStateHash()
	}
	if run() != run() {
		t.Error("identical command streams must produce identical state hashes")
	}
}

// ============================================================================
// Test: Idempotency and rejection
// ============================================================================

func TestEngine_DuplicateIsSkipped(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()

	dep := &event.Deposit{Meta: h.meta(provider), Amount: 1000, Asset: pool.AssetA}
	h.mustApply(dep)
	seq := h.engine.GetSequence()

	r := h.mustApply(dep)
	if !r.Duplicate {
		t.Error("second apply should be reported as duplicate")
	}
	if h.engine.GetSequence() != seq {
		t.Error("duplicate must not consume a sequence")
	}
	s, _ := h.engine.PoolState()
	if s.CapitalA != 101_000 {
		t.Errorf("capital: got %d, want 101000", s.CapitalA)
	}
}

func TestEngine_RejectedCommandLeavesNoTrace(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()
	seq := h.engine.GetSequence()
	hash := h.engine.GetStateHash()

	_, err := h.engine.Apply(&event.Withdraw{Meta: h.meta(customer), Shares: 1, Asset: pool.AssetA})
	if !errors.Is(err, errs.ErrInsufficientLPTokens) {
		t.Fatalf("got %v, want ErrInsufficientLPTokens", err)
	}
	if h.engine.GetSequence() != seq || h.engine.GetStateHash() != hash {
		t.Error("rejected command must not advance the chain")
	}

	// A rejected request id can be retried once the cause is fixed.
	cmd := &event.SyncPolicy{Meta: h.meta(customer), Policy: policy.Policy{ID: 2, Owner: customer}}
	if _, err := h.engine.Apply(cmd); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	cmd.Caller = policyManager
	h.mustApply(cmd)
}

func TestEngine_MissingRequestID(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.engine.Apply(&event.InitializePool{Meta: event.Meta{Caller: authority, Time: baseTime}})
	if !errors.Is(err, errs.ErrInvalidCommand) {
		t.Errorf("got %v, want ErrInvalidCommand", err)
	}
}

func TestEngine_PayoutLimitBlocksUntilOverride(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()
	h.mustApply(&event.UpdatePayoutLimits{Meta: h.meta(authority), MaxAutoPayout: 1000, DailyLimit: 20000})

	h.mustApply(&event.SubmitClaim{Meta: h.meta(customer), PolicyID: 1, ClaimType: claims.TypeTheft, ClaimedAmount: 2000})
	h.mustApply(&event.ManualAdjudicate{Meta: h.meta(authority), ClaimID: 1, Approve: true})

	_, err := h.engine.Apply(&event.ExecutePayout{Meta: h.meta(authority), ClaimID: 1, Asset: pool.AssetA})
	if !errors.Is(err, errs.ErrPayoutLimitExceeded) {
		t.Fatalf("got %v, want ErrPayoutLimitExceeded", err)
	}

	h.mustApply(&event.OverridePayoutLimits{Meta: h.meta(authority), ClaimID: 1})
	h.mustApply(&event.ExecutePayout{Meta: h.meta(authority), ClaimID: 1, Asset: pool.AssetA})

	cs, _ := h.engine.ClaimsState()
	if cs.TotalPaidOut != 1900 {
		t.Errorf("total paid out: got %d, want 1900", cs.TotalPaidOut)
	}
}

// ============================================================================
// Test: Ledger range boundaries
// ============================================================================

// initUnlimited initializes both subsystems with payout limits that never bind.
func (h *harness) initUnlimited() {
	h.t.Helper()
	h.mustApply(&event.InitializePool{Meta: h.meta(authority), PolicyManager: policyManager})
	h.mustApply(&event.InitializeClaims{Meta: h.meta(authority), Assessor: assessor,
		MaxAutoPayout: math.MaxUint64, DailyLimit: math.MaxUint64})
}

// mustOverflow applies cmd, expects ErrOverflow, and checks that the pool,
// the chain and the sequence did not move.
func (h *harness) mustOverflow(cmd event.Command) {
	h.t.Helper()
	seq := h.engine.GetSequence()
	hash := h.engine.GetStateHash()
	before, _ := h.engine.PoolState()

	_, err := h.engine.Apply(cmd)
	if !errors.Is(err, errs.ErrOverflow) {
		h.t.Fatalf("Apply(%s): got %v, want ErrOverflow", cmd.CommandType(), err)
	}
	if after, _ := h.engine.PoolState(); after != before {
		h.t.Errorf("pool changed: got %+v, want %+v", after, before)
	}
	if h.engine.GetSequence() != seq || h.engine.GetStateHash() != hash {
		h.t.Error("rejected command advanced the chain")
	}
}

// drain returns the outputs emitted so far.
func (h *harness) drain() []core.Output {
	var outs []core.Output
	for len(h.persist) > 0 {
		outs = append(outs, <-h.persist)
	}
	return outs
}

func TestEngine_DepositBeyondLedgerRange(t *testing.T) {
	h := newHarness(t, true)
	h.initUnlimited()

	h.mustApply(&event.Deposit{Meta: h.meta(provider), Amount: 5e18, Asset: pool.AssetA})
	h.mustOverflow(&event.Deposit{Meta: h.meta(provider), Amount: 5e18, Asset: pool.AssetA})
	h.mustOverflow(&event.Deposit{Meta: h.meta(provider), Amount: 1 << 63, Asset: pool.AssetB})

	s, _ := h.engine.PoolState()
	if s.CapitalA != 5e18 || s.CapitalB != 0 || s.TotalShares != 5e18 {
		t.Errorf("pool: got capitalA=%d capitalB=%d shares=%d", s.CapitalA, s.CapitalB, s.TotalShares)
	}
	pos, _ := h.engine.Position(provider)
	if pos.Shares != 5e18 || pos.DepositedA != 5e18 || pos.DepositedB != 0 {
		t.Errorf("position: got %+v", pos)
	}

	// The engine keeps serving after a refused movement.
	h.mustApply(&event.RecordPremium{Meta: h.meta(policyManager), Amount: 10})
	h.mustApply(&event.Deposit{Meta: h.meta(provider), Amount: math.MaxInt64 - 5e18, Asset: pool.AssetA})
	s, _ = h.engine.PoolState()
	if s.CapitalA != math.MaxInt64 || s.PremiumsCollected != 10 {
		t.Errorf("pool: got capital=%d premiums=%d", s.CapitalA, s.PremiumsCollected)
	}
}

func TestEngine_PremiumBeyondLedgerRange(t *testing.T) {
	h := newHarness(t, true)
	h.initUnlimited()

	h.mustOverflow(&event.RecordPremium{Meta: h.meta(policyManager), Amount: 1 << 63})
	h.mustApply(&event.RecordPremium{Meta: h.meta(policyManager), Amount: math.MaxInt64})
	h.mustOverflow(&event.RecordPremium{Meta: h.meta(policyManager), Amount: 1})

	s, _ := h.engine.PoolState()
	if s.PremiumsCollected != math.MaxInt64 {
		t.Errorf("premiums: got %d, want %d", s.PremiumsCollected, uint64(math.MaxInt64))
	}
}

func TestEngine_InterestBeyondLedgerRange(t *testing.T) {
	h := newHarness(t, true)
	h.initUnlimited()

	h.mustOverflow(&event.RecordInterestSnapshot{Meta: h.meta(authority), Epoch: 1, RateBps: 100, Accrued: 1 << 63})
	if n := len(h.engine.InterestSnapshots()); n != 0 {
		t.Fatalf("snapshots: got %d, want 0", n)
	}

	h.mustApply(&event.RecordInterestSnapshot{Meta: h.meta(authority), Epoch: 1, RateBps: 100, Accrued: math.MaxInt64})
	h.mustOverflow(&event.RecordInterestSnapshot{Meta: h.meta(authority), Epoch: 2, RateBps: 100, Accrued: 1})

	snaps := h.engine.InterestSnapshots()
	if len(snaps) != 1 || snaps[0].Epoch != 1 {
		t.Errorf("snapshots: got %+v, want only epoch 1", snaps)
	}
}

func TestEngine_InterestEpochRange(t *testing.T) {
	h := newHarness(t, true)
	h.initUnlimited()
	h.drain()

	h.mustOverflow(&event.RecordInterestSnapshot{Meta: h.meta(authority), Epoch: 1 << 63, RateBps: 100, Accrued: 5})
	if n := len(h.engine.InterestSnapshots()); n != 0 {
		t.Fatalf("snapshots: got %d, want 0", n)
	}

	h.mustApply(&event.RecordInterestSnapshot{Meta: h.meta(authority), Epoch: math.MaxInt64, RateBps: 100, Accrued: 5})
	outs := h.drain()
	if len(outs) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(outs))
	}
	rows, err := persistence.RowsFromOutput(outs[0])
	if err != nil {
		t.Fatalf("RowsFromOutput: %v", err)
	}
	if len(rows.Snapshots) != 1 || rows.Snapshots[0].Epoch != math.MaxInt64 {
		t.Errorf("snapshot rows: got %+v", rows.Snapshots)
	}
}

func TestEngine_PayoutAtLedgerCeiling(t *testing.T) {
	h := newHarness(t, true)
	h.initUnlimited()

	h.mustApply(&event.Deposit{Meta: h.meta(provider), Amount: math.MaxInt64, Asset: pool.AssetA})
	h.mustApply(&event.Deposit{Meta: h.meta(provider), Amount: 100, Asset: pool.AssetB})
	h.mustApply(&event.RecordPremium{Meta: h.meta(policyManager), Amount: math.MaxInt64})
	h.mustApply(&event.SyncPolicy{Meta: h.meta(policyManager), Policy: policy.Policy{
		ID:           1,
		Owner:        customer,
		CoverageType: policy.CoverageTheftAndLoss,
		InsuredValue: math.MaxUint64,
		Status:       policy.StatusActive,
	}})

	h.mustApply(&event.SubmitClaim{Meta: h.meta(customer), PolicyID: 1, ClaimType: claims.TypeLoss, ClaimedAmount: math.MaxInt64})
	h.mustApply(&event.AutomatedAssessment{Meta: h.meta(assessor), ClaimID: 1, Decision: claims.DecisionApproved, Confidence: 90})
	h.mustApply(&event.ManualAdjudicate{Meta: h.meta(authority), ClaimID: 1, Approve: true})
	h.mustApply(&event.ExecutePayout{Meta: h.meta(authority), ClaimID: 1, Asset: pool.AssetA})

	s, _ := h.engine.PoolState()
	if s.CapitalA != 0 || s.CapitalB != 100 || s.ClaimsPaid != math.MaxInt64 {
		t.Errorf("pool: got capitalA=%d capitalB=%d claims=%d", s.CapitalA, s.CapitalB, s.ClaimsPaid)
	}

	// Cumulative claims paid is journaled across assets, so any further
	// payout leaves the ledger range.
	h.mustApply(&event.SyncPolicy{Meta: h.meta(policyManager), Policy: policy.Policy{
		ID:           2,
		Owner:        customer,
		CoverageType: policy.CoverageTheftAndLoss,
		InsuredValue: 100,
		Status:       policy.StatusActive,
	}})
	h.mustApply(&event.SubmitClaim{Meta: h.meta(customer), PolicyID: 2, ClaimType: claims.TypeTheft, ClaimedAmount: 10})
	h.mustApply(&event.ManualAdjudicate{Meta: h.meta(authority), ClaimID: 2, Approve: true})
	h.mustOverflow(&event.ExecutePayout{Meta: h.meta(authority), ClaimID: 2, Asset: pool.AssetB})

	c, err := h.engine.Claim(2)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != claims.StatusApproved || c.PayoutRef != nil {
		t.Errorf("claim: got status=%s ref=%v, want Approved without ref", c.Status, c.PayoutRef)
	}
	cs, _ := h.engine.ClaimsState()
	if cs.TotalPaidOut != math.MaxInt64 {
		t.Errorf("total paid out: got %d, want %d", cs.TotalPaidOut, uint64(math.MaxInt64))
	}
	if p, _ := h.engine.Policy(2); p.Status != policy.StatusActive {
		t.Errorf("policy 2: got %s, want Active", p.Status)
	}
}

// ============================================================================
// Test: Checkpoint restore
// ============================================================================

func TestEngine_CheckpointRestore(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()
	h.mustApply(&event.RecordInterestSnapshot{Meta: h.meta(authority), Epoch: 1, RateBps: 300, Accrued: 250})
	h.mustApply(&event.SubmitClaim{Meta: h.meta(customer), PolicyID: 1, ClaimType: claims.TypeTheft, ClaimedAmount: 100})

	cp := h.engine.CreateCheckpoint()

	raw, err := json.Marshal(cp)
	if err != nil {
		t.Fatal(err)
	}
	var decoded core.Checkpoint
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	restored := newHarness(t, true)
	restored.engine.RestoreCheckpoint(&decoded)

	if restored.engine.GetSequence() != h.engine.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.engine.GetSequence(), h.engine.GetSequence())
	}
	if restored.engine.GetStateHash() != h.engine.GetStateHash() {
		t.Error("state hash not restored")
	}
	a, _ := restored.engine.PoolState()
	b, _ := h.engine.PoolState()
	if a != b {
		t.Errorf("pool state: got %+v, want %+v", a, b)
	}

	// Restored state keeps enforcing invariants and dedup.
	restored.n = h.n
	_, err = restored.engine.Apply(&event.RecordInterestSnapshot{Meta: restored.meta(authority), Epoch: 1, Accrued: 1})
	if !errors.Is(err, errs.ErrDuplicateSnapshot) {
		t.Errorf("got %v, want ErrDuplicateSnapshot", err)
	}
	r := restored.mustApply(&event.Deposit{Meta: event.Meta{RequestID: "req-3", Caller: provider, Time: baseTime}, Amount: 1, Asset: pool.AssetA})
	if !r.Duplicate {
		t.Error("restored LRU should recognise an earlier request id")
	}
	restored.mustApply(&event.Deposit{Meta: restored.meta(provider), Amount: 10, Asset: pool.AssetB})
}

// ============================================================================
// Test: Replay
// ============================================================================

func TestEngine_ReplayReproducesChain(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()
	h.mustApply(&event.SubmitClaim{Meta: h.meta(customer), PolicyID: 1, ClaimType: claims.TypeTheft, ClaimedAmount: 500})
	close(h.persist)

	replica := newHarness(t, true)
	for out := range h.persist {
		if err := replica.engine.Replay(out.Envelope); err != nil {
			t.Fatalf("Replay(%d): %v", out.Envelope.Sequence, err)
		}
	}
	if replica.engine.GetStateHash() != h.engine.GetStateHash() {
		t.Error("replayed state hash differs")
	}
	if len(replica.persist) != 0 || len(replica.publish) != 0 {
		t.Error("replay must not emit outputs")
	}
}

func TestEngine_ReplayRejectsGap(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap()
	<-h.persist
	second := <-h.persist

	replica := newHarness(t, true)
	if err := replica.engine.Replay(second.Envelope); err == nil {
		t.Error("expected gap error when replaying sequence 1 first")
	}
}
