package core

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Engine is the deterministic command processor. It owns the capital pool,
// the claims ledger and the policy replica, and applies one command at a
// time under a single lock. The core never reads the wall clock: every
// timestamp comes from the command.
type Engine struct {
	mu sync.Mutex

	sequence    int64
	hasher      *StateHasher
	tracker     *ledger.BalanceTracker
	journalGen  *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	pool        *pool.CapitalPool
	claims      *claims.Ledger
	registry    *policy.MemoryRegistry
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- Output
	publishChan chan<- Output

	// src and staged belong to the command being applied: the pool's flow
	// guard journals each movement into staged before the pool commits.
	src    ledger.Source
	staged []*ledger.Batch
}

// Output is what the core hands to the persistence and publish workers.
type Output struct {
	Envelope *event.Envelope
	Batches  []*ledger.Batch
}

// Receipt describes the outcome of Apply.
type Receipt struct {
	Sequence  int64           `json:"sequence"`
	Duplicate bool            `json:"duplicate"`
	Envelope  *event.Envelope `json:"envelope,omitempty"`
}

type Options struct {
	StartSequence        int64
	IdempotencyCacheSize int
	EnforcePayoutLimits  bool
	DBChecker            DBIdempotencyChecker
	Metrics              *observability.Metrics
	Logger               zerolog.Logger

	// PersistChan receives every output with a blocking send.
	PersistChan chan<- Output
	// PublishChan receives outputs with a non-blocking send; full means drop.
	PublishChan chan<- Output
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.IdempotencyCacheSize <= 0 {
		opts.IdempotencyCacheSize = 1_000_000
	}
	idem, err := NewIdempotencyChecker(opts.IdempotencyCacheSize, opts.DBChecker, opts.Metrics, opts.Logger)
	if err != nil {
		return nil, eris.Wrap(err, "idempotency cache")
	}

	tracker := ledger.NewBalanceTracker()
	registry := policy.NewMemoryRegistry()
	capitalPool := pool.NewCapitalPool()

	e := &Engine{
		sequence:    opts.StartSequence,
		hasher:      NewStateHasher(),
		tracker:     tracker,
		journalGen:  ledger.NewJournalGenerator(),
		validator:   ledger.NewInvariantValidator(tracker),
		pool:        capitalPool,
		claims: claims.NewLedger(registry, capitalPool, claims.Options{
			EnforcePayoutLimits: opts.EnforcePayoutLimits,
			Logger:              opts.Logger.With().Str("subsystem", "claims").Logger(),
		}),
		registry:    registry,
		idempotency: idem,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		persistChan: opts.PersistChan,
		publishChan: opts.PublishChan,
	}
	capitalPool.SetFlowGuard(e.stageFlow)
	return e, nil
}

// outcome is what a handler produces: the result recorded in the audit
// envelope. Journal batches are staged by stageFlow.
type outcome struct {
	result any
}

// Apply is the main processing pipeline. A rejected command leaves every
// record untouched and produces no envelope.
func (e *Engine) Apply(cmd event.Command) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(cmd, true)
}

// Replay re-applies a persisted envelope during recovery. Nothing is
// emitted, and the recomputed sequence and state hash must match the
// recorded ones.
func (e *Engine) Replay(env *event.Envelope) error {
	cmd, err := env.Replay()
	if err != nil {
		return eris.Wrapf(err, "replay sequence %d", env.Sequence)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return eris.Errorf("replay gap: expected sequence %d, got %d", e.sequence, env.Sequence)
	}
	r, err := e.apply(cmd, false)
	if err != nil {
		return eris.Wrapf(err, "replay sequence %d", env.Sequence)
	}
	if r.Duplicate {
		return eris.Errorf("replay sequence %d: command already applied", env.Sequence)
	}
	if r.Envelope.StateHash != env.StateHash {
		return eris.Errorf("replay diverged at sequence %d: state hash %s, recorded %s",
			env.Sequence, r.Envelope.StateHash, env.StateHash)
	}
	return nil
}

func (e *Engine) apply(cmd event.Command, emit bool) (Receipt, error) {
	start := time.Now()
	op := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	if key == "" {
		return Receipt{}, eris.Wrap(errs.ErrInvalidCommand, "missing request id")
	}

	// Step 1: Idempotency check (two-tier)
	if e.idempotency.IsDuplicate(op, key) {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(op, "duplicate").Inc()
		}
		return Receipt{Sequence: e.sequence, Duplicate: true}, nil
	}

	// Step 2: Dispatch. Value movements are journaled and range-checked
	// inside the pool commit, so a movement the ledger cannot hold fails
	// here with nothing changed.
	e.src = source(cmd, e.sequence)
	e.staged = nil
	out, err := e.dispatch(cmd)
	batches := e.staged
	e.staged = nil
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(op, errs.KindOf(err).String()).Inc()
		}
		e.logger.Debug().Err(err).Str("operation", op).Str("key", key).Msg("command rejected")
		return Receipt{}, err
	}

	// Step 3: Journal the value movements
	for _, batch := range batches {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.tracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
		if e.metrics != nil {
			for _, j := range batch.Journals {
				e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 4: Post-checks
	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: Envelope + hash chain
	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode command %s: %v", op, err))
	}
	result, err := json.Marshal(out.result)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode result %s: %v", op, err))
	}

	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, e.computeStateDigest(op, payload, result))

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: key,
		CommandType:    cmd.CommandType(),
		Caller:         cmd.CallerID(),
		Timestamp:      cmd.OccurredAt().UTC(),
		Payload:        payload,
		Result:         result,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	// Step 6: Emit. Persistence is a blocking send so nothing is lost;
	// publishing drops when the channel is full.
	output := Output{Envelope: envelope, Batches: batches}
	if emit && e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}
	if emit && e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	// Step 7: Mark as processed
	e.idempotency.MarkProcessed(op, key)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(op).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.observeState()
	}

	return Receipt{Sequence: envelope.Sequence, Envelope: envelope}, nil
}

// computeStateDigest creates canonical bytes for the state hash: the
// operation, its inputs and result, and both singleton states.
func (e *Engine) computeStateDigest(op string, payload, result []byte) []byte {
	poolState, _ := json.Marshal(e.pool.State())
	claimsState, _ := json.Marshal(e.claims.State())

	digest := make([]byte, 0, len(op)+len(payload)+len(result)+len(poolState)+len(claimsState)+5)
	for _, part := range [][]byte{[]byte(op), payload, result, poolState, claimsState} {
		digest = append(digest, part...)
		digest = append(digest, 0)
	}
	return digest
}

// postCheckInvariants validates the journal against the pool after every
// applied command.
func (e *Engine) postCheckInvariants() error {
	if !e.pool.Initialized() {
		return nil
	}
	state := e.pool.State()
	if _, err := state.PoolValue(); err != nil {
		return eris.Wrap(err, "pool value")
	}
	if err := e.validator.ValidatePoolState(state); err != nil {
		return err
	}
	return e.validator.ValidateGlobalBalance()
}

func (e *Engine) observeState() {
	s := e.pool.State()
	e.metrics.PoolCapital.WithLabelValues(pool.AssetA.String()).Set(float64(s.CapitalA))
	e.metrics.PoolCapital.WithLabelValues(pool.AssetB.String()).Set(float64(s.CapitalB))
	if v, err := s.PoolValue(); err == nil {
		e.metrics.PoolValue.Set(float64(v))
	}
	e.metrics.PoolTotalShares.Set(float64(s.TotalShares))
	e.metrics.PoolCoverageRatioBps.Set(float64(s.CoverageRatioBps))
	e.metrics.ClaimsDailyAutoPaid.Set(float64(e.claims.State().DailyAutoPaid))
	e.metrics.DedupLRUSize.Set(float64(e.idempotency.Len()))
}

func source(cmd event.Command, seq int64) ledger.Source {
	return ledger.Source{
		EventRef:  cmd.IdempotencyKey(),
		Sequence:  seq,
		Timestamp: cmd.OccurredAt().UnixMicro(),
	}
}

// stageFlow is the pool's flow guard. It journals the movement and refuses
// it when a batch cannot be generated or would push a tracked balance out
// of range.
func (e *Engine) stageFlow(f pool.Flow) error {
	var (
		b   *ledger.Batch
		err error
	)
	switch f.Kind {
	case pool.FlowDeposit:
		b, err = e.journalGen.GenerateDeposit(e.src, f.Asset, f.Amount)
	case pool.FlowWithdrawal:
		b, err = e.journalGen.GenerateWithdrawal(e.src, f.Asset, f.Amount, f.Fee)
	case pool.FlowPremium:
		b, err = e.journalGen.GeneratePremium(e.src, f.Amount)
	case pool.FlowInterest:
		b, err = e.journalGen.GenerateInterest(e.src, f.Amount)
	case pool.FlowDisbursement:
		b, err = e.journalGen.GenerateDisbursement(e.src, f.Asset, f.Amount)
	case pool.FlowReward:
		b, err = e.journalGen.GenerateRewardAccrual(e.src, f.Owner, f.Amount)
	default:
		return eris.Errorf("unknown flow kind %d", f.Kind)
	}
	if err != nil || b == nil {
		return err
	}
	if err := e.tracker.CheckBatches(append(e.staged, b)...); err != nil {
		return err
	}
	e.staged = append(e.staged, b)
	return nil
}

func (e *Engine) dispatch(cmd event.Command) (outcome, error) {
	switch c := cmd.(type) {
	case *event.InitializePool:
		return e.handleInitializePool(c)
	case *event.Deposit:
		return e.handleDeposit(c)
	case *event.Withdraw:
		return e.handleWithdraw(c)
	case *event.RecordPremium:
		return e.handleRecordPremium(c)
	case *event.RecordInterestSnapshot:
		return e.handleRecordInterestSnapshot(c)
	case *event.UpdateSCR:
		return e.handleUpdateSCR(c)
	case *event.DistributeRewards:
		return e.handleDistributeRewards(c)
	case *event.SyncPolicy:
		return e.handleSyncPolicy(c)
	case *event.InitializeClaims:
		return e.handleInitializeClaims(c)
	case *event.SubmitClaim:
		return e.handleSubmitClaim(c)
	case *event.AutomatedAssessment:
		return e.handleAutomatedAssessment(c)
	case *event.ManualAdjudicate:
		return e.handleManualAdjudicate(c)
	case *event.RejectClaim:
		return e.handleRejectClaim(c)
	case *event.ExecutePayout:
		return e.handleExecutePayout(c)
	case *event.UpdatePayoutLimits:
		return e.handleUpdatePayoutLimits(c)
	case *event.OverridePayoutLimits:
		return e.handleOverridePayoutLimits(c)
	default:
		return outcome{}, eris.Errorf("unknown command type: %T", cmd)
	}
}

// --- Pool handlers ---

func (e *Engine) handleInitializePool(c *event.InitializePool) (outcome, error) {
	if err := e.pool.Initialize(c.Caller, c.PolicyManager, c.LPFeeBps, c.Time); err != nil {
		return outcome{}, err
	}
	return outcome{result: e.pool.State()}, nil
}

func (e *Engine) handleDeposit(c *event.Deposit) (outcome, error) {
	res, err := e.pool.Deposit(c.Caller, c.Amount, c.Asset, c.Time)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: res}, nil
}

func (e *Engine) handleWithdraw(c *event.Withdraw) (outcome, error) {
	res, err := e.pool.Withdraw(c.Caller, c.Shares, c.Asset, c.Time)
	if err != nil {
		return outcome{}, err
	}
	if e.metrics != nil {
		e.metrics.WithdrawalFees.WithLabelValues(c.Asset.String()).Add(float64(res.Fee))
	}
	return outcome{result: res}, nil
}

func (e *Engine) handleRecordPremium(c *event.RecordPremium) (outcome, error) {
	total, err := e.pool.RecordPremium(c.Caller, c.Amount)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: map[string]any{
		"amount":             c.Amount,
		"premiums_collected": total,
		"coverage_ratio_bps": e.pool.State().CoverageRatioBps,
	}}, nil
}

func (e *Engine) handleRecordInterestSnapshot(c *event.RecordInterestSnapshot) (outcome, error) {
	snap, err := e.pool.RecordInterestSnapshot(c.Caller, c.Epoch, c.RateBps, c.Accrued, c.Time)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: map[string]any{
		"snapshot":        snap,
		"interest_earned": e.pool.State().InterestEarned,
	}}, nil
}

func (e *Engine) handleUpdateSCR(c *event.UpdateSCR) (outcome, error) {
	ratio, err := e.pool.UpdateSCR(c.Caller, c.Value)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: map[string]any{
		"statutory_capital_required": c.Value,
		"coverage_ratio_bps":         ratio,
	}}, nil
}

func (e *Engine) handleDistributeRewards(c *event.DistributeRewards) (outcome, error) {
	res, err := e.pool.DistributeRewards(c.Caller, c.Owner)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: res}, nil
}

func (e *Engine) handleSyncPolicy(c *event.SyncPolicy) (outcome, error) {
	if !e.pool.Initialized() {
		return outcome{}, errs.ErrNotInitialized
	}
	if c.Caller != e.pool.State().PolicyManager {
		return outcome{}, errs.ErrUnauthorized
	}
	if c.Policy.ClaimCount > 1 {
		return outcome{}, eris.Wrapf(errs.ErrInvalidCommand, "claim_count %d", c.Policy.ClaimCount)
	}
	e.registry.Upsert(c.Policy)
	return outcome{result: map[string]any{
		"policy":          c.Policy,
		"active_coverage": e.registry.ActiveCoverage(),
	}}, nil
}

// --- Claims handlers ---

func (e *Engine) handleInitializeClaims(c *event.InitializeClaims) (outcome, error) {
	if err := e.claims.Initialize(c.Caller, c.Assessor, c.MaxAutoPayout, c.DailyLimit, c.Time); err != nil {
		return outcome{}, err
	}
	return outcome{result: e.claims.State()}, nil
}

func (e *Engine) handleSubmitClaim(c *event.SubmitClaim) (outcome, error) {
	claim, err := e.claims.Submit(c.Caller, c.PolicyID, c.ClaimType, c.EvidenceDigest, c.ClaimedAmount, c.Time)
	if err != nil {
		return outcome{}, err
	}
	e.countTransition(claim.Status)
	return outcome{result: map[string]any{
		"claim":        claim,
		"total_claims": e.claims.State().TotalClaims,
	}}, nil
}

func (e *Engine) handleAutomatedAssessment(c *event.AutomatedAssessment) (outcome, error) {
	before, err := e.claims.Claim(c.ClaimID)
	if err != nil {
		return outcome{}, err
	}
	claim, err := e.claims.AutomatedAssessment(c.Caller, c.ClaimID, c.Decision, c.Confidence)
	if err != nil {
		return outcome{}, err
	}
	if claim.Status != before.Status {
		e.countTransition(claim.Status)
	}
	return outcome{result: claim}, nil
}

func (e *Engine) handleManualAdjudicate(c *event.ManualAdjudicate) (outcome, error) {
	claim, err := e.claims.ManualAdjudicate(c.Caller, c.ClaimID, c.Approve, c.Time)
	if err != nil {
		return outcome{}, err
	}
	e.countTransition(claim.Status)
	return outcome{result: map[string]any{
		"claim":           claim,
		"rejected_claims": e.claims.State().RejectedClaims,
	}}, nil
}

func (e *Engine) handleRejectClaim(c *event.RejectClaim) (outcome, error) {
	claim, err := e.claims.Reject(c.Caller, c.ClaimID, c.Reason, c.Time)
	if err != nil {
		return outcome{}, err
	}
	e.countTransition(claim.Status)
	return outcome{result: map[string]any{
		"claim":           claim,
		"rejected_claims": e.claims.State().RejectedClaims,
	}}, nil
}

func (e *Engine) handleExecutePayout(c *event.ExecutePayout) (outcome, error) {
	res, err := e.claims.ExecutePayout(c.Caller, c.ClaimID, c.Asset, c.Time)
	if err != nil {
		if e.metrics != nil && errors.Is(err, errs.ErrPayoutLimitExceeded) {
			e.metrics.PayoutLimitSignals.WithLabelValues("any", "blocked").Inc()
		}
		return outcome{}, err
	}
	e.countTransition(claims.StatusPaid)
	if e.metrics != nil {
		e.metrics.ClaimsPaidTotal.WithLabelValues(c.Asset.String()).Add(float64(res.Amount))
		outcomeLabel := "advisory"
		if res.Overridden {
			outcomeLabel = "overridden"
		}
		if res.OverMax {
			e.metrics.PayoutLimitSignals.WithLabelValues("max_auto_payout", outcomeLabel).Inc()
		}
		if res.OverDaily {
			e.metrics.PayoutLimitSignals.WithLabelValues("daily_limit", outcomeLabel).Inc()
		}
	}
	return outcome{result: res}, nil
}

func (e *Engine) handleUpdatePayoutLimits(c *event.UpdatePayoutLimits) (outcome, error) {
	if err := e.claims.UpdatePayoutLimits(c.Caller, c.MaxAutoPayout, c.DailyLimit); err != nil {
		return outcome{}, err
	}
	return outcome{result: map[string]any{
		"max_auto_payout": c.MaxAutoPayout,
		"daily_limit":     c.DailyLimit,
	}}, nil
}

func (e *Engine) handleOverridePayoutLimits(c *event.OverridePayoutLimits) (outcome, error) {
	claim, err := e.claims.OverridePayoutLimits(c.Caller, c.ClaimID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: claim}, nil
}

func (e *Engine) countTransition(s claims.Status) {
	if e.metrics != nil {
		e.metrics.ClaimsTransitions.WithLabelValues(s.String()).Inc()
	}
}

// --- Queries ---

func (e *Engine) PoolState() (pool.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.State(), e.pool.Initialized()
}

func (e *Engine) Position(owner uuid.UUID) (pool.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Position(owner)
}

func (e *Engine) InterestSnapshots() []pool.InterestSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Snapshots()
}

func (e *Engine) ClaimsState() (claims.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims.State(), e.claims.Initialized()
}

func (e *Engine) Claim(id uint64) (claims.Claim, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims.Claim(id)
}

func (e *Engine) Claims() []claims.Claim {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims.Claims()
}

func (e *Engine) ClaimCounts() map[claims.Status]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims.CountByStatus()
}

func (e *Engine) Policy(id uint64) (policy.Policy, error) {
	return e.registry.Policy(id)
}

func (e *Engine) ActiveCoverage() uint64 {
	return e.registry.ActiveCoverage()
}

// GetSequence returns the next sequence the core will assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() event.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}
