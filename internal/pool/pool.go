package pool

import (
	"CoverLedger/internal/errs"
	fpmath "CoverLedger/internal/math"
	gomath "math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// MaxLPFeeBps caps the fee retained on the LP share of profit (20%).
const MaxLPFeeBps = 2000

// MaxEpoch is the largest interest epoch; epochs are stored as signed
// 64-bit keys.
const MaxEpoch = gomath.MaxInt64

// FlowKind names the value movement a commit carries.
type FlowKind uint8

const (
	FlowDeposit FlowKind = iota + 1
	FlowWithdrawal
	FlowPremium
	FlowInterest
	FlowDisbursement
	FlowReward
)

// Flow describes the value moved by one commit. Amount is the deposit,
// gross withdrawal, premium, accrued interest, payout or reward; Fee is the
// withdrawal fee the pool retains.
type Flow struct {
	Kind   FlowKind
	Asset  Asset
	Owner  uuid.UUID
	Amount uint64
	Fee    uint64
}

// FlowGuard vets a flow before the pool commits it. An error aborts the
// operation and leaves the pool untouched.
type FlowGuard func(Flow) error

// CapitalPool holds the pool state, LP positions and interest history.
// Every operation validates against a copy and commits only on success,
// so a returned error leaves the pool untouched.
// Not thread-safe: the engine serializes all calls.
type CapitalPool struct {
	initialized bool
	state       State
	positions   map[uuid.UUID]*Position
	snapshots   map[uint64]*InterestSnapshot
	guard       FlowGuard
}

func NewCapitalPool() *CapitalPool {
	return &CapitalPool{
		positions: make(map[uuid.UUID]*Position),
		snapshots: make(map[uint64]*InterestSnapshot),
	}
}

// SetFlowGuard installs the check run before every value-moving commit.
func (p *CapitalPool) SetFlowGuard(g FlowGuard) {
	p.guard = g
}

// DepositResult is returned by Deposit.
type DepositResult struct {
	SharesMinted     uint64 `json:"shares_minted"`
	TotalShares      uint64 `json:"total_shares"`
	CoverageRatioBps uint16 `json:"coverage_ratio_bps"`
}

// WithdrawResult is returned by Withdraw.
type WithdrawResult struct {
	SharesBurned     uint64 `json:"shares_burned"`
	GrossAmount      uint64 `json:"gross_amount"`
	FeeBps           uint16 `json:"fee_bps"`
	Fee              uint64 `json:"fee"`
	NetAmount        uint64 `json:"net_amount"`
	TotalShares      uint64 `json:"total_shares"`
	CoverageRatioBps uint16 `json:"coverage_ratio_bps"`
}

// DisburseResult is returned by Disburse.
type DisburseResult struct {
	Amount           uint64 `json:"amount"`
	TotalClaimsPaid  uint64 `json:"total_claims_paid"`
	CoverageRatioBps uint16 `json:"coverage_ratio_bps"`
}

// RewardResult is returned by DistributeRewards.
type RewardResult struct {
	NetProfit     uint64 `json:"net_profit"`
	LPShare       uint64 `json:"lp_share"`
	Reward        uint64 `json:"reward"`
	RewardsEarned uint64 `json:"rewards_earned"`
}

// Initialize creates the singleton pool state.
func (p *CapitalPool) Initialize(authority, policyManager uuid.UUID, lpFeeBps uint16, now time.Time) error {
	if p.initialized {
		return errs.ErrAlreadyInitialized
	}
	if lpFeeBps > MaxLPFeeBps {
		return eris.Wrapf(errs.ErrFeeTooHigh, "lp_fee_bps=%d", lpFeeBps)
	}

	p.state = State{
		Authority:            authority,
		PolicyManager:        policyManager,
		LastInterestSnapshot: now.Unix(),
		LPFeeBps:             lpFeeBps,
		CoverageRatioBps:     fpmath.BpsDenominator,
	}
	p.initialized = true
	return nil
}

// Deposit mints ownership shares for amount units of asset.
// The first deposit into an empty pool mints 1:1; afterwards
// shares = amount * total_shares / pool_value.
func (p *CapitalPool) Deposit(owner uuid.UUID, amount uint64, asset Asset, now time.Time) (DepositResult, error) {
	if err := p.ready(); err != nil {
		return DepositResult{}, err
	}
	if err := checkAsset(asset); err != nil {
		return DepositResult{}, err
	}
	if amount == 0 {
		return DepositResult{}, errs.ErrInvalidAmount
	}

	shares, err := p.sharesForDeposit(amount)
	if err != nil {
		return DepositResult{}, err
	}
	if shares == 0 {
		return DepositResult{}, eris.Wrapf(errs.ErrInvalidAmount, "deposit of %d mints zero shares", amount)
	}

	next := p.state
	capital, err := fpmath.Add(next.Capital(asset), amount)
	if err != nil {
		return DepositResult{}, err
	}
	if err := next.setCapital(asset, capital); err != nil {
		return DepositResult{}, err
	}
	if next.TotalShares, err = fpmath.Add(next.TotalShares, shares); err != nil {
		return DepositResult{}, err
	}

	pos := p.positionCopy(owner)
	if pos.Shares, err = fpmath.Add(pos.Shares, shares); err != nil {
		return DepositResult{}, err
	}
	if err := pos.addDeposited(asset, amount); err != nil {
		return DepositResult{}, err
	}
	pos.LastDeposit = now.Unix()

	flow := Flow{Kind: FlowDeposit, Asset: asset, Owner: owner, Amount: amount}
	if err := p.commit(next, &pos, &flow); err != nil {
		return DepositResult{}, err
	}

	return DepositResult{
		SharesMinted:     shares,
		TotalShares:      p.state.TotalShares,
		CoverageRatioBps: p.state.CoverageRatioBps,
	}, nil
}

func (p *CapitalPool) sharesForDeposit(amount uint64) (uint64, error) {
	if p.state.TotalShares == 0 {
		return amount, nil
	}
	value, err := p.state.PoolValue()
	if err != nil {
		return 0, err
	}
	return fpmath.MulDiv(amount, p.state.TotalShares, value)
}

// Withdraw burns shares from owner's position and pays out their value in
// asset, less the withdrawal fee for the current coverage ratio. The fee
// stays in the pool.
func (p *CapitalPool) Withdraw(owner uuid.UUID, shares uint64, asset Asset, now time.Time) (WithdrawResult, error) {
	if err := p.ready(); err != nil {
		return WithdrawResult{}, err
	}
	if err := checkAsset(asset); err != nil {
		return WithdrawResult{}, err
	}
	if shares == 0 {
		return WithdrawResult{}, errs.ErrInvalidAmount
	}

	existing, ok := p.positions[owner]
	if !ok || existing.Shares < shares {
		return WithdrawResult{}, errs.ErrInsufficientLPTokens
	}

	value, err := p.state.PoolValue()
	if err != nil {
		return WithdrawResult{}, err
	}
	gross, err := fpmath.MulDiv(shares, value, p.state.TotalShares)
	if err != nil {
		return WithdrawResult{}, err
	}

	feeBps := WithdrawalFeeBps(p.state.CoverageRatioBps)
	fee, err := fpmath.ApplyBps(gross, feeBps)
	if err != nil {
		return WithdrawResult{}, err
	}
	net, err := fpmath.Sub(gross, fee)
	if err != nil {
		return WithdrawResult{}, err
	}

	if p.state.Capital(asset) < net {
		return WithdrawResult{}, eris.Wrapf(errs.ErrInsufficientPoolLiquidity,
			"withdraw %d %s, available %d", net, asset, p.state.Capital(asset))
	}

	next := p.state
	if err := next.setCapital(asset, next.Capital(asset)-net); err != nil {
		return WithdrawResult{}, err
	}
	if next.TotalShares, err = fpmath.Sub(next.TotalShares, shares); err != nil {
		return WithdrawResult{}, err
	}

	pos := *existing
	pos.Shares -= shares
	pos.LastWithdrawal = now.Unix()

	flow := Flow{Kind: FlowWithdrawal, Asset: asset, Owner: owner, Amount: gross, Fee: fee}
	if err := p.commit(next, &pos, &flow); err != nil {
		return WithdrawResult{}, err
	}

	return WithdrawResult{
		SharesBurned:     shares,
		GrossAmount:      gross,
		FeeBps:           feeBps,
		Fee:              fee,
		NetAmount:        net,
		TotalShares:      p.state.TotalShares,
		CoverageRatioBps: p.state.CoverageRatioBps,
	}, nil
}

// RecordPremium adds collected premium to the pool. Only the policy
// manager may call it.
func (p *CapitalPool) RecordPremium(caller uuid.UUID, amount uint64) (uint64, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	if caller != p.state.PolicyManager {
		return 0, errs.ErrUnauthorized
	}

	next := p.state
	var err error
	if next.PremiumsCollected, err = fpmath.Add(next.PremiumsCollected, amount); err != nil {
		return 0, err
	}
	if err := p.commit(next, nil, &Flow{Kind: FlowPremium, Amount: amount}); err != nil {
		return 0, err
	}
	return p.state.PremiumsCollected, nil
}

// Disburse pays amount of asset to a claimant: capital decreases and
// claims paid increases by amount.
func (p *CapitalPool) Disburse(amount uint64, asset Asset, claimant uuid.UUID, now time.Time) (DisburseResult, error) {
	if err := p.ready(); err != nil {
		return DisburseResult{}, err
	}
	if err := checkAsset(asset); err != nil {
		return DisburseResult{}, err
	}
	if amount == 0 {
		return DisburseResult{}, errs.ErrInvalidAmount
	}
	if p.state.Capital(asset) < amount {
		return DisburseResult{}, eris.Wrapf(errs.ErrInsufficientPoolLiquidity,
			"payout %d %s to %s, available %d", amount, asset, claimant, p.state.Capital(asset))
	}

	next := p.state
	if err := next.setCapital(asset, next.Capital(asset)-amount); err != nil {
		return DisburseResult{}, err
	}
	var err error
	if next.ClaimsPaid, err = fpmath.Add(next.ClaimsPaid, amount); err != nil {
		return DisburseResult{}, err
	}
	flow := Flow{Kind: FlowDisbursement, Asset: asset, Owner: claimant, Amount: amount}
	if err := p.commit(next, nil, &flow); err != nil {
		return DisburseResult{}, err
	}

	return DisburseResult{
		Amount:           amount,
		TotalClaimsPaid:  p.state.ClaimsPaid,
		CoverageRatioBps: p.state.CoverageRatioBps,
	}, nil
}

// RecordInterestSnapshot appends an immutable snapshot for epoch and adds
// the accrued interest. An epoch can be recorded once.
func (p *CapitalPool) RecordInterestSnapshot(caller uuid.UUID, epoch uint64, rateBps uint16, accrued uint64, now time.Time) (InterestSnapshot, error) {
	if err := p.authorize(caller); err != nil {
		return InterestSnapshot{}, err
	}
	if epoch > MaxEpoch {
		return InterestSnapshot{}, eris.Wrapf(errs.ErrOverflow, "epoch %d exceeds %d", epoch, uint64(MaxEpoch))
	}
	if _, exists := p.snapshots[epoch]; exists {
		return InterestSnapshot{}, eris.Wrapf(errs.ErrDuplicateSnapshot, "epoch %d", epoch)
	}

	total, err := fpmath.Add(p.state.CapitalA, p.state.CapitalB)
	if err != nil {
		return InterestSnapshot{}, err
	}

	next := p.state
	if next.InterestEarned, err = fpmath.Add(next.InterestEarned, accrued); err != nil {
		return InterestSnapshot{}, err
	}
	next.LastInterestSnapshot = now.Unix()
	if err := p.commit(next, nil, &Flow{Kind: FlowInterest, Amount: accrued}); err != nil {
		return InterestSnapshot{}, err
	}

	snap := &InterestSnapshot{
		Epoch:        epoch,
		Timestamp:    now.Unix(),
		TotalCapital: total,
		RateBps:      rateBps,
		Accrued:      accrued,
	}
	p.snapshots[epoch] = snap
	return *snap, nil
}

// UpdateSCR replaces the statutory capital requirement and returns the new
// coverage ratio.
func (p *CapitalPool) UpdateSCR(caller uuid.UUID, required uint64) (uint16, error) {
	if err := p.authorize(caller); err != nil {
		return 0, err
	}
	next := p.state
	next.StatutoryCapitalRequired = required
	if err := p.commit(next, nil, nil); err != nil {
		return 0, err
	}
	return p.state.CoverageRatioBps, nil
}

// DistributeRewards accrues owner's pro-rata share of net profit to the
// position's rewards. A pool whose claims exceed premiums plus interest
// is unprofitable and fails with ErrUnderflow.
func (p *CapitalPool) DistributeRewards(caller, owner uuid.UUID) (RewardResult, error) {
	if err := p.authorize(caller); err != nil {
		return RewardResult{}, err
	}
	existing, ok := p.positions[owner]
	if !ok {
		return RewardResult{}, eris.Wrapf(errs.ErrPositionNotFound, "owner %s", owner)
	}

	gross, err := fpmath.Add(p.state.PremiumsCollected, p.state.InterestEarned)
	if err != nil {
		return RewardResult{}, err
	}
	profit, err := fpmath.Sub(gross, p.state.ClaimsPaid)
	if err != nil {
		return RewardResult{}, eris.Wrap(err, "pool is unprofitable")
	}
	lpShare, err := fpmath.ApplyBps(profit, fpmath.BpsDenominator-p.state.LPFeeBps)
	if err != nil {
		return RewardResult{}, err
	}
	reward, err := fpmath.MulDiv(lpShare, existing.Shares, p.state.TotalShares)
	if err != nil {
		return RewardResult{}, err
	}

	pos := *existing
	if pos.RewardsEarned, err = fpmath.Add(pos.RewardsEarned, reward); err != nil {
		return RewardResult{}, err
	}
	flow := Flow{Kind: FlowReward, Owner: owner, Amount: reward}
	if err := p.commit(p.state, &pos, &flow); err != nil {
		return RewardResult{}, err
	}

	return RewardResult{
		NetProfit:     profit,
		LPShare:       lpShare,
		Reward:        reward,
		RewardsEarned: pos.RewardsEarned,
	}, nil
}

// commit re-derives pool value and coverage ratio for next, runs the flow
// guard, and swaps next in together with an optional updated position.
func (p *CapitalPool) commit(next State, pos *Position, flow *Flow) error {
	if _, err := next.PoolValue(); err != nil {
		return eris.Wrap(err, "pool value")
	}
	next.CoverageRatioBps = CoverageRatio(next)

	if flow != nil && p.guard != nil {
		if err := p.guard(*flow); err != nil {
			return err
		}
	}

	p.state = next
	if pos != nil {
		stored := *pos
		p.positions[pos.Owner] = &stored
	}
	return nil
}

func (p *CapitalPool) positionCopy(owner uuid.UUID) Position {
	if existing, ok := p.positions[owner]; ok {
		return *existing
	}
	return Position{Owner: owner}
}

func (p *CapitalPool) ready() error {
	if !p.initialized {
		return errs.ErrNotInitialized
	}
	return nil
}

func (p *CapitalPool) authorize(caller uuid.UUID) error {
	if err := p.ready(); err != nil {
		return err
	}
	if caller != p.state.Authority {
		return errs.ErrUnauthorized
	}
	return nil
}

// === Queries ===

func (p *CapitalPool) Initialized() bool {
	return p.initialized
}

// State returns a copy of the pool state.
func (p *CapitalPool) State() State {
	return p.state
}

// Position returns a copy of owner's position.
func (p *CapitalPool) Position(owner uuid.UUID) (Position, bool) {
	pos, ok := p.positions[owner]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all positions ordered by owner.
func (p *CapitalPool) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Owner.String() < out[j].Owner.String()
	})
	return out
}

// Snapshots returns the interest history ordered by epoch.
func (p *CapitalPool) Snapshots() []InterestSnapshot {
	out := make([]InterestSnapshot, 0, len(p.snapshots))
	for _, s := range p.snapshots {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}

// Restore replaces all pool data (checkpoint recovery).
func (p *CapitalPool) Restore(state State, positions []Position, snapshots []InterestSnapshot) {
	p.state = state
	p.initialized = true
	p.positions = make(map[uuid.UUID]*Position, len(positions))
	for i := range positions {
		pos := positions[i]
		p.positions[pos.Owner] = &pos
	}
	p.snapshots = make(map[uint64]*InterestSnapshot, len(snapshots))
	for i := range snapshots {
		s := snapshots[i]
		p.snapshots[s.Epoch] = &s
	}
}
