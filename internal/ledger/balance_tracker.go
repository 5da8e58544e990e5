package ledger

import (
	"CoverLedger/internal/errs"
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch. A batch that would push any
// balance outside the int64 range is refused before anything changes.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.CheckBatches(batch); err != nil {
		return err
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// CheckBatches validates batches and verifies that applying them in order
// keeps every touched balance representable. Balances are not modified.
func (bt *BalanceTracker) CheckBatches(batches ...*Batch) error {
	projected := make(map[AccountKey]int64)
	balance := func(key AccountKey) int64 {
		if v, ok := projected[key]; ok {
			return v
		}
		return bt.balances[key]
	}

	for _, batch := range batches {
		if err := batch.Validate(); err != nil {
			return eris.Wrap(err, "invalid batch")
		}
		for _, j := range batch.Journals {
			debit, ok := addBalance(balance(j.DebitAccount), j.Amount)
			if !ok {
				return eris.Wrapf(errs.ErrOverflow, "account %s exceeds ledger range", j.DebitAccount.AccountPath())
			}
			projected[j.DebitAccount] = debit

			credit, ok := addBalance(balance(j.CreditAccount), -j.Amount)
			if !ok {
				return eris.Wrapf(errs.ErrOverflow, "account %s exceeds ledger range", j.CreditAccount.AccountPath())
			}
			projected[j.CreditAccount] = credit
		}
	}
	return nil
}

// addBalance keeps balances within [-MaxInt64, MaxInt64] so contra
// accounts can always be negated.
func addBalance(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) || sum == math.MinInt64 {
		return 0, false
	}
	return sum, true
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Pool Balance Queries ===

// Capital returns the tracked capital held in assetID.
func (bt *BalanceTracker) Capital(assetID AssetID) int64 {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemCapital, assetID))
}

// ClaimsPaid returns cumulative claims paid as a positive number. The
// system claims account is a contra account and carries a credit balance.
func (bt *BalanceTracker) ClaimsPaid() int64 {
	return -bt.GetBalance(NewSystemAccountKey(SubTypeSystemClaimsPaid, AssetPool))
}

// ProviderRewards returns the rewards accrued to a provider.
func (bt *BalanceTracker) ProviderRewards(owner uuid.UUID) int64 {
	return bt.GetBalance(NewProviderAccountKey(owner, SubTypeRewards, AssetPool))
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return eris.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances (checkpoint recovery).
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
