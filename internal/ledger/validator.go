package ledger

import (
	"CoverLedger/internal/pool"

	"github.com/rotisserie/eris"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return eris.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidatePoolState cross-checks the journaled system accounts against the
// pool's own counters.
func (v *InvariantValidator) ValidatePoolState(s pool.State) error {
	checks := []struct {
		name    string
		tracked int64
		want    uint64
	}{
		{"capital USDC", v.tracker.Capital(AssetUSDC), s.CapitalA},
		{"capital SOL", v.tracker.Capital(AssetSOL), s.CapitalB},
		{"premiums", v.tracker.GetBalance(NewSystemAccountKey(SubTypeSystemPremiums, AssetPool)), s.PremiumsCollected},
		{"interest", v.tracker.GetBalance(NewSystemAccountKey(SubTypeSystemInterest, AssetPool)), s.InterestEarned},
		{"claims paid", v.tracker.ClaimsPaid(), s.ClaimsPaid},
	}
	for _, c := range checks {
		if c.tracked < 0 || uint64(c.tracked) != c.want {
			return eris.Errorf("%s: ledger %d, pool %d", c.name, c.tracked, c.want)
		}
	}
	return nil
}
