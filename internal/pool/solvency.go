package pool

import (
	fpmath "CoverLedger/internal/math"
	gomath "math"
)

// CoverageRatio returns total capital over the statutory capital requirement
// in basis points, capped at MaxUint16. No requirement means trivially solvent.
func CoverageRatio(s State) uint16 {
	if s.StatutoryCapitalRequired == 0 {
		return fpmath.BpsDenominator
	}

	total := fpmath.SaturatingAdd(s.CapitalA, s.CapitalB)
	total = fpmath.SaturatingAdd(total, s.PremiumsCollected)
	total = fpmath.SaturatingAdd(total, s.InterestEarned)
	total = fpmath.SaturatingSub(total, s.ClaimsPaid)

	ratio, err := fpmath.MulDiv(total, fpmath.BpsDenominator, s.StatutoryCapitalRequired)
	if err != nil || ratio > gomath.MaxUint16 {
		return gomath.MaxUint16
	}
	return uint16(ratio)
}

// feeTier: ratios up to and including UpTo pay FeeBps.
type feeTier struct {
	UpTo   uint16
	FeeBps uint16
}

var withdrawalFeeTiers = []feeTier{
	{UpTo: 5000, FeeBps: 10000},
	{UpTo: 7000, FeeBps: 5000},
	{UpTo: 9000, FeeBps: 2000},
	{UpTo: 11000, FeeBps: 500},
	{UpTo: 13000, FeeBps: 100},
}

// WithdrawalFeeBps maps a coverage ratio to the withdrawal fee.
// Tier bounds are inclusive; above the last tier the fee is zero.
func WithdrawalFeeBps(coverageRatioBps uint16) uint16 {
	for _, t := range withdrawalFeeTiers {
		if coverageRatioBps <= t.UpTo {
			return t.FeeBps
		}
	}
	return 0
}
