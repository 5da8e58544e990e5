package pool

import (
	"CoverLedger/internal/errs"
	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Asset identifies one of the two capital classes held by the pool
type Asset uint8

const (
	AssetA Asset = iota // stablecoin leg
	AssetB              // native-token leg
)

var assetNames = map[Asset]string{
	AssetA: "USDC",
	AssetB: "SOL",
}

func (a Asset) String() string {
	if name, ok := assetNames[a]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseAsset maps a wire name ("USDC", "SOL") to an Asset.
func ParseAsset(name string) (Asset, error) {
	for a, n := range assetNames {
		if n == name {
			return a, nil
		}
	}
	return 0, eris.Wrapf(errs.ErrUnknownAsset, "asset %q", name)
}

func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Asset) UnmarshalText(b []byte) error {
	parsed, err := ParseAsset(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// State is the singleton pool record.
type State struct {
	Authority     uuid.UUID `json:"authority"`
	PolicyManager uuid.UUID `json:"policy_manager"`

	CapitalA    uint64 `json:"capital_a"`
	CapitalB    uint64 `json:"capital_b"`
	TotalShares uint64 `json:"total_shares"`

	StatutoryCapitalRequired uint64 `json:"statutory_capital_required"`
	PremiumsCollected        uint64 `json:"premiums_collected"`
	ClaimsPaid               uint64 `json:"claims_paid"`
	InterestEarned           uint64 `json:"interest_earned"`
	LastInterestSnapshot     int64  `json:"last_interest_snapshot"` // unix seconds

	LPFeeBps         uint16 `json:"lp_fee_bps"`
	CoverageRatioBps uint16 `json:"coverage_ratio_bps"`
}

// Valid reports whether a names one of the pool's two capital classes.
func (a Asset) Valid() bool {
	_, ok := assetNames[a]
	return ok
}

func checkAsset(a Asset) error {
	if !a.Valid() {
		return eris.Wrapf(errs.ErrUnknownAsset, "asset %d", uint8(a))
	}
	return nil
}

// Capital returns the balance held for asset a. Unknown assets hold nothing.
func (s *State) Capital(a Asset) uint64 {
	switch a {
	case AssetA:
		return s.CapitalA
	case AssetB:
		return s.CapitalB
	}
	return 0
}

func (s *State) setCapital(a Asset, v uint64) error {
	switch a {
	case AssetA:
		s.CapitalA = v
	case AssetB:
		s.CapitalB = v
	default:
		return checkAsset(a)
	}
	return nil
}

// PoolValue = capital_a + capital_b + premiums + interest - claims_paid,
// evaluated with checked arithmetic.
func (s *State) PoolValue() (uint64, error) {
	v, err := fpmath.Add(s.CapitalA, s.CapitalB)
	if err != nil {
		return 0, err
	}
	if v, err = fpmath.Add(v, s.PremiumsCollected); err != nil {
		return 0, err
	}
	if v, err = fpmath.Add(v, s.InterestEarned); err != nil {
		return 0, err
	}
	return fpmath.Sub(v, s.ClaimsPaid)
}

// Position is one liquidity provider's stake, created on first deposit.
type Position struct {
	Owner          uuid.UUID `json:"owner"`
	Shares         uint64    `json:"shares"`
	DepositedA     uint64    `json:"deposited_a"`
	DepositedB     uint64    `json:"deposited_b"`
	RewardsEarned  uint64    `json:"rewards_earned"`
	LastDeposit    int64     `json:"last_deposit"`
	LastWithdrawal int64     `json:"last_withdrawal"`
}

func (p *Position) addDeposited(a Asset, amount uint64) error {
	var field *uint64
	switch a {
	case AssetA:
		field = &p.DepositedA
	case AssetB:
		field = &p.DepositedB
	default:
		return checkAsset(a)
	}
	v, err := fpmath.Add(*field, amount)
	if err != nil {
		return err
	}
	*field = v
	return nil
}

// InterestSnapshot is an immutable, epoch-keyed interest record.
type InterestSnapshot struct {
	Epoch        uint64 `json:"epoch"`
	Timestamp    int64  `json:"timestamp"`
	TotalCapital uint64 `json:"total_capital"`
	RateBps      uint16 `json:"rate_bps"`
	Accrued      uint64 `json:"accrued"`
}
