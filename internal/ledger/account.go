package ledger

import (
	"CoverLedger/internal/pool"
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeProvider AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Provider sub-types
	SubTypeRewards AccountSubType = iota

	// System sub-types
	SubTypeSystemCapital
	SubTypeSystemPremiums
	SubTypeSystemInterest
	SubTypeSystemClaimsPaid
	SubTypeSystemRewardsAccrued

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalPremiums
	SubTypeExternalInterest
	SubTypeExternalPayouts
)

// AssetID maps asset strings to numeric IDs for performance.
// POOL is the unit of account for premium, interest, claims and reward
// counters, which are not held per asset.
type AssetID uint16

const (
	AssetUSDC AssetID = 1
	AssetSOL  AssetID = 2
	AssetPool AssetID = 3
)

var (
	assetToID = map[string]AssetID{
		"USDC": AssetUSDC,
		"SOL":  AssetSOL,
		"POOL": AssetPool,
	}
	idToAsset = map[AssetID]string{
		AssetUSDC: "USDC",
		AssetSOL:  "SOL",
		AssetPool: "POOL",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AssetIDFor maps a pool capital class to its ledger asset.
func AssetIDFor(a pool.Asset) AssetID {
	if a == pool.AssetB {
		return AssetSOL
	}
	return AssetUSDC
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // provider UUID, zero for system/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

func NewProviderAccountKey(owner uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeProvider,
		EntityID: owner,
		SubType:  subType,
		AssetID:  assetID,
	}
}

func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeProvider:
		return fmt.Sprintf("provider:%s:%s:%s", uuid.UUID(k.EntityID).String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeRewards:
		return "rewards"
	case SubTypeSystemCapital:
		return "capital"
	case SubTypeSystemPremiums:
		return "premiums"
	case SubTypeSystemInterest:
		return "interest"
	case SubTypeSystemClaimsPaid:
		return "claims_paid"
	case SubTypeSystemRewardsAccrued:
		return "rewards_accrued"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalPremiums:
		return "premiums"
	case SubTypeExternalInterest:
		return "interest"
	case SubTypeExternalPayouts:
		return "payouts"
	default:
		return "unknown"
	}
}
