package event

import (
	"CoverLedger/internal/pool"

	"github.com/google/uuid"
)

// InitializePool creates the pool with the caller as authority.
type InitializePool struct {
	Meta
	PolicyManager uuid.UUID `json:"policy_manager"`
	LPFeeBps      uint16    `json:"lp_fee_bps"`
}

func (c *InitializePool) CommandType() CommandType { return CommandTypeInitializePool }

// Deposit adds liquidity; the caller owns the resulting position.
type Deposit struct {
	Meta
	Amount uint64     `json:"amount"`
	Asset  pool.Asset `json:"asset"`
}

func (c *Deposit) CommandType() CommandType { return CommandTypeDeposit }

// Withdraw burns shares from the caller's position.
type Withdraw struct {
	Meta
	Shares uint64     `json:"shares"`
	Asset  pool.Asset `json:"asset"`
}

func (c *Withdraw) CommandType() CommandType { return CommandTypeWithdraw }

type RecordPremium struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (c *RecordPremium) CommandType() CommandType { return CommandTypeRecordPremium }

type RecordInterestSnapshot struct {
	Meta
	Epoch   uint64 `json:"epoch"`
	RateBps uint16 `json:"rate_bps"`
	Accrued uint64 `json:"accrued"`
}

func (c *RecordInterestSnapshot) CommandType() CommandType {
	return CommandTypeRecordInterestSnapshot
}

type UpdateSCR struct {
	Meta
	Value uint64 `json:"value"`
}

func (c *UpdateSCR) CommandType() CommandType { return CommandTypeUpdateSCR }

type DistributeRewards struct {
	Meta
	Owner uuid.UUID `json:"owner"`
}

func (c *DistributeRewards) CommandType() CommandType { return CommandTypeDistributeRewards }
