package event

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"

	"github.com/google/uuid"
)

// InitializeClaims creates the claims ledger with the caller as authority.
type InitializeClaims struct {
	Meta
	Assessor      uuid.UUID `json:"assessor"`
	MaxAutoPayout uint64    `json:"max_auto_payout"`
	DailyLimit    uint64    `json:"daily_limit"`
}

func (c *InitializeClaims) CommandType() CommandType { return CommandTypeInitializeClaims }

type SubmitClaim struct {
	Meta
	PolicyID       uint64        `json:"policy_id"`
	ClaimType      claims.Type   `json:"claim_type"`
	EvidenceDigest claims.Digest `json:"evidence_digest"`
	ClaimedAmount  uint64        `json:"claimed_amount"`
}

func (c *SubmitClaim) CommandType() CommandType { return CommandTypeSubmitClaim }

type AutomatedAssessment struct {
	Meta
	ClaimID    uint64          `json:"claim_id"`
	Decision   claims.Decision `json:"decision"`
	Confidence uint8           `json:"confidence"`
}

func (c *AutomatedAssessment) CommandType() CommandType { return CommandTypeAutomatedAssessment }

type ManualAdjudicate struct {
	Meta
	ClaimID uint64 `json:"claim_id"`
	Approve bool   `json:"approve"`
}

func (c *ManualAdjudicate) CommandType() CommandType { return CommandTypeManualAdjudicate }

type RejectClaim struct {
	Meta
	ClaimID uint64 `json:"claim_id"`
	Reason  string `json:"reason"`
}

func (c *RejectClaim) CommandType() CommandType { return CommandTypeRejectClaim }

type ExecutePayout struct {
	Meta
	ClaimID uint64     `json:"claim_id"`
	Asset   pool.Asset `json:"asset"`
}

func (c *ExecutePayout) CommandType() CommandType { return CommandTypeExecutePayout }

type UpdatePayoutLimits struct {
	Meta
	MaxAutoPayout uint64 `json:"max_auto_payout"`
	DailyLimit    uint64 `json:"daily_limit"`
}

func (c *UpdatePayoutLimits) CommandType() CommandType { return CommandTypeUpdatePayoutLimits }

type OverridePayoutLimits struct {
	Meta
	ClaimID uint64 `json:"claim_id"`
}

func (c *OverridePayoutLimits) CommandType() CommandType { return CommandTypeOverridePayoutLimits }

// SyncPolicy replicates policy terms from the policy manager. Only the
// pool's policy manager may send it.
type SyncPolicy struct {
	Meta
	Policy policy.Policy `json:"policy"`
}

func (c *SyncPolicy) CommandType() CommandType { return CommandTypeSyncPolicy }
