package query

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"

	"github.com/google/uuid"
)

// PoolResponse is the pool record plus values derived at query time.
type PoolResponse struct {
	pool.State

	// Derived values (computed at query time, not stored)
	PoolValue        uint64 `json:"pool_value"`
	CurrentRatioBps  uint16 `json:"current_ratio_bps"`
	WithdrawalFeeBps uint16 `json:"withdrawal_fee_bps"`
	ActiveCoverage   uint64 `json:"active_coverage"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionResponse represents an LP position for API queries.
type PositionResponse struct {
	pool.Position

	// ShareValue is shares * pool_value / total_shares, truncated.
	ShareValue   uint64 `json:"share_value"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type ClaimResponse struct {
	claims.Claim
	AsOfSequence int64 `json:"as_of_sequence"`
}

type ClaimListResponse struct {
	Claims       []claims.Claim `json:"claims"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// ClaimStatsResponse is the claims counters with a per-status breakdown.
type ClaimStatsResponse struct {
	claims.State
	ByStatus     map[string]int `json:"by_status"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type SnapshotListResponse struct {
	Snapshots    []pool.InterestSnapshot `json:"snapshots"`
	AsOfSequence int64                   `json:"as_of_sequence"`
}

type PolicyResponse struct {
	policy.Policy
	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a persisted journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     uuid.UUID `json:"journal_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	AssetID       uint16    `json:"asset_id"`
	Amount        int64     `json:"amount"`
	JournalType   string    `json:"journal_type"`
	Timestamp     int64     `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool              `json:"is_healthy"`
	PersistedSeq    int64             `json:"persisted_sequence"`
	AsOfSequence    int64             `json:"as_of_sequence"`
	HashChainBreaks []int64           `json:"hash_chain_breaks,omitempty"`
	CapitalDrift    []CapitalMismatch `json:"capital_drift,omitempty"`
}

// CapitalMismatch is an asset whose journaled capital disagrees with the
// live pool record.
type CapitalMismatch struct {
	Asset     string `json:"asset"`
	Journaled int64  `json:"journaled"`
	Live      uint64 `json:"live"`
}
