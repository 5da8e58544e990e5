package ledger

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeWithdrawalFeeRetained
	JournalTypePremium
	JournalTypeInterest
	JournalTypeClaimPayout
	JournalTypeClaimsPaid
	JournalTypeRewardAccrual
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeWithdrawalFeeRetained:
		return "withdrawal_fee_retained"
	case JournalTypePremium:
		return "premium"
	case JournalTypeInterest:
		return "interest"
	case JournalTypeClaimPayout:
		return "claim_payout"
	case JournalTypeClaimsPaid:
		return "claims_paid"
	case JournalTypeRewardAccrual:
		return "reward_accrual"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // ALWAYS positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from its credit account to its debit
// account, so every entry and therefore every batch is balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return eris.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return eris.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return eris.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return eris.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
