package claims

import (
	"CoverLedger/internal/pool"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Type of loss being claimed
type Type uint8

const (
	TypeTheft Type = iota
	TypeLoss
)

func (t Type) String() string {
	switch t {
	case TypeTheft:
		return "Theft"
	case TypeLoss:
		return "Loss"
	default:
		return "Unknown"
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, ok := ParseType(string(b))
	if !ok {
		return eris.Errorf("unknown claim type %q", b)
	}
	*t = parsed
	return nil
}

func ParseType(s string) (Type, bool) {
	switch s {
	case "Theft", "theft":
		return TypeTheft, true
	case "Loss", "loss":
		return TypeLoss, true
	}
	return 0, false
}

// Status is a claim's lifecycle state.
//
//	Submitted -> UnderReview -> Approved -> Paid
//	    |             |
//	    +-------------+--> Rejected
//
// Submitted may go straight to Approved/Rejected via manual adjudication.
// Paid and Rejected are terminal.
type Status uint8

const (
	StatusSubmitted Status = iota
	StatusUnderReview
	StatusApproved
	StatusRejected
	StatusPaid
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusUnderReview:
		return "UnderReview"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	case StatusPaid:
		return "Paid"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusSubmitted; st <= StatusPaid; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return eris.Errorf("unknown claim status %q", b)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// Decision is the automated scorer's verdict.
type Decision uint8

const (
	DecisionPending Decision = iota
	DecisionApproved
	DecisionRejected
	DecisionManualReview
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "Pending"
	case DecisionApproved:
		return "Approved"
	case DecisionRejected:
		return "Rejected"
	case DecisionManualReview:
		return "ManualReview"
	default:
		return "Unknown"
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(b []byte) error {
	parsed, ok := ParseDecision(string(b))
	if !ok {
		return eris.Errorf("unknown decision %q", b)
	}
	*d = parsed
	return nil
}

func ParseDecision(s string) (Decision, bool) {
	for d := DecisionPending; d <= DecisionManualReview; d++ {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}

// Digest is the 32-byte content hash of the claim evidence. Opaque here.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Digest) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(raw) != len(d) {
		return d, hex.ErrLength
	}
	copy(d[:], raw)
	return d, nil
}

// Claim is created on submission and never deleted.
type Claim struct {
	ID             uint64    `json:"claim_id"`
	PolicyID       uint64    `json:"policy_id"`
	Customer       uuid.UUID `json:"customer"`
	Type           Type      `json:"claim_type"`
	Amount         uint64    `json:"claim_amount"` // payout after deductible
	EvidenceDigest Digest    `json:"evidence_digest"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Status         Status    `json:"status"`

	Decision   Decision `json:"assessment_decision"`
	Confidence uint8    `json:"confidence"`

	Reviewer     *uuid.UUID `json:"reviewer,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`

	// LimitOverride lets an over-limit claim through the payout gate.
	LimitOverride bool `json:"limit_override,omitempty"`

	PayoutRef   *uuid.UUID `json:"payout_ref,omitempty"`
	PayoutAsset pool.Asset `json:"payout_asset"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// State is the claims-side singleton: counters, limits and the lazily
// reset daily payout bucket.
type State struct {
	Authority uuid.UUID `json:"authority"`
	Assessor  uuid.UUID `json:"assessor"`

	TotalClaims    uint64 `json:"total_claims"`
	ApprovedClaims uint64 `json:"approved_claims"`
	RejectedClaims uint64 `json:"rejected_claims"`
	TotalPaidOut   uint64 `json:"total_paid_out"`

	MaxAutoPayout        uint64 `json:"max_auto_payout"`
	DailyAutoPayoutLimit uint64 `json:"daily_auto_payout_limit"`
	DailyAutoPaid        uint64 `json:"daily_auto_paid"`
	LastResetDay         int64  `json:"last_reset_day"`
}

// DayIndex is the unix day number used by the daily bucket.
func DayIndex(t time.Time) int64 {
	return t.Unix() / 86400
}
