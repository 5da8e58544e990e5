package event

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeInitializePool
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeRecordPremium
	CommandTypeRecordInterestSnapshot
	CommandTypeUpdateSCR
	CommandTypeDistributeRewards
	CommandTypeSyncPolicy
	CommandTypeInitializeClaims
	CommandTypeSubmitClaim
	CommandTypeAutomatedAssessment
	CommandTypeManualAdjudicate
	CommandTypeRejectClaim
	CommandTypeExecutePayout
	CommandTypeUpdatePayoutLimits
	CommandTypeOverridePayoutLimits
)

var commandNames = map[CommandType]string{
	CommandTypeInitializePool:         "initialize_pool",
	CommandTypeDeposit:                "deposit",
	CommandTypeWithdraw:               "withdraw",
	CommandTypeRecordPremium:          "record_premium",
	CommandTypeRecordInterestSnapshot: "record_interest_snapshot",
	CommandTypeUpdateSCR:              "update_scr",
	CommandTypeDistributeRewards:      "distribute_rewards",
	CommandTypeSyncPolicy:             "sync_policy",
	CommandTypeInitializeClaims:       "initialize_claims",
	CommandTypeSubmitClaim:            "submit_claim",
	CommandTypeAutomatedAssessment:    "automated_assessment",
	CommandTypeManualAdjudicate:       "manual_adjudicate",
	CommandTypeRejectClaim:            "reject_claim",
	CommandTypeExecutePayout:          "execute_payout",
	CommandTypeUpdatePayoutLimits:     "update_payout_limits",
	CommandTypeOverridePayoutLimits:   "override_payout_limits",
}

// String returns the wire name, also used as the NATS subject suffix.
func (ct CommandType) String() string {
	if name, ok := commandNames[ct]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandType maps a wire name back to its CommandType.
func ParseCommandType(name string) (CommandType, bool) {
	for ct, n := range commandNames {
		if n == name {
			return ct, true
		}
	}
	return CommandTypeUnknown, false
}

// AllCommandTypes lists every known command in declaration order.
func AllCommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandNames))
	for ct := CommandTypeInitializePool; ct <= CommandTypeOverridePayoutLimits; ct++ {
		out = append(out, ct)
	}
	return out
}

func (ct CommandType) MarshalText() ([]byte, error) {
	return []byte(ct.String()), nil
}

func (ct *CommandType) UnmarshalText(b []byte) error {
	parsed, ok := ParseCommandType(string(b))
	if !ok {
		return eris.Errorf("unknown command type %q", b)
	}
	*ct = parsed
	return nil
}

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// CallerID is the authenticated identity issuing the command
	CallerID() uuid.UUID

	// OccurredAt is the versioned input time; the core never reads the wall clock
	OccurredAt() time.Time
}

// Meta is embedded in every command.
type Meta struct {
	RequestID string    `json:"request_id"`
	Caller    uuid.UUID `json:"caller"`
	Time      time.Time `json:"timestamp"`
}

func (m Meta) IdempotencyKey() string { return m.RequestID }
func (m Meta) CallerID() uuid.UUID    { return m.Caller }
func (m Meta) OccurredAt() time.Time  { return m.Time }

// Hash is a SHA-256 state hash, hex encoded on the wire.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return hex.ErrLength
	}
	copy(h[:], raw)
	return nil
}

// Envelope is the append-only audit record emitted for every applied command.
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64 `json:"sequence"`

	// Stable idempotency key from upstream
	IdempotencyKey string `json:"idempotency_key"`

	CommandType CommandType `json:"operation"`
	Caller      uuid.UUID   `json:"caller"`

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time `json:"timestamp"`

	// Material inputs
	Payload json.RawMessage `json:"inputs"`

	// Operation result, including running totals where applicable
	Result json.RawMessage `json:"result,omitempty"`

	// SHA-256 of state AFTER applying this command
	StateHash Hash `json:"state_hash"`

	// Previous command's state hash (chain integrity)
	PrevHash Hash `json:"prev_hash"`
}
