// Package errs defines the typed failures reported by the claims and pool
// engines. Every failure aborts the whole operation; callers match them
// with errors.Is and classify them with KindOf.
package errs

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind groups errors for metrics labels and transport status mapping.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindPrecondition
	KindArithmetic
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindArithmetic:
		return "arithmetic"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Validation
var (
	ErrInvalidAmount      = eris.New("invalid amount")
	ErrInvalidConfidence  = eris.New("invalid confidence score")
	ErrInvalidClaimStatus = eris.New("invalid claim status for this operation")
	ErrFeeTooHigh         = eris.New("fee cannot exceed 20%")
	ErrUnknownAsset       = eris.New("unknown asset")
	ErrInvalidCommand     = eris.New("invalid command")
)

// Authorization
var (
	ErrUnauthorized = eris.New("unauthorized")
)

// State preconditions
var (
	ErrNotInitialized            = eris.New("not initialized")
	ErrAlreadyInitialized        = eris.New("already initialized")
	ErrPolicyNotActive           = eris.New("policy is not active")
	ErrPolicyAlreadyClaimed      = eris.New("policy has already been claimed")
	ErrClaimTypeNotCovered       = eris.New("claim type not covered by policy")
	ErrPayoutExceedsInsuredValue = eris.New("payout exceeds insured value")
	ErrClaimNotApproved          = eris.New("claim not approved")
	ErrClaimAlreadyPaid          = eris.New("claim already paid")
	ErrPayoutLimitExceeded       = eris.New("payout exceeds auto-payout limits, manual approval required")
	ErrInsufficientLPTokens      = eris.New("insufficient LP tokens")
	ErrInsufficientPoolLiquidity = eris.New("insufficient pool liquidity")
	ErrDuplicateSnapshot         = eris.New("interest snapshot for epoch already exists")
)

// Lookups
var (
	ErrPolicyNotFound   = eris.New("policy not found")
	ErrClaimNotFound    = eris.New("claim not found")
	ErrPositionNotFound = eris.New("lp position not found")
)

// Arithmetic
var (
	ErrOverflow       = eris.New("arithmetic overflow")
	ErrUnderflow      = eris.New("arithmetic underflow")
	ErrDivisionByZero = eris.New("division by zero")
)

var kinds = map[error]Kind{
	ErrInvalidAmount:      KindValidation,
	ErrInvalidConfidence:  KindValidation,
	ErrInvalidClaimStatus: KindValidation,
	ErrFeeTooHigh:         KindValidation,
	ErrUnknownAsset:       KindValidation,
	ErrInvalidCommand:     KindValidation,

	ErrUnauthorized: KindAuthorization,

	ErrNotInitialized:            KindPrecondition,
	ErrAlreadyInitialized:        KindPrecondition,
	ErrPolicyNotActive:           KindPrecondition,
	ErrPolicyAlreadyClaimed:      KindPrecondition,
	ErrClaimTypeNotCovered:       KindPrecondition,
	ErrPayoutExceedsInsuredValue: KindPrecondition,
	ErrClaimNotApproved:          KindPrecondition,
	ErrClaimAlreadyPaid:          KindPrecondition,
	ErrPayoutLimitExceeded:       KindPrecondition,
	ErrInsufficientLPTokens:      KindPrecondition,
	ErrInsufficientPoolLiquidity: KindPrecondition,
	ErrDuplicateSnapshot:         KindPrecondition,

	ErrPolicyNotFound:   KindNotFound,
	ErrClaimNotFound:    KindNotFound,
	ErrPositionNotFound: KindNotFound,

	ErrOverflow:       KindArithmetic,
	ErrUnderflow:      KindArithmetic,
	ErrDivisionByZero: KindArithmetic,
}

// KindOf returns the kind of the first known sentinel in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Code returns the stable CamelCase name of the sentinel in err's chain,
// e.g. "InsufficientPoolLiquidity". Used in audit payloads and API errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidConfidence, "InvalidConfidence"},
	{ErrInvalidClaimStatus, "InvalidClaimStatus"},
	{ErrFeeTooHigh, "FeeTooHigh"},
	{ErrUnknownAsset, "UnknownAsset"},
	{ErrInvalidCommand, "InvalidCommand"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrPolicyNotActive, "PolicyNotActive"},
	{ErrPolicyAlreadyClaimed, "PolicyAlreadyClaimed"},
	{ErrClaimTypeNotCovered, "ClaimTypeNotCovered"},
	{ErrPayoutExceedsInsuredValue, "PayoutExceedsInsuredValue"},
	{ErrClaimNotApproved, "ClaimNotApproved"},
	{ErrClaimAlreadyPaid, "ClaimAlreadyPaid"},
	{ErrPayoutLimitExceeded, "PayoutLimitExceeded"},
	{ErrInsufficientLPTokens, "InsufficientLPTokens"},
	{ErrInsufficientPoolLiquidity, "InsufficientPoolLiquidity"},
	{ErrDuplicateSnapshot, "DuplicateSnapshot"},
	{ErrPolicyNotFound, "PolicyNotFound"},
	{ErrClaimNotFound, "ClaimNotFound"},
	{ErrPositionNotFound, "PositionNotFound"},
	{ErrOverflow, "Overflow"},
	{ErrUnderflow, "Underflow"},
	{ErrDivisionByZero, "DivisionByZero"},
}
