package policy

import (
	"CoverLedger/internal/errs"
	fpmath "CoverLedger/internal/math"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// CoverageType limits which claim types a policy accepts
type CoverageType uint8

const (
	CoverageTheftOnly CoverageType = iota
	CoverageTheftAndLoss
)

func (c CoverageType) String() string {
	switch c {
	case CoverageTheftOnly:
		return "TheftOnly"
	case CoverageTheftAndLoss:
		return "TheftAndLoss"
	default:
		return "Unknown"
	}
}

func (c CoverageType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CoverageType) UnmarshalText(b []byte) error {
	parsed, ok := ParseCoverageType(string(b))
	if !ok {
		return eris.Errorf("unknown coverage type %q", b)
	}
	*c = parsed
	return nil
}

// ParseCoverageType maps the wire name to a CoverageType.
func ParseCoverageType(s string) (CoverageType, bool) {
	switch s {
	case "TheftOnly", "theft_only":
		return CoverageTheftOnly, true
	case "TheftAndLoss", "theft_and_loss":
		return CoverageTheftAndLoss, true
	}
	return 0, false
}

// Status of a policy as reported by the policy manager
type Status uint8

const (
	StatusActive Status = iota
	StatusExpired
	StatusClaimed
	StatusCancelled
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusExpired:
		return "Expired"
	case StatusClaimed:
		return "Claimed"
	case StatusCancelled:
		return "Cancelled"
	case StatusSuspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, ok := ParseStatus(string(b))
	if !ok {
		return eris.Errorf("unknown policy status %q", b)
	}
	*s = parsed
	return nil
}

// ParseStatus maps the wire name to a Status.
func ParseStatus(s string) (Status, bool) {
	for st := StatusActive; st <= StatusSuspended; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Policy is the read model of a policy owned by the policy manager.
// ClaimCount is 0 or 1: a policy pays out at most once in its lifetime.
type Policy struct {
	ID            uint64       `json:"policy_id"`
	Owner         uuid.UUID    `json:"owner"`
	CoverageType  CoverageType `json:"coverage_type"`
	InsuredValue  uint64       `json:"insured_value"`
	DeductibleBps uint16       `json:"deductible_bps"`
	Status        Status       `json:"status"`
	ClaimCount    uint8        `json:"claim_count"`
}

// Registry is the capability the claims ledger consumes from the policy manager.
type Registry interface {
	// Policy returns a copy of the policy terms.
	Policy(id uint64) (Policy, error)
	// MarkClaimed records claim finalization: claim_count += 1, status Claimed.
	// It must succeed for a policy that Policy returned with a claim count
	// below 255.
	MarkClaimed(id uint64) error
}

// MemoryRegistry is an in-process replica of the policy manager's records,
// fed by policy sync commands.
type MemoryRegistry struct {
	mu       sync.RWMutex
	policies map[uint64]*Policy

	// activeCoverage is the sum of insured values of Active policies.
	activeCoverage uint64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		policies: make(map[uint64]*Policy),
	}
}

// Upsert replaces the stored terms for p.ID.
func (r *MemoryRegistry) Upsert(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.policies[p.ID]; ok && old.Status == StatusActive {
		r.activeCoverage = fpmath.SaturatingSub(r.activeCoverage, old.InsuredValue)
	}
	cp := p
	r.policies[p.ID] = &cp
	if p.Status == StatusActive {
		r.activeCoverage = fpmath.SaturatingAdd(r.activeCoverage, p.InsuredValue)
	}
}

func (r *MemoryRegistry) Policy(id uint64) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[id]
	if !ok {
		return Policy{}, eris.Wrapf(errs.ErrPolicyNotFound, "policy %d", id)
	}
	return *p, nil
}

func (r *MemoryRegistry) MarkClaimed(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[id]
	if !ok {
		return eris.Wrapf(errs.ErrPolicyNotFound, "policy %d", id)
	}
	if p.ClaimCount == ^uint8(0) {
		return errs.ErrOverflow
	}
	if p.Status == StatusActive {
		r.activeCoverage = fpmath.SaturatingSub(r.activeCoverage, p.InsuredValue)
	}
	p.ClaimCount++
	p.Status = StatusClaimed
	return nil
}

// ActiveCoverage returns the pool's outstanding liability across Active policies.
func (r *MemoryRegistry) ActiveCoverage() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCoverage
}

// All returns copies of every stored policy (for checkpoints).
func (r *MemoryRegistry) All() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, *p)
	}
	return out
}
