package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// RecordKind names a persisted record family.
type RecordKind uint8

const (
	RecordPool RecordKind = iota
	RecordClaimsState
	RecordPosition
	RecordClaim
	RecordSnapshot
	RecordPolicy
)

func (k RecordKind) String() string {
	switch k {
	case RecordPool:
		return "pool"
	case RecordClaimsState:
		return "claims"
	case RecordPosition:
		return "position"
	case RecordClaim:
		return "claim"
	case RecordSnapshot:
		return "snapshot"
	case RecordPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// RecordKey deterministically addresses a persisted record from its owner
// identity and, where relevant, a sequence number (policy id, claim id or
// epoch). Claims are addressed by policy and claim id.
type RecordKey struct {
	Kind     RecordKind
	Owner    uuid.UUID
	Parent   uint64
	Sequence uint64
}

func PoolKey() RecordKey        { return RecordKey{Kind: RecordPool} }
func ClaimsStateKey() RecordKey { return RecordKey{Kind: RecordClaimsState} }

func PositionKey(owner uuid.UUID) RecordKey {
	return RecordKey{Kind: RecordPosition, Owner: owner}
}

func ClaimKey(policyID, claimID uint64) RecordKey {
	return RecordKey{Kind: RecordClaim, Parent: policyID, Sequence: claimID}
}

func SnapshotKey(epoch uint64) RecordKey {
	return RecordKey{Kind: RecordSnapshot, Sequence: epoch}
}

func PolicyKey(policyID uint64) RecordKey {
	return RecordKey{Kind: RecordPolicy, Sequence: policyID}
}

// Path is the storage key, e.g. "position:<uuid>" or "claim:7:12".
func (k RecordKey) Path() string {
	switch k.Kind {
	case RecordPool, RecordClaimsState:
		return k.Kind.String()
	case RecordPosition:
		return fmt.Sprintf("position:%s", k.Owner)
	case RecordClaim:
		return fmt.Sprintf("claim:%d:%d", k.Parent, k.Sequence)
	case RecordSnapshot, RecordPolicy:
		return fmt.Sprintf("%s:%d", k.Kind, k.Sequence)
	}
	return "unknown"
}
