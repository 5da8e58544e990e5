package core

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"sort"
)

// BalanceEntry is one tracked account balance.
type BalanceEntry struct {
	Account ledger.AccountKey `json:"account"`
	Path    string            `json:"path"`
	Balance int64             `json:"balance"`
}

// Checkpoint is the serializable in-memory state. Restoring one and
// replaying later envelopes reproduces the live engine.
type Checkpoint struct {
	// Sequence is the last applied sequence; -1 before any command.
	Sequence  int64      `json:"sequence"`
	StateHash event.Hash `json:"state_hash"`

	PoolInitialized bool                    `json:"pool_initialized"`
	Pool            pool.State              `json:"pool"`
	Positions       []pool.Position         `json:"positions"`
	Snapshots       []pool.InterestSnapshot `json:"interest_snapshots"`

	ClaimsInitialized bool           `json:"claims_initialized"`
	ClaimsState       claims.State   `json:"claims_state"`
	Claims            []claims.Claim `json:"claims"`

	Policies []policy.Policy `json:"policies"`
	Balances []BalanceEntry  `json:"balances"`

	// IdempotencyKeys are composite keys, oldest first.
	IdempotencyKeys []string `json:"idempotency_keys"`
}

// CreateCheckpoint captures the current in-memory state for persistence.
func (e *Engine) CreateCheckpoint() *Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := e.tracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for k, v := range balances {
		entries = append(entries, BalanceEntry{Account: k, Path: k.AccountPath(), Balance: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	policies := e.registry.All()
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })

	return &Checkpoint{
		Sequence:          e.sequence - 1,
		StateHash:         e.hasher.GetPrevHash(),
		PoolInitialized:   e.pool.Initialized(),
		Pool:              e.pool.State(),
		Positions:         e.pool.Positions(),
		Snapshots:         e.pool.Snapshots(),
		ClaimsInitialized: e.claims.Initialized(),
		ClaimsState:       e.claims.State(),
		Claims:            e.claims.Claims(),
		Policies:          policies,
		Balances:          entries,
		IdempotencyKeys:   e.idempotency.Keys(),
	}
}

// RestoreCheckpoint replaces the engine's state with cp. Call before the
// engine starts receiving commands.
func (e *Engine) RestoreCheckpoint(cp *Checkpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = cp.Sequence + 1
	e.hasher.SetPrevHash(cp.StateHash)

	if cp.PoolInitialized {
		e.pool.Restore(cp.Pool, cp.Positions, cp.Snapshots)
	}
	for _, p := range cp.Policies {
		e.registry.Upsert(p)
	}
	if cp.ClaimsInitialized {
		e.claims.Restore(cp.ClaimsState, cp.Claims)
	}

	balances := make(map[ledger.AccountKey]int64, len(cp.Balances))
	for _, b := range cp.Balances {
		balances[b.Account] = b.Balance
	}
	e.tracker.Restore(balances)

	e.idempotency.Warm(cp.IdempotencyKeys)
}

// WarmIdempotency loads recent composite keys into the LRU.
func (e *Engine) WarmIdempotency(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.Warm(keys)
}
