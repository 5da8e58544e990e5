package query

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// DefaultLimit caps list queries that do not pass a limit.
const DefaultLimit = 100

// StateReader is the read surface of the core engine.
type StateReader interface {
	PoolState() (pool.State, bool)
	Position(owner uuid.UUID) (pool.Position, bool)
	InterestSnapshots() []pool.InterestSnapshot
	ClaimsState() (claims.State, bool)
	Claim(id uint64) (claims.Claim, error)
	Claims() []claims.Claim
	ClaimCounts() map[claims.Status]int
	Policy(id uint64) (policy.Policy, error)
	ActiveCoverage() uint64
	GetSequence() int64
}

// QueryService provides read-only access for the HTTP and gRPC surfaces.
// Live records come from the engine; journal history and integrity checks
// read the persisted audit log. All responses include as_of_sequence.
type QueryService struct {
	state StateReader
	db    *persistence.DB
	store *persistence.CheckpointStore
}

func NewQueryService(state StateReader, db *persistence.DB) *QueryService {
	return &QueryService{
		state: state,
		db:    db,
		store: persistence.NewCheckpointStore(db),
	}
}

// asOf is the sequence of the last applied command, -1 before the first.
func (qs *QueryService) asOf() int64 {
	return qs.state.GetSequence() - 1
}

// GetPool returns the pool record with derived solvency values.
func (qs *QueryService) GetPool(ctx context.Context) (*PoolResponse, error) {
	s, ok := qs.state.PoolState()
	if !ok {
		return nil, errs.ErrNotInitialized
	}
	value, err := s.PoolValue()
	if err != nil {
		return nil, eris.Wrap(err, "pool value")
	}
	ratio := pool.CoverageRatio(s)
	return &PoolResponse{
		State:            s,
		PoolValue:        value,
		CurrentRatioBps:  ratio,
		WithdrawalFeeBps: pool.WithdrawalFeeBps(ratio),
		ActiveCoverage:   qs.state.ActiveCoverage(),
		AsOfSequence:     qs.asOf(),
	}, nil
}

// GetPosition returns an LP position and the value of its shares.
func (qs *QueryService) GetPosition(ctx context.Context, owner uuid.UUID) (*PositionResponse, error) {
	pos, ok := qs.state.Position(owner)
	if !ok {
		return nil, errs.ErrPositionNotFound
	}
	resp := &PositionResponse{Position: pos, AsOfSequence: qs.asOf()}

	s, _ := qs.state.PoolState()
	if s.TotalShares > 0 {
		value, err := s.PoolValue()
		if err != nil {
			return nil, eris.Wrap(err, "pool value")
		}
		if resp.ShareValue, err = fpmath.MulDiv(pos.Shares, value, s.TotalShares); err != nil {
			return nil, eris.Wrap(err, "share value")
		}
	}
	return resp, nil
}

func (qs *QueryService) GetClaim(ctx context.Context, id uint64) (*ClaimResponse, error) {
	c, err := qs.state.Claim(id)
	if err != nil {
		return nil, err
	}
	return &ClaimResponse{Claim: c, AsOfSequence: qs.asOf()}, nil
}

// ListClaims returns claims in ID order, optionally filtered by status.
func (qs *QueryService) ListClaims(ctx context.Context, status *claims.Status, limit int) (*ClaimListResponse, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	resp := &ClaimListResponse{Claims: []claims.Claim{}, AsOfSequence: qs.asOf()}
	for _, c := range qs.state.Claims() {
		if status != nil && c.Status != *status {
			continue
		}
		resp.Claims = append(resp.Claims, c)
		if len(resp.Claims) == limit {
			break
		}
	}
	return resp, nil
}

// GetClaimStats returns the claims counters and limits.
func (qs *QueryService) GetClaimStats(ctx context.Context) (*ClaimStatsResponse, error) {
	s, ok := qs.state.ClaimsState()
	if !ok {
		return nil, errs.ErrNotInitialized
	}
	byStatus := make(map[string]int)
	for st, n := range qs.state.ClaimCounts() {
		byStatus[st.String()] = n
	}
	return &ClaimStatsResponse{State: s, ByStatus: byStatus, AsOfSequence: qs.asOf()}, nil
}

// ListSnapshots returns interest snapshots with epoch > afterEpoch in
// ascending epoch order.
func (qs *QueryService) ListSnapshots(ctx context.Context, afterEpoch uint64, limit int) (*SnapshotListResponse, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	resp := &SnapshotListResponse{Snapshots: []pool.InterestSnapshot{}, AsOfSequence: qs.asOf()}
	for _, s := range qs.state.InterestSnapshots() {
		if s.Epoch <= afterEpoch {
			continue
		}
		resp.Snapshots = append(resp.Snapshots, s)
		if len(resp.Snapshots) == limit {
			break
		}
	}
	return resp, nil
}

func (qs *QueryService) GetPolicy(ctx context.Context, id uint64) (*PolicyResponse, error) {
	p, err := qs.state.Policy(id)
	if err != nil {
		return nil, err
	}
	return &PolicyResponse{Policy: p, AsOfSequence: qs.asOf()}, nil
}

// GetJournalHistory returns persisted journal entries touching any account
// whose path starts with accountPrefix, newest first, with cursor pagination
// on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, occurred_at
		FROM journal_entries
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix + "%"}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, qs.db.Rebind(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "journal history")
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain for breaks and gaps, and,
// once persistence has caught up with the engine, that journaled capital
// matches the live pool record per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{AsOfSequence: qs.asOf()}

	persisted, err := qs.store.GetLatestSequence(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "latest sequence")
	}
	report.PersistedSeq = persisted

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM audit_envelopes e1
		LEFT JOIN audit_envelopes e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, eris.Wrap(err, "hash chain")
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s, ok := qs.state.PoolState(); ok && persisted == report.AsOfSequence {
		for _, a := range []pool.Asset{pool.AssetA, pool.AssetB} {
			path := ledger.NewSystemAccountKey(ledger.SubTypeSystemCapital, ledger.AssetIDFor(a)).AccountPath()
			journaled, err := qs.accountBalance(ctx, path)
			if err != nil {
				return nil, err
			}
			if live := s.Capital(a); journaled < 0 || uint64(journaled) != live {
				report.CapitalDrift = append(report.CapitalDrift, CapitalMismatch{
					Asset:     a.String(),
					Journaled: journaled,
					Live:      live,
				})
			}
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.CapitalDrift) == 0
	return report, nil
}

// --- helpers ---

// accountBalance sums debits minus credits for one account path.
func (qs *QueryService) accountBalance(ctx context.Context, path string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, qs.db.Rebind(`
		SELECT COALESCE(SUM(CASE WHEN debit_account = $1 THEN amount ELSE -amount END), 0)
		FROM journal_entries
		WHERE debit_account = $1 OR credit_account = $1
	`), path).Scan(&balance)
	if err != nil {
		return 0, eris.Wrapf(err, "balance %s", path)
	}
	return balance, nil
}
