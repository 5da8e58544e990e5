package query_test

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/core"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/policy"
	"CoverLedger/internal/pool"
	"CoverLedger/internal/query"
	"CoverLedger/internal/testutil"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	authority = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	manager   = uuid.MustParse("00000000-0000-0000-0000-00000000a002")
	assessor  = uuid.MustParse("00000000-0000-0000-0000-00000000a003")
	provider  = uuid.MustParse("00000000-0000-0000-0000-0000000011a1")
	customer  = uuid.MustParse("00000000-0000-0000-0000-0000000c0001")
)

type fixture struct {
	engine  *core.Engine
	db      *persistence.DB
	svc     *query.QueryService
	persist chan core.Output
	clock   *testutil.Clock
	n       int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	persist := make(chan core.Output, 256)
	e, err := core.NewEngine(core.Options{
		EnforcePayoutLimits: true,
		Logger:              zerolog.Nop(),
		PersistChan:         persist,
	})
	require.NoError(t, err)
	db := testutil.SetupSQLite(t)
	return &fixture{
		engine:  e,
		db:      db,
		svc:     query.NewQueryService(e, db),
		persist: persist,
		clock:   testutil.NewClock(),
	}
}

func (f *fixture) apply(t *testing.T, caller uuid.UUID, build func(event.Meta) event.Command) {
	t.Helper()
	f.n++
	meta := event.Meta{RequestID: fmt.Sprintf("req-%d", f.n), Caller: caller, Time: f.clock.Tick(time.Minute)}
	_, err := f.engine.Apply(build(meta))
	require.NoError(t, err)
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.apply(t, authority, func(m event.Meta) event.Command {
		return &event.InitializePool{Meta: m, PolicyManager: manager, LPFeeBps: 500}
	})
	f.apply(t, authority, func(m event.Meta) event.Command {
		return &event.InitializeClaims{Meta: m, Assessor: assessor, MaxAutoPayout: 10_000, DailyLimit: 50_000}
	})
	f.apply(t, provider, func(m event.Meta) event.Command {
		return &event.Deposit{Meta: m, Amount: 40_000, Asset: pool.AssetA}
	})
	f.apply(t, manager, func(m event.Meta) event.Command {
		return &event.RecordPremium{Meta: m, Amount: 2_000}
	})
	f.apply(t, authority, func(m event.Meta) event.Command {
		return &event.RecordInterestSnapshot{Meta: m, Epoch: 1, RateBps: 250, Accrued: 120}
	})
	f.apply(t, manager, func(m event.Meta) event.Command {
		return &event.SyncPolicy{Meta: m, Policy: policy.Policy{
			ID: 4, Owner: customer, CoverageType: policy.CoverageTheftOnly, InsuredValue: 3000, Status: policy.StatusActive,
		}}
	})
	f.apply(t, customer, func(m event.Meta) event.Command {
		return &event.SubmitClaim{Meta: m, PolicyID: 4, ClaimType: claims.TypeTheft, ClaimedAmount: 1000}
	})
}

// flush persists every output emitted so far.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	close(f.persist)
	w := persistence.NewPersistenceWorker(f.db, f.persist, 10, time.Hour, nil, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))
}

// ============================================================================
// Test: Live state
// ============================================================================

func TestQuery_UninitializedPool(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetPool(context.Background())
	assert.True(t, errors.Is(err, errs.ErrNotInitialized))

	_, err = f.svc.GetClaimStats(context.Background())
	assert.True(t, errors.Is(err, errs.ErrNotInitialized))
}

func TestQuery_Pool(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	p, err := f.svc.GetPool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(40_000), p.CapitalA)
	assert.Equal(t, uint64(42_120), p.PoolValue)
	assert.Equal(t, uint16(10_000), p.CurrentRatioBps, "no SCR reads as fully covered")
	assert.Equal(t, uint16(500), p.WithdrawalFeeBps)
	assert.Equal(t, uint64(3000), p.ActiveCoverage)
	assert.Equal(t, int64(6), p.AsOfSequence)
}

func TestQuery_Position(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	pos, err := f.svc.GetPosition(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, uint64(40_000), pos.Shares)
	assert.Equal(t, uint64(42_120), pos.ShareValue, "sole provider owns the whole pool value")

	_, err = f.svc.GetPosition(context.Background(), customer)
	assert.True(t, errors.Is(err, errs.ErrPositionNotFound))
}

func TestQuery_Claims(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	c, err := f.svc.GetClaim(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), c.PolicyID)
	assert.Equal(t, claims.StatusSubmitted, c.Status)

	_, err = f.svc.GetClaim(ctx, 99)
	assert.True(t, errors.Is(err, errs.ErrClaimNotFound))

	submitted := claims.StatusSubmitted
	list, err := f.svc.ListClaims(ctx, &submitted, 0)
	require.NoError(t, err)
	assert.Len(t, list.Claims, 1)

	paid := claims.StatusPaid
	list, err = f.svc.ListClaims(ctx, &paid, 0)
	require.NoError(t, err)
	assert.Empty(t, list.Claims)

	stats, err := f.svc.GetClaimStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalClaims)
	assert.Equal(t, map[string]int{"Submitted": 1}, stats.ByStatus)
}

func TestQuery_SnapshotsAndPolicy(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	snaps, err := f.svc.ListSnapshots(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, snaps.Snapshots, 1)
	assert.Equal(t, uint64(120), snaps.Snapshots[0].Accrued)

	snaps, err = f.svc.ListSnapshots(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, snaps.Snapshots)

	p, err := f.svc.GetPolicy(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, customer, p.Owner)

	_, err = f.svc.GetPolicy(ctx, 5)
	assert.True(t, errors.Is(err, errs.ErrPolicyNotFound))
}

// ============================================================================
// Test: Persisted history
// ============================================================================

func TestQuery_JournalHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.flush(t)

	entries, err := f.svc.GetJournalHistory(context.Background(), "system:capital:", 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deposit", entries[0].JournalType)
	assert.Equal(t, int64(40_000), entries[0].Amount)
	assert.Equal(t, int64(2), entries[0].Sequence)

	before := int64(2)
	entries, err = f.svc.GetJournalHistory(context.Background(), "system:", 0, &before)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQuery_VerifyIntegrity_Healthy(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.flush(t)

	report, err := f.svc.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Equal(t, int64(6), report.PersistedSeq)
}

func TestQuery_VerifyIntegrity_DetectsBreaks(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.flush(t)

	_, err := f.db.Exec(`DELETE FROM audit_envelopes WHERE sequence = 3`)
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE journal_entries SET amount = 39000 WHERE journal_type = 'deposit'`)
	require.NoError(t, err)

	report, err := f.svc.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{4}, report.HashChainBreaks, "gap at 3 breaks the link into 4")
	require.Len(t, report.CapitalDrift, 1)
	assert.Equal(t, "USDC", report.CapitalDrift[0].Asset)
	assert.Equal(t, int64(39_000), report.CapitalDrift[0].Journaled)
}
