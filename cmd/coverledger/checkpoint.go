package main

import (
	"CoverLedger/internal/config"
	"CoverLedger/internal/core"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// errCheckpointAhead means the audit log has not caught up with the engine.
// A checkpoint past the persisted tail could not be replayed onto.
var errCheckpointAhead = eris.New("checkpoint ahead of persisted audit log")

// takeCheckpoint captures the engine state and stores it, provided every
// envelope up to the checkpoint sequence is already on disk.
func takeCheckpoint(
	ctx context.Context,
	engine *core.Engine,
	store *persistence.CheckpointStore,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	cp := engine.CreateCheckpoint()
	if cp.Sequence < 0 {
		return nil
	}

	persisted, err := store.GetLatestSequence(ctx)
	if err != nil {
		return eris.Wrap(err, "latest persisted sequence")
	}
	if persisted < cp.Sequence {
		return eris.Wrapf(errCheckpointAhead, "checkpoint %d, persisted %d", cp.Sequence, persisted)
	}

	if _, err := store.SaveCheckpoint(ctx, cp, time.Now().UTC()); err != nil {
		return eris.Wrap(err, "save checkpoint")
	}

	if metrics != nil {
		metrics.CheckpointTaken.Inc()
		metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
		metrics.CheckpointLastSeq.Set(float64(cp.Sequence))
	}
	return nil
}

// bootstrap initializes the pool and the claims ledger on first start when
// an authority is configured. Request IDs are fixed, so a restart that
// replays the log sees them as duplicates.
func bootstrap(engine *core.Engine, cfg config.BootstrapConfig, logger zerolog.Logger) error {
	authority, policyManager, assessor, ok := cfg.Identities()
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	meta := func(id string) event.Meta {
		return event.Meta{RequestID: id, Caller: authority, Time: now}
	}

	cmds := []event.Command{
		&event.InitializePool{
			Meta:          meta("bootstrap-initialize-pool"),
			PolicyManager: policyManager,
			LPFeeBps:      cfg.LPFeeBps,
		},
		&event.InitializeClaims{
			Meta:          meta("bootstrap-initialize-claims"),
			Assessor:      assessor,
			MaxAutoPayout: cfg.MaxAutoPayout,
			DailyLimit:    cfg.DailyLimit,
		},
	}
	for _, cmd := range cmds {
		receipt, err := engine.Apply(cmd)
		switch {
		case errors.Is(err, errs.ErrAlreadyInitialized):
			continue
		case err != nil:
			return eris.Wrapf(err, "%s", cmd.CommandType())
		case !receipt.Duplicate:
			logger.Info().Str("operation", cmd.CommandType().String()).Int64("sequence", receipt.Sequence).Msg("bootstrapped")
		}
	}
	return nil
}
