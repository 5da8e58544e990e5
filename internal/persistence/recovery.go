package persistence

import (
	"CoverLedger/internal/core"
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryResult summarizes a warm or cold start.
type RecoveryResult struct {
	CheckpointSequence int64
	Replayed           int
	LastSequence       int64
}

// Recover restores the latest checkpoint into engine, then replays every
// envelope persisted after it. With no checkpoint the whole log is replayed.
func Recover(ctx context.Context, store *CheckpointStore, engine *core.Engine, logger zerolog.Logger) (RecoveryResult, error) {
	res := RecoveryResult{CheckpointSequence: -1, LastSequence: -1}

	cp, err := store.LoadLatestCheckpoint(ctx)
	if err != nil {
		return res, err
	}
	if cp != nil {
		engine.RestoreCheckpoint(cp)
		res.CheckpointSequence = cp.Sequence
		res.LastSequence = cp.Sequence
		logger.Info().Int64("sequence", cp.Sequence).Msg("restored checkpoint")
	}

	from := res.CheckpointSequence + 1
	for {
		envelopes, err := store.LoadEnvelopesFrom(ctx, from, replayPageSize)
		if err != nil {
			return res, eris.Wrapf(err, "load envelopes from %d", from)
		}
		for _, env := range envelopes {
			if err := engine.Replay(env); err != nil {
				return res, err
			}
			res.Replayed++
			res.LastSequence = env.Sequence
		}
		if len(envelopes) < replayPageSize {
			break
		}
		from = res.LastSequence + 1
	}

	if res.Replayed > 0 {
		logger.Info().Int("replayed", res.Replayed).Int64("last_sequence", res.LastSequence).Msg("replayed audit log")
	}
	return res, nil
}
