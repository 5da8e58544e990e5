package persistence

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to SQL.
// The core sends to it with a blocking send, so if this worker falls behind
// the core stalls and no envelope is lost.
type PersistenceWorker struct {
	db            *DB
	writer        *AuditWriter
	inputChan     <-chan core.Output
	batchSize     int
	flushInterval time.Duration
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

func NewPersistenceWorker(
	db *DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushInterval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:            db,
		writer:        NewAuditWriter(db),
		inputChan:     inputChan,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       metrics,
		logger:        logger,
	}
}

// pending accumulates rows between flushes.
type pending struct {
	envelopes []EnvelopeRow
	journals  []JournalRow
	snapshots []SnapshotRow
}

func (p *pending) add(r Rows) {
	p.envelopes = append(p.envelopes, r.Envelope)
	p.journals = append(p.journals, r.Journals...)
	p.snapshots = append(p.snapshots, r.Snapshots...)
}

func (p *pending) reset() {
	p.envelopes = p.envelopes[:0]
	p.journals = p.journals[:0]
	p.snapshots = p.snapshots[:0]
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush interval expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{
		envelopes: make([]EnvelopeRow, 0, pw.batchSize),
		journals:  make([]JournalRow, 0, pw.batchSize*2),
	}

	ticker := time.NewTicker(pw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.envelopes) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.envelopes) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						return eris.Wrap(err, "final flush")
					}
				}
				return nil
			}

			rows, err := RowsFromOutput(output)
			if err != nil {
				// The envelope is already committed in memory; losing it
				// would break the hash chain on disk.
				panic("FATAL: " + err.Error())
			}
			batch.add(rows)

			if len(batch.envelopes) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
			}

		case <-ticker.C:
			if len(batch.envelopes) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("interval flush failed after retries")
				}
				batch.reset()
			}
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one final attempt is made.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("envelopes", len(batch.envelopes)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return eris.Wrap(err, "final flush on shutdown")
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Error().Err(err).Msg("persistence flush failed")

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEnvelopeBatch(ctx, tx, batch.envelopes); err != nil {
		pw.countError("write_envelopes")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.WriteSnapshotBatch(ctx, tx, batch.snapshots); err != nil {
		pw.countError("write_snapshots")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistEnvelopesWritten.Add(float64(len(batch.envelopes)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(batch.envelopes[len(batch.envelopes)-1].Sequence))
		pw.metrics.ChannelSize.WithLabelValues("persist").Set(float64(len(pw.inputChan)))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
