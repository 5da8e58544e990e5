package persistence

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/pool"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	gomath "math"
	"strings"

	"github.com/rotisserie/eris"
)

// AuditWriter writes envelopes and journals using multi-row INSERTs.
// Every insert is ON CONFLICT DO NOTHING so a retried batch is harmless.
type AuditWriter struct {
	db *DB
}

// EnvelopeRow represents a row in audit_envelopes.
type EnvelopeRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Caller         string
	Inputs         string
	Result         string
	StateHash      []byte
	PrevHash       []byte
	OccurredAt     int64 // epoch microseconds
}

// JournalRow represents a row in journal_entries.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
	OccurredAt    int64
}

// SnapshotRow represents a row in interest_snapshots.
type SnapshotRow struct {
	Epoch      int64
	Sequence   int64
	RateBps    uint16
	Data       string
	RecordedAt int64
}

// Rows is one core output flattened into table rows.
type Rows struct {
	Envelope  EnvelopeRow
	Journals  []JournalRow
	Snapshots []SnapshotRow
}

func NewAuditWriter(db *DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// RowsFromOutput flattens a core output.
func RowsFromOutput(out core.Output) (Rows, error) {
	env := out.Envelope
	if env == nil {
		return Rows{}, eris.New("core output without envelope")
	}

	rows := Rows{Envelope: EnvelopeRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.String(),
		Inputs:         string(env.Payload),
		Result:         string(env.Result),
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		OccurredAt:     env.Timestamp.UnixMicro(),
	}}

	for _, b := range out.Batches {
		for _, j := range b.Journals {
			rows.Journals = append(rows.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				OccurredAt:    j.Timestamp,
			})
		}
	}

	if env.CommandType == event.CommandTypeRecordInterestSnapshot {
		snap, err := snapshotFromResult(env)
		if err != nil {
			return Rows{}, err
		}
		rows.Snapshots = append(rows.Snapshots, snap)
	}

	return rows, nil
}

func snapshotFromResult(env *event.Envelope) (SnapshotRow, error) {
	var result struct {
		Snapshot pool.InterestSnapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return SnapshotRow{}, eris.Wrapf(err, "decode snapshot result at sequence %d", env.Sequence)
	}
	if result.Snapshot.Epoch > gomath.MaxInt64 {
		return SnapshotRow{}, eris.Errorf("epoch %d out of range", result.Snapshot.Epoch)
	}
	data, err := json.Marshal(result.Snapshot)
	if err != nil {
		return SnapshotRow{}, eris.Wrap(err, "encode snapshot")
	}
	return SnapshotRow{
		Epoch:      int64(result.Snapshot.Epoch),
		Sequence:   env.Sequence,
		RateBps:    result.Snapshot.RateBps,
		Data:       string(data),
		RecordedAt: result.Snapshot.Timestamp,
	}, nil
}

// WriteEnvelopeBatch writes envelopes with a multi-row INSERT.
func (w *AuditWriter) WriteEnvelopeBatch(ctx context.Context, tx *sql.Tx, envelopes []EnvelopeRow) error {
	if len(envelopes) == 0 {
		return nil
	}

	args := make([]any, 0, len(envelopes)*9)
	for _, e := range envelopes {
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.Caller,
			e.Inputs, e.Result, e.StateHash, e.PrevHash, e.OccurredAt,
		)
	}

	query := `INSERT INTO audit_envelopes
		(sequence, command_type, idempotency_key, caller, inputs, result, state_hash, prev_hash, occurred_at)
		VALUES ` + valuesClause(len(envelopes), 9) + ` ON CONFLICT (sequence) DO NOTHING`

	_, err := w.db.exec(ctx, tx, query, args...)
	return err
}

// WriteJournalBatch writes journal entries with a multi-row INSERT.
func (w *AuditWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]any, 0, len(journals)*10)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, int64(j.AssetID), j.Amount,
			j.JournalType, j.OccurredAt,
		)
	}

	query := `INSERT INTO journal_entries
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, occurred_at)
		VALUES ` + valuesClause(len(journals), 10) + ` ON CONFLICT (journal_id) DO NOTHING`

	_, err := w.db.exec(ctx, tx, query, args...)
	return err
}

// WriteSnapshotBatch records interest snapshots; the epoch key is unique.
func (w *AuditWriter) WriteSnapshotBatch(ctx context.Context, tx *sql.Tx, snaps []SnapshotRow) error {
	if len(snaps) == 0 {
		return nil
	}

	args := make([]any, 0, len(snaps)*5)
	for _, s := range snaps {
		args = append(args, s.Epoch, s.Sequence, int64(s.RateBps), s.Data, s.RecordedAt)
	}

	query := `INSERT INTO interest_snapshots
		(epoch, sequence, rate_bps, data, recorded_at)
		VALUES ` + valuesClause(len(snaps), 5) + ` ON CONFLICT (epoch) DO NOTHING`

	_, err := w.db.exec(ctx, tx, query, args...)
	return err
}

// valuesClause renders "($1, $2), ($3, $4)" for rows x cols placeholders.
func valuesClause(rows, cols int) string {
	var sb strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+c+1)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
