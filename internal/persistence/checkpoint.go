package persistence

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// CheckpointStore saves and loads engine checkpoints and the per-record
// state projection derived from them.
type CheckpointStore struct {
	db *DB
}

func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// StateRecord is one row of state_records.
type StateRecord struct {
	Key      string
	Kind     string
	Sequence int64
	Data     json.RawMessage
}

// SaveCheckpoint persists cp and refreshes state_records in one transaction.
// Saving the same sequence twice replaces the earlier row.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp *core.Checkpoint, createdAt time.Time) (int, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return 0, eris.Wrap(err, "marshal checkpoint")
	}

	records, err := StateRecords(cp)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "begin checkpoint tx")
	}
	defer tx.Rollback()

	if _, err := s.db.exec(ctx, tx, `
		INSERT INTO checkpoints (sequence, state_hash, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET state_hash = $2, data = $3, size_bytes = $4, created_at = $5
	`, cp.Sequence, cp.StateHash[:], string(data), len(data), createdAt.UnixMicro()); err != nil {
		return 0, eris.Wrap(err, "insert checkpoint")
	}

	for _, r := range records {
		if _, err := s.db.exec(ctx, tx, `
			INSERT INTO state_records (record_key, kind, sequence, data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (record_key) DO UPDATE SET kind = $2, sequence = $3, data = $4
		`, r.Key, r.Kind, r.Sequence, string(r.Data)); err != nil {
			return 0, eris.Wrapf(err, "upsert state record %s", r.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "commit checkpoint")
	}
	return len(data), nil
}

// StateRecords explodes a checkpoint into keyed records.
func StateRecords(cp *core.Checkpoint) ([]StateRecord, error) {
	var out []StateRecord
	add := func(key ledger.RecordKey, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "encode %s", key.Path())
		}
		out = append(out, StateRecord{Key: key.Path(), Kind: key.Kind.String(), Sequence: cp.Sequence, Data: data})
		return nil
	}

	if cp.PoolInitialized {
		if err := add(ledger.PoolKey(), cp.Pool); err != nil {
			return nil, err
		}
	}
	if cp.ClaimsInitialized {
		if err := add(ledger.ClaimsStateKey(), cp.ClaimsState); err != nil {
			return nil, err
		}
	}
	for _, p := range cp.Positions {
		if err := add(ledger.PositionKey(p.Owner), p); err != nil {
			return nil, err
		}
	}
	for _, c := range cp.Claims {
		if err := add(ledger.ClaimKey(c.PolicyID, c.ID), c); err != nil {
			return nil, err
		}
	}
	for _, snap := range cp.Snapshots {
		if err := add(ledger.SnapshotKey(snap.Epoch), snap); err != nil {
			return nil, err
		}
	}
	for _, p := range cp.Policies {
		if err := add(ledger.PolicyKey(p.ID), p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LoadLatestCheckpoint returns the newest checkpoint, or nil on a cold start.
func (s *CheckpointStore) LoadLatestCheckpoint(ctx context.Context) (*core.Checkpoint, error) {
	var data string
	err := s.db.queryRow(ctx, `
		SELECT data FROM checkpoints ORDER BY sequence DESC LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "load checkpoint")
	}

	var cp core.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, eris.Wrap(err, "unmarshal checkpoint")
	}
	return &cp, nil
}

// LoadRecord returns the stored state record for key.
func (s *CheckpointStore) LoadRecord(ctx context.Context, key ledger.RecordKey) (StateRecord, error) {
	var r StateRecord
	var data string
	err := s.db.queryRow(ctx, `
		SELECT record_key, kind, sequence, data FROM state_records WHERE record_key = $1
	`, key.Path()).Scan(&r.Key, &r.Kind, &r.Sequence, &data)
	if err != nil {
		return StateRecord{}, eris.Wrapf(err, "load record %s", key.Path())
	}
	r.Data = json.RawMessage(data)
	return r, nil
}

// LoadEnvelopesFrom loads envelopes with sequence >= fromSequence for replay.
func (s *CheckpointStore) LoadEnvelopesFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.Envelope, error) {
	rows, err := s.db.query(ctx, `
		SELECT sequence, command_type, idempotency_key, caller, inputs, result,
		       state_hash, prev_hash, occurred_at
		FROM audit_envelopes
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*event.Envelope
	for rows.Next() {
		var (
			env                 event.Envelope
			commandType, caller string
			inputs, result      string
			stateHash, prevHash []byte
			occurredAt          int64
		)
		if err := rows.Scan(
			&env.Sequence, &commandType, &env.IdempotencyKey, &caller, &inputs, &result,
			&stateHash, &prevHash, &occurredAt,
		); err != nil {
			return nil, err
		}
		if err := env.CommandType.UnmarshalText([]byte(commandType)); err != nil {
			return nil, err
		}
		if env.Caller, err = uuid.Parse(caller); err != nil {
			return nil, eris.Wrapf(err, "caller at sequence %d", env.Sequence)
		}
		env.Payload = json.RawMessage(inputs)
		env.Result = json.RawMessage(result)
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)
		env.Timestamp = time.UnixMicro(occurredAt).UTC()
		out = append(out, &env)
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest persisted sequence, or -1 when the
// audit log is empty.
func (s *CheckpointStore) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.queryRow(ctx, `SELECT MAX(sequence) FROM audit_envelopes`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// RecentIdempotencyKeys returns composite keys of the newest envelopes,
// oldest first, for warming the in-memory dedup cache.
func (s *CheckpointStore) RecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.query(ctx, `
		SELECT command_type, idempotency_key FROM audit_envelopes
		ORDER BY sequence DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, key string
		if err := rows.Scan(&op, &key); err != nil {
			return nil, err
		}
		keys = append(keys, op+":"+key)
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, rows.Err()
}
