package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	qb "github.com/miocrobos/habicht-directory/internal/platform/querybuilder"
)

// CheckpointRepository keeps run checkpoints next to the canonical tables so a
// resumed run and the data it wrote share one database.
type CheckpointRepository struct {
	db *sqlx.DB
}

func NewCheckpointRepository(db *sqlx.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

func (r *CheckpointRepository) Load(ctx context.Context, runName string) (map[string]checkpoint.Entry, error) {
	query, args, err := qb.Select(qb.ColumnsOf(checkpointTableModel{})...).
		From("reconcile_checkpoints").
		Where(qb.Eq("run_name", runName)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select checkpoints query: %w", err)
	}

	var rows []checkpointTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("select checkpoints run=%s: %w", runName, err))
	}

	out := make(map[string]checkpoint.Entry, len(rows))
	for _, row := range rows {
		status, err := checkpoint.ParseStatus(row.Status)
		if err != nil {
			return nil, fmt.Errorf("checkpoint run=%s record=%s: %w", runName, row.RecordID, err)
		}
		e := checkpoint.Entry{
			RunName:   row.RunName,
			RecordID:  row.RecordID,
			Key:       row.Key,
			Status:    status,
			Attempts:  row.Attempts,
			LastError: row.LastError.String,
			UpdatedAt: row.UpdatedAt,
		}
		if row.NextAttemptAt.Valid {
			e.NextAttemptAt = row.NextAttemptAt.Time
		}
		out[row.RecordID] = e
	}
	return out, nil
}

func (r *CheckpointRepository) Save(ctx context.Context, entries ...checkpoint.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ins := qb.InsertInto("reconcile_checkpoints").Columns(qb.ColumnsOf(checkpointTableModel{})...)
	for _, e := range entries {
		values, err := qb.ValuesOf(toCheckpointRow(e))
		if err != nil {
			return fmt.Errorf("checkpoint row run=%s record=%s: %w", e.RunName, e.RecordID, err)
		}
		ins.Values(values...)
	}
	query, args, err := ins.Suffix(`ON CONFLICT (run_name, record_id) DO UPDATE SET
    dedup_key = EXCLUDED.dedup_key,
    status = EXCLUDED.status,
    attempts = EXCLUDED.attempts,
    last_error = EXCLUDED.last_error,
    next_attempt_at = EXCLUDED.next_attempt_at,
    updated_at = EXCLUDED.updated_at`).ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert checkpoints query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Errorf("upsert %d checkpoint(s): %w", len(entries), err))
	}
	return nil
}

// Close is a no-op; the database handle belongs to the caller.
func (r *CheckpointRepository) Close() error {
	return nil
}
