package postgres

import (
	"database/sql"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
)

type checkpointTableModel struct {
	RunName       string         `db:"run_name"`
	RecordID      string         `db:"record_id"`
	Key           string         `db:"dedup_key"`
	Status        string         `db:"status"`
	Attempts      int            `db:"attempts"`
	LastError     sql.NullString `db:"last_error"`
	NextAttemptAt sql.NullTime   `db:"next_attempt_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func toCheckpointRow(e checkpoint.Entry) checkpointTableModel {
	return checkpointTableModel{
		RunName:       e.RunName,
		RecordID:      e.RecordID,
		Key:           e.Key,
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		LastError:     sql.NullString{String: e.LastError, Valid: e.LastError != ""},
		NextAttemptAt: sql.NullTime{Time: e.NextAttemptAt, Valid: !e.NextAttemptAt.IsZero()},
		UpdatedAt:     e.UpdatedAt,
	}
}
