package postgres

import (
	"time"

	qb "github.com/miocrobos/habicht-directory/internal/platform/querybuilder"
)

type clubTableModel struct {
	ID         int64     `db:"id"`
	Key        string    `db:"dedup_key"`
	Name       string    `db:"name"`
	Canton     string    `db:"canton"`
	Town       string    `db:"town"`
	Website    string    `db:"website"`
	Logo       string    `db:"logo"`
	Provenance []byte    `db:"provenance"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type clubFlagTableModel struct {
	ClubID int64  `db:"club_id"`
	Level  string `db:"level"`
	Gender string `db:"gender"`
}

type clubAliasTableModel struct {
	Alias  string `db:"alias"`
	ClubID int64  `db:"club_id"`
}

type clubConflictTableModel struct {
	ClubID         int64     `db:"club_id"`
	Key            string    `db:"dedup_key"`
	Field          string    `db:"field"`
	KeptValue      string    `db:"kept_value"`
	KeptSource     string    `db:"kept_source"`
	RejectedValue  string    `db:"rejected_value"`
	RejectedSource string    `db:"rejected_source"`
	Rank           string    `db:"rank"`
	RunID          string    `db:"run_id"`
	DetectedAt     time.Time `db:"detected_at"`
}

var (
	clubColumns     = qb.ColumnsOf(clubTableModel{})
	conflictColumns = qb.ColumnsOf(clubConflictTableModel{})
)
