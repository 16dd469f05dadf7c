package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
)

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// classify marks driver errors so use cases can tell a dead connection from
// lock contention or a constraint violation.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code.Class() == "53":
			return crerr.Mark(err, club.ErrStoreConnectivity)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "55P03":
			return crerr.Mark(err, club.ErrStoreContention)
		case pqErr.Code.Class() == "23":
			return crerr.Mark(err, club.ErrConstraintViolation)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return crerr.Mark(err, club.ErrStoreConnectivity)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return crerr.Mark(err, club.ErrStoreConnectivity)
	}
	return err
}

// ReferenceColumn is a foreign column holding a club id that merges must
// repoint, e.g. players.current_club_id.
type ReferenceColumn struct {
	Table  string
	Column string
}

func (c ReferenceColumn) String() string {
	return c.Table + "." + c.Column
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ParseReferenceColumns reads a comma separated "table.column" list.
func ParseReferenceColumns(v string) ([]ReferenceColumn, error) {
	var out []ReferenceColumn
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		table, column, ok := strings.Cut(part, ".")
		if !ok || !identifierPattern.MatchString(table) || !identifierPattern.MatchString(column) {
			return nil, fmt.Errorf("invalid reference column %q, expected table.column", part)
		}
		out = append(out, ReferenceColumn{Table: table, Column: column})
	}
	return out, nil
}

func prefixed(alias string, columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, alias+"."+c)
	}
	return out
}

// withTx runs fn inside a transaction and classifies whatever fails.
func withTx(ctx context.Context, db *sqlx.DB, name string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx for %s: %w", name, err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit %s tx: %w", name, err))
	}
	return nil
}
