package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	qb "github.com/miocrobos/habicht-directory/internal/platform/querybuilder"
)

type ClubRepository struct {
	db         *sqlx.DB
	references []ReferenceColumn
}

// NewClubRepository builds the store. references lists every foreign column
// that MergeInto repoints from the loser to the survivor.
func NewClubRepository(db *sqlx.DB, references ...ReferenceColumn) *ClubRepository {
	return &ClubRepository{db: db, references: references}
}

func (r *ClubRepository) GetByID(ctx context.Context, id int64) (club.Club, bool, error) {
	c, found, err := r.getOne(ctx, r.db, qb.Select(clubColumns...).From("clubs").Where(qb.Eq("id", id)))
	if err != nil || found {
		return c, found, err
	}

	// Redirects are retargeted on every merge, so one hop is enough.
	var target int64
	query, args, err := qb.Select("club_id").From("club_redirects").Where(qb.Eq("old_id", id)).ToSQL()
	if err != nil {
		return club.Club{}, false, fmt.Errorf("build select club redirect query: %w", err)
	}
	if err := r.db.GetContext(ctx, &target, query, args...); err != nil {
		if isNotFound(err) {
			return club.Club{}, false, nil
		}
		return club.Club{}, false, classify(fmt.Errorf("select club redirect id=%d: %w", id, err))
	}
	return r.getOne(ctx, r.db, qb.Select(clubColumns...).From("clubs").Where(qb.Eq("id", target)))
}

func (r *ClubRepository) FindByKey(ctx context.Context, key string) (club.Club, bool, error) {
	return r.getOne(ctx, r.db, qb.Select(clubColumns...).From("clubs").Where(qb.Eq("dedup_key", key)))
}

func (r *ClubRepository) FindByAlias(ctx context.Context, alias string) (club.Club, bool, error) {
	c, found, err := r.getOne(ctx, r.db, qb.Select(prefixed("c", clubColumns)...).
		From("clubs c JOIN club_aliases a ON a.club_id = c.id").
		Where(qb.Eq("a.alias", alias)))
	if err != nil || found {
		return c, found, err
	}
	return r.getOne(ctx, r.db, qb.Select(clubColumns...).From("clubs").Where(qb.Eq("name", alias)))
}

func (r *ClubRepository) ListByLeague(ctx context.Context, level league.Level, gender league.Gender) ([]club.Club, error) {
	return r.list(ctx, r.db, qb.Select(prefixed("c", clubColumns)...).
		From("clubs c JOIN club_league_flags f ON f.club_id = c.id").
		Where(qb.Eq("f.level", string(level)), qb.Eq("f.gender", string(gender))).
		OrderBy("c.name"))
}

func (r *ClubRepository) ListAll(ctx context.Context) ([]club.Club, error) {
	return r.list(ctx, r.db, qb.Select(clubColumns...).From("clubs").OrderBy("id"))
}

func (r *ClubRepository) ListConflicts(ctx context.Context, clubID int64) ([]club.MergeConflict, error) {
	query, args, err := qb.Select(conflictColumns...).
		From("club_merge_conflicts").
		Where(qb.Eq("club_id", clubID)).
		OrderBy("detected_at", "id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select club conflicts query: %w", err)
	}

	var rows []clubConflictTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("select club conflicts club=%d: %w", clubID, err))
	}

	out := make([]club.MergeConflict, 0, len(rows))
	for _, row := range rows {
		rank, _ := sourcerecord.ParseRank(row.Rank)
		out = append(out, club.MergeConflict{
			ClubID:         row.ClubID,
			Key:            row.Key,
			Field:          club.Field(row.Field),
			KeptValue:      row.KeptValue,
			KeptSource:     row.KeptSource,
			RejectedValue:  row.RejectedValue,
			RejectedSource: row.RejectedSource,
			Rank:           rank,
			RunID:          row.RunID,
			DetectedAt:     row.DetectedAt,
		})
	}
	return out, nil
}

// Save writes the club row, its flags, aliases and conflicts in one
// transaction. Flags are only ever inserted; aliases owned by another club
// are left alone.
func (r *ClubRepository) Save(ctx context.Context, m club.Mutation) (club.Club, error) {
	c := m.Club
	if err := c.Validate(); err != nil {
		return club.Club{}, fmt.Errorf("save club: %w", err)
	}

	var saved club.Club
	err := withTx(ctx, r.db, "club save", func(tx *sqlx.Tx) error {
		id, err := r.writeClub(ctx, tx, c)
		if err != nil {
			return err
		}
		if err := insertFlags(ctx, tx, id, c.Flags); err != nil {
			return err
		}
		if err := insertAliases(ctx, tx, id, c.Aliases); err != nil {
			return err
		}
		if err := insertConflicts(ctx, tx, id, m.Conflicts); err != nil {
			return err
		}

		var found bool
		saved, found, err = r.getOne(ctx, tx, qb.Select(clubColumns...).From("clubs").Where(qb.Eq("id", id)))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("club id=%d vanished inside its own transaction", id)
		}
		return nil
	})
	if err != nil {
		return club.Club{}, err
	}
	return saved, nil
}

// MergeInto folds loserID into survivor inside a single transaction.
func (r *ClubRepository) MergeInto(ctx context.Context, survivor club.Club, loserID int64) error {
	if survivor.ID == loserID {
		return fmt.Errorf("cannot merge club %d into itself", loserID)
	}
	if err := survivor.Validate(); err != nil {
		return fmt.Errorf("merge club %d: %w", loserID, err)
	}

	return withTx(ctx, r.db, "club merge", func(tx *sqlx.Tx) error {
		query, args, err := qb.Select("id").From("clubs").
			Where(qb.Any("id", pq.Array([]int64{survivor.ID, loserID}))).
			OrderBy("id").
			ForUpdate().
			ToSQL()
		if err != nil {
			return fmt.Errorf("build lock clubs query: %w", err)
		}
		var locked []int64
		if err := tx.SelectContext(ctx, &locked, query, args...); err != nil {
			return fmt.Errorf("lock clubs %d and %d: %w", survivor.ID, loserID, err)
		}
		if len(locked) != 2 {
			return fmt.Errorf("merge club %d into %d: %w", loserID, survivor.ID, club.ErrConstraintViolation)
		}

		const copyFlagsQuery = `
INSERT INTO club_league_flags (club_id, level, gender)
SELECT $1, level, gender FROM club_league_flags WHERE club_id = $2
ON CONFLICT (club_id, level, gender) DO NOTHING`
		if _, err := tx.ExecContext(ctx, copyFlagsQuery, survivor.ID, loserID); err != nil {
			return fmt.Errorf("copy league flags from club %d: %w", loserID, err)
		}

		const copyConflictsQuery = `
INSERT INTO club_merge_conflicts (club_id, dedup_key, field, kept_value, kept_source, rejected_value, rejected_source, rank, run_id, detected_at)
SELECT $1, dedup_key, field, kept_value, kept_source, rejected_value, rejected_source, rank, run_id, detected_at
FROM club_merge_conflicts WHERE club_id = $2
ON CONFLICT (club_id, field, kept_value, rejected_value) DO NOTHING`
		if _, err := tx.ExecContext(ctx, copyConflictsQuery, survivor.ID, loserID); err != nil {
			return fmt.Errorf("copy merge conflicts from club %d: %w", loserID, err)
		}

		repoint := []ReferenceColumn{{Table: "club_aliases", Column: "club_id"}, {Table: "club_redirects", Column: "club_id"}}
		repoint = append(repoint, r.references...)
		for _, ref := range repoint {
			query, args, err := qb.Update(ref.Table).
				Set(ref.Column, survivor.ID).
				Where(qb.Eq(ref.Column, loserID)).
				ToSQL()
			if err != nil {
				return fmt.Errorf("build repoint %s query: %w", ref, err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("repoint %s from %d to %d: %w", ref, loserID, survivor.ID, err)
			}
		}

		query, args, err = qb.DeleteFrom("clubs").Where(qb.Eq("id", loserID)).ToSQL()
		if err != nil {
			return fmt.Errorf("build delete club query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete merged club %d: %w", loserID, err)
		}

		if _, err := r.writeClub(ctx, tx, survivor); err != nil {
			return err
		}
		if err := insertFlags(ctx, tx, survivor.ID, survivor.Flags); err != nil {
			return err
		}
		if err := insertAliases(ctx, tx, survivor.ID, survivor.Aliases); err != nil {
			return err
		}

		query, args, err = qb.InsertInto("club_redirects").
			Columns("old_id", "club_id").
			Values(loserID, survivor.ID).
			Suffix("ON CONFLICT (old_id) DO UPDATE SET club_id = EXCLUDED.club_id").
			ToSQL()
		if err != nil {
			return fmt.Errorf("build insert club redirect query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert redirect %d -> %d: %w", loserID, survivor.ID, err)
		}
		return nil
	})
}

func (r *ClubRepository) ResetLeagueFlags(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM club_league_flags`)
	if err != nil {
		return 0, classify(fmt.Errorf("reset league flags: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count reset league flags: %w", err)
	}
	return n, nil
}

// writeClub inserts a new club (ID 0) or updates an existing one and returns its id.
func (r *ClubRepository) writeClub(ctx context.Context, tx *sqlx.Tx, c club.Club) (int64, error) {
	provenance, err := sonic.Marshal(c.Provenance)
	if err != nil {
		return 0, fmt.Errorf("encode provenance for club %q: %w", c.Key, err)
	}
	cantonValue := string(c.Canton)
	if c.Canton == canton.Unknown {
		cantonValue = ""
	}

	if c.ID == 0 {
		query, args, err := qb.InsertInto("clubs").
			Columns("dedup_key", "name", "canton", "town", "website", "logo", "provenance", "created_at", "updated_at").
			Values(c.Key, c.Name, cantonValue, c.Town, c.Website, c.Logo, provenance, c.CreatedAt, c.UpdatedAt).
			Suffix("RETURNING id").
			ToSQL()
		if err != nil {
			return 0, fmt.Errorf("build insert club query: %w", err)
		}
		var id int64
		if err := tx.GetContext(ctx, &id, query, args...); err != nil {
			return 0, fmt.Errorf("insert club %q: %w", c.Key, err)
		}
		return id, nil
	}

	query, args, err := qb.Update("clubs").
		Set("dedup_key", c.Key).
		Set("name", c.Name).
		Set("canton", cantonValue).
		Set("town", c.Town).
		Set("website", c.Website).
		Set("logo", c.Logo).
		Set("provenance", provenance).
		Set("updated_at", c.UpdatedAt).
		Where(qb.Eq("id", c.ID)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build update club query: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update club id=%d: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("update club id=%d: %w", c.ID, club.ErrConstraintViolation)
	}
	return c.ID, nil
}

func insertFlags(ctx context.Context, tx *sqlx.Tx, clubID int64, flags league.Flags) error {
	keys := flags.Keys()
	if len(keys) == 0 {
		return nil
	}
	ins := qb.InsertInto("club_league_flags").Columns("club_id", "level", "gender")
	for _, k := range keys {
		ins.Values(clubID, string(k.Level), string(k.Gender))
	}
	query, args, err := ins.Suffix("ON CONFLICT (club_id, level, gender) DO NOTHING").ToSQL()
	if err != nil {
		return fmt.Errorf("build insert league flags query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert league flags club=%d: %w", clubID, err)
	}
	return nil
}

func insertAliases(ctx context.Context, tx *sqlx.Tx, clubID int64, aliases []string) error {
	if len(aliases) == 0 {
		return nil
	}
	ins := qb.InsertInto("club_aliases").Columns("alias", "club_id")
	for _, a := range aliases {
		ins.Values(a, clubID)
	}
	query, args, err := ins.Suffix("ON CONFLICT (alias) DO NOTHING").ToSQL()
	if err != nil {
		return fmt.Errorf("build insert club aliases query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert club aliases club=%d: %w", clubID, err)
	}
	return nil
}

func insertConflicts(ctx context.Context, tx *sqlx.Tx, clubID int64, conflicts []club.MergeConflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	ins := qb.InsertInto("club_merge_conflicts").Columns(conflictColumns...)
	for _, c := range conflicts {
		ins.Values(clubID, c.Key, string(c.Field), c.KeptValue, c.KeptSource, c.RejectedValue, c.RejectedSource, c.Rank.String(), c.RunID, c.DetectedAt)
	}
	query, args, err := ins.Suffix("ON CONFLICT (club_id, field, kept_value, rejected_value) DO NOTHING").ToSQL()
	if err != nil {
		return fmt.Errorf("build insert merge conflicts query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert merge conflicts club=%d: %w", clubID, err)
	}
	return nil
}

func (r *ClubRepository) getOne(ctx context.Context, q sqlx.QueryerContext, b *qb.SelectBuilder) (club.Club, bool, error) {
	clubs, err := r.list(ctx, q, b.Limit(1))
	if err != nil {
		return club.Club{}, false, err
	}
	if len(clubs) == 0 {
		return club.Club{}, false, nil
	}
	return clubs[0], true, nil
}

// list loads clubs plus their flags and aliases with two batched lookups.
func (r *ClubRepository) list(ctx context.Context, q sqlx.QueryerContext, b *qb.SelectBuilder) ([]club.Club, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select clubs query: %w", err)
	}
	var rows []clubTableModel
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("select clubs: %w", err))
	}
	if len(rows) == 0 {
		return []club.Club{}, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	query, args, err = qb.Select("club_id", "level", "gender").
		From("club_league_flags").
		Where(qb.Any("club_id", pq.Array(ids))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select league flags query: %w", err)
	}
	var flagRows []clubFlagTableModel
	if err := sqlx.SelectContext(ctx, q, &flagRows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("select league flags: %w", err))
	}

	query, args, err = qb.Select("alias", "club_id").
		From("club_aliases").
		Where(qb.Any("club_id", pq.Array(ids))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select club aliases query: %w", err)
	}
	var aliasRows []clubAliasTableModel
	if err := sqlx.SelectContext(ctx, q, &aliasRows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("select club aliases: %w", err))
	}

	flags := make(map[int64]league.Flags, len(rows))
	for _, f := range flagRows {
		if flags[f.ClubID] == nil {
			flags[f.ClubID] = league.Flags{}
		}
		flags[f.ClubID][league.Key(league.Level(f.Level), league.Gender(f.Gender))] = true
	}
	aliases := make(map[int64][]string, len(rows))
	for _, a := range aliasRows {
		aliases[a.ClubID] = append(aliases[a.ClubID], a.Alias)
	}

	out := make([]club.Club, 0, len(rows))
	for _, row := range rows {
		c, err := clubFromRow(row)
		if err != nil {
			return nil, err
		}
		if f := flags[row.ID]; f != nil {
			c.Flags = f
		}
		c.Aliases = aliases[row.ID]
		sort.Strings(c.Aliases)
		out = append(out, c)
	}
	return out, nil
}

func clubFromRow(row clubTableModel) (club.Club, error) {
	c := club.Club{
		ID:        row.ID,
		Key:       row.Key,
		Name:      row.Name,
		Canton:    canton.Unknown,
		Town:      row.Town,
		Website:   row.Website,
		Logo:      row.Logo,
		Flags:     league.Flags{},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Canton != "" {
		c.Canton = canton.Parse(row.Canton)
	}
	if len(row.Provenance) > 0 {
		if err := sonic.Unmarshal(row.Provenance, &c.Provenance); err != nil {
			return club.Club{}, fmt.Errorf("decode provenance for club id=%d: %w", row.ID, err)
		}
	}
	return c, nil
}
