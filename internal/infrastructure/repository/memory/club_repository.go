package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
)

// ClubRepository is an in-process club.Repository. It models the foreign
// reference tables as plain maps so merges can be checked without postgres.
type ClubRepository struct {
	mu        sync.RWMutex
	nextID    int64
	clubs     map[int64]club.Club
	byKey     map[string]int64
	byName    map[string]int64
	aliases   map[string]int64
	redirects map[int64]int64
	conflicts []club.MergeConflict
	// references maps "table.column" -> row id -> club id.
	references map[string]map[int64]int64
}

func NewClubRepository(seed ...club.Club) *ClubRepository {
	r := &ClubRepository{
		clubs:      make(map[int64]club.Club),
		byKey:      make(map[string]int64),
		byName:     make(map[string]int64),
		aliases:    make(map[string]int64),
		redirects:  make(map[int64]int64),
		references: make(map[string]map[int64]int64),
	}
	for _, c := range seed {
		if c.ID == 0 {
			r.nextID++
			c.ID = r.nextID
		} else if c.ID > r.nextID {
			r.nextID = c.ID
		}
		r.put(c)
		for _, a := range c.Aliases {
			if _, taken := r.aliases[a]; !taken {
				r.aliases[a] = c.ID
			}
		}
	}
	return r
}

// SetReference records that row rowID of column (e.g. "players.current_club_id")
// points at clubID.
func (r *ClubRepository) SetReference(column string, rowID, clubID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	column = normalizeColumn(column)
	if r.references[column] == nil {
		r.references[column] = make(map[int64]int64)
	}
	r.references[column][rowID] = clubID
}

func (r *ClubRepository) Reference(column string, rowID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.references[normalizeColumn(column)][rowID]
	return id, ok
}

func (r *ClubRepository) GetByID(_ context.Context, id int64) (club.Club, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := r.resolve(id)
	c, ok := r.clubs[resolved]
	if !ok {
		return club.Club{}, false, nil
	}
	return r.view(c), true, nil
}

func (r *ClubRepository) FindByKey(_ context.Context, key string) (club.Club, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return club.Club{}, false, nil
	}
	return r.view(r.clubs[id]), true, nil
}

func (r *ClubRepository) FindByAlias(_ context.Context, alias string) (club.Club, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.aliases[alias]
	if !ok {
		id, ok = r.byName[alias]
	}
	if !ok {
		return club.Club{}, false, nil
	}
	return r.view(r.clubs[id]), true, nil
}

func (r *ClubRepository) ListByLeague(_ context.Context, level league.Level, gender league.Gender) ([]club.Club, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]club.Club, 0)
	for _, c := range r.clubs {
		if c.Flags.IsSet(level, gender) {
			out = append(out, r.view(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *ClubRepository) ListAll(_ context.Context) ([]club.Club, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]club.Club, 0, len(r.clubs))
	for _, c := range r.clubs {
		out = append(out, r.view(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ClubRepository) ListConflicts(_ context.Context, clubID int64) ([]club.MergeConflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []club.MergeConflict
	for _, c := range r.conflicts {
		if c.ClubID == clubID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *ClubRepository) Save(_ context.Context, m club.Mutation) (club.Club, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := m.Club.Clone()
	if err := c.Validate(); err != nil {
		return club.Club{}, crerr.Mark(err, club.ErrConstraintViolation)
	}

	if c.ID == 0 {
		if _, taken := r.byKey[c.Key]; taken {
			return club.Club{}, crerr.Mark(fmt.Errorf("duplicate club key %q", c.Key), club.ErrConstraintViolation)
		}
		if _, taken := r.byName[c.Name]; taken {
			return club.Club{}, crerr.Mark(fmt.Errorf("duplicate club name %q", c.Name), club.ErrConstraintViolation)
		}
		r.nextID++
		c.ID = r.nextID
	} else {
		prev, ok := r.clubs[c.ID]
		if !ok {
			return club.Club{}, crerr.Mark(fmt.Errorf("club %d does not exist", c.ID), club.ErrConstraintViolation)
		}
		if owner, taken := r.byName[c.Name]; taken && owner != c.ID {
			return club.Club{}, crerr.Mark(fmt.Errorf("duplicate club name %q", c.Name), club.ErrConstraintViolation)
		}
		delete(r.byName, prev.Name)
		delete(r.byKey, prev.Key)
		c.Flags.Union(prev.Flags)
		c.CreatedAt = prev.CreatedAt
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	r.put(c)
	for _, a := range c.Aliases {
		if _, taken := r.aliases[a]; !taken {
			r.aliases[a] = c.ID
		}
	}
	for _, conflict := range m.Conflicts {
		conflict.ClubID = c.ID
		r.addConflict(conflict)
	}
	return r.view(r.clubs[c.ID]), nil
}

func (r *ClubRepository) MergeInto(_ context.Context, survivor club.Club, loserID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if survivor.ID == loserID {
		return fmt.Errorf("cannot merge club %d into itself", loserID)
	}
	prev, ok := r.clubs[survivor.ID]
	if !ok {
		return crerr.Mark(fmt.Errorf("survivor club %d does not exist", survivor.ID), club.ErrConstraintViolation)
	}
	loser, ok := r.clubs[loserID]
	if !ok {
		return crerr.Mark(fmt.Errorf("loser club %d does not exist", loserID), club.ErrConstraintViolation)
	}
	if owner, taken := r.byName[survivor.Name]; taken && owner != survivor.ID && owner != loserID {
		return crerr.Mark(fmt.Errorf("duplicate club name %q", survivor.Name), club.ErrConstraintViolation)
	}

	merged := survivor.Clone()
	merged.Flags.Union(prev.Flags)
	merged.Flags.Union(loser.Flags)
	merged.CreatedAt = prev.CreatedAt

	delete(r.byName, prev.Name)
	delete(r.byKey, prev.Key)
	delete(r.byName, loser.Name)
	delete(r.byKey, loser.Key)
	delete(r.clubs, loserID)
	r.put(merged)

	for alias, owner := range r.aliases {
		if owner == loserID {
			r.aliases[alias] = merged.ID
		}
	}
	for _, a := range merged.Aliases {
		if _, taken := r.aliases[a]; !taken {
			r.aliases[a] = merged.ID
		}
	}
	for i := range r.conflicts {
		if r.conflicts[i].ClubID == loserID {
			r.conflicts[i].ClubID = merged.ID
		}
	}
	for _, rows := range r.references {
		for row, id := range rows {
			if id == loserID {
				rows[row] = merged.ID
			}
		}
	}
	for old, target := range r.redirects {
		if target == loserID {
			r.redirects[old] = merged.ID
		}
	}
	r.redirects[loserID] = merged.ID
	return nil
}

func (r *ClubRepository) ResetLeagueFlags(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, c := range r.clubs {
		removed += int64(len(c.Flags.Keys()))
		c.Flags = league.Flags{}
		r.clubs[id] = c
	}
	return removed, nil
}

func (r *ClubRepository) put(c club.Club) {
	stored := c.Clone()
	for k, v := range stored.Flags {
		if !v {
			delete(stored.Flags, k)
		}
	}
	stored.Aliases = nil
	r.clubs[c.ID] = stored
	r.byKey[c.Key] = c.ID
	r.byName[c.Name] = c.ID
}

func (r *ClubRepository) addConflict(c club.MergeConflict) {
	for _, existing := range r.conflicts {
		if existing.ClubID == c.ClubID && existing.Field == c.Field &&
			existing.KeptValue == c.KeptValue && existing.RejectedValue == c.RejectedValue {
			return
		}
	}
	r.conflicts = append(r.conflicts, c)
}

// view attaches the aliases owned by c, like the postgres join does.
func (r *ClubRepository) view(c club.Club) club.Club {
	out := c.Clone()
	out.Aliases = nil
	for alias, owner := range r.aliases {
		if owner == c.ID {
			out.Aliases = append(out.Aliases, alias)
		}
	}
	sort.Strings(out.Aliases)
	return out
}

func (r *ClubRepository) resolve(id int64) int64 {
	seen := 0
	for {
		next, ok := r.redirects[id]
		if !ok || seen > len(r.redirects) {
			return id
		}
		id = next
		seen++
	}
}

// normalizeColumn keeps reference column names comparable.
func normalizeColumn(column string) string {
	return strings.ToLower(strings.TrimSpace(column))
}
