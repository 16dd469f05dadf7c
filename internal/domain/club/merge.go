package club

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
)

// MergeResult is the outcome of folding one group into a club.
type MergeResult struct {
	Club           Club
	Created        bool
	NewAliases     []string
	NewFlags       []league.FlagKey
	UpdatedFields  []Field
	Conflicts      []MergeConflict
	AmbiguousFacts int
	UntrackedFacts int
}

// Changed reports whether the club itself changed. Conflicts alone do not count.
func (r MergeResult) Changed() bool {
	return r.Created || len(r.NewAliases) > 0 || len(r.NewFlags) > 0 || len(r.UpdatedFields) > 0
}

// Mutation converts the result into a store write.
func (r MergeResult) Mutation() Mutation {
	return Mutation{
		Club:       r.Club,
		Created:    r.Created,
		NewAliases: r.NewAliases,
		NewFlags:   r.NewFlags,
		Conflicts:  r.Conflicts,
	}
}

// candidate is one observed value for a scalar field.
type candidate struct {
	value      string
	source     string
	rank       sourcerecord.Rank
	recordID   string
	observedAt time.Time
}

func (c candidate) provenance(f Field) FieldProvenance {
	return FieldProvenance{Field: f, Value: c.value, Source: c.source, Rank: c.rank, RecordID: c.recordID, ObservedAt: c.observedAt}
}

// Merge folds records, all sharing key, into existing (nil when the key is
// new). Flags only ever turn on. Scalars go to the highest rank; an equal
// rank disagreement keeps the first-seen value and yields a MergeConflict.
func Merge(existing *Club, key string, records []sourcerecord.Record, runID string) (MergeResult, error) {
	if len(records) == 0 {
		return MergeResult{}, fmt.Errorf("merge %q: no records", key)
	}
	if strings.TrimSpace(key) == "" {
		return MergeResult{}, fmt.Errorf("merge: key is required")
	}

	var res MergeResult
	var c Club
	if existing == nil {
		res.Created = true
		best := canonicalNameRecord(records)
		c = Club{Key: key, Name: best.Name, Flags: league.Flags{}}
		c.setProvenance(recordCandidate(best, best.Name).provenance(FieldName))
	} else {
		c = existing.Clone()
	}

	for _, rec := range records {
		if rec.Name == "" || rec.Name == c.Name || c.HasAlias(rec.Name) {
			continue
		}
		c.Aliases = append(c.Aliases, rec.Name)
		res.NewAliases = append(res.NewAliases, rec.Name)
	}

	for _, f := range ScalarFields {
		cands := make([]candidate, 0, len(records)+1)
		if current := c.Scalar(f); current != "" {
			cands = append(cands, existingCandidate(c, f, current))
		}
		for _, rec := range records {
			cands = append(cands, recordCandidate(rec, recordValue(rec, f)))
		}

		winner, conflicts := resolveScalar(f, cands)
		for _, conflict := range conflicts {
			conflict.ClubID = c.ID
			conflict.Key = key
			conflict.RunID = runID
			res.Conflicts = appendConflict(res.Conflicts, conflict)
		}
		if winner.value == "" {
			continue
		}

		prev, hadProv := c.ProvenanceFor(f)
		if winner.value != c.Scalar(f) {
			c.setScalar(f, winner.value)
			c.setProvenance(winner.provenance(f))
			res.UpdatedFields = append(res.UpdatedFields, f)
			continue
		}
		if !hadProv || winner.rank > prev.Rank {
			c.setProvenance(winner.provenance(f))
		}
	}

	flags, firstSeen, ambiguous, untracked := deriveFlags(records)
	res.AmbiguousFacts = ambiguous
	res.UntrackedFacts = untracked
	for _, k := range flags.Keys() {
		if !c.Flags.Raise(k) {
			continue
		}
		res.NewFlags = append(res.NewFlags, k)
		c.setProvenance(recordCandidate(firstSeen[k], "true").provenance(FlagField(k)))
	}

	res.Club = c
	return res, nil
}

// deriveFlags ORs the group's structured flags and text facts. An
// unknown-gender fact sets the level for both genders unless another record
// carries a known-gender value for the same level and gender; a record never
// disambiguates its own unknown-gender facts.
func deriveFlags(records []sourcerecord.Record) (league.Flags, map[league.FlagKey]sourcerecord.Record, int, int) {
	explicit := league.Flags{}
	decidedBy := make(map[league.FlagKey]map[int]struct{})
	firstSeen := make(map[league.FlagKey]sourcerecord.Record)
	ambiguousLevels := make(map[league.Level][]int)
	var ambiguous, untracked int

	note := func(k league.FlagKey, v bool, i int) {
		explicit[k] = explicit[k] || v
		if decidedBy[k] == nil {
			decidedBy[k] = make(map[int]struct{})
		}
		decidedBy[k][i] = struct{}{}
		if _, ok := firstSeen[k]; !ok && v {
			firstSeen[k] = records[i]
		}
	}

	for i, rec := range records {
		for k, v := range rec.Flags {
			if !k.Level.Tracked() {
				untracked++
				continue
			}
			note(k, v, i)
		}
		for _, fact := range rec.Facts {
			if !fact.Level.Tracked() {
				untracked++
				continue
			}
			if fact.Ambiguous() {
				ambiguous++
				if idx := ambiguousLevels[fact.Level]; len(idx) == 0 || idx[len(idx)-1] != i {
					ambiguousLevels[fact.Level] = append(idx, i)
				}
				continue
			}
			note(fact.Key(), true, i)
		}
	}

	out := league.Flags{}
	for k, v := range explicit {
		if v {
			out[k] = true
		}
	}
	for level, idx := range ambiguousLevels {
		for _, i := range idx {
			for _, g := range league.KnownGenders {
				k := league.Key(level, g)
				if decidedElsewhere(decidedBy[k], i) {
					continue
				}
				out[k] = true
				if _, ok := firstSeen[k]; !ok {
					firstSeen[k] = records[i]
				}
			}
		}
	}
	return out, firstSeen, ambiguous, untracked
}

func decidedElsewhere(by map[int]struct{}, self int) bool {
	for i := range by {
		if i != self {
			return true
		}
	}
	return false
}

// resolveScalar picks the winning candidate. Candidates are in first-seen
// order; empty values never win over populated ones. Each rank keeps its own
// first-seen value and disagreements are checked against that value, so the
// conflicts found do not depend on where higher-ranked candidates sit.
func resolveScalar(f Field, cands []candidate) (candidate, []MergeConflict) {
	heads := make(map[sourcerecord.Rank]candidate)
	var conflicts []MergeConflict
	for _, cand := range cands {
		if cand.value == "" {
			continue
		}
		head, ok := heads[cand.rank]
		if !ok {
			heads[cand.rank] = cand
			continue
		}
		switch {
		case sameValue(f, head.value, cand.value):
		case isURLField(f) && refines(head.value, cand.value):
			heads[cand.rank] = cand
		case isURLField(f) && refines(cand.value, head.value):
		default:
			conflicts = append(conflicts, MergeConflict{
				Field:          f,
				KeptValue:      head.value,
				KeptSource:     head.source,
				RejectedValue:  cand.value,
				RejectedSource: cand.source,
				Rank:           cand.rank,
			})
		}
	}

	var winner candidate
	for rank, head := range heads {
		if winner.value == "" || rank > winner.rank {
			winner = head
		}
	}
	// Keep the earliest spelling of the winning value.
	for _, cand := range cands {
		if cand.value != "" && sameValue(f, cand.value, winner.value) {
			winner.value = cand.value
			break
		}
	}
	return winner, conflicts
}

func appendConflict(list []MergeConflict, c MergeConflict) []MergeConflict {
	for _, existing := range list {
		if existing.Field == c.Field && existing.KeptValue == c.KeptValue && existing.RejectedValue == c.RejectedValue {
			return list
		}
	}
	return append(list, c)
}

func existingCandidate(c Club, f Field, value string) candidate {
	if p, ok := c.ProvenanceFor(f); ok {
		return candidate{value: value, source: p.Source, rank: p.Rank, recordID: p.RecordID, observedAt: p.ObservedAt}
	}
	return candidate{value: value, source: "store", rank: sourcerecord.RankUnknown}
}

func recordCandidate(rec sourcerecord.Record, value string) candidate {
	return candidate{value: value, source: rec.Source, rank: rec.Rank, recordID: rec.RecordID, observedAt: rec.ObservedAt}
}

func recordValue(rec sourcerecord.Record, f Field) string {
	switch f {
	case FieldCanton:
		if rec.Canton == canton.Unknown {
			return ""
		}
		return string(rec.Canton)
	case FieldTown:
		return rec.Town
	case FieldWebsite:
		return rec.Website
	case FieldLogo:
		return rec.Logo
	case FieldName:
		return rec.Name
	default:
		return ""
	}
}

// canonicalNameRecord prefers rank, then a spelling without a reserve-team
// suffix, then input order.
func canonicalNameRecord(records []sourcerecord.Record) sourcerecord.Record {
	ordered := append([]sourcerecord.Record(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Rank != ordered[j].Rank {
			return ordered[i].Rank > ordered[j].Rank
		}
		si, sj := dedup.HasTeamSuffix(ordered[i].Name), dedup.HasTeamSuffix(ordered[j].Name)
		if si != sj {
			return !si
		}
		return false
	})
	return ordered[0]
}

func isURLField(f Field) bool {
	return f == FieldWebsite || f == FieldLogo
}

func sameValue(f Field, a, b string) bool {
	if isURLField(f) {
		ua, errA := url.Parse(a)
		ub, errB := url.Parse(b)
		if errA != nil || errB != nil {
			return a == b
		}
		return sameHost(ua, ub) && trimPath(ua.Path) == trimPath(ub.Path) && ua.RawQuery == ub.RawQuery
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// refines reports whether specific points deeper into the same site as generic.
func refines(generic, specific string) bool {
	ug, errG := url.Parse(generic)
	us, errS := url.Parse(specific)
	if errG != nil || errS != nil || !sameHost(ug, us) {
		return false
	}
	gp, sp := trimPath(ug.Path), trimPath(us.Path)
	if len(sp) <= len(gp) {
		return false
	}
	return gp == "" || strings.HasPrefix(sp, gp+"/")
}

func sameHost(a, b *url.URL) bool {
	return strings.TrimPrefix(strings.ToLower(a.Hostname()), "www.") == strings.TrimPrefix(strings.ToLower(b.Hostname()), "www.")
}

func trimPath(p string) string {
	return strings.TrimRight(p, "/")
}
