package club

// ChooseSurvivor decides which of two clubs sharing an identity keeps its id:
// the more complete one, otherwise the older (lower) id.
func ChooseSurvivor(a, b Club) (survivor Club, loser Club) {
	ca, cb := a.Completeness(), b.Completeness()
	switch {
	case ca > cb:
		return a, b
	case cb > ca:
		return b, a
	case a.ID <= b.ID:
		return a, b
	default:
		return b, a
	}
}

// Absorb folds loser into survivor with the same rules Merge applies to
// records. The loser's name and key become aliases.
func Absorb(survivor, loser Club) (Club, []MergeConflict) {
	out := survivor.Clone()

	for _, alias := range append([]string{loser.Name, loser.Key}, loser.Aliases...) {
		if alias == "" || alias == out.Name || out.HasAlias(alias) {
			continue
		}
		out.Aliases = append(out.Aliases, alias)
	}

	var conflicts []MergeConflict
	for _, f := range ScalarFields {
		var cands []candidate
		if v := out.Scalar(f); v != "" {
			cands = append(cands, existingCandidate(out, f, v))
		}
		if v := loser.Scalar(f); v != "" {
			cands = append(cands, existingCandidate(loser, f, v))
		}
		winner, found := resolveScalar(f, cands)
		for _, c := range found {
			c.ClubID = out.ID
			c.Key = out.Key
			conflicts = appendConflict(conflicts, c)
		}
		if winner.value != "" && winner.value != out.Scalar(f) {
			out.setScalar(f, winner.value)
			out.setProvenance(winner.provenance(f))
		}
	}

	for k, v := range loser.Flags {
		if v && out.Flags.Raise(k) {
			if p, ok := loser.ProvenanceFor(FlagField(k)); ok {
				out.setProvenance(p)
			}
		}
	}

	return out, conflicts
}
