// Package dedup derives the identity key that decides which records describe
// the same club.
package dedup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	// One trailing team number: "vbc foo 2", "vbc foo ii".
	teamSuffix = regexp.MustCompile(`\s+(?:\d+|i{1,3}|iv|vi{0,3}|ix|x)$`)
	lower      = cases.Lower(language.Und)
)

// Key lowercases name, strips diacritics, collapses whitespace and drops one
// trailing numeric or Roman team suffix. Reserve teams therefore share the
// key of the first team.
func Key(name string) string {
	k := lower.String(stripMarks(name))
	k = strings.TrimSpace(whitespace.ReplaceAllString(k, " "))
	if stripped := teamSuffix.ReplaceAllString(k, ""); stripped != "" {
		k = stripped
	}
	return k
}

// HasTeamSuffix reports whether Key would drop a suffix from name.
func HasTeamSuffix(name string) bool {
	k := lower.String(strings.TrimSpace(whitespace.ReplaceAllString(name, " ")))
	return teamSuffix.MatchString(k) && teamSuffix.ReplaceAllString(k, "") != ""
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Group is every record of one run that maps to the same key.
type Group struct {
	Key     string
	Records []sourcerecord.Record
}

// GroupRecords buckets records by Key. Records keep input order inside a
// group and groups are ordered by first appearance.
func GroupRecords(records []sourcerecord.Record) []Group {
	index := make(map[string]int, len(records))
	var groups []Group
	for _, rec := range records {
		key := Key(rec.Name)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}
