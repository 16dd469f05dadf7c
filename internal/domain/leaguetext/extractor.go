// Package leaguetext turns free text such as "Damen NLA, Herren 2. Liga" into
// league participation facts.
package leaguetext

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/miocrobos/habicht-directory/internal/domain/league"
)

// GenderWindow is how many runes around a league mention are searched for a
// gender indicator.
const GenderWindow = 40

// Fact is one league participation read from text. Gender is unknown when no
// indicator was close enough or both were equally close.
type Fact struct {
	Level    league.Level    `json:"level"`
	Gender   league.Gender   `json:"gender"`
	Category league.Category `json:"category"`
}

func (f Fact) Ambiguous() bool {
	return f.Gender == league.GenderUnknown
}

func (f Fact) Key() league.FlagKey {
	return league.Key(f.Level, f.Gender)
}

// Extractor reads facts out of text.
type Extractor interface {
	Name() string
	Extract(text string) []Fact
}

type levelPattern struct {
	re        *regexp.Regexp
	normalize func(match []string) (league.Level, bool)
}

func fixed(level league.Level) func([]string) (league.Level, bool) {
	return func([]string) (league.Level, bool) { return level, true }
}

var defaultPatterns = []levelPattern{
	{re: regexp.MustCompile(`(?i)\b(?:NLA|Nationalliga\s+A)\b`), normalize: fixed(league.NLA)},
	{re: regexp.MustCompile(`(?i)\b(?:NLB|Nationalliga\s+B)\b`), normalize: fixed(league.NLB)},
	{
		re: regexp.MustCompile(`(?i)\b([1-5])\.?\s*(?:Liga|L)\b`),
		normalize: func(m []string) (league.Level, bool) {
			return league.Level(m[1] + "L"), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bU\s?(1[3-9]|2[0-3])\b`),
		normalize: func(m []string) (league.Level, bool) {
			return league.Level("U" + m[1]), true
		},
	},
}

var defaultIndicators = map[league.Gender][]string{
	league.GenderWomen: {"damen", "frauen", "weiblich", "juniorinnen"},
	league.GenderMen:   {"herren", "männer", "maenner", "männlich", "maennlich", "junioren"},
}

// RegexExtractor matches the league patterns and assigns each mention the
// gender of the nearest indicator inside the window.
type RegexExtractor struct {
	patterns   []levelPattern
	indicators map[league.Gender][]string
	window     int
}

func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{
		patterns:   defaultPatterns,
		indicators: defaultIndicators,
		window:     GenderWindow,
	}
}

func (e *RegexExtractor) Name() string { return "regex" }

func (e *RegexExtractor) Extract(text string) []Fact {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lowered := lowerRunes(text)
	hits := e.indicatorHits(lowered)

	seen := make(map[Fact]struct{})
	var out []Fact
	for _, p := range e.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if !wordBounded(text, loc[0], loc[1]) {
				continue
			}
			groups := submatches(text, loc)
			level, ok := p.normalize(groups)
			if !ok || !level.Valid() {
				continue
			}
			start := utf8.RuneCountInString(text[:loc[0]])
			end := start + utf8.RuneCountInString(text[loc[0]:loc[1]])

			fact := Fact{
				Level:    level,
				Gender:   e.nearestGender(hits, start, end),
				Category: level.Category(),
			}
			if _, dup := seen[fact]; dup {
				continue
			}
			seen[fact] = struct{}{}
			out = append(out, fact)
		}
	}

	Sort(out)
	return out
}

type indicatorHit struct {
	gender     league.Gender
	start, end int
}

func (e *RegexExtractor) indicatorHits(lowered []rune) []indicatorHit {
	var hits []indicatorHit
	for gender, words := range e.indicators {
		for _, word := range words {
			needle := []rune(word)
			for i := 0; i+len(needle) <= len(lowered); i++ {
				if runesEqual(lowered[i:i+len(needle)], needle) {
					hits = append(hits, indicatorHit{gender: gender, start: i, end: i + len(needle)})
				}
			}
		}
	}
	return hits
}

func (e *RegexExtractor) nearestGender(hits []indicatorHit, start, end int) league.Gender {
	best := map[league.Gender]int{}
	for _, h := range hits {
		d := distance(h.start, h.end, start, end)
		if d > e.window {
			continue
		}
		if cur, ok := best[h.gender]; !ok || d < cur {
			best[h.gender] = d
		}
	}

	men, hasMen := best[league.GenderMen]
	women, hasWomen := best[league.GenderWomen]
	switch {
	case hasMen && hasWomen:
		if men < women {
			return league.GenderMen
		}
		if women < men {
			return league.GenderWomen
		}
		return league.GenderUnknown
	case hasMen:
		return league.GenderMen
	case hasWomen:
		return league.GenderWomen
	default:
		return league.GenderUnknown
	}
}

// distance is the rune gap between two spans, 0 when they touch or overlap.
func distance(aStart, aEnd, bStart, bEnd int) int {
	switch {
	case aEnd <= bStart:
		return bStart - aEnd
	case bEnd <= aStart:
		return aStart - bEnd
	default:
		return 0
	}
}

// wordBounded reports whether text[start:end] is not glued to a letter or
// digit. RE2's \b only knows ASCII word characters, so "3 Läufe" would
// otherwise read as a 3L mention.
func wordBounded(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Sort orders facts by level, then gender.
func Sort(facts []Fact) {
	sort.SliceStable(facts, func(i, j int) bool {
		oi, oj := facts[i].Level.Order(), facts[j].Level.Order()
		if oi != oj {
			return oi < oj
		}
		return facts[i].Gender < facts[j].Gender
	})
}

// Chain unions the output of several extractors.
type Chain []Extractor

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, e := range c {
		names = append(names, e.Name())
	}
	return strings.Join(names, "+")
}

func (c Chain) Extract(text string) []Fact {
	seen := make(map[Fact]struct{})
	var out []Fact
	for _, e := range c {
		for _, f := range e.Extract(text) {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	Sort(out)
	return out
}
