package sourcerecord

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/domain/leaguetext"
)

var (
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	postalCodePattern = regexp.MustCompile(`(?:^|[\s,(])([1-9]\d{3})(?:[\s,)]|$)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	fourDigits        = regexp.MustCompile(`^\d{4}$`)
)

type Normalizer struct {
	validate  *validator.Validate
	extractor leaguetext.Extractor
	now       func() time.Time
}

type NormalizerOption func(*Normalizer)

func WithExtractor(e leaguetext.Extractor) NormalizerOption {
	return func(n *Normalizer) {
		if e != nil {
			n.extractor = e
		}
	}
}

func WithClock(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		extractor: leaguetext.NewRegexExtractor(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates raw, splits concatenated name/postal/town values,
// resolves the canton and reads league facts. A record without a usable name
// fails with *ParseError; everything else degrades into Issues.
func (n *Normalizer) Normalize(raw RawRecord) (Record, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = ContentID(raw)
	}

	if err := n.validate.Struct(raw); err != nil {
		return Record{}, &ParseError{RecordID: id, Source: raw.Source, Reason: "envelope", Err: errors.Join(ErrInvalidEnvelope, err)}
	}
	rank, err := ParseRank(raw.Rank)
	if err != nil {
		return Record{}, &ParseError{RecordID: id, Source: raw.Source, Reason: "rank", Err: err}
	}

	rec := Record{
		RecordID:   id,
		RawName:    raw.Name,
		Town:       collapse(raw.Town),
		PostalCode: strings.TrimSpace(raw.PostalCode),
		Email:      strings.TrimSpace(raw.Email),
		Source:     strings.TrimSpace(raw.Source),
		Rank:       rank,
		Flags:      league.Flags{},
	}
	if raw.ObservedAt != nil {
		rec.ObservedAt = raw.ObservedAt.UTC()
	} else {
		rec.ObservedAt = n.now().UTC()
	}

	name := collapse(raw.Name)
	if email := emailPattern.FindString(name); email != "" {
		if rec.Email == "" {
			rec.Email = email
		}
		name = collapse(strings.Replace(name, email, " ", 1))
	}
	if head, postal, town := splitPostal(name); postal != "" && (rec.PostalCode == "" || rec.PostalCode == postal) {
		name = head
		rec.PostalCode = postal
		if rec.Town == "" {
			rec.Town = town
		}
	}
	rec.Name = strings.Trim(name, " ,-–")
	if rec.Name == "" {
		return Record{}, &ParseError{RecordID: id, Source: raw.Source, Reason: "name", Err: ErrMissingName}
	}

	if rec.PostalCode != "" && !fourDigits.MatchString(rec.PostalCode) {
		rec.Issues = append(rec.Issues, Issue{Code: IssueInvalidPostalCode, Detail: rec.PostalCode})
	}
	if rec.Town == "" {
		rec.Issues = append(rec.Issues, Issue{Code: IssueMissingTown, Detail: rec.Name})
	}

	n.resolveCanton(&rec, raw.Canton)

	rec.Website = normalizeURL(&rec, raw.Website)
	rec.Logo = normalizeURL(&rec, raw.Logo)

	for _, v := range raw.Leagues {
		key, err := league.ParseFlagKey(v)
		if err != nil {
			rec.Issues = append(rec.Issues, Issue{Code: IssueInvalidFlag, Detail: err.Error()})
			continue
		}
		rec.Flags.Set(key.Level, key.Gender, true)
	}
	for v, set := range raw.Flags {
		key, err := league.ParseFlagKey(v)
		if err != nil {
			rec.Issues = append(rec.Issues, Issue{Code: IssueInvalidFlag, Detail: err.Error()})
			continue
		}
		rec.Flags[key] = rec.Flags[key] || set
	}
	if len(rec.Flags) == 0 && strings.TrimSpace(raw.LeagueText) != "" {
		rec.Facts = n.extractor.Extract(raw.LeagueText)
		for _, f := range rec.Facts {
			if f.Ambiguous() {
				rec.Issues = append(rec.Issues, Issue{Code: IssueAmbiguousGender, Detail: string(f.Level)})
			}
		}
	}

	return rec, nil
}

func (n *Normalizer) resolveCanton(rec *Record, given string) {
	if strings.TrimSpace(given) != "" {
		rec.Canton = canton.Parse(given)
		if rec.Canton == canton.Unknown {
			rec.Issues = append(rec.Issues, Issue{Code: IssueInvalidCanton, Detail: given})
		}
		return
	}
	if rec.PostalCode == "" {
		return
	}

	code, err := canton.ResolveStrict(rec.PostalCode)
	rec.Canton = code
	if err != nil {
		rec.Issues = append(rec.Issues, Issue{Code: IssueCantonUnresolved, Detail: err.Error()})
		return
	}
	rec.CantonInferred = true
}

// splitPostal cuts "VBC Foo 8001 Zürich" at the last postal code.
func splitPostal(name string) (string, string, string) {
	locs := postalCodePattern.FindAllStringSubmatchIndex(name, -1)
	if len(locs) == 0 {
		return name, "", ""
	}
	loc := locs[len(locs)-1]
	head := strings.TrimSpace(name[:loc[2]])
	tail := strings.Trim(name[loc[3]:], " ,()")
	return head, name[loc[2]:loc[3]], collapse(tail)
}

func normalizeURL(rec *Record, raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "://") {
		v = "https://" + v
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		rec.Issues = append(rec.Issues, Issue{Code: IssueInvalidURL, Detail: raw})
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

func flagString(flags map[string]bool) string {
	parts := make([]string, 0, len(flags))
	for k, v := range flags {
		parts = append(parts, fmt.Sprintf("%s=%t", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// ContentID derives a stable id from the record content so resumed runs
// recognise records that arrived without one.
func ContentID(raw RawRecord) string {
	leagues := append([]string(nil), raw.Leagues...)
	sort.Strings(leagues)

	h := sha256.New()
	for _, part := range []string{
		raw.Source, raw.Rank, raw.Name, raw.Town, raw.PostalCode, raw.Canton,
		raw.Website, raw.Logo, raw.Email, raw.LeagueText, strings.Join(leagues, ","), flagString(raw.Flags),
	} {
		h.Write([]byte(strings.TrimSpace(part)))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("sha256:%s", hex.EncodeToString(h.Sum(nil))[:32])
}
