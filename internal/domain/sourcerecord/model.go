// Package sourcerecord turns raw ingestion output into normalized, immutable
// club observations.
package sourcerecord

import (
	"fmt"
	"strings"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/domain/leaguetext"
)

// Rank is the trust level of the pass that produced a record. Higher wins.
type Rank int

const (
	RankUnknown Rank = iota
	RankWebSearch
	RankDirectorySearch
	RankDetailedScrape
	RankManual
)

var rankNames = map[Rank]string{
	RankUnknown:         "unknown",
	RankWebSearch:       "web_search",
	RankDirectorySearch: "directory_search",
	RankDetailedScrape:  "detailed_scrape",
	RankManual:          "manual",
}

func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

func ParseRank(v string) (Rank, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for r, name := range rankNames {
		if name == v {
			return r, nil
		}
	}
	return RankUnknown, fmt.Errorf("unknown source rank %q", v)
}

func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rank) UnmarshalText(b []byte) error {
	parsed, err := ParseRank(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RawRecord is one line of ingestion output as it arrives.
type RawRecord struct {
	ID         string   `json:"id,omitempty"`
	Source     string   `json:"source" validate:"required"`
	Rank       string   `json:"rank" validate:"required,oneof=manual detailed_scrape directory_search web_search"`
	Name       string   `json:"name"`
	Town       string   `json:"town,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	Canton     string   `json:"canton,omitempty"`
	Website    string   `json:"website,omitempty" validate:"omitempty,max=2048"`
	Logo       string   `json:"logo,omitempty" validate:"omitempty,max=2048"`
	Email      string   `json:"email,omitempty"`
	LeagueText string   `json:"league_text,omitempty"`
	Leagues    []string `json:"leagues,omitempty"`
	// Flags carries explicit values, including false, keyed like "NLA/women".
	Flags      map[string]bool `json:"flags,omitempty"`
	ObservedAt *time.Time      `json:"observed_at,omitempty"`
}

// Record is a normalized observation. It is never mutated after Normalize.
type Record struct {
	RecordID       string
	Seq            int
	RawName        string
	Name           string
	Town           string
	PostalCode     string
	Canton         canton.Code
	CantonInferred bool
	Website        string
	Logo           string
	Email          string
	Facts          []leaguetext.Fact
	Flags          league.Flags
	Source         string
	Rank           Rank
	ObservedAt     time.Time
	Issues         []Issue
}

// HasLeagueData reports whether the record says anything about leagues.
func (r Record) HasLeagueData() bool {
	return len(r.Facts) > 0 || r.Flags.Any()
}

type IssueCode string

const (
	IssueCantonUnresolved  IssueCode = "canton_unresolved"
	IssueInvalidCanton     IssueCode = "invalid_canton"
	IssueAmbiguousGender   IssueCode = "ambiguous_gender"
	IssueInvalidFlag       IssueCode = "invalid_flag"
	IssueInvalidPostalCode IssueCode = "invalid_postal_code"
	IssueMissingTown       IssueCode = "missing_town"
	IssueInvalidURL        IssueCode = "invalid_url"
)

// Issue is a non-fatal normalization finding.
type Issue struct {
	Code   IssueCode `json:"code"`
	Detail string    `json:"detail"`
}

func (r Record) HasIssue(code IssueCode) bool {
	for _, i := range r.Issues {
		if i.Code == code {
			return true
		}
	}
	return false
}
