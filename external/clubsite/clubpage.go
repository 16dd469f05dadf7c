package clubsite

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/miocrobos/habicht-directory/internal/domain/leaguetext"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

var (
	leagueMention = regexp.MustCompile(`(?i)\b(nla|nlb|nationalliga|[1-5]\.?\s*liga|[1-5]l|u\s?(1[3-9]|2[0-3]))\b`)
	postalTown    = regexp.MustCompile(`\b([1-9]\d{3})\s+(\p{Lu}[\p{L}.\-]+(?:\s\p{Lu}[\p{L}.\-]+)?)`)
	// segmentGap keeps text from different page elements outside each
	// other's gender window.
	segmentGap = strings.Repeat(" ", leaguetext.GenderWindow+1)
)

// ClubPageStrategy scrapes the club's own homepage for its logo, its teams'
// leagues and its postal address.
type ClubPageStrategy struct {
	fetcher *Fetcher
	logos   LogoFinder
}

var _ usecase.ResolutionStrategy = (*ClubPageStrategy)(nil)

func NewClubPageStrategy(fetcher *Fetcher, logos LogoFinder) *ClubPageStrategy {
	if logos == nil {
		logos = DefaultLogoFinder()
	}
	return &ClubPageStrategy{fetcher: fetcher, logos: logos}
}

func (s *ClubPageStrategy) Name() string { return "club_page" }

func (s *ClubPageStrategy) Rank() sourcerecord.Rank { return sourcerecord.RankDetailedScrape }

func (s *ClubPageStrategy) Resolve(ctx context.Context, q usecase.ResolutionQuery) (sourcerecord.RawRecord, bool, error) {
	if strings.TrimSpace(q.Website) == "" {
		return sourcerecord.RawRecord{}, false, nil
	}

	page, err := s.fetcher.Fetch(ctx, q.Website)
	if err != nil {
		return sourcerecord.RawRecord{}, false, fmt.Errorf("fetch club page: %w", err)
	}
	if !page.IsHTML() {
		return sourcerecord.RawRecord{}, false, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return sourcerecord.RawRecord{}, false, fmt.Errorf("parse club page: %w", err)
	}
	base, _ := url.Parse(page.URL)

	raw := sourcerecord.RawRecord{
		Source:  s.Name(),
		Name:    q.Name,
		Website: q.Website,
	}
	if q.NeedLogo {
		if logo, ok := s.logos.FindLogo(doc, base); ok {
			raw.Logo = logo
		}
	}
	if q.NeedLeagues {
		raw.LeagueText = leagueText(doc)
	}
	if q.Town == "" {
		raw.PostalCode, raw.Town = postalAddress(doc)
	}
	return raw, true, nil
}

// leagueText joins the text of headings, list items and table cells that
// mention a league.
func leagueText(doc *goquery.Document) string {
	var segments []string
	seen := make(map[string]struct{})
	doc.Find("h1, h2, h3, h4, li, td, a").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" || len(text) > 200 || !leagueMention.MatchString(text) {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		segments = append(segments, text)
	})
	return strings.Join(segments, segmentGap)
}

// postalAddress looks for "3000 Bern" in address-like elements.
func postalAddress(doc *goquery.Document) (postal, town string) {
	doc.Find("address, footer, [class*=address], [class*=kontakt], [class*=contact]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		m := postalTown.FindStringSubmatch(strings.Join(strings.Fields(sel.Text()), " "))
		if m == nil {
			return true
		}
		postal, town = m[1], m[2]
		return false
	})
	return postal, town
}
