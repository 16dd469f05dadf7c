package clubsite

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

// QueryPlaceholder marks where the escaped query goes in a search URL.
const QueryPlaceholder = "{query}"

// DirectorySelectors map a federation club directory's result markup.
type DirectorySelectors struct {
	Item    string
	Name    string
	Website string
	Town    string
	Postal  string
	League  string
	Logo    string
}

func DefaultDirectorySelectors() DirectorySelectors {
	return DirectorySelectors{
		Item:    ".club, .club-result, [data-club]",
		Name:    ".club-name, .name, h2, h3",
		Website: "a.website, a[rel~=external], .website a",
		Town:    ".club-town, .town, .ort",
		Postal:  ".club-zip, .zip, .plz",
		League:  ".club-league, .league, .liga",
		Logo:    "img.club-logo, .logo img",
	}
}

// DirectorySearchStrategy queries a club directory and takes the result whose
// name shares the group's dedup key.
type DirectorySearchStrategy struct {
	fetcher   *Fetcher
	searchURL string
	sel       DirectorySelectors
}

var _ usecase.ResolutionStrategy = (*DirectorySearchStrategy)(nil)

func NewDirectorySearchStrategy(fetcher *Fetcher, searchURL string, sel DirectorySelectors) *DirectorySearchStrategy {
	if sel.Item == "" {
		sel = DefaultDirectorySelectors()
	}
	return &DirectorySearchStrategy{fetcher: fetcher, searchURL: searchURL, sel: sel}
}

func (s *DirectorySearchStrategy) Name() string { return "directory_search" }

func (s *DirectorySearchStrategy) Rank() sourcerecord.Rank { return sourcerecord.RankDirectorySearch }

func (s *DirectorySearchStrategy) Resolve(ctx context.Context, q usecase.ResolutionQuery) (sourcerecord.RawRecord, bool, error) {
	if s.searchURL == "" || strings.TrimSpace(q.Name) == "" {
		return sourcerecord.RawRecord{}, false, nil
	}

	page, err := s.fetcher.Fetch(ctx, searchURL(s.searchURL, q.Name))
	if err != nil {
		return sourcerecord.RawRecord{}, false, fmt.Errorf("directory search: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return sourcerecord.RawRecord{}, false, fmt.Errorf("parse directory results: %w", err)
	}
	base, _ := url.Parse(page.URL)

	var (
		raw   sourcerecord.RawRecord
		found bool
	)
	doc.Find(s.sel.Item).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		name := cleanText(item.Find(s.sel.Name).First())
		if name == "" || dedup.Key(name) != q.Key {
			return true
		}
		raw = sourcerecord.RawRecord{
			Source:     s.Name(),
			Name:       name,
			Town:       cleanText(item.Find(s.sel.Town).First()),
			PostalCode: cleanText(item.Find(s.sel.Postal).First()),
			LeagueText: leagueLines(item.Find(s.sel.League)),
		}
		if href, ok := item.Find(s.sel.Website).First().Attr("href"); ok {
			raw.Website, _ = absoluteURL(base, href)
		}
		if src, ok := item.Find(s.sel.Logo).First().Attr("src"); ok {
			raw.Logo, _ = absoluteURL(base, src)
		}
		found = true
		return false
	})
	return raw, found, nil
}

func leagueLines(sel *goquery.Selection) string {
	var lines []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s); text != "" {
			lines = append(lines, text)
		}
	})
	return strings.Join(lines, segmentGap)
}

func cleanText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func searchURL(template, query string) string {
	escaped := url.QueryEscape(query)
	if strings.Contains(template, QueryPlaceholder) {
		return strings.ReplaceAll(template, QueryPlaceholder, escaped)
	}
	sep := "?"
	if strings.Contains(template, "?") {
		sep = "&"
	}
	return template + sep + "q=" + escaped
}
