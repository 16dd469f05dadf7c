package clubsite

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

// Hosts that list clubs but are never a club's own website.
var aggregatorHosts = []string{
	"facebook.com", "instagram.com", "twitter.com", "x.com", "youtube.com", "tiktok.com",
	"linkedin.com", "wikipedia.org", "google.com", "maps.apple.com", "local.ch", "search.ch",
}

// Tokens too common in club names to identify a host.
var genericTokens = map[string]struct{}{
	"volley": {}, "volleyball": {}, "club": {}, "vbc": {}, "vc": {}, "sc": {}, "tv": {},
	"sportclub": {}, "verein": {}, "damen": {}, "herren": {}, "und": {}, "de": {}, "du": {},
}

// WebSearchStrategy asks a generic HTML search endpoint for the club's
// website. It is the least trusted strategy and only supplies a website.
type WebSearchStrategy struct {
	fetcher   *Fetcher
	searchURL string
	result    string
}

var _ usecase.ResolutionStrategy = (*WebSearchStrategy)(nil)

// NewWebSearchStrategy builds the strategy; resultSelector defaults to every
// link on the result page.
func NewWebSearchStrategy(fetcher *Fetcher, searchURL, resultSelector string) *WebSearchStrategy {
	if strings.TrimSpace(resultSelector) == "" {
		resultSelector = "a[href]"
	}
	return &WebSearchStrategy{fetcher: fetcher, searchURL: searchURL, result: resultSelector}
}

func (s *WebSearchStrategy) Name() string { return "web_search" }

func (s *WebSearchStrategy) Rank() sourcerecord.Rank { return sourcerecord.RankWebSearch }

func (s *WebSearchStrategy) Resolve(ctx context.Context, q usecase.ResolutionQuery) (sourcerecord.RawRecord, bool, error) {
	if s.searchURL == "" || !q.NeedWebsite || strings.TrimSpace(q.Name) == "" {
		return sourcerecord.RawRecord{}, false, nil
	}

	terms := strings.TrimSpace(q.Name + " " + q.Town + " volleyball")
	page, err := s.fetcher.Fetch(ctx, searchURL(s.searchURL, terms))
	if err != nil {
		return sourcerecord.RawRecord{}, false, fmt.Errorf("web search: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return sourcerecord.RawRecord{}, false, fmt.Errorf("parse search results: %w", err)
	}
	base, _ := url.Parse(page.URL)
	searchHost := ""
	if base != nil {
		searchHost = strings.ToLower(base.Hostname())
	}

	var website string
	doc.Find(s.result).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		target, ok := resultTarget(base, a.AttrOr("href", ""))
		if !ok {
			return true
		}
		host := strings.ToLower(target.Hostname())
		if host == searchHost || isAggregator(host) {
			return true
		}
		if !matchesClub(q, host, cleanText(a)) {
			return true
		}
		website = target.Scheme + "://" + target.Host + "/"
		return false
	})
	if website == "" {
		return sourcerecord.RawRecord{}, false, nil
	}
	return sourcerecord.RawRecord{Source: s.Name(), Name: q.Name, Website: website}, true, nil
}

// resultTarget unwraps redirect links such as "/l/?uddg=https%3A..." used by
// HTML search frontends.
func resultTarget(base *url.URL, href string) (*url.URL, bool) {
	abs, ok := absoluteURL(base, href)
	if !ok {
		return nil, false
	}
	u, err := url.Parse(abs)
	if err != nil {
		return nil, false
	}
	for _, param := range []string{"uddg", "url", "u", "q"} {
		if inner := u.Query().Get(param); strings.HasPrefix(inner, "http://") || strings.HasPrefix(inner, "https://") {
			if parsed, err := url.Parse(inner); err == nil && parsed.Host != "" {
				return parsed, true
			}
		}
	}
	return u, true
}

func isAggregator(host string) bool {
	for _, agg := range aggregatorHosts {
		if host == agg || strings.HasSuffix(host, "."+agg) {
			return true
		}
	}
	return false
}

// matchesClub accepts a result whose anchor text carries the club's key, or
// whose host contains a distinctive token of the name.
func matchesClub(q usecase.ResolutionQuery, host, anchor string) bool {
	if anchor != "" {
		if dedup.Key(anchor) == q.Key || fuzzy.MatchNormalizedFold(q.Name, anchor) {
			return true
		}
	}
	compactHost := strings.ReplaceAll(host, "-", "")
	for _, token := range strings.Fields(q.Key) {
		if _, generic := genericTokens[token]; generic || len(token) < 4 {
			continue
		}
		if strings.Contains(compactHost, token) {
			return true
		}
	}
	return false
}
