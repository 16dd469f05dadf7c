package clubsite

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LogoFinder locates a club logo in a parsed page. Implementations are
// interchangeable and combined with ChainLogoFinder.
type LogoFinder interface {
	Name() string
	FindLogo(doc *goquery.Document, base *url.URL) (string, bool)
}

// ChainLogoFinder returns the first hit of its finders.
type ChainLogoFinder []LogoFinder

func (c ChainLogoFinder) Name() string {
	names := make([]string, 0, len(c))
	for _, f := range c {
		names = append(names, f.Name())
	}
	return strings.Join(names, ">")
}

func (c ChainLogoFinder) FindLogo(doc *goquery.Document, base *url.URL) (string, bool) {
	for _, f := range c {
		if logo, ok := f.FindLogo(doc, base); ok {
			return logo, true
		}
	}
	return "", false
}

// DefaultLogoFinder prefers an explicit logo image, then metadata, then the
// site icon.
func DefaultLogoFinder() LogoFinder {
	return ChainLogoFinder{ImageLogoFinder{}, MetaLogoFinder{}, IconLogoFinder{}}
}

// ImageLogoFinder picks the first <img> whose src, alt, class or id mentions
// "logo", or that sits inside an element that does.
type ImageLogoFinder struct{}

func (ImageLogoFinder) Name() string { return "img" }

func (ImageLogoFinder) FindLogo(doc *goquery.Document, base *url.URL) (string, bool) {
	var found string
	doc.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if !mentionsLogo(img) && !mentionsLogo(img.Parent()) && img.Closest("[class*=logo],[id*=logo]").Length() == 0 {
			return true
		}
		src, _ := img.Attr("src")
		if abs, ok := absoluteURL(base, src); ok {
			found = abs
			return false
		}
		return true
	})
	return found, found != ""
}

func mentionsLogo(s *goquery.Selection) bool {
	if s == nil || s.Length() == 0 {
		return false
	}
	for _, attr := range []string{"src", "alt", "class", "id"} {
		if v, ok := s.Attr(attr); ok && strings.Contains(strings.ToLower(v), "logo") {
			return true
		}
	}
	return false
}

// MetaLogoFinder reads schema.org and Open Graph metadata.
type MetaLogoFinder struct{}

func (MetaLogoFinder) Name() string { return "meta" }

func (MetaLogoFinder) FindLogo(doc *goquery.Document, base *url.URL) (string, bool) {
	selectors := []struct{ sel, attr string }{
		{`[itemprop="logo"][src]`, "src"},
		{`meta[itemprop="logo"]`, "content"},
		{`meta[property="og:logo"]`, "content"},
		{`meta[property="og:image"]`, "content"},
	}
	for _, s := range selectors {
		if v, ok := doc.Find(s.sel).First().Attr(s.attr); ok {
			if abs, ok := absoluteURL(base, v); ok {
				return abs, true
			}
		}
	}
	return "", false
}

// IconLogoFinder falls back to the largest declared touch or favicon.
type IconLogoFinder struct{}

func (IconLogoFinder) Name() string { return "icon" }

func (IconLogoFinder) FindLogo(doc *goquery.Document, base *url.URL) (string, bool) {
	best, bestSize := "", -1
	doc.Find("link[rel][href]").Each(func(_ int, link *goquery.Selection) {
		rel := strings.ToLower(link.AttrOr("rel", ""))
		if !strings.Contains(rel, "icon") {
			return
		}
		abs, ok := absoluteURL(base, link.AttrOr("href", ""))
		if !ok {
			return
		}
		size := iconSize(link.AttrOr("sizes", ""))
		if strings.Contains(rel, "apple-touch-icon") && size < 0 {
			size = 180
		}
		if size > bestSize {
			best, bestSize = abs, size
		}
	})
	return best, best != ""
}

// iconSize parses "192x192" style values; unknown sizes rank lowest.
func iconSize(v string) int {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return -1
	}
	w, _, ok := strings.Cut(strings.ToLower(fields[0]), "x")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(w)
	if err != nil {
		return -1
	}
	return n
}

func absoluteURL(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
