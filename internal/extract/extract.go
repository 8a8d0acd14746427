// Package extract turns listing and article HTML into candidates and
// partial records using per-source CSS selectors.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"news_spider/internal/config"
	"news_spider/internal/models"
	"news_spider/internal/urlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/go-shiori/go-readability"
)

var ErrNoContent = errors.New("no article content found")

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reBlockTag   = regexp.MustCompile(`(?i)</?(div|p|br|li|td|tr|h[1-6])\b[^>]*>`)
)

// SelectorExtractor is stateless after construction and safe for
// concurrent use.
type SelectorExtractor struct {
	sel     config.Selectors
	baseURL string
}

func New(sel config.Selectors, baseURL string) *SelectorExtractor {
	if sel.LinkAttr == "" {
		sel.LinkAttr = "href"
	}
	return &SelectorExtractor{sel: sel, baseURL: baseURL}
}

// ExtractListing returns the candidates on a listing page in document
// order, deduplicated by normalized URL. Without an item selector every
// anchor on the page is a candidate.
func (e *SelectorExtractor) ExtractListing(page []byte, pageURL string) ([]models.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base := e.base(pageURL)

	seen := make(map[string]bool)
	var out []models.Candidate
	add := func(c models.Candidate) {
		if c.URL == "" || seen[c.URL] {
			return
		}
		seen[c.URL] = true
		out = append(out, c)
	}

	if e.sel.Item == "" {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			add(models.Candidate{URL: resolve(base, href), Title: text(s)})
		})
		return out, nil
	}

	doc.Find(e.sel.Item).Each(func(_ int, item *goquery.Selection) {
		link := item
		if e.sel.Link != "" {
			link = item.Find(e.sel.Link).First()
		}
		href, ok := link.Attr(e.sel.LinkAttr)
		if !ok {
			return
		}

		c := models.Candidate{URL: resolve(base, href)}
		if e.sel.Title != "" {
			c.Title = text(item.Find(e.sel.Title).First())
		} else {
			c.Title = text(link)
		}
		if e.sel.Summary != "" {
			c.Summary = text(item.Find(e.sel.Summary).First())
		}
		if e.sel.Image != "" {
			c.Image = imageURL(base, item.Find(e.sel.Image).First())
		}
		if e.sel.Time != "" {
			c.PublishedAt = parseTime(attrOrText(item.Find(e.sel.Time).First(), e.sel.TimeAttr))
		}
		add(c)
	})
	return out, nil
}

// ExtractDetail reads an article page. Configured selectors win; metadata
// tags and a readability pass fill whatever they miss.
func (e *SelectorExtractor) ExtractDetail(page []byte, pageURL string) (models.PartialRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return models.PartialRecord{}, fmt.Errorf("parse article: %w", err)
	}
	base := e.base(pageURL)

	var rec models.PartialRecord
	if e.sel.DetailTitle != "" {
		rec.Title = text(doc.Find(e.sel.DetailTitle).First())
	}
	if rec.Title == "" {
		rec.Title = firstNonEmpty(meta(doc, "og:title"), text(doc.Find("h1").First()))
	}

	if e.sel.DetailAuthor != "" {
		rec.Author = text(doc.Find(e.sel.DetailAuthor).First())
	}
	if rec.Author == "" {
		rec.Author = meta(doc, "author")
	}

	if e.sel.DetailImage != "" {
		rec.Image = imageURL(base, doc.Find(e.sel.DetailImage).First())
	}
	if rec.Image == "" {
		if og := meta(doc, "og:image"); og != "" {
			rec.Image = resolve(base, og)
		}
	}

	if e.sel.DetailTime != "" {
		rec.PublishedAt = parseTime(attrOrText(doc.Find(e.sel.DetailTime).First(), "datetime"))
	}
	if rec.PublishedAt == nil {
		rec.PublishedAt = parseTime(firstNonEmpty(
			meta(doc, "article:published_time"),
			attrOrText(doc.Find("time[datetime]").First(), "datetime"),
		))
	}

	rec.Summary = firstNonEmpty(meta(doc, "og:description"), meta(doc, "description"))

	if e.sel.DetailBody != "" {
		rec.Body = e.bodyText(doc.Find(e.sel.DetailBody))
	}
	if rec.Body == "" {
		fillFromReadability(&rec, page, pageURL)
	}

	if rec.Body == "" && rec.Title == "" {
		return rec, ErrNoContent
	}
	return rec, nil
}

// bodyText joins the text of the configured body tags inside sel, or the
// whole selection when no tags are configured.
func (e *SelectorExtractor) bodyText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if len(e.sel.BodyTags) == 0 {
		html, err := goquery.OuterHtml(sel)
		if err != nil {
			return normalizeText(sel.Text())
		}
		return htmlToText(html)
	}

	var parts []string
	sel.Find(strings.Join(e.sel.BodyTags, ", ")).Each(func(_ int, s *goquery.Selection) {
		if t := text(s); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

func fillFromReadability(rec *models.PartialRecord, page []byte, pageURL string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	article, err := readability.FromReader(bytes.NewReader(page), u)
	if err != nil {
		return
	}

	rec.Body = htmlToText(article.Content)
	if rec.Title == "" {
		rec.Title = normalizeText(article.Title)
	}
	if rec.Author == "" {
		rec.Author = normalizeText(article.Byline)
	}
	if rec.Image == "" {
		rec.Image = article.Image
	}
	if rec.Summary == "" {
		rec.Summary = normalizeText(article.Excerpt)
	}
}

func (e *SelectorExtractor) base(pageURL string) string {
	if pageURL != "" {
		return pageURL
	}
	return e.baseURL
}

// htmlToText keeps words in adjacent block elements apart before the tags
// are dropped.
func htmlToText(html string) string {
	spaced := reBlockTag.ReplaceAllString(html, " $0 ")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaced))
	if err != nil {
		return ""
	}
	return normalizeText(doc.Text())
}

func normalizeText(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

func text(s *goquery.Selection) string {
	return normalizeText(s.Text())
}

func attrOrText(s *goquery.Selection, attr string) string {
	if attr != "" {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return text(s)
}

func imageURL(base string, s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "content"} {
		if v, ok := s.Attr(attr); ok && v != "" {
			return resolve(base, v)
		}
	}
	return ""
}

func meta(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	return urlutil.NormalizeURL(base, href)
}

// parseTime accepts whatever date format a site prints; zoneless values
// are taken as UTC.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
