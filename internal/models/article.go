package models

import (
	"strings"
	"time"

	"news_spider/internal/urlutil"
)

type Description struct {
	Summary string `bson:"summary" json:"summary"`
	Details string `bson:"details" json:"details"`
}

// Article is the persisted shape of every scraped story, whichever source
// produced it. URL is the natural key.
type Article struct {
	URL         string      `bson:"url" json:"url"`
	Title       string      `bson:"title" json:"title"`
	Author      string      `bson:"author" json:"author"`
	Image       string      `bson:"image" json:"image"`
	Time        *time.Time  `bson:"time" json:"time"`
	Description Description `bson:"description" json:"description"`
	Category    string      `bson:"category" json:"category"`
	Source      string      `bson:"source" json:"source"`
	ContentHash string      `bson:"content_hash" json:"content_hash"`
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
}

// Candidate is an item found on a listing page, before the existence check
// and detail enrichment.
type Candidate struct {
	URL         string
	Title       string
	Summary     string
	Image       string
	Author      string
	PublishedAt *time.Time
}

// PartialRecord is whatever a detail page yielded. Empty strings mean the
// field was not found.
type PartialRecord struct {
	Title       string
	Author      string
	Image       string
	Summary     string
	Body        string
	PublishedAt *time.Time
}

// Normalize merges a candidate with its detail record into the canonical
// Article. Detail values win over listing values when both are present;
// missing fields become empty strings. CreatedAt is stamped with now.
func Normalize(c Candidate, p PartialRecord, category, source string, now time.Time) Article {
	body := clean(p.Body)

	published := c.PublishedAt
	if p.PublishedAt != nil {
		published = p.PublishedAt
	}
	if published != nil {
		t := published.UTC()
		published = &t
	}

	return Article{
		URL:    strings.TrimSpace(c.URL),
		Title:  firstNonEmpty(p.Title, c.Title),
		Author: firstNonEmpty(p.Author, c.Author),
		Image:  firstNonEmpty(p.Image, c.Image),
		Time:   published,
		Description: Description{
			Summary: firstNonEmpty(p.Summary, c.Summary),
			Details: body,
		},
		Category:    category,
		Source:      source,
		ContentHash: urlutil.ComputeContentHash(body),
		CreatedAt:   now.UTC(),
	}
}

// MeetsQuality rejects records without a key or title, and bodies shorter
// than minBody runes.
func (a Article) MeetsQuality(minBody int) bool {
	if a.URL == "" || a.Title == "" {
		return false
	}
	return len([]rune(a.Description.Details)) >= minBody
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = clean(v); v != "" {
			return v
		}
	}
	return ""
}

func clean(s string) string {
	return strings.TrimSpace(s)
}
