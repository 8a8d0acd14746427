package models

import "time"

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SourceState accumulates run outcomes for one source across runs.
type SourceState struct {
	Source         string     `bson:"source"`
	TotalRuns      int        `bson:"total_runs"`
	SuccessfulRuns int        `bson:"successful_runs"`
	FailedRuns     int        `bson:"failed_runs"`
	TotalArticles  int        `bson:"total_articles"`
	LastArticles   int        `bson:"last_articles_count"`
	LastRun        time.Time  `bson:"last_run"`
	LastSuccess    *time.Time `bson:"last_success,omitempty"`
	LastError      string     `bson:"last_error,omitempty"`
	LastErrorTime  *time.Time `bson:"last_error_time,omitempty"`
}

// SourceRun is the outcome of one source within a run.
type SourceRun struct {
	Source          string    `bson:"source" json:"source"`
	Collection      string    `bson:"collection" json:"collection"`
	Mode            string    `bson:"mode" json:"mode"`
	Status          string    `bson:"status" json:"status"`
	Error           string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	StartedAt       time.Time `bson:"start_time" json:"start_time"`
	FinishedAt      time.Time `bson:"end_time" json:"end_time"`
	DurationSec     float64   `bson:"duration_seconds" json:"duration_seconds"`
	ArticlesSaved   int       `bson:"articles_scraped" json:"articles_scraped"`
	ArticlesSkipped int       `bson:"articles_skipped" json:"articles_skipped"`
	PagesFetched    int       `bson:"pages_fetched" json:"pages_fetched"`
	ListingFailures int       `bson:"listing_failures" json:"listing_failures"`
	DetailFailures  int       `bson:"detail_failures" json:"detail_failures"`
	PersistFailures int       `bson:"persist_failures" json:"persist_failures"`
	FinalPage       int       `bson:"final_page" json:"final_page"`
	StopReason      string    `bson:"stop_reason" json:"stop_reason"`
	StoppedEarly    bool      `bson:"stopped_early" json:"stopped_early"`
	BeforeCount     int64     `bson:"before_count" json:"before_count"`
	AfterCount      int64     `bson:"after_count" json:"after_count"`
}

// Errors counts every per-item failure in the run.
func (r SourceRun) Errors() int {
	return r.ListingFailures + r.DetailFailures + r.PersistFailures
}

// RunHistory is one invocation of the spider across all enabled sources.
type RunHistory struct {
	RunID         string      `bson:"run_id" json:"run_id"`
	Mode          string      `bson:"mode" json:"mode"`
	StartedAt     time.Time   `bson:"start_time" json:"start_time"`
	FinishedAt    time.Time   `bson:"end_time" json:"end_time"`
	DurationSec   float64     `bson:"duration_seconds" json:"duration_seconds"`
	TotalSources  int         `bson:"total_scrapers" json:"total_scrapers"`
	Successful    int         `bson:"successful_scrapers" json:"successful_scrapers"`
	Failed        int         `bson:"failed_scrapers" json:"failed_scrapers"`
	TotalArticles int         `bson:"total_articles_scraped" json:"total_articles_scraped"`
	TotalSkipped  int         `bson:"total_articles_skipped" json:"total_articles_skipped"`
	TotalErrors   int         `bson:"total_errors" json:"total_errors"`
	Sources       []SourceRun `bson:"scrapers" json:"scrapers"`
}

// Add folds a source outcome into the run totals.
func (h *RunHistory) Add(r SourceRun) {
	h.Sources = append(h.Sources, r)
	if r.Status == StatusSuccess {
		h.Successful++
	} else {
		h.Failed++
	}
	h.TotalArticles += r.ArticlesSaved
	h.TotalSkipped += r.ArticlesSkipped
	h.TotalErrors += r.Errors()
}
