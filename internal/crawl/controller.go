package crawl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"news_spider/internal/fetch"
	"news_spider/internal/logger"
	"news_spider/internal/models"
	"news_spider/internal/urlutil"
)

var ErrListingFailures = errors.New("too many consecutive listing failures")

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

type Extractor interface {
	ExtractListing(page []byte, pageURL string) ([]models.Candidate, error)
	ExtractDetail(page []byte, pageURL string) (models.PartialRecord, error)
}

type ArticleStore interface {
	ExistenceChecker
	Upsert(ctx context.Context, article *models.Article) error
}

// Source is everything the controller needs to know about one site.
type Source struct {
	Name       string
	Collection string
	Category   string
	Mode       Mode
	StartPage  int
	// PageURL builds the listing url for a page index.
	PageURL func(index int) string
	Limits  Limits

	// Cutoff drops articles published before it; zero disables.
	Cutoff time.Time
	// DateOrdered sources are newest first, so the first article past the
	// cutoff ends the crawl.
	DateOrdered bool
	// ListingOnly sources build articles from the listing alone.
	ListingOnly bool

	FollowPatterns  []string
	ExcludePatterns []string

	Delay         time.Duration
	MinBodyLength int
}

type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Store     ArticleStore
	Log       logger.Interface
	Now       func() time.Time
}

// Result is the per-source outcome of Run.
type Result struct {
	Source          string
	Saved           int
	Duplicates      int
	Filtered        int
	Rejected        int
	PagesFetched    int
	ListingFailures int
	DetailFailures  int
	PersistFailures int
	FinalPage       int
	StopReason      StopReason
	StoppedEarly    bool
	// State is the crawl position at the end of the run.
	State State
}

type Controller struct {
	src    Source
	deps   Deps
	oracle *Oracle
	log    logger.Interface

	mu       sync.Mutex
	progress *Result
}

func NewController(src Source, deps Deps) *Controller {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log.With("source", src.Name)

	return &Controller{
		src:    src,
		deps:   deps,
		oracle: NewOracle(deps.Store, log),
		log:    log,
	}
}

// Run crawls the source until a stop condition holds. Closing stop ends
// the crawl after the current page; cancelling ctx abandons it mid-page.
// Run returns ErrListingFailures when the listing kept failing and ctx's
// error when ctx ended first.
func (c *Controller) Run(ctx context.Context, stop <-chan struct{}) (*Result, error) {
	st := NewState(c.src.Mode, c.src.StartPage)
	res := &Result{Source: c.src.Name}

	c.log.Info("crawl started",
		"mode", c.src.Mode.String(),
		"start_page", c.src.StartPage,
		"max_pages", c.src.Limits.MaxPages,
		"skip_threshold", c.src.Limits.SkipThreshold,
	)

	for {
		if closed(stop) {
			st.Halt(StopShutdown)
		}
		ok, reason := st.ShouldContinue(c.src.Limits)
		if !ok {
			res.StopReason = reason
			break
		}
		if err := ctx.Err(); err != nil {
			c.finish(res, st)
			return res, err
		}
		st = c.crawlPage(ctx, st, res)
		c.publish(res, st)
	}

	c.finish(res, st)
	c.log.Info("crawl finished",
		"reason", string(res.StopReason),
		"saved", res.Saved,
		"duplicates", res.Duplicates,
		"pages", res.PagesFetched,
		"final_page", res.FinalPage,
	)

	if res.StopReason == StopListingFailures {
		return res, fmt.Errorf("%s: %d in a row: %w", c.src.Name, st.ListingFailures, ErrListingFailures)
	}
	return res, nil
}

func (c *Controller) finish(res *Result, st State) {
	res.FinalPage = st.PageIndex
	res.StoppedEarly = res.StopReason == StopCutoff || res.StopReason == StopShutdown
	res.State = st
}

// publish stores a copy of the counters as of the last finished page.
func (c *Controller) publish(res *Result, st State) {
	snap := *res
	snap.FinalPage = st.PageIndex
	snap.State = st
	snap.State.SkippedPages = slices.Clone(st.SkippedPages)

	c.mu.Lock()
	c.progress = &snap
	c.mu.Unlock()
}

// Progress returns the counters as of the last finished page, or nil
// before the first one. It is safe to call while Run is in flight.
func (c *Controller) Progress() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress == nil {
		return nil
	}
	snap := *c.progress
	snap.State.SkippedPages = slices.Clone(c.progress.State.SkippedPages)
	return &snap
}

func closed(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// crawlPage processes the listing at st.PageIndex and returns the state
// for the next iteration.
func (c *Controller) crawlPage(ctx context.Context, st State, res *Result) State {
	pageURL := c.src.PageURL(st.PageIndex)
	log := c.log.With("page", st.PageIndex)
	st.SavedThisPage = 0

	resp, err := c.deps.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		st.ListingFailures++
		res.ListingFailures++
		log.Warn("listing fetch failed", "url", pageURL, "error", err)
		return Advance(st, false)
	}
	st.ListingFailures = 0
	res.PagesFetched++

	candidates, err := c.deps.Extractor.ExtractListing(resp.Body, pageURL)
	if err != nil {
		st.ListingFailures++
		res.ListingFailures++
		log.Warn("listing extraction failed", "url", pageURL, "error", err)
		return Advance(st, false)
	}
	if len(candidates) == 0 {
		log.Info("listing is empty, source exhausted", "url", pageURL)
		st.Halt(StopExhausted)
		return st
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !urlutil.ShouldFollow(cand.URL, c.src.FollowPatterns, c.src.ExcludePatterns) {
			res.Filtered++
			continue
		}
		if c.tooOld(cand.PublishedAt) {
			c.cutoffReached(&st, res, cand.URL)
			continue
		}
		if c.oracle.Exists(ctx, &st, cand.URL) {
			res.Duplicates++
			log.Debug("already stored", "url", cand.URL)
			continue
		}
		if c.ingest(ctx, &st, res, cand) {
			st.SavedThisPage++
			res.Saved++
			sleep(ctx, c.src.Delay)
		}
	}

	productive := st.SavedThisPage > 0
	next := Advance(st, productive)
	next.SavedThisPage = 0

	log.Info("page done",
		"candidates", len(candidates),
		"saved", st.SavedThisPage,
		"consecutive_skips", st.ConsecutiveSkips,
		"next_page", next.PageIndex,
		"backtracking", next.IsBacktracking,
	)
	return next
}

// ingest fetches, normalizes and stores one candidate. Any failure drops
// just this candidate.
func (c *Controller) ingest(ctx context.Context, st *State, res *Result, cand models.Candidate) (saved bool) {
	defer func() {
		if r := recover(); r != nil {
			res.DetailFailures++
			c.log.Error("candidate panicked", "url", cand.URL, "panic", fmt.Sprint(r))
			saved = false
		}
	}()

	var partial models.PartialRecord
	minBody := c.src.MinBodyLength
	if c.src.ListingOnly {
		minBody = 0
	} else {
		resp, err := c.deps.Fetcher.Fetch(ctx, cand.URL)
		if err != nil {
			res.DetailFailures++
			c.log.Warn("article fetch failed", "url", cand.URL, "error", err)
			return false
		}
		partial, err = c.deps.Extractor.ExtractDetail(resp.Body, cand.URL)
		if err != nil {
			res.DetailFailures++
			c.log.Warn("article extraction failed", "url", cand.URL, "error", err)
			return false
		}
	}

	article := models.Normalize(cand, partial, c.src.Category, c.src.Name, c.deps.Now())
	if !article.MeetsQuality(minBody) {
		res.Rejected++
		c.log.Debug("article below quality bar", "url", cand.URL, "body_len", len([]rune(article.Description.Details)))
		return false
	}
	if c.tooOld(article.Time) {
		c.cutoffReached(st, res, cand.URL)
		return false
	}

	if err := c.deps.Store.Upsert(ctx, &article); err != nil {
		res.PersistFailures++
		c.log.Error("failed to save article", "url", cand.URL, "error", err)
		return false
	}
	c.log.Debug("article saved", "url", article.URL, "title", article.Title)
	return true
}

func (c *Controller) tooOld(published *time.Time) bool {
	return published != nil && !c.src.Cutoff.IsZero() && published.Before(c.src.Cutoff)
}

func (c *Controller) cutoffReached(st *State, res *Result, url string) {
	res.Filtered++
	c.log.Debug("article older than cutoff", "url", url, "cutoff", c.src.Cutoff.Format(time.DateOnly))
	if c.src.DateOrdered {
		st.Halt(StopCutoff)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
