package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"news_spider/internal/config"
	"news_spider/internal/crawl"
	"news_spider/internal/db"
	"news_spider/internal/extract"
	"news_spider/internal/fetch"
	"news_spider/internal/logger"
	"news_spider/internal/models"
	"news_spider/internal/pool"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	runIDLayout   = "20060102_150405"
	recordTimeout = 30 * time.Second
)

type SpiderApp struct {
	config *config.SpiderConfig
	db     *db.MongoDB
	log    logger.Interface
}

// NewSpiderApp connects to MongoDB and makes sure every enabled source has
// its indexes.
func NewSpiderApp(ctx context.Context, cfg *config.SpiderConfig, log logger.Interface) (*SpiderApp, error) {
	mongoDB, err := db.NewMongoDB(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	var collections []string
	for _, src := range cfg.EnabledSources() {
		collections = append(collections, src.Collection)
	}
	if err := mongoDB.EnsureIndexes(ctx, collections...); err != nil {
		_ = mongoDB.Close(ctx)
		return nil, err
	}

	return &SpiderApp{config: cfg, db: mongoDB, log: log}, nil
}

func (s *SpiderApp) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

// Run crawls every enabled source and records the outcome. Source failures
// are reported in the history, never returned; cancelling ctx lets running
// sources finish their current page.
func (s *SpiderApp) Run(ctx context.Context) (*models.RunHistory, error) {
	sources := s.config.EnabledSources()
	if len(sources) == 0 {
		return nil, config.ErrNoSources
	}

	started := time.Now()
	history := &models.RunHistory{
		RunID:        started.Format(runIDLayout),
		Mode:         s.config.Logic.Mode,
		StartedAt:    started.UTC(),
		TotalSources: len(sources),
	}

	s.log.Info("starting spiders",
		"run_id", history.RunID,
		"mode", history.Mode,
		"sources", len(sources),
		"workers", s.config.Logic.MaxConcurrentWorkers,
		"database", s.config.DB.Database,
	)

	runs := runSources(ctx, s.config, func(name string) SourceStore {
		return s.db.Articles(name)
	}, s.log, sources)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	for _, run := range runs {
		if err := s.db.RecordRun(recordCtx, run); err != nil {
			s.log.Error("failed to record source state", "source", run.Source, "error", err)
		}
		history.Add(run)
	}

	finished := time.Now()
	history.FinishedAt = finished.UTC()
	history.DurationSec = finished.Sub(started).Seconds()

	if err := s.db.SaveRunHistory(recordCtx, history); err != nil {
		s.log.Error("failed to save run history", "run_id", history.RunID, "error", err)
	}

	s.log.Info("run finished",
		"run_id", history.RunID,
		"successful", history.Successful,
		"failed", history.Failed,
		"articles", history.TotalArticles,
		"duration", finished.Sub(started),
	)
	return history, nil
}

// SourceStore is the document collection of one source.
type SourceStore interface {
	crawl.ArticleStore
	Count(ctx context.Context) (int64, error)
}

// runSources builds a controller per source, runs them on the pool and
// turns every outcome into a SourceRun, in source order.
func runSources(ctx context.Context, cfg *config.SpiderConfig, storeFor func(collection string) SourceStore, log logger.Interface, sources []config.SourceConfig) []models.SourceRun {
	runs := make([]models.SourceRun, len(sources))
	before := make([]int64, len(sources))

	var (
		jobs  []pool.Job
		index []int
	)
	for i, sc := range sources {
		runs[i] = models.SourceRun{
			Source:     sc.Name,
			Collection: sc.Collection,
			Mode:       cfg.EffectiveMode(sc),
		}

		articles := storeFor(sc.Collection)
		count, err := articles.Count(ctx)
		if err != nil {
			log.Warn("failed to count documents", "source", sc.Name, "error", err)
		}
		before[i] = count

		job, err := newJob(cfg, sc, articles, log)
		if err != nil {
			now := time.Now().UTC()
			runs[i].Status = models.StatusFailed
			runs[i].Error = err.Error()
			runs[i].StartedAt, runs[i].FinishedAt = now, now
			log.Error("source misconfigured", "source", sc.Name, "error", err)
			continue
		}
		jobs = append(jobs, job)
		index = append(index, i)
	}

	p := pool.New(cfg.Logic.MaxConcurrentWorkers, cfg.Logic.SourceTimeout(), log)
	outcomes := p.Run(ctx, jobs)

	countCtx := context.WithoutCancel(ctx)
	for j, out := range outcomes {
		i := index[j]
		applyOutcome(&runs[i], out)

		runs[i].BeforeCount = before[i]
		after, err := storeFor(sources[i].Collection).Count(countCtx)
		if err != nil {
			log.Warn("failed to count documents", "source", sources[i].Name, "error", err)
			after = before[i]
		}
		runs[i].AfterCount = after
	}
	return runs
}

func newJob(cfg *config.SpiderConfig, sc config.SourceConfig, store crawl.ArticleStore, log logger.Interface) (pool.Job, error) {
	src, err := buildSource(cfg, sc)
	if err != nil {
		return pool.Job{}, err
	}

	fetcher, err := fetch.New(fetch.Options{
		Timeout:       cfg.Logic.Timeout(),
		MaxRetries:    cfg.Logic.MaxRetries,
		UserAgent:     cfg.Logic.UserAgent,
		Proxies:       cfg.Logic.Proxies,
		RespectRobots: sc.RespectRobots,
	})
	if err != nil {
		return pool.Job{}, err
	}

	controller := crawl.NewController(src, crawl.Deps{
		Fetcher:   fetcher,
		Extractor: extract.New(sc.Selectors, sc.BaseURL),
		Store:     store,
		Log:       log,
	})
	return pool.Job{Name: sc.Name, Run: controller.Run, Progress: controller.Progress}, nil
}

func buildSource(cfg *config.SpiderConfig, sc config.SourceConfig) (crawl.Source, error) {
	if err := sc.Validate(); err != nil {
		return crawl.Source{}, err
	}
	mode, err := crawl.ParseMode(cfg.EffectiveMode(sc))
	if err != nil {
		return crawl.Source{}, err
	}

	return crawl.Source{
		Name:       sc.Name,
		Collection: sc.Collection,
		Category:   sc.Category,
		Mode:       mode,
		StartPage:  sc.StartIndex(),
		PageURL:    sc.PageURL,
		Limits: crawl.Limits{
			MaxPages:           cfg.EffectiveMaxPages(sc),
			SkipThreshold:      cfg.EffectiveSkipThreshold(sc),
			SkipLogic:          cfg.Logic.SkipLogic(),
			Ceiling:            cfg.Logic.FullModeCeiling,
			MaxListingFailures: cfg.Logic.MaxListingFailures,
		},
		Cutoff:          sc.Cutoff(),
		DateOrdered:     sc.DateOrdered,
		ListingOnly:     sc.ListingOnly,
		FollowPatterns:  sc.FollowPatterns,
		ExcludePatterns: sc.ExcludePatterns,
		Delay:           cfg.Logic.Delay(),
		MinBodyLength:   cfg.Logic.MinBodyLength,
	}, nil
}

func applyOutcome(run *models.SourceRun, out pool.Outcome) {
	run.StartedAt = out.StartedAt.UTC()
	run.FinishedAt = out.FinishedAt.UTC()
	run.DurationSec = out.FinishedAt.Sub(out.StartedAt).Seconds()

	run.Status = models.StatusSuccess
	if out.Err != nil {
		run.Status = models.StatusFailed
		run.Error = out.Err.Error()
	}

	if res := out.Result; res != nil {
		run.ArticlesSaved = res.Saved
		run.ArticlesSkipped = res.Duplicates
		run.PagesFetched = res.PagesFetched
		run.ListingFailures = res.ListingFailures
		run.DetailFailures = res.DetailFailures
		run.PersistFailures = res.PersistFailures
		run.FinalPage = res.FinalPage
		run.StopReason = string(res.StopReason)
		run.StoppedEarly = res.StoppedEarly
	}
}

// RenderSummary prints the per-source table of a finished run.
func RenderSummary(w io.Writer, run *models.RunHistory) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Run %s (%s)", run.RunID, run.Mode))
	t.AppendHeader(table.Row{"Source", "Status", "Mode", "Saved", "Skipped", "Pages", "Errors", "Before", "After", "New", "Stop", "Duration"})

	for _, r := range run.Sources {
		status := "✅ " + r.Status
		if r.Status != models.StatusSuccess {
			status = "❌ " + r.Status
		}
		t.AppendRow(table.Row{
			r.Source,
			status,
			r.Mode,
			r.ArticlesSaved,
			r.ArticlesSkipped,
			r.PagesFetched,
			r.Errors(),
			r.BeforeCount,
			r.AfterCount,
			r.AfterCount - r.BeforeCount,
			r.StopReason,
			seconds(r.DurationSec),
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d sources", run.TotalSources),
		fmt.Sprintf("%d ok / %d failed", run.Successful, run.Failed),
		"",
		run.TotalArticles,
		run.TotalSkipped,
		"",
		run.TotalErrors,
		"", "", "", "",
		seconds(run.DurationSec),
	})

	t.SetStyle(table.StyleRounded)
	t.Render()

	for _, r := range run.Sources {
		if r.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", r.Source, r.Error)
		}
	}
}

func seconds(sec float64) string {
	return time.Duration(sec * float64(time.Second)).Round(time.Second).String()
}
