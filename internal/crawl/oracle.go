package crawl

import (
	"context"

	"news_spider/internal/logger"
)

// ExistenceChecker answers whether an article url is already stored.
type ExistenceChecker interface {
	Exists(ctx context.Context, url string) (bool, error)
}

// Oracle wraps the store lookup with the skip accounting of Incremental
// mode.
type Oracle struct {
	store ExistenceChecker
	log   logger.Interface
}

func NewOracle(store ExistenceChecker, log logger.Interface) *Oracle {
	if log == nil {
		log = logger.NewNop()
	}
	return &Oracle{store: store, log: log}
}

// Exists reports whether url is stored. In Incremental mode a hit counts
// as a consecutive skip and a miss resets the run. A store error counts as
// a miss and leaves the counters alone, so the article is fetched and the
// upsert settles it.
func (o *Oracle) Exists(ctx context.Context, s *State, url string) bool {
	found, err := o.store.Exists(ctx, url)
	if err != nil {
		o.log.Warn("existence check failed", "url", url, "error", err)
		return false
	}

	if s.Mode == Incremental {
		if found {
			s.ConsecutiveSkips++
			s.SkippedURLs++
		} else {
			s.ConsecutiveSkips = 0
		}
	}
	return found
}
