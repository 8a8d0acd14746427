package crawl_test

import (
	"math/rand/v2"
	"testing"

	"news_spider/internal/crawl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceIncrementalAlwaysSteps(t *testing.T) {
	tests := []struct {
		name       string
		start      int
		productive bool
	}{
		{"productive", 1, true},
		{"unproductive", 1, false},
		{"first unparameterised page", -1, false},
		{"zero based", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := crawl.NewState(crawl.Incremental, tt.start)
			s.SkippedPages = []int{40, 41}

			next := crawl.Advance(s, tt.productive)
			assert.Equal(t, tt.start+1, next.PageIndex)
			assert.Zero(t, next.SkipStage)
			assert.False(t, next.IsBacktracking)
			assert.Equal(t, []int{40, 41}, next.SkippedPages)
		})
	}
}

func TestAdvanceFullEscalation(t *testing.T) {
	const p = 10
	s := crawl.NewState(crawl.Full, p)

	s = crawl.Advance(s, false)
	assert.Equal(t, p+1, s.PageIndex)
	assert.Empty(t, s.SkippedPages)
	assert.Equal(t, 1, s.SkipStage)

	s = crawl.Advance(s, false)
	assert.Equal(t, p+6, s.PageIndex)
	assert.Equal(t, []int{p + 2, p + 3, p + 4, p + 5}, s.SkippedPages)
	assert.Equal(t, 2, s.SkipStage)

	s = crawl.Advance(s, false)
	assert.Equal(t, p+16, s.PageIndex)
	assert.Equal(t, []int{p + 7, p + 8, p + 9, p + 10, p + 11, p + 12, p + 13, p + 14, p + 15}, s.SkippedPages)
	assert.Equal(t, 3, s.SkipStage)
	assert.False(t, s.IsBacktracking)
}

func TestAdvanceFullStageIsCapped(t *testing.T) {
	s := crawl.NewState(crawl.Full, 1)
	var steps []int
	for range 6 {
		prev := s.PageIndex
		s = crawl.Advance(s, false)
		steps = append(steps, s.PageIndex-prev)
		assert.LessOrEqual(t, s.SkipStage, 3)
	}
	assert.Equal(t, []int{1, 5, 10, 20, 20, 20}, steps)
	assert.Len(t, s.SkippedPages, 19)
}

func TestAdvanceFullBacktrack(t *testing.T) {
	s := crawl.NewState(crawl.Full, 20)
	s.SkipStage = 2
	s.SkippedPages = []int{5, 6, 7}

	s = crawl.Advance(s, true)
	assert.True(t, s.IsBacktracking)
	assert.Equal(t, 5, s.PageIndex)

	s = crawl.Advance(s, false)
	assert.Equal(t, 6, s.PageIndex)
	assert.True(t, s.IsBacktracking)

	s = crawl.Advance(s, true)
	assert.Equal(t, 7, s.PageIndex)
	assert.True(t, s.IsBacktracking)
	assert.Equal(t, 2, s.SkipStage, "stage is only reset once the queue drains")

	s = crawl.Advance(s, false)
	assert.Equal(t, 21, s.PageIndex)
	assert.False(t, s.IsBacktracking)
	assert.Zero(t, s.SkipStage)
	assert.Empty(t, s.SkippedPages)
}

func TestAdvanceFullProductiveWithoutQueue(t *testing.T) {
	s := crawl.NewState(crawl.Full, 3)
	s.SkipStage = 1

	s = crawl.Advance(s, true)
	assert.Equal(t, 4, s.PageIndex)
	assert.Zero(t, s.SkipStage)
	assert.False(t, s.IsBacktracking)
}

func TestAdvanceFullReplacesSkipSet(t *testing.T) {
	s := crawl.NewState(crawl.Full, 30)
	s.SkipStage = 1
	s.SkippedPages = []int{2, 3, 4}

	s = crawl.Advance(s, false)
	assert.Equal(t, []int{31, 32, 33, 34}, s.SkippedPages)
	assert.Equal(t, 35, s.PageIndex)
}

func TestAdvanceDoesNotMutateInput(t *testing.T) {
	pending := []int{5, 6, 7}
	s := crawl.NewState(crawl.Full, 20)
	s.SkippedPages = pending

	next := crawl.Advance(s, true)
	next = crawl.Advance(next, true)

	assert.Equal(t, []int{5, 6, 7}, pending)
	assert.Equal(t, []int{5, 6, 7}, s.SkippedPages)
	assert.Equal(t, 20, s.PageIndex)
	assert.False(t, s.IsBacktracking)
	assert.Equal(t, []int{7}, next.SkippedPages)
}

// Every page between the start and the furthest page reached is either
// fetched or queued for backtracking at some point.
func TestAdvanceFullCoversEveryPage(t *testing.T) {
	for seed := uint64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		start := rng.IntN(5)
		productiveRate := rng.Float64()

		s := crawl.NewState(crawl.Full, start)
		covered := map[int]bool{start: true}
		highest := start

		for range 300 {
			s = crawl.Advance(s, rng.Float64() < productiveRate)

			require.GreaterOrEqual(t, s.SkipStage, 0)
			require.LessOrEqual(t, s.SkipStage, 3)

			covered[s.PageIndex] = true
			for _, p := range s.SkippedPages {
				covered[p] = true
			}
			highest = max(highest, s.PageIndex)
		}

		for p := start; p <= highest; p++ {
			require.Truef(t, covered[p], "seed %d: page %d was neither fetched nor queued", seed, p)
		}
	}
}

// A forward step never leaves a skip queue behind with a reset stage
// unless a backtrack is under way.
func TestAdvanceFullQueueImpliesStageOrBacktrack(t *testing.T) {
	for seed := uint64(1); seed <= 100; seed++ {
		rng := rand.New(rand.NewPCG(seed, 42))
		s := crawl.NewState(crawl.Full, 1)

		for range 200 {
			s = crawl.Advance(s, rng.IntN(3) == 0)
			if len(s.SkippedPages) > 0 && !s.IsBacktracking {
				require.NotZerof(t, s.SkipStage, "seed %d: queued pages %v with stage 0", seed, s.SkippedPages)
			}
		}
	}
}
