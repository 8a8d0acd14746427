package crawl

// increments is the fast-forward step per skip stage.
var increments = [...]int{1, 5, 10, 20}

const maxSkipStage = len(increments) - 1

// Advance moves s past the page at s.PageIndex. productive means the page
// saved at least one new article.
//
// Incremental mode always steps by one. Full mode jumps ahead by a growing
// step while pages stay unproductive, remembering the pages it jumped over;
// when a page is productive again those pages are visited before forward
// progress resumes after the page that triggered the sweep.
//
// Advance never modifies the backing array of s.SkippedPages.
func Advance(s State, productive bool) State {
	next := s

	if s.Mode != Full {
		next.PageIndex = s.PageIndex + 1
		return next
	}

	switch {
	case s.IsBacktracking && len(s.SkippedPages) > 0:
		next.PageIndex = s.SkippedPages[0]
		next.SkippedPages = s.SkippedPages[1:]

	case s.IsBacktracking:
		next.IsBacktracking = false
		next.SkipStage = 0
		next.SkippedPages = nil
		next.PageIndex = s.ResumeFrom + 1
		next.ResumeFrom = 0

	case productive && len(s.SkippedPages) > 0:
		next.IsBacktracking = true
		next.ResumeFrom = s.PageIndex
		next.PageIndex = s.SkippedPages[0]
		next.SkippedPages = s.SkippedPages[1:]

	case productive:
		next.SkipStage = 0
		next.PageIndex = s.PageIndex + 1

	default:
		step := increments[min(s.SkipStage, maxSkipStage)]
		// the previous skip set is dropped, not merged
		var skipped []int
		for p := s.PageIndex + 1; p < s.PageIndex+step; p++ {
			skipped = append(skipped, p)
		}
		next.SkippedPages = skipped
		next.SkipStage = min(s.SkipStage+1, maxSkipStage)
		next.PageIndex = s.PageIndex + step
	}
	return next
}
